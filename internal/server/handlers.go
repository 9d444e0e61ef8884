package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/satsgate-ai/satsgate/internal/agent"
	"github.com/satsgate-ai/satsgate/internal/model"
	"github.com/satsgate-ai/satsgate/internal/pricing"
	"github.com/satsgate-ai/satsgate/internal/reputation"
	"github.com/satsgate-ai/satsgate/internal/resources"
	"github.com/satsgate-ai/satsgate/internal/storage"
)

// HandlersDeps carries the services the HTTP handlers operate on.
type HandlersDeps struct {
	Agent        *agent.Agent
	Store        *storage.Store
	Reputations  reputation.Registry
	PricingModel *pricing.Model
	Logger       *slog.Logger
	Version      string
	StartTime    time.Time
	MaxBodyBytes int64
}

// Handlers implements the HTTP API endpoints.
type Handlers struct {
	deps HandlersDeps
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 1 << 20
	}
	return &Handlers{deps: deps}
}

// Health reports service liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        h.deps.Version,
		"uptime_seconds": int64(time.Since(h.deps.StartTime).Seconds()),
	})
}

// Weather serves conditions for one city. Reached only after the payment
// gateway has granted the request.
func (h *Handlers) Weather(w http.ResponseWriter, r *http.Request) {
	city := r.PathValue("city")
	if city == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "city is required")
		return
	}
	writeJSON(w, r, http.StatusOK, resources.GenerateWeather(city, time.Now()))
}

// WeatherCities lists the supported weather cities.
func (h *Handlers) WeatherCities(w http.ResponseWriter, r *http.Request) {
	cities := make([]string, 0, len(resources.Cities))
	for city := range resources.Cities {
		cities = append(cities, city)
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"cities": cities})
}

// Stocks serves a simulated quote for one symbol.
func (h *Handlers) Stocks(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	if symbol == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "symbol is required")
		return
	}
	writeJSON(w, r, http.StatusOK, resources.GenerateQuote(symbol, time.Now()))
}

// StockSymbols lists the supported stock symbols.
func (h *Handlers) StockSymbols(w http.ResponseWriter, r *http.Request) {
	symbols := make([]string, 0, len(resources.Symbols))
	for sym := range resources.Symbols {
		symbols = append(symbols, sym)
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"symbols": symbols})
}

// News serves a mixed-topic news feed.
func (h *Handlers) News(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 5)
	writeJSON(w, r, http.StatusOK, map[string]any{
		"articles": resources.GenerateNews("", limit, time.Now()),
	})
}

// NewsByTopic serves a single-topic news feed.
func (h *Handlers) NewsByTopic(w http.ResponseWriter, r *http.Request) {
	topic := strings.ToLower(r.PathValue("topic"))
	known := false
	for _, t := range resources.Topics {
		if t == topic {
			known = true
			break
		}
	}
	if !known {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound,
			"unknown topic, supported: "+strings.Join(resources.Topics, ", "))
		return
	}
	limit := queryInt(r, "limit", 5)
	writeJSON(w, r, http.StatusOK, map[string]any{
		"topic":    topic,
		"articles": resources.GenerateNews(topic, limit, time.Now()),
	})
}

type taskRequest struct {
	Query    string `json:"query"`
	Priority string `json:"priority"`
}

// AgentTask runs one query through the agent's full payment cycle and
// returns the completed task with its action trail.
func (h *Handlers) AgentTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := decodeJSON(w, r, &req, h.deps.MaxBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "query is required")
		return
	}

	task, err := h.deps.Agent.ExecuteTask(r.Context(), req.Query, model.ParsePriority(req.Priority))
	if err != nil {
		h.deps.Logger.Error("execute task", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "task execution failed")
		return
	}
	writeJSON(w, r, http.StatusOK, task)
}

// AgentStatus summarizes the agent's wallet, reputation, and task counters.
func (h *Handlers) AgentStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.deps.Agent.Status(r.Context()))
}

// AgentWallet returns wallet stats.
func (h *Handlers) AgentWallet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.deps.Agent.Wallet().Stats())
}

// AgentWalletHistory returns recent wallet transactions, oldest first.
func (h *Handlers) AgentWalletHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	txs := h.deps.Agent.Wallet().History(limit)
	writeJSON(w, r, http.StatusOK, map[string]any{
		"agent_id":     h.deps.Agent.ID(),
		"transactions": txs,
		"count":        len(txs),
	})
}

// AgentTasks returns recent tasks, oldest first.
func (h *Handlers) AgentTasks(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	tasks := h.deps.Agent.TaskHistory(limit)
	writeJSON(w, r, http.StatusOK, map[string]any{
		"tasks": tasks,
		"count": len(tasks),
	})
}

type fundRequest struct {
	AmountSats int64  `json:"amount_sats"`
	Memo       string `json:"memo"`
}

// AgentFund credits the agent's wallet. Admin-key protected.
func (h *Handlers) AgentFund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decodeJSON(w, r, &req, h.deps.MaxBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if req.AmountSats <= 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "amount_sats must be positive")
		return
	}
	memo := req.Memo
	if memo == "" {
		memo = "manual funding"
	}

	h.deps.Agent.Wallet().Credit(r.Context(), req.AmountSats, memo)
	h.deps.Logger.Info("wallet funded",
		"agent_id", h.deps.Agent.ID(),
		"amount_sats", req.AmountSats,
		"request_id", RequestIDFromContext(r.Context()),
	)
	writeJSON(w, r, http.StatusOK, map[string]any{
		"agent_id":     h.deps.Agent.ID(),
		"credited":     req.AmountSats,
		"balance_sats": h.deps.Agent.Wallet().Balance(),
	})
}

// PaymentsHistory returns verified payments from the durable audit trail,
// newest first.
func (h *Handlers) PaymentsHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	records, err := h.deps.Store.ListPayments(r.Context(), limit)
	if err != nil {
		h.deps.Logger.Error("list payments", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load payment history")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"payments": records,
		"count":    len(records),
	})
}

// ReputationList returns every registered agent's reputation record.
func (h *Handlers) ReputationList(w http.ResponseWriter, r *http.Request) {
	records := h.deps.Reputations.All(r.Context())
	writeJSON(w, r, http.StatusOK, map[string]any{
		"agents": records,
		"count":  len(records),
	})
}

// ReputationGet returns one agent's reputation record with its current
// discount tier.
func (h *Handlers) ReputationGet(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")
	rec, err := h.deps.Reputations.Reputation(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, reputation.ErrUnknownAgent) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "unknown agent: "+agentID)
			return
		}
		h.deps.Logger.Error("get reputation", "agent_id", agentID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load reputation")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"reputation":          rec,
		"discount_multiplier": h.deps.Reputations.DiscountMultiplier(r.Context(), agentID),
	})
}

// PricingQuote predicts a price from demand signals passed as query
// parameters; absent signals default to a quiet server and a fresh cache.
func (h *Handlers) PricingQuote(w http.ResponseWriter, r *http.Request) {
	in := pricing.Inputs{
		ServerLoad:       queryFloat(r, "server_load", 0.2),
		CacheAgeSeconds:  queryFloat(r, "cache_age_seconds", 0),
		CallerTotalCalls: int64(queryInt(r, "caller_total_calls", 0)),
		CallerAvgPayment: queryFloat(r, "caller_avg_payment", 0),
		Complexity:       queryInt(r, "complexity", 1),
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"quote_sats": h.deps.PricingModel.Quote(in),
		"inputs":     in,
	})
}

// PricingWeights exposes the frozen model coefficients.
func (h *Handlers) PricingWeights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"weights": h.deps.PricingModel.Weights(),
	})
}

// DashboardStats aggregates the operator's view: wallet, agent, payment
// totals, and reputation roster.
func (h *Handlers) DashboardStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	count, totalSats, err := h.deps.Store.PaymentTotals(ctx)
	if err != nil {
		h.deps.Logger.Error("payment totals", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load payment totals")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"agent":             h.deps.Agent.Status(ctx),
		"payments_count":    count,
		"payments_sats":     totalSats,
		"registered_agents": len(h.deps.Reputations.All(ctx)),
		"uptime_hours":      time.Since(h.deps.StartTime).Hours(),
	})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func queryFloat(r *http.Request, key string, defaultVal float64) float64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}
