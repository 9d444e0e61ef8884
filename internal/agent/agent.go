// Package agent drives one logical request through the full L402 cycle:
// call, get challenged, decide, pay, debit, retry. Every step is recorded on
// the task's append-only action trail.
//
// No failure in the cycle is retried automatically. The only retry is the
// single authenticated re-presentation after a successful payment.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/satsgate-ai/satsgate/internal/gateway"
	"github.com/satsgate-ai/satsgate/internal/invoice"
	"github.com/satsgate-ai/satsgate/internal/macaroon"
	"github.com/satsgate-ai/satsgate/internal/model"
	"github.com/satsgate-ai/satsgate/internal/policy"
	"github.com/satsgate-ai/satsgate/internal/reputation"
	"github.com/satsgate-ai/satsgate/internal/wallet"
)

// maxResponseBytes bounds how much of a resource payload is retained.
const maxResponseBytes = 1 << 20

// Config holds the orchestrator's dependencies.
type Config struct {
	ID          string
	Wallet      *wallet.Wallet
	Payer       invoice.Payer
	Policy      policy.Config
	Reputations reputation.Registry
	BaseURL     string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Agent is an autonomous caller that pays for API access out of its wallet.
type Agent struct {
	id          string
	wallet      *wallet.Wallet
	payer       invoice.Payer
	policyCfg   policy.Config
	reputations reputation.Registry
	baseURL     string
	httpc       *http.Client
	logger      *slog.Logger
	createdAt   time.Time

	mu                 sync.Mutex
	tasks              []*model.Task // completed tasks only; finish publishes them
	totalAPICalls      int64
	successfulPayments int64
}

// New creates an Agent.
func New(cfg Config) *Agent {
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Agent{
		id:          cfg.ID,
		wallet:      cfg.Wallet,
		payer:       cfg.Payer,
		policyCfg:   cfg.Policy,
		reputations: cfg.Reputations,
		baseURL:     cfg.BaseURL,
		httpc:       httpc,
		logger:      cfg.Logger,
		createdAt:   time.Now().UTC(),
	}
}

// ID returns the agent identifier.
func (a *Agent) ID() string { return a.id }

// Wallet returns the agent's balance ledger.
func (a *Agent) Wallet() *wallet.Wallet { return a.wallet }

// ExecuteTask drives one query end to end. The returned task is always
// completed; its Result is non-nil only if payment (when required) and the
// authenticated retry both succeeded.
func (a *Agent) ExecuteTask(ctx context.Context, query string, priority model.Priority) (*model.Task, error) {
	task := &model.Task{
		ID:       uuid.New(),
		Query:    query,
		Priority: model.ParsePriority(string(priority)),
	}
	defer a.finish(ctx, task)

	task.Endpoint = routeQuery(query)
	addAction(task, model.ActionDecide, "routing query to "+task.Endpoint, nil)

	addAction(task, model.ActionQuery, "calling "+task.Endpoint, nil)
	status, body, header, err := a.call(ctx, task.Endpoint, "")
	if err != nil {
		addAction(task, model.ActionRespond, "request failed: "+err.Error(), nil)
		return task, nil
	}

	switch status {
	case http.StatusOK:
		task.Result = body
		addAction(task, model.ActionRespond, "data received (no payment required)", nil)
		a.mu.Lock()
		a.totalAPICalls++
		a.mu.Unlock()
		return task, nil
	case http.StatusPaymentRequired:
		a.handleChallenge(ctx, task, body, header)
		return task, nil
	default:
		addAction(task, model.ActionRespond, fmt.Sprintf("unexpected response: HTTP %d", status), nil)
		return task, nil
	}
}

// handleChallenge runs the decide → pay → debit → retry leg of the cycle.
func (a *Agent) handleChallenge(ctx context.Context, task *model.Task, body []byte, header http.Header) {
	var challenge model.Challenge
	if err := json.Unmarshal(body, &challenge); err != nil {
		addAction(task, model.ActionRespond, "malformed challenge body", nil)
		return
	}
	token, ok := macaroon.ParseChallengeHeader(header.Get("WWW-Authenticate"))
	if !ok {
		addAction(task, model.ActionRespond, "challenge missing macaroon", nil)
		return
	}
	addAction(task, model.ActionDecide,
		fmt.Sprintf("received 402 payment required, price: %d sats", challenge.PriceSats),
		map[string]any{"price_sats": challenge.PriceSats, "payment_id": challenge.PaymentID},
	)

	decision := policy.Evaluate(a.wallet.Snapshot(), challenge.PriceSats, task.Endpoint, task.Priority, a.policyCfg)
	addAction(task, model.ActionDecide, decision.Reason, map[string]any{
		"should_pay": decision.ShouldPay,
		"confidence": decision.Confidence,
	})
	if !decision.ShouldPay {
		addAction(task, model.ActionRespond, "declined to pay: "+decision.Reason, nil)
		return
	}

	preimage, err := a.payer.Pay(ctx, challenge.PaymentID)
	if err != nil {
		addAction(task, model.ActionPay, "payment failed: "+err.Error(), nil)
		return
	}

	// Debit re-validates the balance; a concurrent task may have spent it
	// between the decision and now. That race aborts this task, it is not
	// retried past the approval.
	if err := a.wallet.Debit(ctx, challenge.PriceSats, "L402 payment for "+task.Endpoint, task.Endpoint, challenge.PaymentID); err != nil {
		addAction(task, model.ActionPay, "debit failed: "+err.Error(), nil)
		return
	}
	task.TotalCostSats += challenge.PriceSats
	a.mu.Lock()
	a.successfulPayments++
	a.mu.Unlock()
	addAction(task, model.ActionPay,
		fmt.Sprintf("paid %d sats (balance: %d)", challenge.PriceSats, a.wallet.Balance()),
		map[string]any{"preimage": truncate(preimage, 16), "new_balance": a.wallet.Balance()},
	)

	status, body, _, err := a.call(ctx, task.Endpoint, macaroon.Scheme+" "+token+":"+preimage)
	if err != nil {
		addAction(task, model.ActionRespond, "retry failed: "+err.Error(), nil)
		return
	}
	if status != http.StatusOK {
		addAction(task, model.ActionRespond, fmt.Sprintf("request failed after payment: HTTP %d", status), nil)
		return
	}
	task.Result = body
	addAction(task, model.ActionRespond, "data received", nil)
	a.mu.Lock()
	a.totalAPICalls++
	a.mu.Unlock()
}

// finish marks the task complete, publishes it to the history, and folds the
// outcome into reputation. Tasks enter a.tasks only here, after the last
// mutation: concurrent readers of TaskHistory and Status never observe a task
// that is still being written.
func (a *Agent) finish(ctx context.Context, task *model.Task) {
	task.Completed = true
	a.mu.Lock()
	a.tasks = append(a.tasks, task)
	a.mu.Unlock()
	if task.TotalCostSats > 0 && a.reputations != nil {
		score, err := a.reputations.RecordPayment(ctx, a.id, task.TotalCostSats, task.Endpoint, task.Result != nil)
		if err != nil {
			a.logger.Warn("agent: record reputation", "error", err)
		} else {
			a.logger.Debug("agent: reputation updated", "score", score)
		}
	}
	a.logger.Info("agent: task completed",
		"task_id", task.ID,
		"endpoint", task.Endpoint,
		"cost_sats", task.TotalCostSats,
		"has_result", task.Result != nil,
	)
}

// call issues one GET to a paid endpoint, optionally with an authorization
// value, and returns the status, bounded body, and headers.
func (a *Agent) call(ctx context.Context, endpoint, authorization string) (int, []byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+endpoint, nil)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("agent: build request: %w", err)
	}
	req.Header.Set(gateway.AgentIDHeader, a.id)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := a.httpc.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("agent: %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("agent: read response: %w", err)
	}
	return resp.StatusCode, bytes.TrimSpace(body), resp.Header, nil
}

// Status summarizes the agent for the API.
type Status struct {
	AgentID            string       `json:"agent_id"`
	Wallet             wallet.Stats `json:"wallet"`
	ReputationScore    int          `json:"reputation_score"`
	TotalAPICalls      int64        `json:"total_api_calls"`
	SuccessfulPayments int64        `json:"successful_payments"`
	TasksCompleted     int          `json:"tasks_completed"`
	UptimeHours        float64      `json:"uptime_hours"`
}

// Status returns a point-in-time summary.
func (a *Agent) Status(ctx context.Context) Status {
	a.mu.Lock()
	completed := len(a.tasks)
	apiCalls, payments := a.totalAPICalls, a.successfulPayments
	a.mu.Unlock()

	score := 0
	if a.reputations != nil {
		if rec, err := a.reputations.Reputation(ctx, a.id); err == nil {
			score = rec.Score
		}
	}
	return Status{
		AgentID:            a.id,
		Wallet:             a.wallet.Stats(),
		ReputationScore:    score,
		TotalAPICalls:      apiCalls,
		SuccessfulPayments: payments,
		TasksCompleted:     completed,
		UptimeHours:        time.Since(a.createdAt).Hours(),
	}
}

// TaskHistory returns the most recent limit tasks, oldest first.
func (a *Agent) TaskHistory(limit int) []*model.Task {
	a.mu.Lock()
	defer a.mu.Unlock()
	if limit <= 0 || limit > len(a.tasks) {
		limit = len(a.tasks)
	}
	out := make([]*model.Task, limit)
	copy(out, a.tasks[len(a.tasks)-limit:])
	return out
}

func addAction(task *model.Task, kind model.ActionKind, detail string, result map[string]any) {
	task.Actions = append(task.Actions, model.Action{
		Kind:      kind,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
		Result:    result,
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
