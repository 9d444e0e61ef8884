package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/satsgate-ai/satsgate/internal/agent"
	"github.com/satsgate-ai/satsgate/internal/gateway"
	"github.com/satsgate-ai/satsgate/internal/pricing"
	"github.com/satsgate-ai/satsgate/internal/ratelimit"
	"github.com/satsgate-ai/satsgate/internal/reputation"
	"github.com/satsgate-ai/satsgate/internal/storage"
)

// Prices in sats for the protected resources.
const (
	priceWeatherCity  = 10
	priceWeatherIndex = 5
	priceStockSymbol  = 15
	priceStockIndex   = 10
	priceNewsFeed     = 8
	priceNewsTopic    = 12
)

// Server is the Satsgate HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Optional fields (nil-safe): TaskLimiter, APILimiter, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Gateway      *gateway.Gateway
	Agent        *agent.Agent
	Store        *storage.Store
	Reputations  reputation.Registry
	PricingModel *pricing.Model
	Logger       *slog.Logger

	// Optional dependencies (nil = disabled).
	TaskLimiter ratelimit.Limiter
	APILimiter  ratelimit.Limiter
	MCPServer   *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64

	// AdminKeyHash guards the funding endpoint. Empty disables it.
	AdminKeyHash string
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Agent:        cfg.Agent,
		Store:        cfg.Store,
		Reputations:  cfg.Reputations,
		PricingModel: cfg.PricingModel,
		Logger:       cfg.Logger,
		Version:      cfg.Version,
		StartTime:    time.Now().UTC(),
		MaxBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Rate limit rules: tasks are limited per client IP, paid resources per
	// agent ID so one noisy agent cannot starve the rest.
	taskRL := ratelimit.Middleware(cfg.TaskLimiter, ratelimit.IPKeyFunc, reqIDFunc)
	apiRL := ratelimit.Middleware(cfg.APILimiter, ratelimit.AgentKeyFunc(gateway.AgentIDHeader), reqIDFunc)

	// Reputation discount applied to per-symbol quotes: loyal payers see a
	// cheaper challenge price.
	discounted := func(base int64) gateway.Pricer {
		return gateway.Discounted(gateway.Static(base), func(agentID string) float64 {
			return cfg.Reputations.DiscountMultiplier(context.Background(), agentID)
		})
	}

	mux := http.NewServeMux()

	// Paid resources behind the L402 gateway.
	paid := func(p gateway.Pricer, handler http.HandlerFunc) http.Handler {
		return apiRL(cfg.Gateway.Require(p)(handler))
	}
	mux.Handle("GET /api/weather/{city}", paid(gateway.Static(priceWeatherCity), h.Weather))
	mux.Handle("GET /api/weather/", paid(gateway.Static(priceWeatherIndex), h.WeatherCities))
	mux.Handle("GET /api/stocks/{symbol}", paid(discounted(priceStockSymbol), h.Stocks))
	mux.Handle("GET /api/stocks/", paid(gateway.Static(priceStockIndex), h.StockSymbols))
	mux.Handle("GET /api/news/", paid(gateway.Static(priceNewsFeed), h.News))
	mux.Handle("GET /api/news/topic/{topic}", paid(gateway.Static(priceNewsTopic), h.NewsByTopic))

	// Agent orchestration.
	mux.Handle("POST /agent/task", taskRL(http.HandlerFunc(h.AgentTask)))
	mux.HandleFunc("GET /agent/status", h.AgentStatus)
	mux.HandleFunc("GET /agent/wallet", h.AgentWallet)
	mux.HandleFunc("GET /agent/wallet/history", h.AgentWalletHistory)
	mux.HandleFunc("GET /agent/tasks", h.AgentTasks)

	// Funding is a mutating admin operation.
	adminOnly := requireAdminKey(cfg.AdminKeyHash, cfg.Logger)
	mux.Handle("POST /agent/fund", adminOnly(http.HandlerFunc(h.AgentFund)))

	// Audit and operator surfaces.
	mux.HandleFunc("GET /payments/history", h.PaymentsHistory)
	mux.HandleFunc("GET /reputation", h.ReputationList)
	mux.HandleFunc("GET /reputation/{agent_id}", h.ReputationGet)
	mux.HandleFunc("GET /pricing/quote", h.PricingQuote)
	mux.HandleFunc("GET /pricing/weights", h.PricingWeights)
	mux.HandleFunc("GET /dashboard/stats", h.DashboardStats)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", mcpHTTP)
	}

	// Health (no rate limit).
	mux.HandleFunc("GET /health", h.Health)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
