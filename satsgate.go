// Package satsgate is the public API for embedding the satsgate L402 server.
//
// Consumers import this package to construct and run the server inside a
// larger process without forking it:
//
//	app, err := satsgate.New(
//	    satsgate.WithVersion(version),
//	    satsgate.WithLogger(logger),
//	    satsgate.WithPayer(myLightningClient),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: satsgate (root) imports
// internal/*, but internal/* never imports satsgate (root). The Payer
// extension point is a standalone interface with no internal imports so
// external payment backends can implement it without touching internals.
package satsgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/satsgate-ai/satsgate/internal/agent"
	"github.com/satsgate-ai/satsgate/internal/auth"
	"github.com/satsgate-ai/satsgate/internal/config"
	"github.com/satsgate-ai/satsgate/internal/gateway"
	"github.com/satsgate-ai/satsgate/internal/invoice"
	"github.com/satsgate-ai/satsgate/internal/macaroon"
	"github.com/satsgate-ai/satsgate/internal/mcp"
	"github.com/satsgate-ai/satsgate/internal/policy"
	"github.com/satsgate-ai/satsgate/internal/pricing"
	"github.com/satsgate-ai/satsgate/internal/ratelimit"
	"github.com/satsgate-ai/satsgate/internal/reputation"
	"github.com/satsgate-ai/satsgate/internal/server"
	"github.com/satsgate-ai/satsgate/internal/storage"
	"github.com/satsgate-ai/satsgate/internal/telemetry"
	"github.com/satsgate-ai/satsgate/internal/wallet"
)

// Payer settles Lightning invoices on behalf of the embedded agent.
// Pay receives the payment ID from an L402 challenge and returns the
// hex-encoded preimage proving settlement.
type Payer interface {
	Pay(ctx context.Context, paymentID string) (preimageHex string, err error)
}

// App is a fully wired satsgate server. Construct with New, start with Run.
type App struct {
	cfg          config.Config
	store        *storage.Store
	srv          *server.Server
	taskLimiter  *ratelimit.MemoryLimiter
	apiLimiter   *ratelimit.MemoryLimiter
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New loads configuration from the environment, applies the given options on
// top, and wires the full server. It starts no goroutines; call Run to serve.
func New(opts ...Option) (*App, error) {
	var o resolvedOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databasePath != "" {
		cfg.DatabasePath = o.databasePath
	}
	if o.agentID != "" {
		cfg.AgentID = o.agentID
	}
	if o.initialBalance != 0 {
		cfg.AgentInitialBalance = o.initialBalance
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, err := storage.Open(cfg.DatabasePath, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	signer, err := macaroon.NewSigner(cfg.MacaroonSecret, cfg.TokenTTL)
	if err != nil {
		store.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("macaroon: %w", err)
	}

	ledger := invoice.NewMemoryLedger(logger, invoice.WithRecorder(store))
	gw := gateway.New(ledger, signer, store, logger)

	reputations := reputation.NewMemoryRegistry()
	if _, err := reputations.Register(context.Background(), cfg.AgentID); err != nil {
		store.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("reputation: %w", err)
	}

	// Default payer settles against the in-process ledger; WithPayer swaps
	// in an external Lightning backend.
	var payer invoice.Payer = invoice.NewMockPayer(ledger)
	if o.payer != nil {
		payer = o.payer
	}

	policyCfg := policy.Config{HourlyBudgetSats: cfg.AgentHourlyBudget}
	w := wallet.New(cfg.AgentID, cfg.AgentInitialBalance, logger,
		wallet.WithRecorder(store),
		wallet.WithLowBalanceFraction(policyCfg.EffectiveLowBalanceFraction()),
	)
	ag := agent.New(agent.Config{
		ID:          cfg.AgentID,
		Wallet:      w,
		Payer:       payer,
		Policy:      policyCfg,
		Reputations: reputations,
		BaseURL:     cfg.BaseURL,
		Logger:      logger,
	})

	var adminKeyHash string
	if cfg.AdminAPIKey != "" {
		adminKeyHash, err = auth.HashKey(cfg.AdminAPIKey)
		if err != nil {
			store.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("auth: %w", err)
		}
	}

	taskLimiter := ratelimit.NewMemoryLimiter(2, 10)
	apiLimiter := ratelimit.NewMemoryLimiter(20, 40)

	mcpSrv := mcp.New(ag, store, version, logger)

	srv := server.New(server.ServerConfig{
		Gateway:             gw,
		Agent:               ag,
		Store:               store,
		Reputations:         reputations,
		PricingModel:        pricing.NewModel(cfg.BasePriceSats),
		Logger:              logger,
		TaskLimiter:         taskLimiter,
		APILimiter:          apiLimiter,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		AdminKeyHash:        adminKeyHash,
	})

	return &App{
		cfg:          cfg,
		store:        store,
		srv:          srv,
		taskLimiter:  taskLimiter,
		apiLimiter:   apiLimiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or the server
// fails, then performs a graceful shutdown.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("satsgate starting", "version", a.version, "port", a.cfg.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.close()
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown drains in-flight HTTP requests and releases all resources.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("satsgate shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := a.srv.Shutdown(shutdownCtx)

	a.close()
	a.logger.Info("satsgate stopped")
	return err
}

func (a *App) close() {
	_ = a.taskLimiter.Close()
	_ = a.apiLimiter.Close()
	_ = a.otelShutdown(context.Background())
	a.store.Close()
}

// Handler returns the fully composed HTTP handler, including middleware and
// paid-route enforcement. Useful for mounting under an existing mux or for
// tests with httptest.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Version reports the version string the App was built with.
func (a *App) Version() string {
	return a.version
}
