package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

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

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("SATSGATE_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("satsgate starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry. No-op when no endpoint is configured.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Open the durable audit store.
	store, err := storage.Open(cfg.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer store.Close()

	// Token signer for L402 macaroons.
	signer, err := macaroon.NewSigner(cfg.MacaroonSecret, cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("macaroon: %w", err)
	}

	// Invoice ledger and payment gateway, both writing through to the store.
	ledger := invoice.NewMemoryLedger(logger, invoice.WithRecorder(store))
	gw := gateway.New(ledger, signer, store, logger)

	// Reputation registry with the demo agent pre-registered.
	reputations := reputation.NewMemoryRegistry()
	if _, err := reputations.Register(ctx, cfg.AgentID); err != nil {
		return fmt.Errorf("reputation: %w", err)
	}

	// Agent wallet and orchestrator. The agent pays its own server's
	// challenges through the mock payer, which resolves preimages from the
	// same ledger a Lightning node would settle against.
	policyCfg := policy.Config{HourlyBudgetSats: cfg.AgentHourlyBudget}
	w := wallet.New(cfg.AgentID, cfg.AgentInitialBalance, logger,
		wallet.WithRecorder(store),
		wallet.WithLowBalanceFraction(policyCfg.EffectiveLowBalanceFraction()),
	)
	ag := agent.New(agent.Config{
		ID:          cfg.AgentID,
		Wallet:      w,
		Payer:       invoice.NewMockPayer(ledger),
		Policy:      policyCfg,
		Reputations: reputations,
		BaseURL:     cfg.BaseURL,
		Logger:      logger,
	})

	// Pricing model anchored at the configured base price.
	priceModel := pricing.NewModel(cfg.BasePriceSats)

	// Hash the admin key at startup so only the hash lives in memory.
	var adminKeyHash string
	if cfg.AdminAPIKey != "" {
		adminKeyHash, err = auth.HashKey(cfg.AdminAPIKey)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	} else {
		logger.Info("admin funding endpoint: disabled (no SATSGATE_ADMIN_API_KEY)")
	}

	// Rate limiters: task submissions per IP, paid resources per agent.
	taskLimiter := ratelimit.NewMemoryLimiter(2, 10)
	defer func() { _ = taskLimiter.Close() }()
	apiLimiter := ratelimit.NewMemoryLimiter(20, 40)
	defer func() { _ = apiLimiter.Close() }()

	// MCP server, mounted at /mcp by the HTTP server.
	mcpSrv := mcp.New(ag, store, version, logger)

	srv := server.New(server.ServerConfig{
		Gateway:             gw,
		Agent:               ag,
		Store:               store,
		Reputations:         reputations,
		PricingModel:        priceModel,
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

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("satsgate shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
