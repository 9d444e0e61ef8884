package satsgate

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port           int
	databasePath   string
	logger         *slog.Logger
	version        string
	agentID        string
	initialBalance int64
	payer          Payer
}

// WithPort overrides the TCP port from config (SATSGATE_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabasePath overrides the SQLite path from config
// (SATSGATE_DATABASE_PATH env var). Use ":memory:" for an ephemeral store.
func WithDatabasePath(path string) Option {
	return func(o *resolvedOptions) { o.databasePath = path }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithAgentID overrides the embedded agent's identifier
// (SATSGATE_AGENT_ID env var).
func WithAgentID(id string) Option {
	return func(o *resolvedOptions) { o.agentID = id }
}

// WithInitialBalance overrides the embedded agent's starting balance in sats
// (SATSGATE_AGENT_INITIAL_BALANCE env var).
func WithInitialBalance(sats int64) Option {
	return func(o *resolvedOptions) { o.initialBalance = sats }
}

// WithPayer replaces the built-in self-settling payer with an external
// payment backend, e.g. a Lightning node client. Only the last call wins.
func WithPayer(p Payer) Option {
	return func(o *resolvedOptions) { o.payer = p }
}
