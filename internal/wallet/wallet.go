// Package wallet tracks a single agent's spendable balance, append-only
// transaction log, and rolling per-hour spend aggregate.
//
// All mutations run under one mutex so concurrent tasks never overdraw the
// balance or corrupt an hour bucket. Debit re-validates sufficiency inside
// the critical section: the policy engine's pre-approval and the debit are
// deliberately not one transaction, and the debit is authoritative.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/satsgate-ai/satsgate/internal/model"
)

// ErrInsufficientFunds is returned by Debit when the amount exceeds the
// balance. No mutation happens. Under concurrency this is a recoverable
// race with another task, not a bug; the caller aborts its task.
var ErrInsufficientFunds = errors.New("wallet: insufficient funds")

// Snapshot is a consistent read of the ledger state used by the policy
// engine: balance and hourly spend are taken under the same lock.
type Snapshot struct {
	Balance        int64
	InitialBalance int64
	HourlySpend    int64
}

// Stats is the wallet summary exposed over the API.
type Stats struct {
	AgentID           string  `json:"agent_id"`
	BalanceSats       int64   `json:"balance_sats"`
	InitialBalance    int64   `json:"initial_balance"`
	TotalSpent        int64   `json:"total_spent"`
	TotalReceived     int64   `json:"total_received"`
	TotalTransactions int     `json:"total_transactions"`
	HourlySpendSats   int64   `json:"hourly_spend_sats"`
	LowBalance        bool    `json:"low_balance"`
	UptimeHours       float64 `json:"uptime_hours"`
}

// Recorder persists wallet transactions. Implemented by the storage layer;
// persistence is best-effort and never blocks a mutation.
type Recorder interface {
	RecordTransaction(ctx context.Context, agentID string, tx model.Transaction) error
}

// defaultLowBalanceFraction matches the policy engine's conserve-funds
// threshold; the wiring passes the configured fraction so the API stat and
// the policy guard read the same line.
const defaultLowBalanceFraction = 0.1

// Wallet is one agent's balance ledger.
type Wallet struct {
	agentID     string
	createdAt   time.Time
	recorder    Recorder
	logger      *slog.Logger
	now         func() time.Time
	lowFraction float64

	mu            sync.Mutex
	balance       int64
	initial       int64
	totalSpent    int64
	totalReceived int64
	txs           []model.Transaction
	hourly        map[int64]int64 // hour bucket (unix/3600) -> sats spent
}

// Option configures a Wallet.
type Option func(*Wallet)

// WithRecorder enables write-through persistence of transactions.
func WithRecorder(r Recorder) Option {
	return func(w *Wallet) { w.recorder = r }
}

// WithClock overrides the wallet's time source.
func WithClock(now func() time.Time) Option {
	return func(w *Wallet) { w.now = now }
}

// WithLowBalanceFraction sets the fraction of the initial balance below
// which Stats reports LowBalance. Non-positive values keep the default.
func WithLowBalanceFraction(f float64) Option {
	return func(w *Wallet) {
		if f > 0 {
			w.lowFraction = f
		}
	}
}

// New creates a wallet holding initialBalance sats.
func New(agentID string, initialBalance int64, logger *slog.Logger, opts ...Option) *Wallet {
	w := &Wallet{
		agentID:     agentID,
		balance:     initialBalance,
		initial:     initialBalance,
		hourly:      make(map[int64]int64),
		logger:      logger,
		now:         time.Now,
		createdAt:   time.Now().UTC(),
		lowFraction: defaultLowBalanceFraction,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func hourBucket(t time.Time) int64 {
	return t.Unix() / 3600
}

// Debit atomically decrements the balance, appends a payment transaction,
// and adds the amount to the current hour bucket. Fails with
// ErrInsufficientFunds, leaving all state untouched, if amount > balance.
func (w *Wallet) Debit(ctx context.Context, amountSats int64, description, endpoint, paymentID string) error {
	if amountSats <= 0 {
		return fmt.Errorf("wallet: debit amount must be positive, got %d", amountSats)
	}

	w.mu.Lock()
	if amountSats > w.balance {
		w.mu.Unlock()
		return fmt.Errorf("%w: %d sats < %d sats needed", ErrInsufficientFunds, w.balance, amountSats)
	}
	now := w.now().UTC()
	w.balance -= amountSats
	w.totalSpent += amountSats
	w.hourly[hourBucket(now)] += amountSats
	tx := model.Transaction{
		AmountSats:  -amountSats,
		Kind:        model.TxPayment,
		Description: description,
		Endpoint:    endpoint,
		Timestamp:   now,
		PaymentID:   paymentID,
	}
	w.txs = append(w.txs, tx)
	w.mu.Unlock()

	w.persist(ctx, tx)
	return nil
}

// Credit atomically increments the balance and appends a receive
// transaction. Always succeeds.
func (w *Wallet) Credit(ctx context.Context, amountSats int64, description string) {
	w.mu.Lock()
	now := w.now().UTC()
	w.balance += amountSats
	w.totalReceived += amountSats
	tx := model.Transaction{
		AmountSats:  amountSats,
		Kind:        model.TxReceive,
		Description: description,
		Timestamp:   now,
	}
	w.txs = append(w.txs, tx)
	w.mu.Unlock()

	w.persist(ctx, tx)
}

func (w *Wallet) persist(ctx context.Context, tx model.Transaction) {
	if w.recorder == nil {
		return
	}
	if err := w.recorder.RecordTransaction(ctx, w.agentID, tx); err != nil {
		w.logger.Warn("wallet: persist transaction", "agent_id", w.agentID, "error", err)
	}
}

// CurrentHourSpend returns the sats spent in the current hour bucket.
// An absent bucket reads as zero. Past buckets are retained for audit.
func (w *Wallet) CurrentHourSpend() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hourly[hourBucket(w.now().UTC())]
}

// IsLow reports whether the balance has fallen below the given fraction of
// the initial balance.
func (w *Wallet) IsLow(thresholdFraction float64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return float64(w.balance) < thresholdFraction*float64(w.initial)
}

// Snapshot returns a consistent view of balance and hourly spend for the
// policy engine.
func (w *Wallet) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{
		Balance:        w.balance,
		InitialBalance: w.initial,
		HourlySpend:    w.hourly[hourBucket(w.now().UTC())],
	}
}

// Balance returns the current spendable balance.
func (w *Wallet) Balance() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance
}

// Stats returns the wallet summary.
func (w *Wallet) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		AgentID:           w.agentID,
		BalanceSats:       w.balance,
		InitialBalance:    w.initial,
		TotalSpent:        w.totalSpent,
		TotalReceived:     w.totalReceived,
		TotalTransactions: len(w.txs),
		HourlySpendSats:   w.hourly[hourBucket(w.now().UTC())],
		LowBalance:        float64(w.balance) < w.lowFraction*float64(w.initial),
		UptimeHours:       time.Since(w.createdAt).Hours(),
	}
}

// History returns the most recent limit transactions, oldest first.
func (w *Wallet) History(limit int) []model.Transaction {
	w.mu.Lock()
	defer w.mu.Unlock()
	if limit <= 0 || limit > len(w.txs) {
		limit = len(w.txs)
	}
	out := make([]model.Transaction, limit)
	copy(out, w.txs[len(w.txs)-limit:])
	return out
}
