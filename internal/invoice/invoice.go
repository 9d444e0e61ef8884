// Package invoice issues hash-locked payment requests and settles them
// against a revealed preimage.
//
// The binding is payment_id = sha256(preimage): possession of the preimage
// is the sole mechanism tying "money moved" to "access granted". The mock
// backend self-signs invoices in process; a live node backend implements the
// same Ledger and Payer interfaces and is swapped in at construction time.
package invoice

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Sentinel errors. Both are terminal for the attempt; the gateway never
// retries a settlement on the caller's behalf.
var (
	ErrNotFound         = errors.New("invoice: not found")
	ErrPreimageMismatch = errors.New("invoice: preimage does not match payment id")
	ErrPaymentFailed    = errors.New("invoice: payment failed")
)

// Invoice is the caller-visible view of a payment request. The preimage is
// withheld; it is released only through a Payer.
type Invoice struct {
	PaymentID      string    `json:"payment_id"`
	PaymentRequest string    `json:"payment_request"`
	AmountSats     int64     `json:"amount_sats"`
	Memo           string    `json:"memo"`
	CreatedAt      time.Time `json:"created_at"`
	Settled        bool      `json:"settled"`
}

// Ledger is the capability interface over invoice issuance and settlement.
// Mock and live backends are interchangeable behind it.
type Ledger interface {
	// Issue creates a payment request for the given amount.
	Issue(ctx context.Context, amountSats int64, memo string) (Invoice, error)
	// Settle verifies that sha256(preimage) equals paymentID and marks the
	// invoice settled. Settling an already-settled invoice with the correct
	// preimage is idempotent. Returns ErrNotFound or ErrPreimageMismatch.
	Settle(ctx context.Context, paymentID, preimageHex string) error
	// Lookup returns the invoice for paymentID, or ErrNotFound.
	Lookup(ctx context.Context, paymentID string) (Invoice, error)
}

// Payer is the external payment network contract: redeem an invoice and
// return the preimage proving it was paid.
type Payer interface {
	Pay(ctx context.Context, paymentID string) (preimageHex string, err error)
}

// Recorder persists invoice lifecycle events for audit and replay detection.
// Implemented by the storage layer; persistence is best-effort.
type Recorder interface {
	RecordInvoice(ctx context.Context, inv Invoice) error
	RecordSettlement(ctx context.Context, paymentID string) error
}

type entry struct {
	inv      Invoice
	preimage string
}

// MemoryLedger is the in-process, self-signing Ledger backend. Invoices are
// never deleted; the table doubles as the replay-detection record.
type MemoryLedger struct {
	mu       sync.Mutex
	invoices map[string]*entry
	recorder Recorder
	logger   *slog.Logger
}

// Option configures a MemoryLedger.
type Option func(*MemoryLedger)

// WithRecorder enables write-through persistence of invoice events.
func WithRecorder(r Recorder) Option {
	return func(l *MemoryLedger) { l.recorder = r }
}

// NewMemoryLedger creates an empty in-memory invoice ledger.
func NewMemoryLedger(logger *slog.Logger, opts ...Option) *MemoryLedger {
	l := &MemoryLedger{
		invoices: make(map[string]*entry),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Issue generates a fresh preimage, derives the payment id, and stores the
// invoice. The returned view does not include the preimage.
func (l *MemoryLedger) Issue(ctx context.Context, amountSats int64, memo string) (Invoice, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return Invoice{}, fmt.Errorf("invoice: generate preimage: %w", err)
	}
	sum := sha256.Sum256(raw)

	nonce := make([]byte, 20)
	if _, err := rand.Read(nonce); err != nil {
		return Invoice{}, fmt.Errorf("invoice: generate request nonce: %w", err)
	}

	inv := Invoice{
		PaymentID: hex.EncodeToString(sum[:]),
		// Shaped like a regtest bolt11 string; redeemable only by this ledger.
		PaymentRequest: fmt.Sprintf("lnbcrt%d0n1%s", amountSats, hex.EncodeToString(nonce)),
		AmountSats:     amountSats,
		Memo:           memo,
		CreatedAt:      time.Now().UTC(),
	}

	l.mu.Lock()
	l.invoices[inv.PaymentID] = &entry{inv: inv, preimage: hex.EncodeToString(raw)}
	l.mu.Unlock()

	if l.recorder != nil {
		if err := l.recorder.RecordInvoice(ctx, inv); err != nil {
			l.logger.Warn("invoice: persist issue", "payment_id", inv.PaymentID, "error", err)
		}
	}
	return inv, nil
}

// Settle checks the preimage against the payment id and marks the invoice
// settled. No mutation happens on mismatch or unknown id.
func (l *MemoryLedger) Settle(ctx context.Context, paymentID, preimageHex string) error {
	raw, err := hex.DecodeString(preimageHex)
	if err != nil {
		return ErrPreimageMismatch
	}
	sum := sha256.Sum256(raw)
	if hex.EncodeToString(sum[:]) != paymentID {
		return ErrPreimageMismatch
	}

	l.mu.Lock()
	e, ok := l.invoices[paymentID]
	if !ok {
		l.mu.Unlock()
		return ErrNotFound
	}
	alreadySettled := e.inv.Settled
	e.inv.Settled = true
	e.preimage = preimageHex
	l.mu.Unlock()

	if !alreadySettled && l.recorder != nil {
		if err := l.recorder.RecordSettlement(ctx, paymentID); err != nil {
			l.logger.Warn("invoice: persist settlement", "payment_id", paymentID, "error", err)
		}
	}
	return nil
}

// Lookup returns a copy of the stored invoice.
func (l *MemoryLedger) Lookup(_ context.Context, paymentID string) (Invoice, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.invoices[paymentID]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	return e.inv, nil
}

// preimage releases the secret for a mock-issued invoice. Only the MockPayer
// reaches this; real callers receive preimages from the payment network.
func (l *MemoryLedger) preimage(paymentID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.invoices[paymentID]
	if !ok {
		return "", false
	}
	return e.preimage, true
}
