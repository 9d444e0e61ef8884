package invoice

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIssueAndLookup(t *testing.T) {
	ledger := NewMemoryLedger(testLogger())

	inv, err := ledger.Issue(context.Background(), 42, "test memo")
	require.NoError(t, err)
	assert.Len(t, inv.PaymentID, 64) // hex sha256
	assert.True(t, strings.HasPrefix(inv.PaymentRequest, "lnbcrt420n1"))
	assert.Equal(t, int64(42), inv.AmountSats)
	assert.Equal(t, "test memo", inv.Memo)
	assert.False(t, inv.Settled)

	got, err := ledger.Lookup(context.Background(), inv.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, inv.PaymentID, got.PaymentID)
}

func TestLookupUnknown(t *testing.T) {
	ledger := NewMemoryLedger(testLogger())
	_, err := ledger.Lookup(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSettleWithCorrectPreimage(t *testing.T) {
	ledger := NewMemoryLedger(testLogger())
	inv, err := ledger.Issue(context.Background(), 10, "")
	require.NoError(t, err)

	preimage, ok := ledger.preimage(inv.PaymentID)
	require.True(t, ok)

	// The preimage hashes to the payment id.
	raw, err := hex.DecodeString(preimage)
	require.NoError(t, err)
	sum := sha256.Sum256(raw)
	require.Equal(t, inv.PaymentID, hex.EncodeToString(sum[:]))

	require.NoError(t, ledger.Settle(context.Background(), inv.PaymentID, preimage))

	got, err := ledger.Lookup(context.Background(), inv.PaymentID)
	require.NoError(t, err)
	assert.True(t, got.Settled)
}

func TestSettleIdempotent(t *testing.T) {
	ledger := NewMemoryLedger(testLogger())
	inv, err := ledger.Issue(context.Background(), 10, "")
	require.NoError(t, err)
	preimage, _ := ledger.preimage(inv.PaymentID)

	require.NoError(t, ledger.Settle(context.Background(), inv.PaymentID, preimage))
	require.NoError(t, ledger.Settle(context.Background(), inv.PaymentID, preimage))
}

func TestSettleWrongPreimage(t *testing.T) {
	ledger := NewMemoryLedger(testLogger())
	inv, err := ledger.Issue(context.Background(), 10, "")
	require.NoError(t, err)

	wrong := strings.Repeat("ab", 32)
	err = ledger.Settle(context.Background(), inv.PaymentID, wrong)
	assert.ErrorIs(t, err, ErrPreimageMismatch)

	got, err := ledger.Lookup(context.Background(), inv.PaymentID)
	require.NoError(t, err)
	assert.False(t, got.Settled, "mismatch must not mutate the invoice")
}

func TestSettleNonHexPreimage(t *testing.T) {
	ledger := NewMemoryLedger(testLogger())
	err := ledger.Settle(context.Background(), "whatever", "not-hex!")
	assert.ErrorIs(t, err, ErrPreimageMismatch)
}

func TestSettleUnknownInvoice(t *testing.T) {
	ledger := NewMemoryLedger(testLogger())

	// A formally valid proof for a payment id the ledger never issued.
	raw := []byte("some arbitrary preimage material..")
	sum := sha256.Sum256(raw)
	err := ledger.Settle(context.Background(), hex.EncodeToString(sum[:]), hex.EncodeToString(raw))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMockPayer(t *testing.T) {
	ledger := NewMemoryLedger(testLogger())
	payer := NewMockPayer(ledger)

	inv, err := ledger.Issue(context.Background(), 10, "")
	require.NoError(t, err)

	preimage, err := payer.Pay(context.Background(), inv.PaymentID)
	require.NoError(t, err)

	// Paying releases the preimage but does not settle; settlement happens
	// only when the proof is presented back to the gateway.
	got, err := ledger.Lookup(context.Background(), inv.PaymentID)
	require.NoError(t, err)
	assert.False(t, got.Settled)

	require.NoError(t, ledger.Settle(context.Background(), inv.PaymentID, preimage))
}

func TestMockPayerUnknownInvoice(t *testing.T) {
	ledger := NewMemoryLedger(testLogger())
	payer := NewMockPayer(ledger)

	_, err := payer.Pay(context.Background(), "unknown-payment-id")
	assert.ErrorIs(t, err, ErrPaymentFailed)
}
