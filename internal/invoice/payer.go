package invoice

import (
	"context"
	"fmt"
)

// MockPayer simulates the external payment network against a MemoryLedger:
// "paying" an invoice releases the preimage the ledger generated at issue
// time. It never touches settlement state; settlement happens only when the
// preimage is presented back through the gateway.
type MockPayer struct {
	ledger *MemoryLedger
}

// NewMockPayer creates a payer bound to the given in-memory ledger.
func NewMockPayer(ledger *MemoryLedger) *MockPayer {
	return &MockPayer{ledger: ledger}
}

// Pay redeems the invoice identified by paymentID and returns its preimage.
// Unknown invoices fail with ErrPaymentFailed; the caller's funds are
// untouched because debits happen only after a preimage is obtained.
func (p *MockPayer) Pay(_ context.Context, paymentID string) (string, error) {
	preimage, ok := p.ledger.preimage(paymentID)
	if !ok {
		return "", fmt.Errorf("%w: unknown invoice %s", ErrPaymentFailed, paymentID)
	}
	return preimage, nil
}
