// Package model contains the shared domain types for Satsgate: priorities,
// transactions, policy decisions, tasks, and payment audit records.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Priority is a caller-supplied hint that raises the policy engine's price
// and budget tolerances.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ParsePriority maps a raw string to a Priority, defaulting to normal for
// unknown values. Policy thresholds depend on this defaulting.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return Priority(s)
	default:
		return PriorityNormal
	}
}

// Urgent reports whether the priority bypasses the hourly budget cap and the
// low-balance guard.
func (p Priority) Urgent() bool {
	return p == PriorityHigh || p == PriorityCritical
}

// TxKind classifies a wallet transaction.
type TxKind string

const (
	TxPayment TxKind = "payment"
	TxReceive TxKind = "receive"
)

// Transaction is one append-only wallet ledger entry. Amount is signed:
// negative for spends, positive for receives.
type Transaction struct {
	AmountSats  int64     `json:"amount_sats"`
	Kind        TxKind    `json:"kind"`
	Description string    `json:"description"`
	Endpoint    string    `json:"endpoint,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	PaymentID   string    `json:"payment_id,omitempty"`
}

// Decision is the policy engine's verdict for one quoted price. Reason is an
// audit artifact; callers must branch only on ShouldPay.
type Decision struct {
	ShouldPay       bool    `json:"should_pay"`
	Reason          string  `json:"reason"`
	PriceSats       int64   `json:"price_sats"`
	BudgetRemaining int64   `json:"budget_remaining"`
	Confidence      float64 `json:"confidence"`
}

// PaymentRecord is one entry in the gateway's shared audit history,
// append-only from the gateway's perspective.
type PaymentRecord struct {
	Endpoint   string    `json:"endpoint"`
	AmountSats int64     `json:"amount_sats"`
	PaymentID  string    `json:"payment_id"`
	AgentID    string    `json:"agent_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// ActionKind classifies one step in a task's audit trail.
type ActionKind string

const (
	ActionQuery   ActionKind = "query"
	ActionDecide  ActionKind = "decide"
	ActionPay     ActionKind = "pay"
	ActionRespond ActionKind = "respond"
)

// Action is one step in a task's append-only audit trail.
type Action struct {
	Kind      ActionKind     `json:"kind"`
	Detail    string         `json:"detail"`
	Timestamp time.Time      `json:"timestamp"`
	Result    map[string]any `json:"result,omitempty"`
}

// Task is one logical request driven end to end by the orchestrator.
// Completed is always reached; Result is non-nil iff payment (if any) and
// the authenticated retry both succeeded.
type Task struct {
	ID            uuid.UUID       `json:"id"`
	Query         string          `json:"query"`
	Priority      Priority        `json:"priority"`
	Endpoint      string          `json:"endpoint"`
	Actions       []Action        `json:"actions"`
	TotalCostSats int64           `json:"total_cost_sats"`
	Completed     bool            `json:"completed"`
	Result        json.RawMessage `json:"result,omitempty"`
}

// Challenge is the structured 402 response body issued on unauthenticated
// access to a protected resource.
type Challenge struct {
	Error     string `json:"error"`
	PriceSats int64  `json:"price_sats"`
	Invoice   string `json:"invoice"`
	PaymentID string `json:"payment_id"`
	Memo      string `json:"memo"`
}
