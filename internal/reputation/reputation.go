// Package reputation tracks per-agent payment reliability and converts it
// into a pricing discount.
//
// The in-memory registry mirrors the scoring rules of the on-chain
// reputation contract this service can be pointed at: 40 points for payment
// success rate, 30 for payment volume, 30 for total spend, capped at 100.
package reputation

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrUnknownAgent is returned when an agent was never registered.
var ErrUnknownAgent = errors.New("reputation: unknown agent")

// initialScore is granted at registration.
const initialScore = 50

// Record is one agent's reputation state.
type Record struct {
	AgentID            string    `json:"agent_id"`
	Score              int       `json:"score"`
	TotalPayments      int64     `json:"total_payments"`
	SuccessfulPayments int64     `json:"successful_payments"`
	TotalSatsSpent     int64     `json:"total_sats_spent"`
	RegisteredAt       time.Time `json:"registered_at"`
	LastUpdated        time.Time `json:"last_updated"`
}

// Registry is the capability interface over reputation state. The in-memory
// backend and a chain-backed client are interchangeable behind it.
type Registry interface {
	// Register creates the agent's record and returns the initial score.
	// Registering an existing agent is a no-op.
	Register(ctx context.Context, agentID string) (int, error)
	// RecordPayment folds one payment outcome into the score and returns
	// the updated score.
	RecordPayment(ctx context.Context, agentID string, amountSats int64, endpoint string, success bool) (int, error)
	// Reputation returns the agent's record, or ErrUnknownAgent.
	Reputation(ctx context.Context, agentID string) (Record, error)
	// DiscountMultiplier maps the agent's score to a price multiplier.
	// Unknown agents get 1.0 (no discount).
	DiscountMultiplier(ctx context.Context, agentID string) float64
	// All returns every registered agent's record.
	All(ctx context.Context) []Record
}

// MemoryRegistry is the in-process Registry backend.
type MemoryRegistry struct {
	mu     sync.Mutex
	agents map[string]*Record
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{agents: make(map[string]*Record)}
}

func (r *MemoryRegistry) Register(_ context.Context, agentID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.agents[agentID]; ok {
		return rec.Score, nil
	}
	now := time.Now().UTC()
	r.agents[agentID] = &Record{
		AgentID:      agentID,
		Score:        initialScore,
		RegisteredAt: now,
		LastUpdated:  now,
	}
	return initialScore, nil
}

func (r *MemoryRegistry) RecordPayment(ctx context.Context, agentID string, amountSats int64, endpoint string, success bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.agents[agentID]
	if !ok {
		now := time.Now().UTC()
		rec = &Record{AgentID: agentID, Score: initialScore, RegisteredAt: now}
		r.agents[agentID] = rec
	}

	rec.TotalPayments++
	if success {
		rec.SuccessfulPayments++
	}
	rec.TotalSatsSpent += amountSats
	rec.LastUpdated = time.Now().UTC()
	rec.Score = score(rec)
	return rec.Score, nil
}

// score mirrors the contract formula: success rate is worth up to 40 points,
// payment count up to 30 (saturating at 100 payments), spend up to 30
// (saturating at 10k sats).
func score(rec *Record) int {
	var successComponent int64
	if rec.TotalPayments > 0 {
		successComponent = rec.SuccessfulPayments * 40 / rec.TotalPayments
	}
	volumeComponent := min64(30, rec.TotalPayments*30/100)
	spendComponent := min64(30, rec.TotalSatsSpent*30/10000)

	s := successComponent + volumeComponent + spendComponent
	if s > 100 {
		s = 100
	}
	return int(s)
}

func (r *MemoryRegistry) Reputation(_ context.Context, agentID string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.agents[agentID]
	if !ok {
		return Record{}, ErrUnknownAgent
	}
	return *rec, nil
}

// DiscountMultiplier tiers: score >80 pays 0.7x, >60 pays 0.8x, >30 pays
// 0.9x, otherwise full price.
func (r *MemoryRegistry) DiscountMultiplier(_ context.Context, agentID string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.agents[agentID]
	if !ok {
		return 1.0
	}
	switch {
	case rec.Score > 80:
		return 0.7
	case rec.Score > 60:
		return 0.8
	case rec.Score > 30:
		return 0.9
	default:
		return 1.0
	}
}

func (r *MemoryRegistry) All(_ context.Context) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.agents))
	for _, rec := range r.agents {
		out = append(out, *rec)
	}
	return out
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
