// Package policy decides, on behalf of an agent, whether a quoted price is
// worth paying. Evaluate is a pure function over a wallet snapshot; it holds
// no state and needs no locking of its own.
package policy

import (
	"fmt"

	"github.com/satsgate-ai/satsgate/internal/model"
	"github.com/satsgate-ai/satsgate/internal/wallet"
)

// Config holds the budget knobs the rules evaluate against.
type Config struct {
	// HourlyBudgetSats caps spending per hour for non-urgent priorities.
	HourlyBudgetSats int64
	// LowBalanceFraction triggers the conserve-funds guard below this
	// fraction of the initial balance. Zero means the default of 0.1.
	LowBalanceFraction float64
}

// DefaultLowBalanceFraction is the conserve-funds threshold used when the
// config leaves it unset.
const DefaultLowBalanceFraction = 0.1

// EffectiveLowBalanceFraction resolves the configured fraction, applying the
// default when unset. The wallet's low-balance stat is derived from the same
// value so the API and the guard agree.
func (c Config) EffectiveLowBalanceFraction() float64 {
	if c.LowBalanceFraction == 0 {
		return DefaultLowBalanceFraction
	}
	return c.LowBalanceFraction
}

// priceCeilings caps the price per task priority. An unmapped priority is
// normalized to normal before lookup.
var priceCeilings = map[model.Priority]int64{
	model.PriorityLow:      10,
	model.PriorityNormal:   30,
	model.PriorityHigh:     70,
	model.PriorityCritical: 200,
}

// Evaluate applies the decision rules in fixed order; the first matching
// rule decides. Later rules are progressively more a judgment call, so each
// outcome carries a confidence weight.
func Evaluate(snap wallet.Snapshot, priceSats int64, endpoint string, priority model.Priority, cfg Config) model.Decision {
	priority = model.ParsePriority(string(priority))

	// Rule 1: sufficient balance.
	if priceSats > snap.Balance {
		return model.Decision{
			Reason:          fmt.Sprintf("insufficient balance: %d sats < %d sats needed", snap.Balance, priceSats),
			PriceSats:       priceSats,
			BudgetRemaining: snap.Balance,
			Confidence:      1.0,
		}
	}

	// Rule 2: hourly budget. High and critical priorities bypass the cap.
	if snap.HourlySpend+priceSats > cfg.HourlyBudgetSats && !priority.Urgent() {
		remaining := cfg.HourlyBudgetSats - snap.HourlySpend
		if remaining < 0 {
			remaining = 0
		}
		return model.Decision{
			Reason:          fmt.Sprintf("hourly budget exceeded: spent %d/%d sats this hour", snap.HourlySpend, cfg.HourlyBudgetSats),
			PriceSats:       priceSats,
			BudgetRemaining: remaining,
			Confidence:      0.85,
		}
	}

	// Rule 3: priority ceiling.
	if ceiling := priceCeilings[priority]; priceSats > ceiling {
		return model.Decision{
			Reason:          fmt.Sprintf("price %d sats exceeds %s priority ceiling of %d sats", priceSats, priority, ceiling),
			PriceSats:       priceSats,
			BudgetRemaining: snap.Balance,
			Confidence:      0.7,
		}
	}

	// Rule 4: low-balance guard.
	if float64(snap.Balance) < cfg.EffectiveLowBalanceFraction()*float64(snap.InitialBalance) && !priority.Urgent() {
		return model.Decision{
			Reason:          fmt.Sprintf("low balance (%d sats), conserving funds for urgent tasks", snap.Balance),
			PriceSats:       priceSats,
			BudgetRemaining: snap.Balance,
			Confidence:      0.6,
		}
	}

	return model.Decision{
		ShouldPay:       true,
		Reason:          fmt.Sprintf("payment approved: %d sats for %s (priority: %s)", priceSats, endpoint, priority),
		PriceSats:       priceSats,
		BudgetRemaining: snap.Balance - priceSats,
		Confidence:      0.9,
	}
}
