package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/satsgate-ai/satsgate/internal/model"
	"github.com/satsgate-ai/satsgate/internal/wallet"
)

func snap(balance, initial, hourly int64) wallet.Snapshot {
	return wallet.Snapshot{Balance: balance, InitialBalance: initial, HourlySpend: hourly}
}

var cfg = Config{HourlyBudgetSats: 500}

func TestInsufficientBalanceDeclines(t *testing.T) {
	d := Evaluate(snap(5, 1000, 0), 10, "/api/news/", model.PriorityNormal, cfg)
	assert.False(t, d.ShouldPay)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Contains(t, d.Reason, "insufficient balance")
	assert.Equal(t, int64(5), d.BudgetRemaining)
}

func TestHourlyBudgetDeclinesNormal(t *testing.T) {
	// 480 spent + 30 price > 500 budget.
	d := Evaluate(snap(1000, 1000, 480), 30, "/api/news/", model.PriorityNormal, cfg)
	assert.False(t, d.ShouldPay)
	assert.Equal(t, 0.85, d.Confidence)
	assert.Contains(t, d.Reason, "hourly budget exceeded")
	assert.Equal(t, int64(20), d.BudgetRemaining)
}

func TestHourlyBudgetExactFitApproves(t *testing.T) {
	// 480 + 20 == 500 is within budget.
	d := Evaluate(snap(1000, 1000, 480), 20, "/api/news/", model.PriorityNormal, cfg)
	assert.True(t, d.ShouldPay)
}

func TestUrgentPrioritiesBypassHourlyBudget(t *testing.T) {
	for _, p := range []model.Priority{model.PriorityHigh, model.PriorityCritical} {
		d := Evaluate(snap(1000, 1000, 490), 30, "/api/news/", p, cfg)
		assert.True(t, d.ShouldPay, "priority %s should bypass the hourly cap", p)
	}
}

func TestPriorityCeilings(t *testing.T) {
	cases := []struct {
		priority model.Priority
		price    int64
		approve  bool
	}{
		{model.PriorityLow, 10, true},
		{model.PriorityLow, 11, false},
		{model.PriorityNormal, 30, true},
		{model.PriorityNormal, 31, false},
		{model.PriorityHigh, 70, true},
		{model.PriorityHigh, 71, false},
		{model.PriorityCritical, 200, true},
		{model.PriorityCritical, 201, false},
	}
	for _, tc := range cases {
		d := Evaluate(snap(10000, 10000, 0), tc.price, "/api/news/", tc.priority, cfg)
		if tc.approve {
			assert.True(t, d.ShouldPay, "%s at %d sats", tc.priority, tc.price)
		} else {
			assert.False(t, d.ShouldPay, "%s at %d sats", tc.priority, tc.price)
			assert.Equal(t, 0.7, d.Confidence)
			assert.Contains(t, d.Reason, "priority ceiling")
		}
	}
}

func TestUnknownPriorityNormalizedToNormal(t *testing.T) {
	d := Evaluate(snap(10000, 10000, 0), 31, "/api/news/", model.Priority("bogus"), cfg)
	assert.False(t, d.ShouldPay)
	assert.Contains(t, d.Reason, "normal priority ceiling")
}

func TestLowBalanceGuard(t *testing.T) {
	// 90 sats left of 1000 initial is below the 10% guard.
	d := Evaluate(snap(90, 1000, 0), 10, "/api/news/", model.PriorityNormal, cfg)
	assert.False(t, d.ShouldPay)
	assert.Equal(t, 0.6, d.Confidence)
	assert.Contains(t, d.Reason, "conserving funds")
}

func TestLowBalanceGuardBypassedForUrgent(t *testing.T) {
	d := Evaluate(snap(90, 1000, 0), 10, "/api/news/", model.PriorityHigh, cfg)
	assert.True(t, d.ShouldPay)
}

func TestEffectiveLowBalanceFraction(t *testing.T) {
	assert.Equal(t, DefaultLowBalanceFraction, Config{}.EffectiveLowBalanceFraction())
	assert.Equal(t, 0.5, Config{LowBalanceFraction: 0.5}.EffectiveLowBalanceFraction())
}

func TestLowBalanceFractionConfigurable(t *testing.T) {
	strict := Config{HourlyBudgetSats: 500, LowBalanceFraction: 0.5}
	d := Evaluate(snap(400, 1000, 0), 10, "/api/news/", model.PriorityNormal, strict)
	assert.False(t, d.ShouldPay)
	assert.Equal(t, 0.6, d.Confidence)
}

func TestApproval(t *testing.T) {
	d := Evaluate(snap(1000, 1000, 0), 10, "/api/weather/tokyo", model.PriorityNormal, cfg)
	assert.True(t, d.ShouldPay)
	assert.Equal(t, 0.9, d.Confidence)
	assert.Equal(t, int64(990), d.BudgetRemaining)
	assert.Contains(t, d.Reason, "payment approved")
	assert.Contains(t, d.Reason, "/api/weather/tokyo")
}

func TestRuleOrderBalanceBeforeBudget(t *testing.T) {
	// Both rule 1 and rule 2 would fire; rule 1 wins and carries its
	// confidence.
	d := Evaluate(snap(5, 1000, 500), 10, "/api/news/", model.PriorityNormal, cfg)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Contains(t, d.Reason, "insufficient balance")
}
