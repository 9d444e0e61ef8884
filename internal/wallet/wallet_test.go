package wallet

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satsgate-ai/satsgate/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDebitAndCredit(t *testing.T) {
	w := New("agent-1", 1000, testLogger())

	require.NoError(t, w.Debit(context.Background(), 100, "api call", "/api/news/", "pid-1"))
	assert.Equal(t, int64(900), w.Balance())

	w.Credit(context.Background(), 50, "refund")
	assert.Equal(t, int64(950), w.Balance())

	// balance = initial + sum of signed transaction amounts.
	var sum int64
	for _, tx := range w.History(0) {
		sum += tx.AmountSats
	}
	assert.Equal(t, int64(1000)+sum, w.Balance())
}

func TestDebitInsufficientFunds(t *testing.T) {
	w := New("agent-1", 50, testLogger())

	err := w.Debit(context.Background(), 100, "too much", "/api/news/", "pid-1")
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// Nothing mutated.
	assert.Equal(t, int64(50), w.Balance())
	assert.Empty(t, w.History(0))
	assert.Zero(t, w.CurrentHourSpend())
}

func TestDebitRejectsNonPositive(t *testing.T) {
	w := New("agent-1", 100, testLogger())
	assert.Error(t, w.Debit(context.Background(), 0, "", "", ""))
	assert.Error(t, w.Debit(context.Background(), -5, "", "", ""))
	assert.Equal(t, int64(100), w.Balance())
}

func TestHourlyBucketsRoll(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	w := New("agent-1", 1000, testLogger(), WithClock(clock))

	require.NoError(t, w.Debit(context.Background(), 30, "", "/a", "p1"))
	require.NoError(t, w.Debit(context.Background(), 20, "", "/b", "p2"))
	assert.Equal(t, int64(50), w.CurrentHourSpend())

	// Crossing the hour boundary resets the visible hourly spend to zero
	// without touching past buckets.
	now = now.Add(time.Hour)
	assert.Zero(t, w.CurrentHourSpend())

	require.NoError(t, w.Debit(context.Background(), 10, "", "/c", "p3"))
	assert.Equal(t, int64(10), w.CurrentHourSpend())
	assert.Equal(t, int64(940), w.Balance())
}

func TestSnapshotConsistency(t *testing.T) {
	w := New("agent-1", 500, testLogger())
	require.NoError(t, w.Debit(context.Background(), 120, "", "/a", "p1"))

	snap := w.Snapshot()
	assert.Equal(t, int64(380), snap.Balance)
	assert.Equal(t, int64(500), snap.InitialBalance)
	assert.Equal(t, int64(120), snap.HourlySpend)
}

func TestIsLow(t *testing.T) {
	w := New("agent-1", 1000, testLogger())
	assert.False(t, w.IsLow(0.1))

	require.NoError(t, w.Debit(context.Background(), 950, "", "/a", "p1"))
	assert.True(t, w.IsLow(0.1))
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	w := New("agent-1", 100, testLogger())

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Debit(context.Background(), 10, "", "/a", "p")
		}()
	}
	wg.Wait()

	// Exactly 10 of the 50 debits can succeed.
	assert.Equal(t, int64(0), w.Balance())
	assert.Len(t, w.History(0), 10)
}

func TestHistoryOrderAndLimit(t *testing.T) {
	w := New("agent-1", 1000, testLogger())
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, w.Debit(context.Background(), i, "", "/a", ""))
	}

	last2 := w.History(2)
	require.Len(t, last2, 2)
	// Oldest first within the returned window.
	assert.Equal(t, int64(-4), last2[0].AmountSats)
	assert.Equal(t, int64(-5), last2[1].AmountSats)
}

func TestStats(t *testing.T) {
	w := New("agent-1", 1000, testLogger())
	require.NoError(t, w.Debit(context.Background(), 200, "", "/a", "p1"))
	w.Credit(context.Background(), 100, "top-up")

	stats := w.Stats()
	assert.Equal(t, "agent-1", stats.AgentID)
	assert.Equal(t, int64(900), stats.BalanceSats)
	assert.Equal(t, int64(200), stats.TotalSpent)
	assert.Equal(t, int64(100), stats.TotalReceived)
	assert.Equal(t, 2, stats.TotalTransactions)
	assert.False(t, stats.LowBalance)
}

func TestStatsLowBalanceFollowsConfiguredFraction(t *testing.T) {
	// 600/1000 is comfortable at the default threshold but low at 0.7.
	w := New("agent-1", 1000, testLogger(), WithLowBalanceFraction(0.7))
	require.NoError(t, w.Debit(context.Background(), 400, "", "/a", "p1"))

	stats := w.Stats()
	assert.True(t, stats.LowBalance)
	assert.Equal(t, stats.LowBalance, w.IsLow(0.7))

	def := New("agent-2", 1000, testLogger())
	require.NoError(t, def.Debit(context.Background(), 400, "", "/a", "p2"))
	assert.False(t, def.Stats().LowBalance)
}

type txRecorder struct {
	mu sync.Mutex
	n  int
}

func (r *txRecorder) RecordTransaction(context.Context, string, model.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	return nil
}

func (r *txRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func TestRecorderWriteThrough(t *testing.T) {
	rec := &txRecorder{}
	w := New("agent-1", 1000, testLogger(), WithRecorder(rec))

	require.NoError(t, w.Debit(context.Background(), 10, "", "/a", "p1"))
	w.Credit(context.Background(), 5, "")

	assert.Equal(t, 2, rec.count())
}
