package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satsgate-ai/satsgate/internal/agent"
	"github.com/satsgate-ai/satsgate/internal/auth"
	"github.com/satsgate-ai/satsgate/internal/gateway"
	"github.com/satsgate-ai/satsgate/internal/invoice"
	"github.com/satsgate-ai/satsgate/internal/macaroon"
	"github.com/satsgate-ai/satsgate/internal/model"
	"github.com/satsgate-ai/satsgate/internal/policy"
	"github.com/satsgate-ai/satsgate/internal/pricing"
	"github.com/satsgate-ai/satsgate/internal/reputation"
	"github.com/satsgate-ai/satsgate/internal/storage"
	"github.com/satsgate-ai/satsgate/internal/wallet"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type env struct {
	ts     *httptest.Server
	wallet *wallet.Wallet
	store  *storage.Store
	agent  *agent.Agent
}

// newEnv stands up the whole service against an in-memory store and points
// the agent back at its own test server, mirroring the production wiring.
func newEnv(t *testing.T, balance int64, adminKey string) *env {
	t.Helper()
	logger := testLogger()

	store, err := storage.Open(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	signer, err := macaroon.NewSigner("test-secret", time.Hour)
	require.NoError(t, err)
	ledger := invoice.NewMemoryLedger(logger, invoice.WithRecorder(store))
	gw := gateway.New(ledger, signer, store, logger)

	reps := reputation.NewMemoryRegistry()
	_, err = reps.Register(context.Background(), "agent-test")
	require.NoError(t, err)

	w := wallet.New("agent-test", balance, logger, wallet.WithRecorder(store))

	var adminKeyHash string
	if adminKey != "" {
		adminKeyHash, err = auth.HashKey(adminKey)
		require.NoError(t, err)
	}

	// The agent calls back into this same server, so the listener must exist
	// before the agent is built. An unstarted test server exposes its
	// address up front.
	ts := httptest.NewUnstartedServer(http.NotFoundHandler())
	t.Cleanup(ts.Close)

	ag := agent.New(agent.Config{
		ID:          "agent-test",
		Wallet:      w,
		Payer:       invoice.NewMockPayer(ledger),
		Policy:      policy.Config{HourlyBudgetSats: 500},
		Reputations: reps,
		BaseURL:     "http://" + ts.Listener.Addr().String(),
		Logger:      logger,
	})

	srv := New(ServerConfig{
		Gateway:             gw,
		Agent:               ag,
		Store:               store,
		Reputations:         reps,
		PricingModel:        pricing.NewModel(10),
		Logger:              logger,
		Port:                0,
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
		AdminKeyHash:        adminKeyHash,
	})

	ts.Config.Handler = srv.Handler()
	ts.Start()

	return &env{ts: ts, wallet: w, store: store, agent: ag}
}

func TestHealth(t *testing.T) {
	e := newEnv(t, 1000, "")

	resp, err := http.Get(e.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body model.APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.Meta.RequestID)
}

func TestPaidEndpointChallengesWithoutAuth(t *testing.T) {
	e := newEnv(t, 1000, "")

	resp, err := http.Get(e.ts.URL + "/api/news/topic/ai")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	var ch model.Challenge
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ch))
	assert.Equal(t, int64(12), ch.PriceSats)
	assert.NotEmpty(t, ch.Invoice)

	_, ok := macaroon.ParseChallengeHeader(resp.Header.Get("WWW-Authenticate"))
	assert.True(t, ok)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestTaskEndToEnd(t *testing.T) {
	e := newEnv(t, 1000, "")

	reqBody := bytes.NewBufferString(`{"query":"news about ai","priority":"normal"}`)
	resp, err := http.Post(e.ts.URL+"/agent/task", "application/json", reqBody)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Data model.Task `json:"data"`
		Meta model.ResponseMeta
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))

	task := envelope.Data
	assert.True(t, task.Completed)
	assert.Equal(t, "/api/news/topic/ai", task.Endpoint)
	assert.Equal(t, int64(12), task.TotalCostSats)
	assert.NotNil(t, task.Result)
	assert.NotEmpty(t, envelope.Meta.RequestID)

	// Balance debited exactly once.
	assert.Equal(t, int64(988), e.wallet.Balance())

	// The audit trail has the matching payment.
	recs, err := e.store.ListPayments(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(12), recs[0].AmountSats)
	assert.Equal(t, "/api/news/topic/ai", recs[0].Endpoint)
	assert.Equal(t, "agent-test", recs[0].AgentID)
}

func TestTaskRejectsEmptyQuery(t *testing.T) {
	e := newEnv(t, 1000, "")

	resp, err := http.Post(e.ts.URL+"/agent/task", "application/json",
		bytes.NewBufferString(`{"query":"  "}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTaskRejectsUnknownFields(t *testing.T) {
	e := newEnv(t, 1000, "")

	resp, err := http.Post(e.ts.URL+"/agent/task", "application/json",
		bytes.NewBufferString(`{"query":"x","bogus":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAgentStatusAndWallet(t *testing.T) {
	e := newEnv(t, 1000, "")

	var status struct {
		Data agent.Status `json:"data"`
	}
	resp, err := http.Get(e.ts.URL + "/agent/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "agent-test", status.Data.AgentID)
	assert.Equal(t, int64(1000), status.Data.Wallet.BalanceSats)

	var walletResp struct {
		Data wallet.Stats `json:"data"`
	}
	resp2, err := http.Get(e.ts.URL + "/agent/wallet")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&walletResp))
	assert.Equal(t, int64(1000), walletResp.Data.BalanceSats)
}

func TestFundRequiresAdminKey(t *testing.T) {
	e := newEnv(t, 1000, "sekret")

	// Missing key.
	resp, err := http.Post(e.ts.URL+"/agent/fund", "application/json",
		bytes.NewBufferString(`{"amount_sats":500}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Wrong key.
	req, err := http.NewRequest(http.MethodPost, e.ts.URL+"/agent/fund",
		bytes.NewBufferString(`{"amount_sats":500}`))
	require.NoError(t, err)
	req.Header.Set("X-Admin-Key", "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Correct key credits the wallet.
	req, err = http.NewRequest(http.MethodPost, e.ts.URL+"/agent/fund",
		bytes.NewBufferString(`{"amount_sats":500}`))
	require.NoError(t, err)
	req.Header.Set("X-Admin-Key", "sekret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1500), e.wallet.Balance())
}

func TestFundDisabledWithoutAdminKey(t *testing.T) {
	e := newEnv(t, 1000, "")

	resp, err := http.Post(e.ts.URL+"/agent/fund", "application/json",
		bytes.NewBufferString(`{"amount_sats":500}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int64(1000), e.wallet.Balance())
}

func TestReputationEndpoints(t *testing.T) {
	e := newEnv(t, 1000, "")

	var list struct {
		Data struct {
			Count int `json:"count"`
		} `json:"data"`
	}
	resp, err := http.Get(e.ts.URL + "/reputation")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Equal(t, 1, list.Data.Count)

	resp2, err := http.Get(e.ts.URL + "/reputation/agent-test")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	resp3, err := http.Get(e.ts.URL + "/reputation/ghost")
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestPricingEndpoints(t *testing.T) {
	e := newEnv(t, 1000, "")

	var quote struct {
		Data struct {
			QuoteSats int64 `json:"quote_sats"`
		} `json:"data"`
	}
	resp, err := http.Get(e.ts.URL + "/pricing/quote?server_load=0.9&complexity=3")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&quote))
	assert.Greater(t, quote.Data.QuoteSats, int64(0))

	resp2, err := http.Get(e.ts.URL + "/pricing/weights")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestDashboardStats(t *testing.T) {
	e := newEnv(t, 1000, "")

	// Run one paying task so the totals are non-zero.
	resp, err := http.Post(e.ts.URL+"/agent/task", "application/json",
		bytes.NewBufferString(`{"query":"news about ai"}`))
	require.NoError(t, err)
	resp.Body.Close()

	var stats struct {
		Data struct {
			PaymentsCount    int64 `json:"payments_count"`
			PaymentsSats     int64 `json:"payments_sats"`
			RegisteredAgents int   `json:"registered_agents"`
		} `json:"data"`
	}
	resp2, err := http.Get(e.ts.URL + "/dashboard/stats")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&stats))
	assert.Equal(t, int64(1), stats.Data.PaymentsCount)
	assert.Equal(t, int64(12), stats.Data.PaymentsSats)
	assert.Equal(t, 1, stats.Data.RegisteredAgents)
}

func TestErrorEnvelope(t *testing.T) {
	e := newEnv(t, 1000, "")

	resp, err := http.Get(e.ts.URL + "/reputation/ghost")
	require.NoError(t, err)
	defer resp.Body.Close()

	var apiErr model.APIError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiErr))
	assert.Equal(t, model.ErrCodeNotFound, apiErr.Error.Code)
	assert.NotEmpty(t, apiErr.Meta.RequestID)
}
