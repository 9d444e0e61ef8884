// Package gateway enforces the L402 payment protocol in front of protected
// resources.
//
// Each incoming call is either unauthenticated, in which case the gateway
// issues a priced challenge (invoice + macaroon) and returns 402, or it
// presents a macaroon and preimage, in which case the gateway verifies the
// token, settles the invoice, records the payment in the shared audit
// history, and invokes the wrapped handler. The gateway itself keeps no
// per-session state.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/satsgate-ai/satsgate/internal/invoice"
	"github.com/satsgate-ai/satsgate/internal/macaroon"
	"github.com/satsgate-ai/satsgate/internal/model"
)

// AgentIDHeader identifies the calling agent for audit purposes.
const AgentIDHeader = "X-Agent-Id"

// AuditLog records verified payments. Append-only from the gateway's
// perspective; implemented by the storage layer.
type AuditLog interface {
	AppendPayment(ctx context.Context, rec model.PaymentRecord) error
}

// Pricer computes the price of a request in sats. It must be pure with
// respect to the gateway: the gateway treats the result as an opaque amount.
type Pricer func(r *http.Request) int64

// Static returns a Pricer with a fixed price.
func Static(sats int64) Pricer {
	return func(*http.Request) int64 { return sats }
}

// DiscountFunc maps a caller to a price multiplier (e.g. reputation tiers).
type DiscountFunc func(agentID string) float64

// Discounted scales a Pricer by the caller's discount multiplier, keeping
// the price at least 1 sat.
func Discounted(base Pricer, discount DiscountFunc) Pricer {
	return func(r *http.Request) int64 {
		price := base(r)
		agentID := r.Header.Get(AgentIDHeader)
		scaled := int64(float64(price) * discount(agentID))
		if scaled < 1 {
			scaled = 1
		}
		return scaled
	}
}

var gatewayMeter = otel.GetMeterProvider().Meter("satsgate/gateway")

// Gateway wires the invoice ledger, token signer, and audit history into an
// HTTP middleware.
type Gateway struct {
	ledger invoice.Ledger
	signer *macaroon.Signer
	audit  AuditLog
	logger *slog.Logger
}

// New creates a Gateway. audit may be nil to disable payment recording.
func New(ledger invoice.Ledger, signer *macaroon.Signer, audit AuditLog, logger *slog.Logger) *Gateway {
	return &Gateway{ledger: ledger, signer: signer, audit: audit, logger: logger}
}

// Require wraps next with payment enforcement at the given price.
func (g *Gateway) Require(price Pricer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, macaroon.Scheme+" ") {
				if g.verifyPresented(w, r, auth) {
					next.ServeHTTP(w, r)
				}
				return
			}
			g.challenge(w, r, price(r))
		})
	}
}

// verifyPresented handles a request carrying an L402 authorization value.
// It reports whether access was granted; on failure a 403 has been written.
func (g *Gateway) verifyPresented(w http.ResponseWriter, r *http.Request, auth string) bool {
	token, preimage, err := macaroon.ParseAuthHeader(auth)
	if err != nil {
		g.deny(w, r, "malformed L402 authorization value")
		return false
	}

	claims, err := g.signer.Verify(token)
	if err != nil {
		g.deny(w, r, "invalid or expired macaroon")
		return false
	}
	if claims.Endpoint != r.URL.Path {
		g.deny(w, r, "macaroon bound to a different endpoint")
		return false
	}

	if err := g.ledger.Settle(r.Context(), claims.PaymentID, preimage); err != nil {
		switch {
		case errors.Is(err, invoice.ErrNotFound):
			g.deny(w, r, "unknown invoice")
		case errors.Is(err, invoice.ErrPreimageMismatch):
			g.deny(w, r, "invalid payment preimage")
		default:
			g.logger.Error("gateway: settle", "payment_id", claims.PaymentID, "error", err)
			g.deny(w, r, "settlement failed")
		}
		return false
	}

	agentID := r.Header.Get(AgentIDHeader)
	if agentID == "" {
		agentID = "unknown"
	}
	if g.audit != nil {
		rec := model.PaymentRecord{
			Endpoint:   claims.Endpoint,
			AmountSats: claims.AmountSats,
			PaymentID:  claims.PaymentID,
			AgentID:    agentID,
			Timestamp:  time.Now().UTC(),
		}
		if err := g.audit.AppendPayment(r.Context(), rec); err != nil {
			g.logger.Warn("gateway: append payment record", "payment_id", claims.PaymentID, "error", err)
		}
	}

	if counter, err := gatewayMeter.Int64Counter("satsgate.payments.verified"); err == nil {
		counter.Add(r.Context(), 1, otelmetric.WithAttributes(
			attribute.String("endpoint", claims.Endpoint),
		))
	}

	g.logger.Info("gateway: payment verified",
		"endpoint", claims.Endpoint,
		"amount_sats", claims.AmountSats,
		"payment_id", claims.PaymentID,
		"agent_id", agentID,
	)
	w.Header().Set("X-Payment-Verified", "true")
	return true
}

// challenge issues an invoice and macaroon for the request and responds 402.
func (g *Gateway) challenge(w http.ResponseWriter, r *http.Request, priceSats int64) {
	memo := "L402 access: " + r.URL.Path
	inv, err := g.ledger.Issue(r.Context(), priceSats, memo)
	if err != nil {
		g.logger.Error("gateway: issue invoice", "endpoint", r.URL.Path, "error", err)
		writeFlat(w, http.StatusInternalServerError, map[string]string{"error": "invoice issuance failed"})
		return
	}

	token, err := g.signer.Mint(inv.PaymentID, r.URL.Path, priceSats)
	if err != nil {
		g.logger.Error("gateway: mint macaroon", "endpoint", r.URL.Path, "error", err)
		writeFlat(w, http.StatusInternalServerError, map[string]string{"error": "challenge mint failed"})
		return
	}

	if counter, err := gatewayMeter.Int64Counter("satsgate.challenges.issued"); err == nil {
		counter.Add(r.Context(), 1, otelmetric.WithAttributes(
			attribute.String("endpoint", r.URL.Path),
		))
	}

	w.Header().Set("WWW-Authenticate", macaroon.ChallengeHeader(token, inv.PaymentRequest))
	writeFlat(w, http.StatusPaymentRequired, model.Challenge{
		Error:     "payment required",
		PriceSats: priceSats,
		Invoice:   inv.PaymentRequest,
		PaymentID: inv.PaymentID,
		Memo:      inv.Memo,
	})
}

func (g *Gateway) deny(w http.ResponseWriter, r *http.Request, reason string) {
	g.logger.Warn("gateway: access denied", "endpoint", r.URL.Path, "reason", reason)
	writeFlat(w, http.StatusForbidden, map[string]string{"error": reason})
}

// writeFlat writes protocol-level JSON without the API envelope; paying
// clients parse these bodies as part of the L402 exchange.
func writeFlat(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
