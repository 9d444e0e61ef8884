// Package macaroon creates and verifies the signed bearer tokens that bind a
// payment obligation to an endpoint and an expiry.
//
// Tokens are HMAC-signed JWTs (HS256) over a process-wide secret. A token by
// itself grants nothing: access additionally requires the invoice preimage,
// presented alongside the token in the Authorization header.
package macaroon

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scheme is the authorization scheme used in HTTP headers.
const Scheme = "L402"

// Version identifies the token format. Verification rejects other versions.
const Version = "L402-v1"

// Claims are the signed claims carried by a macaroon.
type Claims struct {
	jwt.RegisteredClaims
	PaymentID  string `json:"payment_id"`
	Endpoint   string `json:"endpoint"`
	AmountSats int64  `json:"amount_sats"`
	Version    string `json:"version"`
}

// Signer mints and verifies macaroons with a shared HMAC secret.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner creates a Signer. If secret is empty, a random ephemeral secret
// is generated; tokens then do not survive a process restart.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	key := []byte(secret)
	if len(key) == 0 {
		slog.Warn("macaroon: no secret configured, generating ephemeral secret (not for production)")
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("macaroon: generate secret: %w", err)
		}
	}
	return &Signer{secret: key, ttl: ttl}, nil
}

// Mint creates a signed macaroon binding paymentID to endpoint and amount,
// expiring after the signer's TTL.
func (s *Signer) Mint(paymentID, endpoint string, amountSats int64) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		PaymentID:  paymentID,
		Endpoint:   endpoint,
		AmountSats: amountSats,
		Version:    Version,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("macaroon: sign: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a macaroon, returning the claims. It rejects
// decode failures, signature mismatches, unexpected signing methods, expired
// tokens, and tokens of a different version. Verification failure is never
// retried; the caller must obtain a fresh challenge.
func (s *Signer) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("macaroon: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("macaroon: verify: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("macaroon: invalid claims")
	}
	if claims.Version != Version {
		return nil, fmt.Errorf("macaroon: unsupported version: %q", claims.Version)
	}
	if claims.PaymentID == "" || claims.Endpoint == "" {
		return nil, fmt.Errorf("macaroon: missing payment binding")
	}
	return claims, nil
}

// ParseAuthHeader splits an "L402 <macaroon>:<preimage_hex>" authorization
// value. Missing scheme or missing ":" is a hard reject.
func ParseAuthHeader(header string) (token, preimage string, err error) {
	const prefix = Scheme + " "
	if !strings.HasPrefix(header, prefix) {
		return "", "", fmt.Errorf("macaroon: authorization scheme is not %s", Scheme)
	}
	rest := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	token, preimage, found := strings.Cut(rest, ":")
	if !found || token == "" || preimage == "" {
		return "", "", fmt.Errorf("macaroon: malformed %s authorization value", Scheme)
	}
	return token, preimage, nil
}

// ChallengeHeader formats the WWW-Authenticate value sent with a 402
// challenge, carrying the macaroon and the invoice redemption string.
func ChallengeHeader(token, invoice string) string {
	return fmt.Sprintf("%s macaroon=%q invoice=%q", Scheme, token, invoice)
}

// ParseChallengeHeader extracts the macaroon from a WWW-Authenticate value
// produced by ChallengeHeader.
func ParseChallengeHeader(header string) (string, bool) {
	const marker = `macaroon="`
	i := strings.Index(header, marker)
	if i < 0 {
		return "", false
	}
	rest := header[i+len(marker):]
	j := strings.IndexByte(rest, '"')
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}
