package macaroon

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintVerifyRoundtrip(t *testing.T) {
	signer, err := NewSigner("test-secret", time.Hour)
	require.NoError(t, err)

	token, err := signer.Mint("abc123", "/api/weather/tokyo", 10)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "abc123", claims.PaymentID)
	assert.Equal(t, "/api/weather/tokyo", claims.Endpoint)
	assert.Equal(t, int64(10), claims.AmountSats)
	assert.Equal(t, Version, claims.Version)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	signer, err := NewSigner("test-secret", time.Hour)
	require.NoError(t, err)

	token, err := signer.Mint("abc123", "/api/news/", 8)
	require.NoError(t, err)

	// Flip a character in the payload segment.
	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	payload := []byte(parts[1])
	if payload[0] == 'A' {
		payload[0] = 'B'
	} else {
		payload[0] = 'A'
	}
	tampered := parts[0] + "." + string(payload) + "." + parts[2]

	_, err = signer.Verify(tampered)
	assert.Error(t, err)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	signerA, err := NewSigner("secret-a", time.Hour)
	require.NoError(t, err)
	signerB, err := NewSigner("secret-b", time.Hour)
	require.NoError(t, err)

	token, err := signerA.Mint("abc123", "/api/news/", 8)
	require.NoError(t, err)

	_, err = signerB.Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	// A negative TTL mints a token that is already expired.
	signer, err := NewSigner("test-secret", -time.Minute)
	require.NoError(t, err)

	token, err := signer.Mint("abc123", "/api/news/", 8)
	require.NoError(t, err)

	_, err = signer.Verify(token)
	assert.Error(t, err)
}

func TestNewSignerGeneratesEphemeralSecret(t *testing.T) {
	signer, err := NewSigner("", time.Hour)
	require.NoError(t, err)

	token, err := signer.Mint("abc123", "/api/news/", 8)
	require.NoError(t, err)

	// Same signer verifies its own tokens.
	claims, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "abc123", claims.PaymentID)

	// A second ephemeral signer does not.
	other, err := NewSigner("", time.Hour)
	require.NoError(t, err)
	_, err = other.Verify(token)
	assert.Error(t, err)
}

func TestParseAuthHeader(t *testing.T) {
	token, preimage, err := ParseAuthHeader("L402 tok.en.value:deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "tok.en.value", token)
	assert.Equal(t, "deadbeef", preimage)
}

func TestParseAuthHeaderRejects(t *testing.T) {
	cases := []struct {
		name   string
		header string
	}{
		{"wrong scheme", "Bearer tok:deadbeef"},
		{"missing colon", "L402 tokendeadbeef"},
		{"empty token", "L402 :deadbeef"},
		{"empty preimage", "L402 token:"},
		{"empty header", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ParseAuthHeader(tc.header)
			assert.Error(t, err)
		})
	}
}

func TestChallengeHeaderRoundtrip(t *testing.T) {
	header := ChallengeHeader("tok.en.value", "lnbcrt100n1xyz")
	assert.Contains(t, header, `invoice="lnbcrt100n1xyz"`)

	token, ok := ParseChallengeHeader(header)
	require.True(t, ok)
	assert.Equal(t, "tok.en.value", token)
}

func TestParseChallengeHeaderMissingMacaroon(t *testing.T) {
	_, ok := ParseChallengeHeader(`L402 invoice="lnbcrt100n1xyz"`)
	assert.False(t, ok)
}
