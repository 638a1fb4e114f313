package google

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-shopagent/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKID = "test-kid"

func newTestVerifier(t *testing.T) (*Verifier, *rsa.PrivateKey, time.Time) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	given := keyfunc.NewGiven(map[string]keyfunc.GivenKey{
		testKID: keyfunc.NewGivenCustom(&key.PublicKey, keyfunc.GivenKeyOptions{Algorithm: "RS256"}),
	})

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	v := NewVerifierWithKeyfunc("client-123", given.Keyfunc)
	v.now = func() time.Time { return now }
	return v, key, now
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, claims IDTokenClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKID
	raw, err := token.SignedString(key)
	require.NoError(t, err)
	return raw
}

func validClaims(now time.Time) IDTokenClaims {
	return IDTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://accounts.google.com",
			Subject:   "sub-1",
			Audience:  jwt.ClaimStrings{"client-123"},
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Email:         "ann@example.com",
		EmailVerified: true,
		Name:          "Ann",
		Picture:       "https://example.com/ann.png",
		Nonce:         "nonce-1",
	}
}

func TestVerifierVerify(t *testing.T) {
	v, key, now := newTestVerifier(t)
	ctx := context.Background()

	identity, err := v.Verify(ctx, gateway.Credential{
		IDToken: signIDToken(t, key, validClaims(now)),
		Nonce:   "nonce-1",
	})
	require.NoError(t, err)
	assert.Equal(t, gateway.FederatedIdentity{
		ProviderID:    gateway.MethodGoogle,
		Subject:       "sub-1",
		Email:         "ann@example.com",
		EmailVerified: true,
		Name:          "Ann",
		Picture:       "https://example.com/ann.png",
	}, identity)
}

func TestVerifierRejects(t *testing.T) {
	v, key, now := newTestVerifier(t)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token func() string
		nonce string
	}{
		{
			name: "wrong audience",
			token: func() string {
				c := validClaims(now)
				c.Audience = jwt.ClaimStrings{"someone-else"}
				return signIDToken(t, key, c)
			},
		},
		{
			name: "wrong issuer",
			token: func() string {
				c := validClaims(now)
				c.Issuer = "https://evil.example.com"
				return signIDToken(t, key, c)
			},
		},
		{
			name: "expired",
			token: func() string {
				c := validClaims(now)
				c.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
				return signIDToken(t, key, c)
			},
		},
		{
			name: "foreign signature",
			token: func() string {
				return signIDToken(t, other, validClaims(now))
			},
		},
		{
			name:  "nonce mismatch",
			token: func() string { return signIDToken(t, key, validClaims(now)) },
			nonce: "other-nonce",
		},
		{
			name: "missing email",
			token: func() string {
				c := validClaims(now)
				c.Email = ""
				return signIDToken(t, key, c)
			},
		},
		{
			name:  "garbage",
			token: func() string { return "not-a-jwt" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), gateway.Credential{IDToken: tt.token(), Nonce: tt.nonce})
			assert.Equal(t, gateway.CodeIDTokenRejected, gateway.ProviderCode(err))
		})
	}
}
