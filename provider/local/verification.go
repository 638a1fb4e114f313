package local

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultVerificationTTL is how long a verification link stays valid.
	DefaultVerificationTTL = 24 * time.Hour

	verificationIssuer   = "go-shopagent"
	verificationAudience = "email-verification"
)

var errInvalidVerificationToken = errors.New("invalid verification token")

// VerificationClaims are carried by email verification tokens.
type VerificationClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// VerificationTokens mints and parses signed email verification tokens.
type VerificationTokens struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewVerificationTokens creates a token codec signing with key.
func NewVerificationTokens(key []byte, ttl time.Duration) *VerificationTokens {
	if ttl <= 0 {
		ttl = DefaultVerificationTTL
	}
	return &VerificationTokens{key: key, ttl: ttl, now: time.Now}
}

// Mint issues a token for the account id and email.
func (v *VerificationTokens) Mint(accountID, email string) (string, time.Time, error) {
	issuedAt := v.now()
	expiresAt := issuedAt.Add(v.ttl)
	claims := &VerificationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    verificationIssuer,
			Subject:   accountID,
			Audience:  jwt.ClaimStrings{verificationAudience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: email,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Parse validates raw and returns its claims.
func (v *VerificationTokens) Parse(raw string) (*VerificationClaims, error) {
	claims := &VerificationClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(verificationIssuer),
		jwt.WithAudience(verificationAudience),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, errors.Join(errInvalidVerificationToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errInvalidVerificationToken
	}
	return claims, nil
}
