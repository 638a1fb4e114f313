package google

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-shopagent/gateway"
	"github.com/samber/lo"
)

// DefaultJWKSURL is Google's OpenID signing key set.
const DefaultJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

var issuers = []string{"accounts.google.com", "https://accounts.google.com"}

// IDTokenClaims are the Google id_token claims used for sign-in.
type IDTokenClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	Nonce         string `json:"nonce"`
}

// Verifier checks Google id_tokens and implements gateway.CredentialVerifier.
type Verifier struct {
	clientID string
	keyfunc  jwt.Keyfunc
	now      func() time.Time
	close    func()
}

var _ gateway.CredentialVerifier = (*Verifier)(nil)

// NewVerifier fetches the JWKS at jwksURL and keeps it refreshed.
func NewVerifier(clientID, jwksURL string) (*Verifier, error) {
	if jwksURL == "" {
		jwksURL = DefaultJWKSURL
	}
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get google JWKS: %w", err)
	}
	v := NewVerifierWithKeyfunc(clientID, jwks.Keyfunc)
	v.close = jwks.EndBackground
	return v, nil
}

// NewVerifierWithKeyfunc builds a verifier over an existing key source.
func NewVerifierWithKeyfunc(clientID string, kf jwt.Keyfunc) *Verifier {
	return &Verifier{
		clientID: clientID,
		keyfunc:  kf,
		now:      time.Now,
	}
}

// Close stops the background key refresh.
func (v *Verifier) Close() {
	if v.close != nil {
		v.close()
	}
}

// Verify implements gateway.CredentialVerifier.
func (v *Verifier) Verify(ctx context.Context, credential gateway.Credential) (gateway.FederatedIdentity, error) {
	if err := ctx.Err(); err != nil {
		return gateway.FederatedIdentity{}, err
	}

	claims, err := v.Parse(credential.IDToken)
	if err != nil {
		return gateway.FederatedIdentity{}, gateway.NewProviderError(gateway.MethodGoogle, "verify", gateway.CodeIDTokenRejected, "").WithCause(err)
	}

	if credential.Nonce != "" && claims.Nonce != credential.Nonce {
		return gateway.FederatedIdentity{}, gateway.NewProviderError(gateway.MethodGoogle, "verify", gateway.CodeIDTokenRejected, "nonce mismatch")
	}
	if claims.Email == "" {
		return gateway.FederatedIdentity{}, gateway.NewProviderError(gateway.MethodGoogle, "verify", gateway.CodeIDTokenRejected, "token has no email")
	}

	return gateway.FederatedIdentity{
		ProviderID:    gateway.MethodGoogle,
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Picture:       claims.Picture,
	}, nil
}

// Parse validates the signature, issuer, audience and expiry of raw.
func (v *Verifier) Parse(raw string) (*IDTokenClaims, error) {
	claims := &IDTokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, v.keyfunc,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid id_token")
	}

	if !lo.Contains(issuers, claims.Issuer) {
		return nil, fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	return claims, nil
}
