// Package gateway wraps an identity provider behind the operations the
// background context exposes: federated and password sign-in, sign-up,
// sign-out and verification resend. Provider failures never leave this
// package raw; they are normalized into the shopagent error taxonomy.
package gateway

import (
	"context"

	shopagent "github.com/goliatone/go-shopagent"
)

// Sign-in methods reported by FetchSignInMethods.
const (
	MethodPassword = "password"
	MethodGoogle   = "google.com"
)

// Credential is the result of an interactive federated flow.
type Credential struct {
	ProviderID  string
	IDToken     string
	AccessToken string
	Nonce       string
}

// AuthStateListener is called with the current identity on every provider
// transition, nil when signed out.
type AuthStateListener func(identity *shopagent.Identity)

// IdentityProvider is the external identity service the gateway drives.
// Implementations report failures as *ProviderError with a Code* value.
type IdentityProvider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*shopagent.Identity, error)
	SignInWithCredential(ctx context.Context, credential Credential) (*shopagent.Identity, error)
	CreateUser(ctx context.Context, email, password string) (*shopagent.Identity, error)
	UpdateProfile(ctx context.Context, displayName string) error
	SendEmailVerification(ctx context.Context) error
	FetchSignInMethods(ctx context.Context, email string) ([]string, error)
	SignOut(ctx context.Context) error
	CurrentUser(ctx context.Context) (*shopagent.Identity, error)
	OnAuthStateChanged(listener AuthStateListener) (unsubscribe func())
}

// InteractiveFlow runs a user facing federated sign-in, e.g. a browser
// window. It returns ErrFlowCancelled when the user dismisses it.
type InteractiveFlow interface {
	Authenticate(ctx context.Context) (Credential, error)
}

// InteractiveFlowFunc adapts a function to InteractiveFlow.
type InteractiveFlowFunc func(ctx context.Context) (Credential, error)

// Authenticate implements InteractiveFlow.
func (f InteractiveFlowFunc) Authenticate(ctx context.Context) (Credential, error) {
	return f(ctx)
}

// FederatedIdentity is the verified subject of a federated credential.
type FederatedIdentity struct {
	ProviderID    string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// CredentialVerifier checks a federated credential and returns its subject.
type CredentialVerifier interface {
	Verify(ctx context.Context, credential Credential) (FederatedIdentity, error)
}

// CredentialVerifierFunc adapts a function to CredentialVerifier.
type CredentialVerifierFunc func(ctx context.Context, credential Credential) (FederatedIdentity, error)

// Verify implements CredentialVerifier.
func (f CredentialVerifierFunc) Verify(ctx context.Context, credential Credential) (FederatedIdentity, error) {
	return f(ctx, credential)
}
