package gateway

import (
	"errors"
	"fmt"
)

// Provider error codes.
const (
	CodeUserNotFound                 = "auth/user-not-found"
	CodeInvalidEmail                 = "auth/invalid-email"
	CodeWrongPassword                = "auth/wrong-password"
	CodeInvalidCredential            = "auth/invalid-credential"
	CodeTooManyRequests              = "auth/too-many-requests"
	CodeEmailAlreadyInUse            = "auth/email-already-in-use"
	CodeWeakPassword                 = "auth/weak-password"
	CodeAccountExistsWithCredential  = "auth/account-exists-with-different-credential"
	CodePopupClosedByUser            = "auth/popup-closed-by-user"
	CodeCancelledPopupRequest        = "auth/cancelled-popup-request"
	CodeNetworkRequestFailed         = "auth/network-request-failed"
	CodeRequiresRecentLogin          = "auth/requires-recent-login"
	CodeNoCurrentUser                = "auth/no-current-user"
	CodeAlreadyVerified              = "auth/already-verified"
	CodeInvalidVerificationToken     = "auth/invalid-action-code"
	CodeOperationNotAllowed          = "auth/operation-not-allowed"
	CodeUserDisabled                 = "auth/user-disabled"
	CodeInternalError                = "auth/internal-error"
	CodeIDTokenRejected              = "auth/invalid-id-token"
	CodeFederatedProviderUnavailable = "auth/provider-unavailable"
)

// ErrFlowCancelled is returned by interactive flows the user dismissed.
var ErrFlowCancelled = errors.New("interactive flow cancelled by the user")

// ProviderError captures a normalized identity provider failure.
type ProviderError struct {
	Provider    string
	Operation   string
	Code        string
	Description string
	Email       string
	Err         error
}

// NewProviderError builds a ProviderError for code.
func NewProviderError(provider, operation, code, description string) *ProviderError {
	return &ProviderError{
		Provider:    provider,
		Operation:   operation,
		Code:        code,
		Description: description,
	}
}

// WithEmail records the email the failure relates to.
func (e *ProviderError) WithEmail(email string) *ProviderError {
	e.Email = email
	return e
}

// WithCause records the underlying error.
func (e *ProviderError) WithCause(err error) *ProviderError {
	e.Err = err
	return e
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}

	scope := "provider"
	if e.Provider != "" && e.Operation != "" {
		scope = fmt.Sprintf("%s %s", e.Provider, e.Operation)
	} else if e.Provider != "" {
		scope = e.Provider
	} else if e.Operation != "" {
		scope = e.Operation
	}

	if e.Description != "" {
		return fmt.Sprintf("%s failed: %s (%s)", scope, e.Description, e.Code)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s failed: %s", scope, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}
	return fmt.Sprintf("%s failed", scope)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Metadata returns the error details for logs and rich errors.
func (e *ProviderError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{}
	if e.Provider != "" {
		meta["provider"] = e.Provider
	}
	if e.Operation != "" {
		meta["operation"] = e.Operation
	}
	if e.Code != "" {
		meta["provider_code"] = e.Code
	}
	if e.Description != "" {
		meta["description"] = e.Description
	}
	return meta
}

// ProviderCode returns the provider code carried by err, if any.
func ProviderCode(err error) string {
	var perr *ProviderError
	if errors.As(err, &perr) && perr != nil {
		return perr.Code
	}
	return ""
}
