package shopagent

import (
	"context"
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

// ErrorKind is the normalized failure class surfaced to every context.
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindValidation         ErrorKind = "validation"
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindAccountExists      ErrorKind = "account_exists"
	KindWeakPassword       ErrorKind = "weak_password"
	KindRateLimited        ErrorKind = "rate_limited"
	KindUserCancelled      ErrorKind = "user_cancelled"
	KindNetwork            ErrorKind = "network_error"
	KindTimedOut           ErrorKind = "timed_out"
	KindFlowInProgress     ErrorKind = "flow_in_progress"
	KindChannel            ErrorKind = "channel_error"
	KindUnknown            ErrorKind = "unknown"
)

const (
	TextCodeValidation         = "SHOPAGENT_VALIDATION"
	TextCodeInvalidCredentials = "SHOPAGENT_INVALID_CREDENTIALS"
	TextCodeAccountExists      = "SHOPAGENT_ACCOUNT_EXISTS"
	TextCodeWeakPassword       = "SHOPAGENT_WEAK_PASSWORD"
	TextCodeRateLimited        = "SHOPAGENT_RATE_LIMITED"
	TextCodeUserCancelled      = "SHOPAGENT_USER_CANCELLED"
	TextCodeNetwork            = "SHOPAGENT_NETWORK_ERROR"
	TextCodeTimedOut           = "SHOPAGENT_TIMED_OUT"
	TextCodeFlowInProgress     = "SHOPAGENT_FLOW_IN_PROGRESS"
	TextCodeChannel            = "SHOPAGENT_CHANNEL_ERROR"
	TextCodeUnknown            = "SHOPAGENT_UNKNOWN"
)

// User facing messages.
const (
	MessageUserNotFound        = "Email address not found or is invalid."
	MessageWrongPassword       = "Incorrect password. Please try again."
	MessageLoginRateLimited    = "Access temporarily disabled due to too many failed login attempts. Please try again later."
	MessageAccountExists       = "This email address is already in use."
	MessageAccountHasPassword  = "This email address is already registered. Please log in."
	MessageAccountHasGoogle    = "This email is linked to a Google account. Please sign in with Google."
	MessageWeakPassword        = "The password is too weak. Please choose a stronger password (at least 6 characters)."
	MessageInvalidEmail        = "Please enter a valid email address."
	MessageUserCancelled       = "Login cancelled by user."
	MessageNetwork             = "Network error during login. Please check connection."
	MessageTimedOut            = "The identity provider did not answer in time. Please try again."
	MessageFlowInProgress      = "A sign-in window is already open."
	MessageNoCurrentUser       = "No user logged in to resend verification for."
	MessageAlreadyVerified     = "Your email is already verified."
	MessageResendRateLimited   = "Verification email resent too recently. Please wait before trying again."
	MessageChannel             = "Could not reach the extension background. Please try again."
	MessageUnknown             = "An unknown error occurred."
	MessageSignupSucceeded     = "Account created, verification email sent."
	MessageVerificationResent  = "Verification email resent."
	MessageLoginFieldsRequired = "Email and password are required for login."
	MessageSignupFieldsMissing = "Email and password are required for signup."
)

// ErrValidation is returned when a request is rejected before dispatch.
var ErrValidation = goerrors.New("request validation failed", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidCredentials is returned for unknown accounts and wrong passwords.
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountExists is returned when an email is already registered.
var ErrAccountExists = goerrors.New("account already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeAccountExists).
	WithCode(goerrors.CodeConflict)

// ErrWeakPassword is returned when the provider rejects a password.
var ErrWeakPassword = goerrors.New("password too weak", goerrors.CategoryValidation).
	WithTextCode(TextCodeWeakPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrRateLimited is returned when the provider throttles the caller.
var ErrRateLimited = goerrors.New("too many requests", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeRateLimited).
	WithCode(429)

// ErrUserCancelled is returned when the user dismisses an interactive flow.
var ErrUserCancelled = goerrors.New("cancelled by user", goerrors.CategoryOperation).
	WithTextCode(TextCodeUserCancelled).
	WithCode(499)

// ErrNetwork is returned when the provider could not be reached.
var ErrNetwork = goerrors.New("network error", goerrors.CategoryOperation).
	WithTextCode(TextCodeNetwork).
	WithCode(503)

// ErrTimedOut is returned when a provider call exceeds its deadline.
var ErrTimedOut = goerrors.New("identity provider timed out", goerrors.CategoryOperation).
	WithTextCode(TextCodeTimedOut).
	WithCode(504)

// ErrFlowInProgress is returned when an interactive flow is already running.
var ErrFlowInProgress = goerrors.New("interactive sign-in already in progress", goerrors.CategoryConflict).
	WithTextCode(TextCodeFlowInProgress).
	WithCode(goerrors.CodeConflict)

// ErrChannel is returned when the messaging channel drops a request.
var ErrChannel = goerrors.New("messaging channel unavailable", goerrors.CategoryOperation).
	WithTextCode(TextCodeChannel).
	WithCode(503)

// ErrUnknown wraps anything the taxonomy does not name.
var ErrUnknown = goerrors.New("unknown error", goerrors.CategoryInternal).
	WithTextCode(TextCodeUnknown).
	WithCode(goerrors.CodeInternal)

var kindByTextCode = map[string]ErrorKind{
	TextCodeValidation:         KindValidation,
	TextCodeInvalidCredentials: KindInvalidCredentials,
	TextCodeAccountExists:      KindAccountExists,
	TextCodeWeakPassword:       KindWeakPassword,
	TextCodeRateLimited:        KindRateLimited,
	TextCodeUserCancelled:      KindUserCancelled,
	TextCodeNetwork:            KindNetwork,
	TextCodeTimedOut:           KindTimedOut,
	TextCodeFlowInProgress:     KindFlowInProgress,
	TextCodeChannel:            KindChannel,
	TextCodeUnknown:            KindUnknown,
}

var baseByKind = map[ErrorKind]*goerrors.Error{
	KindValidation:         ErrValidation,
	KindInvalidCredentials: ErrInvalidCredentials,
	KindAccountExists:      ErrAccountExists,
	KindWeakPassword:       ErrWeakPassword,
	KindRateLimited:        ErrRateLimited,
	KindUserCancelled:      ErrUserCancelled,
	KindNetwork:            ErrNetwork,
	KindTimedOut:           ErrTimedOut,
	KindFlowInProgress:     ErrFlowInProgress,
	KindChannel:            ErrChannel,
	KindUnknown:            ErrUnknown,
}

// NewError builds a rich error of the given kind carrying a user facing
// message. source is kept as the error cause, metadata is merged.
func NewError(kind ErrorKind, message string, source error, metadata map[string]any) *goerrors.Error {
	base, ok := baseByKind[kind]
	if !ok {
		base = ErrUnknown
	}

	if message == "" {
		message = defaultMessage(kind)
	}

	rich := goerrors.New(message, base.Category).
		WithTextCode(base.TextCode).
		WithCode(base.Code)

	if source != nil {
		rich.Source = source
	}

	meta := map[string]any{"kind": string(kindOrUnknown(kind))}
	for k, v := range metadata {
		meta[k] = v
	}
	rich.WithMetadata(meta)

	return rich
}

// ValidationError is shorthand for a NewError of KindValidation.
func ValidationError(message string, fields map[string]any) *goerrors.Error {
	return NewError(KindValidation, message, nil, fields)
}

// KindOf returns the taxonomy class of err, KindNone for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil {
		if kind, ok := kindByTextCode[rich.TextCode]; ok {
			return kind
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimedOut
	case errors.Is(err, context.Canceled):
		return KindUserCancelled
	}

	return KindUnknown
}

// UserMessage returns the message an inline error should show for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil {
		if _, ok := kindByTextCode[rich.TextCode]; ok && rich.Message != "" {
			return rich.Message
		}
	}

	return defaultMessage(KindOf(err))
}

// IsRetryable reports whether err is a transient failure the user may retry.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindChannel, KindNetwork, KindTimedOut:
		return true
	}
	return false
}

func kindOrUnknown(kind ErrorKind) ErrorKind {
	if _, ok := baseByKind[kind]; ok {
		return kind
	}
	return KindUnknown
}

func defaultMessage(kind ErrorKind) string {
	switch kind {
	case KindInvalidCredentials:
		return MessageWrongPassword
	case KindAccountExists:
		return MessageAccountExists
	case KindWeakPassword:
		return MessageWeakPassword
	case KindRateLimited:
		return MessageLoginRateLimited
	case KindUserCancelled:
		return MessageUserCancelled
	case KindNetwork:
		return MessageNetwork
	case KindTimedOut:
		return MessageTimedOut
	case KindFlowInProgress:
		return MessageFlowInProgress
	case KindChannel:
		return MessageChannel
	case KindValidation:
		return "Invalid request."
	}
	return MessageUnknown
}
