package gateway

import (
	"context"
	"errors"
	"net"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	shopagent "github.com/goliatone/go-shopagent"
)

// Operation names used in logs, metadata and normalization.
const (
	OpSignInWithProvider   = "sign_in_with_provider"
	OpSignInWithCredential = "sign_in_with_credential"
	OpSignInWithPassword   = "sign_in_with_password"
	OpSignUp               = "sign_up"
	OpSignOut              = "sign_out"
	OpResendVerification   = "resend_verification"
)

// MessageCredentialRequired rejects a credential sign-in without a token.
const MessageCredentialRequired = "A sign-in credential is required."

// MessageAccountUsesPassword is shown when a federated sign-in collides
// with a password account.
const MessageAccountUsesPassword = "This email is registered with a password. Please log in with email and password."

// ConflictMethod identifies which sign-in method owns a colliding email.
type ConflictMethod string

const (
	ConflictPassword  ConflictMethod = "password"
	ConflictFederated ConflictMethod = "federated"
	ConflictUnknown   ConflictMethod = "unknown"
)

type normalizeInput struct {
	operation   string
	err         error
	interactive bool
}

// normalize maps any failure into the shopagent taxonomy. Errors that
// already carry a taxonomy text code pass through unchanged.
func normalize(in normalizeInput) error {
	err := in.err
	if err == nil {
		return nil
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil && strings.HasPrefix(rich.TextCode, "SHOPAGENT_") {
		return err
	}

	meta := map[string]any{"operation": in.operation}

	var perr *ProviderError
	if errors.As(err, &perr) && perr != nil {
		for k, v := range perr.Metadata() {
			meta[k] = v
		}
		meta["operation"] = in.operation
		kind, message := classifyCode(in.operation, perr.Code)
		if kind != shopagent.KindNone {
			return shopagent.NewError(kind, message, err, meta)
		}
	}

	switch {
	case errors.Is(err, ErrFlowCancelled):
		return shopagent.NewError(shopagent.KindUserCancelled, shopagent.MessageUserCancelled, err, meta)
	case errors.Is(err, context.DeadlineExceeded):
		return shopagent.NewError(shopagent.KindTimedOut, shopagent.MessageTimedOut, err, meta)
	case errors.Is(err, context.Canceled):
		if in.interactive {
			return shopagent.NewError(shopagent.KindUserCancelled, shopagent.MessageUserCancelled, err, meta)
		}
		return shopagent.NewError(shopagent.KindUnknown, "The request was cancelled.", err, meta)
	case isCancelledText(err.Error()):
		return shopagent.NewError(shopagent.KindUserCancelled, shopagent.MessageUserCancelled, err, meta)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return shopagent.NewError(shopagent.KindNetwork, shopagent.MessageNetwork, err, meta)
	}

	if perr != nil {
		return shopagent.NewError(shopagent.KindUnknown, unknownMessage(perr), err, meta)
	}
	return shopagent.NewError(shopagent.KindUnknown, shopagent.MessageUnknown, err, meta)
}

// NormalizeFlowError maps the failure of an interactive flow run outside a
// Gateway into the shopagent taxonomy.
func NormalizeFlowError(err error) error {
	return normalize(normalizeInput{
		operation:   OpSignInWithProvider,
		err:         err,
		interactive: true,
	})
}

func classifyCode(operation, code string) (shopagent.ErrorKind, string) {
	switch code {
	case CodeUserNotFound:
		return shopagent.KindInvalidCredentials, shopagent.MessageUserNotFound
	case CodeInvalidEmail:
		if operation == OpSignUp {
			return shopagent.KindValidation, shopagent.MessageInvalidEmail
		}
		return shopagent.KindInvalidCredentials, shopagent.MessageUserNotFound
	case CodeWrongPassword, CodeInvalidCredential:
		return shopagent.KindInvalidCredentials, shopagent.MessageWrongPassword
	case CodeTooManyRequests:
		if operation == OpResendVerification {
			return shopagent.KindRateLimited, shopagent.MessageResendRateLimited
		}
		return shopagent.KindRateLimited, shopagent.MessageLoginRateLimited
	case CodeEmailAlreadyInUse, CodeAccountExistsWithCredential:
		return shopagent.KindAccountExists, shopagent.MessageAccountExists
	case CodeWeakPassword:
		return shopagent.KindWeakPassword, shopagent.MessageWeakPassword
	case CodePopupClosedByUser, CodeCancelledPopupRequest:
		return shopagent.KindUserCancelled, shopagent.MessageUserCancelled
	case CodeNetworkRequestFailed, CodeFederatedProviderUnavailable:
		return shopagent.KindNetwork, shopagent.MessageNetwork
	case CodeNoCurrentUser:
		return shopagent.KindValidation, shopagent.MessageNoCurrentUser
	case CodeAlreadyVerified:
		return shopagent.KindValidation, shopagent.MessageAlreadyVerified
	}
	return shopagent.KindNone, ""
}

func unknownMessage(perr *ProviderError) string {
	if perr.Description != "" {
		return perr.Description
	}
	return shopagent.MessageUnknown
}

func isCancelledText(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "closed by the user") || strings.Contains(msg, "cancelled by the user")
}

// conflictMessage picks the collision message from the colliding account's
// sign-in methods. A federated method wins over password.
func conflictMessage(operation string, methods []string) (ConflictMethod, string) {
	switch {
	case containsMethod(methods, MethodGoogle):
		return ConflictFederated, shopagent.MessageAccountHasGoogle
	case containsMethod(methods, MethodPassword):
		if operation == OpSignInWithProvider || operation == OpSignInWithCredential {
			return ConflictPassword, MessageAccountUsesPassword
		}
		return ConflictPassword, shopagent.MessageAccountHasPassword
	}
	return ConflictUnknown, shopagent.MessageAccountExists
}
