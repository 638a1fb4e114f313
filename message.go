package shopagent

import (
	"encoding/json"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Action names a request the background context understands.
type Action string

const (
	ActionSignInWithProvider      Action = "signInWithProvider"
	ActionSignInWithCredential    Action = "signInWithCredential"
	ActionLoginWithGoogle         Action = "loginWithGoogle"
	ActionLoginWithEmail          Action = "loginWithEmail"
	ActionSignupWithEmail         Action = "signupWithEmail"
	ActionLogout                  Action = "logout"
	ActionResendVerificationEmail Action = "resendVerificationEmail"
	ActionFetchProductInsights    Action = "fetchProductInsights"
	ActionTogglePanel             Action = "togglePanel"
)

// MessageType names typed (non action) messages.
type MessageType string

const (
	MessageProductInfoCaptured MessageType = "PRODUCT_INFO_CAPTURED"
)

// Request is a message from a content context to the background context.
type Request struct {
	Action   Action `json:"action"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	URL      string `json:"url,omitempty"`
	IDToken  string `json:"idToken,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
}

// Status is the top level outcome of a Response.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Response is the single reply to a Request.
type Response struct {
	Status  Status `json:"status"`
	UserID  string `json:"userId,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Insight string `json:"insight,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// Success builds a success response.
func Success(userID, message string) Response {
	return Response{Status: StatusSuccess, UserID: userID, Message: message}
}

// ErrorResponse maps err onto the wire. Cancellation is not an error.
func ErrorResponse(err error) Response {
	kind := KindOf(err)
	if kind == KindUserCancelled {
		return Response{
			Status: StatusCancelled,
			Error:  UserMessage(err),
			Kind:   string(kind),
		}
	}
	return Response{
		Status: StatusError,
		Error:  UserMessage(err),
		Kind:   string(kind),
	}
}

// Err turns a non success response back into a rich error.
func (r Response) Err() error {
	switch r.Status {
	case StatusSuccess:
		return nil
	case StatusCancelled:
		return NewError(KindUserCancelled, r.Error, nil, nil)
	}
	kind := ErrorKind(r.Kind)
	if _, ok := baseByKind[kind]; !ok {
		kind = KindUnknown
	}
	return NewError(kind, r.Error, nil, nil)
}

// ProductInfo is the payload of PRODUCT_INFO_CAPTURED.
type ProductInfo struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ProductInfoMessage is sent by the content context after page load.
type ProductInfoMessage struct {
	Type    MessageType `json:"type"`
	Payload ProductInfo `json:"payload"`
}

// NewProductInfoMessage builds a PRODUCT_INFO_CAPTURED message.
func NewProductInfoMessage(name, url string) ProductInfoMessage {
	return ProductInfoMessage{
		Type:    MessageProductInfoCaptured,
		Payload: ProductInfo{Name: name, URL: url},
	}
}

// CaptureAck acknowledges a PRODUCT_INFO_CAPTURED message.
type CaptureAck struct {
	Success   bool   `json:"success"`
	StoredKey string `json:"storedKey,omitempty"`
	Error     string `json:"error,omitempty"`
}

// TogglePanelMessage is sent by the background context to a tab.
type TogglePanelMessage struct {
	Action Action `json:"action"`
}

// TogglePanelAck is the opaque acknowledgement from the content context.
type TogglePanelAck struct {
	Status string `json:"status"`
	Open   bool   `json:"open"`
}

// PanelToggledStatus is the status string of TogglePanelAck.
const PanelToggledStatus = "panel toggled"

// Envelope is a decoded inbound message, either an action request or a
// typed message.
type Envelope struct {
	Request *Request
	Product *ProductInfoMessage
	Raw     json.RawMessage
}

type envelopeProbe struct {
	Action Action      `json:"action"`
	Type   MessageType `json:"type"`
}

// DecodeEnvelope classifies raw JSON coming across the channel.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var probe envelopeProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Envelope{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "malformed message").
			WithTextCode(TextCodeValidation)
	}

	env := Envelope{Raw: append(json.RawMessage(nil), raw...)}

	switch {
	case probe.Type != "":
		if probe.Type != MessageProductInfoCaptured {
			return env, ValidationError("unknown message type: "+string(probe.Type), map[string]any{
				"type": string(probe.Type),
			})
		}
		var msg ProductInfoMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return env, goerrors.Wrap(err, goerrors.CategoryBadInput, "malformed product info").
				WithTextCode(TextCodeValidation)
		}
		msg.Payload.Name = strings.TrimSpace(msg.Payload.Name)
		env.Product = &msg
	default:
		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			return env, goerrors.Wrap(err, goerrors.CategoryBadInput, "malformed request").
				WithTextCode(TextCodeValidation)
		}
		env.Request = &req
	}

	return env, nil
}
