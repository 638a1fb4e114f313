package chromeext

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	shopagent "github.com/goliatone/go-shopagent"
	"github.com/goliatone/go-shopagent/gateway"
)

// Remote is the background service reached from the extension, usually an
// httpapi client.
type Remote interface {
	SendRaw(ctx context.Context, msg any) ([]byte, error)
}

// Relay is the channel.Handler of an extension background worker that
// delegates to a remote service. Federated sign-in needs the browser, so
// the flow runs locally and only its credential is forwarded.
type Relay struct {
	remote     Remote
	flow       gateway.InteractiveFlow
	timeout    time.Duration
	flowActive atomic.Bool
	logger     shopagent.Logger
}

// RelayOption customizes the relay.
type RelayOption func(*Relay)

// WithFlow runs signInWithProvider locally through flow.
func WithFlow(flow gateway.InteractiveFlow) RelayOption {
	return func(r *Relay) {
		r.flow = flow
	}
}

// WithFlowTimeout bounds the local flow.
func WithFlowTimeout(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRelayLogger overrides the relay logger.
func WithRelayLogger(logger shopagent.Logger) RelayOption {
	return func(r *Relay) {
		_, r.logger = shopagent.ResolveLogger("shopagent.chromeext", nil, logger)
	}
}

// NewRelay creates a relay forwarding to remote.
func NewRelay(remote Remote, opts ...RelayOption) *Relay {
	_, logger := shopagent.ResolveLogger("shopagent.chromeext", nil, nil)
	r := &Relay{
		remote:  remote,
		timeout: shopagent.DefaultInteractiveTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Handle implements channel.Handler. It replies before returning and, like
// the router, reports false when the reply was sent synchronously for a
// malformed message.
func (r *Relay) Handle(ctx context.Context, raw []byte, reply func([]byte)) bool {
	env, err := shopagent.DecodeEnvelope(raw)
	if err != nil {
		r.logger.Warn("relay dropped malformed message", "error", err)
		reply(encodeResponse(shopagent.ErrorResponse(err)))
		return false
	}

	if r.flow != nil && env.Request != nil && isFederated(env.Request.Action) {
		reply(encodeResponse(r.signIn(ctx)))
		return true
	}

	payload, err := r.remote.SendRaw(ctx, env.Raw)
	if err != nil {
		r.logger.Warn("relay failed", "error", err)
		reply(encodeResponse(shopagent.ErrorResponse(err)))
		return true
	}
	reply(payload)
	return true
}

func (r *Relay) signIn(ctx context.Context) shopagent.Response {
	if !r.flowActive.CompareAndSwap(false, true) {
		return shopagent.ErrorResponse(shopagent.NewError(shopagent.KindFlowInProgress, "", nil, map[string]any{
			"operation": gateway.OpSignInWithProvider,
		}))
	}
	defer r.flowActive.Store(false)

	flowCtx, cancel := context.WithTimeout(ctx, r.timeout)
	credential, err := r.flow.Authenticate(flowCtx)
	cancel()
	if err != nil {
		r.logger.Info("local sign-in flow failed", "error", err)
		return shopagent.ErrorResponse(gateway.NormalizeFlowError(err))
	}

	payload, err := r.remote.SendRaw(ctx, shopagent.Request{
		Action:  shopagent.ActionSignInWithCredential,
		IDToken: strings.TrimSpace(credential.IDToken),
		Nonce:   credential.Nonce,
	})
	if err != nil {
		return shopagent.ErrorResponse(err)
	}

	var resp shopagent.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return shopagent.ErrorResponse(shopagent.NewError(shopagent.KindChannel, "", err, nil))
	}
	return resp
}

func isFederated(action shopagent.Action) bool {
	return action == shopagent.ActionSignInWithProvider || action == shopagent.ActionLoginWithGoogle
}

func encodeResponse(resp shopagent.Response) []byte {
	raw, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"status":"error","kind":"unknown"}`)
	}
	return raw
}
