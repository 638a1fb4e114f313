// Package router dispatches messages arriving at the background context to
// their handlers and guarantees exactly one reply per request.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	shopagent "github.com/goliatone/go-shopagent"
	"github.com/google/uuid"
)

// Reply delivers the response to the requesting context.
type Reply func(shopagent.Response)

// Handler serves one action. Errors are mapped onto the wire by the router.
type Handler func(ctx context.Context, req shopagent.Request) (shopagent.Response, error)

// CaptureHandler stores a PRODUCT_INFO_CAPTURED payload and returns its key.
type CaptureHandler func(ctx context.Context, info shopagent.ProductInfo) (string, error)

// Stage is a step of the request lifecycle.
type Stage string

const (
	StageReceived   Stage = "received"
	StageDispatched Stage = "dispatched"
	StageSucceeded  Stage = "succeeded"
	StageFailed     Stage = "failed"
)

// LifecycleEvent reports a request moving to Stage.
type LifecycleEvent struct {
	RequestID string
	Action    shopagent.Action
	Stage     Stage
	Err       error
	Elapsed   time.Duration
}

// LifecycleHook observes request lifecycle events.
type LifecycleHook func(ctx context.Context, event LifecycleEvent)

// Router maps actions to handlers.
type Router struct {
	mu                sync.RWMutex
	handlers          map[shopagent.Action]Handler
	capture           CaptureHandler
	minPasswordLength int
	hook              LifecycleHook
	inflight          sync.WaitGroup
	now               func() time.Time
	logger            shopagent.Logger
	loggerProvider    shopagent.LoggerProvider
}

// Option customizes the router.
type Option func(*Router)

// WithMinPasswordLength sets the signup password length check.
func WithMinPasswordLength(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.minPasswordLength = n
		}
	}
}

// WithLifecycleHook registers hook for every lifecycle event.
func WithLifecycleHook(hook LifecycleHook) Option {
	return func(r *Router) {
		r.hook = hook
	}
}

// WithCaptureHandler routes PRODUCT_INFO_CAPTURED messages to handler.
func WithCaptureHandler(handler CaptureHandler) Option {
	return func(r *Router) {
		r.capture = handler
	}
}

// WithLogger overrides the router logger.
func WithLogger(logger shopagent.Logger) Option {
	return func(r *Router) {
		r.loggerProvider, r.logger = shopagent.ResolveLogger("shopagent.router", r.loggerProvider, logger)
	}
}

// WithLoggerProvider resolves the router logger from provider.
func WithLoggerProvider(provider shopagent.LoggerProvider) Option {
	return func(r *Router) {
		r.loggerProvider, r.logger = shopagent.ResolveLogger("shopagent.router", provider, r.logger)
	}
}

// New creates an empty router.
func New(opts ...Option) *Router {
	loggerProvider, logger := shopagent.ResolveLogger("shopagent.router", nil, nil)
	r := &Router{
		handlers:          map[shopagent.Action]Handler{},
		minPasswordLength: shopagent.DefaultMinPasswordLength,
		now:               time.Now,
		logger:            logger,
		loggerProvider:    loggerProvider,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Handle registers handler for action, replacing any previous one.
func (r *Router) Handle(action shopagent.Action, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[action] = handler
}

// Actions lists the registered actions.
func (r *Router) Actions() []shopagent.Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	actions := make([]shopagent.Action, 0, len(r.handlers))
	for action := range r.handlers {
		actions = append(actions, action)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}

// Dispatch routes req and replies exactly once. It returns true when the
// reply will arrive asynchronously, false when it was already sent.
func (r *Router) Dispatch(ctx context.Context, req shopagent.Request, reply Reply) bool {
	id := uuid.NewString()
	started := r.now()
	reply = guard(reply, func() {
		r.logger.Warn("duplicate reply dropped", "request_id", id, "action", string(req.Action))
	})

	r.emit(ctx, LifecycleEvent{RequestID: id, Action: req.Action, Stage: StageReceived})

	r.mu.RLock()
	handler, ok := r.handlers[req.Action]
	r.mu.RUnlock()

	if !ok {
		err := shopagent.ValidationError(fmt.Sprintf("Unknown action: %s", req.Action), map[string]any{
			"action": string(req.Action),
		})
		r.finish(ctx, id, req.Action, started, err)
		reply(shopagent.ErrorResponse(err))
		return false
	}

	if err := r.validate(req); err != nil {
		r.finish(ctx, id, req.Action, started, err)
		reply(shopagent.ErrorResponse(err))
		return false
	}

	r.emit(ctx, LifecycleEvent{RequestID: id, Action: req.Action, Stage: StageDispatched})

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		defer func() {
			if rec := recover(); rec != nil {
				err := shopagent.NewError(shopagent.KindUnknown, "", fmt.Errorf("handler panic: %v", rec), map[string]any{
					"action": string(req.Action),
				})
				r.logger.Error("handler panic", "request_id", id, "action", string(req.Action), "panic", rec)
				r.finish(ctx, id, req.Action, started, err)
				reply(shopagent.ErrorResponse(err))
			}
		}()

		resp, err := handler(ctx, req)
		r.finish(ctx, id, req.Action, started, err)
		if err != nil {
			reply(shopagent.ErrorResponse(err))
			return
		}
		if resp.Status == "" {
			resp.Status = shopagent.StatusSuccess
		}
		reply(resp)
	}()

	return true
}

// DispatchJSON decodes raw and routes it. Typed PRODUCT_INFO_CAPTURED
// messages reply with a CaptureAck, action requests with a Response.
func (r *Router) DispatchJSON(ctx context.Context, raw []byte, reply func([]byte)) bool {
	once := jsonGuard(reply)

	env, err := shopagent.DecodeEnvelope(raw)
	if err != nil {
		r.logger.Warn("malformed message", "error", err)
		once(shopagent.ErrorResponse(err))
		return false
	}

	if env.Product != nil {
		return r.dispatchCapture(ctx, env.Product.Payload, once)
	}

	return r.Dispatch(ctx, *env.Request, func(resp shopagent.Response) {
		once(resp)
	})
}

// Wait blocks until every in-flight handler has replied.
func (r *Router) Wait() {
	r.inflight.Wait()
}

func (r *Router) dispatchCapture(ctx context.Context, info shopagent.ProductInfo, reply func(any)) bool {
	if r.capture == nil {
		reply(shopagent.CaptureAck{Success: false, Error: "product capture is not configured"})
		return false
	}

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("capture handler panic", "panic", rec)
				reply(shopagent.CaptureAck{Success: false, Error: shopagent.MessageUnknown})
			}
		}()

		key, err := r.capture(ctx, info)
		if err != nil {
			r.logger.Error("product capture failed", "error", err, "url", info.URL)
			reply(shopagent.CaptureAck{Success: false, Error: shopagent.UserMessage(err)})
			return
		}
		r.logger.Debug("product captured", "key", key, "url", info.URL)
		reply(shopagent.CaptureAck{Success: true, StoredKey: key})
	}()
	return true
}

func (r *Router) finish(ctx context.Context, id string, action shopagent.Action, started time.Time, err error) {
	elapsed := r.now().Sub(started)
	if err != nil {
		kind := shopagent.KindOf(err)
		if kind == shopagent.KindUserCancelled {
			r.logger.Info("request cancelled", "request_id", id, "action", string(action))
		} else {
			r.logger.Error("request failed", "request_id", id, "action", string(action), "kind", string(kind), "error", err)
		}
		r.emit(ctx, LifecycleEvent{RequestID: id, Action: action, Stage: StageFailed, Err: err, Elapsed: elapsed})
		return
	}
	r.logger.Debug("request succeeded", "request_id", id, "action", string(action), "elapsed", elapsed)
	r.emit(ctx, LifecycleEvent{RequestID: id, Action: action, Stage: StageSucceeded, Elapsed: elapsed})
}

func (r *Router) emit(ctx context.Context, event LifecycleEvent) {
	if r.hook == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("lifecycle hook panic", "panic", rec)
		}
	}()
	r.hook(ctx, event)
}

func guard(reply Reply, onDuplicate func()) Reply {
	var sent atomic.Bool
	return func(resp shopagent.Response) {
		if !sent.CompareAndSwap(false, true) {
			onDuplicate()
			return
		}
		if reply != nil {
			reply(resp)
		}
	}
}

func jsonGuard(reply func([]byte)) func(any) {
	var sent atomic.Bool
	return func(v any) {
		if !sent.CompareAndSwap(false, true) || reply == nil {
			return
		}
		payload, err := json.Marshal(v)
		if err != nil {
			payload = []byte(`{"status":"error","error":"` + shopagent.MessageUnknown + `"}`)
		}
		reply(payload)
	}
}
