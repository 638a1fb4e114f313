package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	shopagent "github.com/goliatone/go-shopagent"
	"github.com/redis/go-redis/v9"
)

// RedisBackend stores the record as JSON and publishes every save on a
// changes channel, so contexts in other processes can watch it.
type RedisBackend struct {
	client    *redis.Client
	prefix    string
	namespace string
	logger    shopagent.Logger
}

// RedisOption customizes the redis backend.
type RedisOption func(*RedisBackend)

// WithRedisLogger overrides the backend logger.
func WithRedisLogger(logger shopagent.Logger) RedisOption {
	return func(r *RedisBackend) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRedisBackend connects using a redis:// URL.
func NewRedisBackend(redisURL, namespace string, opts ...RedisOption) (*RedisBackend, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisBackendWithClient(client, namespace, opts...), nil
}

// NewRedisBackendWithClient creates a backend from an existing client.
func NewRedisBackendWithClient(client *redis.Client, namespace string, opts ...RedisOption) *RedisBackend {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	_, logger := shopagent.ResolveLogger("shopagent.session.redis", nil, nil)
	r := &RedisBackend{
		client:    client,
		prefix:    "shopagent:session:",
		namespace: namespace,
		logger:    logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *RedisBackend) key() string {
	return r.prefix + r.namespace
}

func (r *RedisBackend) channel() string {
	return r.key() + ":changes"
}

// Load implements Backend.
func (r *RedisBackend) Load(ctx context.Context) (shopagent.SessionState, bool, error) {
	data, err := r.client.Get(ctx, r.key()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return shopagent.SessionState{}, false, nil
		}
		return shopagent.SessionState{}, false, fmt.Errorf("load session: %w", err)
	}

	var state shopagent.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return shopagent.SessionState{}, false, fmt.Errorf("unmarshal session: %w", err)
	}
	return state, true, nil
}

// Save implements Backend. The record and its change notification are
// written in one MULTI/EXEC transaction, so a record is never persisted
// without being published.
func (r *RedisBackend) Save(ctx context.Context, state shopagent.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(), data, 0)
		pipe.Publish(ctx, r.channel(), data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Watch implements Watcher. fn runs on a dedicated goroutine.
func (r *RedisBackend) Watch(ctx context.Context, fn func(shopagent.SessionState)) (func(), error) {
	sub := r.client.Subscribe(ctx, r.channel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe session changes: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	messages := sub.Channel()

	go func() {
		defer close(done)
		for {
			select {
			case <-watchCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var state shopagent.SessionState
				if err := json.Unmarshal([]byte(msg.Payload), &state); err != nil {
					r.logger.Warn("session change skipped", "channel", msg.Channel, "error", err)
					continue
				}
				fn(state)
			}
		}
	}()

	return func() {
		cancel()
		_ = sub.Close()
		<-done
	}, nil
}

// Close releases the client.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
