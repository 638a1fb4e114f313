// Package insights answers product insight lookups for signed in users.
package insights

import (
	"context"
	"fmt"
	"strings"
	"time"

	shopagent "github.com/goliatone/go-shopagent"
	"github.com/goliatone/go-shopagent/session"
)

// DefaultMockDelay mimics the latency of a remote insight backend.
const DefaultMockDelay = 500 * time.Millisecond

const (
	MessageLoginRequired        = "Please log in to view product insights."
	MessageVerificationRequired = "Please verify your email to view product insights."
	MessageURLRequired          = "A product URL is required."
)

// Service fetches the insight text for a product URL.
type Service interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, url string) (string, error)

func (f ServiceFunc) Fetch(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}

// MockService returns a canned insight after Delay.
type MockService struct {
	Delay time.Duration
}

// NewMockService creates a mock service with delay.
func NewMockService(delay time.Duration) *MockService {
	return &MockService{Delay: delay}
}

func (m *MockService) Fetch(ctx context.Context, url string) (string, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return "", shopagent.ValidationError(MessageURLRequired, map[string]any{"url": "required"})
	}

	if m.Delay > 0 {
		timer := time.NewTimer(m.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return fmt.Sprintf("This is a mock insight for %s", url), nil
}

// RequireActiveSession only lets lookups through for a signed in user with
// a verified email.
func RequireActiveSession(reader session.Reader, next Service) Service {
	return ServiceFunc(func(ctx context.Context, url string) (string, error) {
		state, err := reader.Read(ctx)
		if err != nil {
			return "", err
		}
		if !state.IsLoggedIn() {
			return "", shopagent.ValidationError(MessageLoginRequired, map[string]any{"session": "logged_out"})
		}
		if !state.IsVerified() {
			return "", shopagent.ValidationError(MessageVerificationRequired, map[string]any{"session": "unverified"})
		}
		return next.Fetch(ctx, url)
	})
}
