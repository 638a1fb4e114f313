package google

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/goliatone/go-shopagent/gateway"
	"github.com/pkg/browser"
)

const callbackPage = `<!doctype html><html><body><p>Sign-in complete. You can close this window.</p><script>window.close()</script></body></html>`

// LoopbackLauncher opens the system browser and waits for Google to post
// the response to a listener bound to the redirect URL.
type LoopbackLauncher struct {
	Open            func(url string) error
	ShutdownTimeout time.Duration
}

// NewLoopbackLauncher returns a launcher using the default browser.
func NewLoopbackLauncher() *LoopbackLauncher {
	return &LoopbackLauncher{
		Open:            browser.OpenURL,
		ShutdownTimeout: 2 * time.Second,
	}
}

// Launch implements Launcher. A cancelled ctx reports ErrFlowCancelled and
// an expired one context.DeadlineExceeded.
func (l *LoopbackLauncher) Launch(ctx context.Context, authURL, redirectURL string) (url.Values, error) {
	redirect, err := url.Parse(redirectURL)
	if err != nil {
		return nil, fmt.Errorf("parse redirect url: %w", err)
	}
	if host := redirect.Hostname(); host != "127.0.0.1" && host != "localhost" {
		return nil, fmt.Errorf("redirect url must be a loopback address, got %q", host)
	}

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, gateway.NewProviderError(gateway.MethodGoogle, "authenticate", gateway.CodeNetworkRequestFailed, "loopback listener unavailable").WithCause(err)
	}

	result := make(chan url.Values, 1)
	path := redirect.Path
	if path == "" {
		path = "/"
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		select {
		case result <- r.Form:
		default:
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(callbackPage))
	})

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case result <- url.Values{"error": {"server_error"}, "error_description": {err.Error()}}:
			default:
			}
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), l.ShutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	open := l.Open
	if open == nil {
		open = browser.OpenURL
	}
	if err := open(authURL); err != nil {
		return nil, gateway.NewProviderError(gateway.MethodGoogle, "authenticate", gateway.CodeFederatedProviderUnavailable, "could not open browser").WithCause(err)
	}

	select {
	case values := <-result:
		return values, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, gateway.ErrFlowCancelled
		}
		return nil, ctx.Err()
	}
}
