// Package google runs the Google sign-in flow for the shopagent gateway. It
// requests an OpenID id_token through a loopback redirect and verifies it
// against Google's published keys.
package google

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"

	shopagent "github.com/goliatone/go-shopagent"
	"github.com/goliatone/go-shopagent/gateway"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// Launcher presents authURL to the user and returns the parameters posted
// back to redirectURL.
type Launcher interface {
	Launch(ctx context.Context, authURL, redirectURL string) (url.Values, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, authURL, redirectURL string) (url.Values, error)

func (f LauncherFunc) Launch(ctx context.Context, authURL, redirectURL string) (url.Values, error) {
	return f(ctx, authURL, redirectURL)
}

// Flow implements gateway.InteractiveFlow for Google.
type Flow struct {
	config       *oauth2.Config
	launcher     Launcher
	responseMode string
	random       func(n int) (string, error)
	logger       shopagent.Logger
}

// Response modes understood by the Google authorization endpoint.
const (
	ResponseModeFormPost = "form_post"
	ResponseModeFragment = "fragment"
)

var _ gateway.InteractiveFlow = (*Flow)(nil)

// FlowOption customizes the flow.
type FlowOption func(*Flow)

// WithLauncher overrides the loopback browser launcher.
func WithLauncher(launcher Launcher) FlowOption {
	return func(f *Flow) {
		if launcher != nil {
			f.launcher = launcher
		}
	}
}

// WithResponseMode selects how the id_token is returned. Browser identity
// APIs only see the redirect URL and need ResponseModeFragment.
func WithResponseMode(mode string) FlowOption {
	return func(f *Flow) {
		if mode != "" {
			f.responseMode = mode
		}
	}
}

// WithFlowLogger sets the flow logger.
func WithFlowLogger(logger shopagent.Logger) FlowOption {
	return func(f *Flow) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFlow creates a Google sign-in flow from cfg.
func NewFlow(cfg shopagent.GoogleConfig, opts ...FlowOption) *Flow {
	f := &Flow{
		config: &oauth2.Config{
			ClientID:    cfg.ClientID,
			Endpoint:    endpoints.Google,
			RedirectURL: cfg.RedirectURL,
			Scopes:      []string{"openid", "email", "profile"},
		},
		responseMode: ResponseModeFormPost,
		random:       randomToken,
		logger:       shopagent.DefaultLogger(),
	}
	f.launcher = NewLoopbackLauncher()
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// AuthURL builds the authorization request for state and nonce.
func (f *Flow) AuthURL(state, nonce string) string {
	return f.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("response_type", "id_token"),
		oauth2.SetAuthURLParam("response_mode", f.responseMode),
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

// Authenticate implements gateway.InteractiveFlow.
func (f *Flow) Authenticate(ctx context.Context) (gateway.Credential, error) {
	if f.config.ClientID == "" || f.config.RedirectURL == "" {
		return gateway.Credential{}, gateway.NewProviderError(gateway.MethodGoogle, "authenticate", gateway.CodeOperationNotAllowed, "google client is not configured")
	}

	state, err := f.random(24)
	if err != nil {
		return gateway.Credential{}, err
	}
	nonce, err := f.random(24)
	if err != nil {
		return gateway.Credential{}, err
	}

	values, err := f.launcher.Launch(ctx, f.AuthURL(state, nonce), f.config.RedirectURL)
	if err != nil {
		return gateway.Credential{}, err
	}

	if code := values.Get("error"); code != "" {
		f.logger.Info("google sign-in returned an error", "error", code)
		if isCancellation(code) {
			return gateway.Credential{}, gateway.ErrFlowCancelled
		}
		return gateway.Credential{}, gateway.NewProviderError(gateway.MethodGoogle, "authenticate", gateway.CodeInvalidCredential, values.Get("error_description"))
	}

	if values.Get("state") != state {
		return gateway.Credential{}, gateway.NewProviderError(gateway.MethodGoogle, "authenticate", gateway.CodeInvalidCredential, "state mismatch")
	}

	token := values.Get("id_token")
	if token == "" {
		return gateway.Credential{}, gateway.NewProviderError(gateway.MethodGoogle, "authenticate", gateway.CodeInvalidCredential, "missing id_token")
	}

	return gateway.Credential{
		ProviderID:  gateway.MethodGoogle,
		IDToken:     token,
		AccessToken: values.Get("access_token"),
		Nonce:       nonce,
	}, nil
}

func isCancellation(code string) bool {
	switch strings.ToLower(code) {
	case "access_denied", "popup_closed_by_user", "user_cancelled_login":
		return true
	}
	return false
}

var errShortRandom = errors.New("short random read")

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	read, err := rand.Read(buf)
	if err != nil {
		return "", err
	}
	if read != n {
		return "", errShortRandom
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
