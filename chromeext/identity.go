//go:build js && wasm
// +build js,wasm

package chromeext

import (
	"context"
	"net/url"

	"github.com/goliatone/go-shopagent/gateway"
)

// IdentityLauncher runs the sign-in window through
// chrome.identity.launchWebAuthFlow. Pair it with google.ResponseModeFragment.
type IdentityLauncher struct{}

// NewIdentityLauncher creates a launcher.
func NewIdentityLauncher() *IdentityLauncher {
	return &IdentityLauncher{}
}

// RedirectURL returns the chromiumapp.org redirect assigned to the extension.
func (l *IdentityLauncher) RedirectURL() string {
	fn := chromeAPI("identity", "getRedirectURL")
	if fn.IsUndefined() {
		return ""
	}
	return chromeAPI("identity").Call("getRedirectURL").String()
}

// Launch implements google.Launcher. Any error reported by the browser,
// including a closed window, is treated as a cancellation.
func (l *IdentityLauncher) Launch(ctx context.Context, authURL, redirectURL string) (url.Values, error) {
	value, err := invoke(ctx, chromeAPI("identity"), "launchWebAuthFlow", map[string]interface{}{
		"url":         authURL,
		"interactive": true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, gateway.ErrFlowCancelled
	}
	if value.IsUndefined() || value.IsNull() {
		return nil, gateway.ErrFlowCancelled
	}
	return ParseRedirect(value.String())
}

// ManifestClientID reads oauth2.client_id from the extension manifest.
func ManifestClientID() string {
	manifest := chromeAPI("runtime").Call("getManifest")
	oauth := manifest.Get("oauth2")
	if oauth.IsUndefined() || oauth.IsNull() {
		return ""
	}
	id := oauth.Get("client_id")
	if id.IsUndefined() {
		return ""
	}
	return id.String()
}
