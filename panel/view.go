// Package panel is the injected panel controller: it derives the view
// from the observed session record and sends user actions to the
// background context.
package panel

import shopagent "github.com/goliatone/go-shopagent"

// View is the panel content currently shown.
type View int

const (
	ViewLoading View = iota
	ViewLogin
	ViewSignup
	ViewPendingVerification
	ViewActive
)

func (v View) String() string {
	switch v {
	case ViewLogin:
		return "login"
	case ViewSignup:
		return "signup"
	case ViewPendingVerification:
		return "pending_verification"
	case ViewActive:
		return "active"
	}
	return "loading"
}

// MarshalText encodes the view by name.
func (v View) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// ViewFor derives the view from state. sub selects between ViewLogin and
// ViewSignup while logged out; anything else means ViewLogin.
func ViewFor(state shopagent.SessionState, sub View) View {
	switch state.Status {
	case shopagent.StatusLoggedIn:
		if state.IsVerified() {
			return ViewActive
		}
		return ViewPendingVerification
	case shopagent.StatusLoggedOut:
		if sub == ViewSignup {
			return ViewSignup
		}
		return ViewLogin
	}
	return ViewLoading
}

// Snapshot is everything a renderer needs.
type Snapshot struct {
	View    View                   `json:"view"`
	Open    bool                   `json:"open"`
	Busy    bool                   `json:"busy"`
	Error   string                 `json:"error,omitempty"`
	Notice  string                 `json:"notice,omitempty"`
	Insight string                 `json:"insight,omitempty"`
	State   shopagent.SessionState `json:"state"`
}
