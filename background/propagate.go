// Package background composes the background context: it owns the session
// store, serves the message router on the channel and mirrors every
// identity provider transition into the session record.
package background

import (
	"context"
	"time"

	shopagent "github.com/goliatone/go-shopagent"
	"github.com/goliatone/go-shopagent/gateway"
	"github.com/goliatone/go-shopagent/session"
)

const propagateTimeout = 5 * time.Second

// BindAuthState writes the full SessionState on every auth state
// transition of provider. Sign-out writes the logged out record. The
// returned func stops propagation.
func BindAuthState(provider gateway.IdentityProvider, store *session.Store, logger shopagent.Logger) func() {
	if logger == nil {
		logger = shopagent.DefaultLogger()
	}

	return provider.OnAuthStateChanged(func(identity *shopagent.Identity) {
		ctx, cancel := context.WithTimeout(context.Background(), propagateTimeout)
		defer cancel()

		next := shopagent.StateFromIdentity(identity)
		state, err := store.Write(ctx, shopagent.FullPatch(next))
		if err != nil {
			logger.Error("auth state propagation failed", "error", err, "status", next.Status.String())
			return
		}
		logger.Info("auth state propagated",
			"status", state.Status.String(),
			"user_id", shopagent.Deref(state.UserID),
			"email_verified", shopagent.Deref(state.EmailVerified),
			"version", state.Version,
		)
	})
}
