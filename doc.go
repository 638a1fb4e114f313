// Package shopagent holds the shared types of the shopping agent session
// layer: the SessionState record every context renders from, the request and
// response messages that cross the extension messaging channel, and the
// normalized error taxonomy.
//
// The background context owns the session store (see package session) and
// the auth gateway (package gateway). Content contexts never change auth
// state directly, they send a Request through the router and observe the
// resulting SessionState:
//
//	store := session.NewStore(session.NewMemoryBackend())
//	gw := gateway.New(provider)
//	r := router.New()
//	r.RegisterAuth(gw)
//	async := r.Dispatch(ctx, shopagent.Request{Action: shopagent.ActionLogout}, reply)
package shopagent
