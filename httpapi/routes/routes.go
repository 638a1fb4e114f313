// Package routes names the paths served by httpapi so clients can reach
// them without importing the server.
package routes

const (
	Messages      = "/runtime/messages"
	Session       = "/storage/session"
	SessionEvents = "/storage/session/events"
	VerifyEmail   = "/auth/verify"
	Health        = "/healthz"
)
