package domain

// AuthStatus identifies a step of the interactive login handshake.
type AuthStatus string

const (
	// AuthDisconnected means no transport connection has been established.
	AuthDisconnected AuthStatus = "disconnected"
	// AuthWaitingCode means a login code was requested and the coordinator
	// is waiting for the operator to submit it.
	AuthWaitingCode AuthStatus = "waiting_code"
	// AuthWaitingPassword means the account requires a second factor.
	AuthWaitingPassword AuthStatus = "waiting_password"
	// AuthAuthorized means the transport session is fully signed in.
	AuthAuthorized AuthStatus = "authorized"
	// AuthError means the handshake failed; AuthState.Error carries the reason.
	AuthError AuthStatus = "error"
)

// AuthState is a snapshot of the login handshake as seen by the front end.
// Handed out by value so readers never share the coordinator's mutable record.
type AuthState struct {
	Status AuthStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}
