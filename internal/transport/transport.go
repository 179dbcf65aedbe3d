// Package transport abstracts the messaging platform connection.
package transport

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors callers branch on with errors.Is.
var (
	// ErrNotRunning is returned when a call needs the event pipeline and it
	// is not active.
	ErrNotRunning = errors.New("transport is not running")
	// ErrPasswordRequired signals the account needs its second factor.
	ErrPasswordRequired = errors.New("two-step password required")
	// ErrCodeInvalid signals the submitted login code was rejected.
	ErrCodeInvalid = errors.New("login code invalid")
	// ErrPasswordInvalid signals the submitted password was rejected.
	ErrPasswordInvalid = errors.New("two-step password invalid")
)

// Event is one inbound message notification from the platform.
type Event struct {
	PartnerID string    `json:"partner_id"`
	MessageID int64     `json:"message_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Private   bool      `json:"private"`
	Time      time.Time `json:"time"`
}

// DisplayName resolves the partner's human-readable name, falling back to
// the username and then a generic label.
func (e Event) DisplayName() string {
	name := e.FirstName
	if e.LastName != "" {
		if name != "" {
			name += " "
		}
		name += e.LastName
	}
	if name != "" {
		return name
	}
	if e.Username != "" {
		return e.Username
	}
	return "Unknown"
}

// HistoryItem is one prior message returned by a history backfill.
type HistoryItem struct {
	Text     string    `json:"text"`
	Outgoing bool      `json:"outgoing"`
	Time     time.Time `json:"time"`
}

// Client is the platform connection used by the pipeline. Implementations
// deliver inbound messages on Events and must tolerate concurrent calls.
type Client interface {
	// Connect establishes the platform session using stored credentials.
	Connect(ctx context.Context, apiID, apiHash, phone string) error

	// IsAuthorized reports whether the session is already signed in.
	IsAuthorized(ctx context.Context) (bool, error)

	// RequestLoginCode asks the platform to send a login code to phone.
	RequestLoginCode(ctx context.Context, phone string) error

	// SignIn completes login with the code the operator received. Returns
	// ErrPasswordRequired when the account needs its second factor and
	// ErrCodeInvalid when the code is rejected.
	SignIn(ctx context.Context, code string) error

	// SignInWithPassword completes two-step login. Returns
	// ErrPasswordInvalid when the password is rejected.
	SignInWithPassword(ctx context.Context, password string) error

	// FetchHistory returns up to limit prior messages with a partner,
	// oldest first.
	FetchHistory(ctx context.Context, partnerID string, limit int) ([]HistoryItem, error)

	// SendMessage delivers text to a partner.
	SendMessage(ctx context.Context, partnerID, text string) error

	// MarkRead acknowledges a partner's messages up to messageID.
	MarkRead(ctx context.Context, partnerID string, messageID int64) error

	// Events returns the inbound message stream. The channel stays open for
	// the life of the client.
	Events() <-chan Event

	// Close tears down the connection.
	Close() error
}
