// Package store provides conversation persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/replyd/internal/domain"
)

// RetentionWindow is how long conversation records are kept. Records older
// than this are dropped the next time the owning log is loaded.
const RetentionWindow = 7 * 24 * time.Hour

// Store defines the interface for persisting conversation logs and partner profiles.
type Store interface {
	// Append adds one record to a partner's conversation log. A zero
	// timestamp is stamped with the current time. The stored record is
	// returned.
	Append(ctx context.Context, partnerID string, msg domain.Message) (domain.Message, error)

	// Messages returns a partner's log ordered oldest first. Records older
	// than RetentionWindow are pruned from disk on load; a log left empty
	// by pruning is deleted outright.
	Messages(ctx context.Context, partnerID string) ([]domain.Message, error)

	// AllMessages returns every partner's log merged and sorted by timestamp.
	AllMessages(ctx context.Context) ([]domain.Message, error)

	// BulkImport replaces a partner's log with the given records.
	BulkImport(ctx context.Context, partnerID string, msgs []domain.Message) error

	// Profile returns a partner's stored profile text, or "" when none exists.
	Profile(ctx context.Context, partnerID string) (string, error)

	// WriteProfile overwrites a partner's profile text.
	WriteProfile(ctx context.Context, partnerID string, text string) error

	// IsSynced reports whether the partner's one-time history backfill ran.
	IsSynced(ctx context.Context, partnerID string) bool

	// MarkSynced records that the partner's history backfill completed.
	MarkSynced(ctx context.Context, partnerID string) error
}
