// Package ai builds model context and generates replies and partner profiles.
package ai

import (
	"context"
	"errors"

	"github.com/ashureev/replyd/internal/config"
	"github.com/ashureev/replyd/internal/domain"
)

// ErrUnavailable is returned when a generation call is made without a
// configured credential. Callers normally gate on Available instead.
var ErrUnavailable = errors.New("no generation credential configured")

// Generator produces conversational replies and partner profile rewrites.
// A missing credential makes the generator unavailable, not broken; the
// pipeline falls back to the static auto response.
type Generator interface {
	// Available reports whether generation is possible with these settings.
	Available(s config.Settings) bool

	// Reply generates the next assistant turn for the given context.
	Reply(ctx context.Context, s config.Settings, turns []domain.Turn) (string, error)

	// ExtractProfile rewrites the partner's profile from recent messages.
	// It returns current unchanged when there is nothing to work from.
	ExtractProfile(ctx context.Context, s config.Settings, current string, recent []domain.Message, partnerName string) (string, error)
}
