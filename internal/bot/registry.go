// Package bot runs the auto-responder pipeline: it ingests inbound
// messages, schedules at most one pending response per partner and carries
// each response through generation, send and persistence.
package bot

import (
	"context"
	"sync"
	"time"
)

// unit is one live response task.
type unit struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry tracks at most one live response unit per conversation partner.
// Starting a unit atomically replaces the previous one for the same
// partner, so a burst of inbound messages collapses into a single reply.
type Registry struct {
	mu    sync.Mutex
	units map[string]*unit
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{units: make(map[string]*unit)}
}

// Supersede cancels the partner's live unit, if any, and starts run in its
// place on a new goroutine. run's context is cancelled by the next
// Supersede for the same partner, by Cancel or by Shutdown.
func (r *Registry) Supersede(parent context.Context, partnerID string, run func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(parent)
	u := &unit{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	if old, ok := r.units[partnerID]; ok {
		old.cancel()
	}
	r.units[partnerID] = u
	r.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			// Deregister only our own entry; a replacement may have
			// taken the slot while we were unwinding.
			r.mu.Lock()
			if r.units[partnerID] == u {
				delete(r.units, partnerID)
			}
			r.mu.Unlock()
			close(u.done)
		}()
		run(ctx)
	}()
}

// Cancel signals the partner's live unit to stop. The unit deregisters
// itself once it unwinds.
func (r *Registry) Cancel(partnerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.units[partnerID]; ok {
		u.cancel()
	}
}

// Len returns the number of live units.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.units)
}

// Shutdown cancels every live unit and waits for them to finish, up to
// timeout. Returns false when some units were still running at the
// deadline.
func (r *Registry) Shutdown(timeout time.Duration) bool {
	r.mu.Lock()
	waits := make([]chan struct{}, 0, len(r.units))
	for _, u := range r.units {
		u.cancel()
		waits = append(waits, u.done)
	}
	r.mu.Unlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for _, done := range waits {
		select {
		case <-done:
		case <-deadline.C:
			return false
		}
	}
	return true
}
