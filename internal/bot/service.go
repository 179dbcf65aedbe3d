package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/ashureev/replyd/internal/ai"
	"github.com/ashureev/replyd/internal/auth"
	"github.com/ashureev/replyd/internal/config"
	"github.com/ashureev/replyd/internal/identity"
	"github.com/ashureev/replyd/internal/store"
	"github.com/ashureev/replyd/internal/transport"
)

// Service is the auto-responder pipeline. One goroutine runs the event
// loop; response units are the only other pipeline goroutines and are
// managed through the registry.
type Service struct {
	client    transport.Client
	store     store.Store
	generator ai.Generator
	provider  *config.Provider
	identity  *identity.Manager
	coord     *auth.Coordinator
	registry  *Registry

	commands chan command
	running  atomic.Bool
	httpc    *http.Client
}

// NewService wires the pipeline. Call Run to start it.
func NewService(
	client transport.Client,
	st store.Store,
	generator ai.Generator,
	provider *config.Provider,
	id *identity.Manager,
	coord *auth.Coordinator,
) *Service {
	return &Service{
		client:    client,
		store:     st,
		generator: generator,
		provider:  provider,
		identity:  id,
		coord:     coord,
		registry:  NewRegistry(),
		commands:  make(chan command, 16),
		httpc:     &http.Client{},
	}
}

// Registry exposes the response unit registry, mainly for shutdown.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Running reports whether the event loop is consuming events.
func (s *Service) Running() bool {
	return s.running.Load()
}

// Run drives the login handshake and then consumes transport events and
// marshaled commands until ctx is cancelled. A panicking handler is logged
// and the loop keeps going.
func (s *Service) Run(ctx context.Context) error {
	settings := s.provider.Load()
	if !settings.IsConfigured() {
		return fmt.Errorf("transport credentials are not configured")
	}

	if err := s.coord.Run(ctx, settings.APIID, settings.APIHash, settings.Phone); err != nil {
		return fmt.Errorf("auth handshake: %w", err)
	}

	s.running.Store(true)
	defer s.running.Store(false)
	slog.Info("[LOOP] Pipeline running")

	events := s.client.Events()
	for {
		select {
		case <-ctx.Done():
			slog.Info("[LOOP] Pipeline stopping")
			return ctx.Err()
		case ev := <-events:
			s.handleEvent(ctx, ev)
		case cmd := <-s.commands:
			cmd.reply <- s.deliver(ctx, cmd.partnerID, cmd.text)
		}
	}
}

// handleEvent guards the loop against a panicking handler.
func (s *Service) handleEvent(ctx context.Context, ev transport.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[LOOP] Event handler panicked", "partner_id", ev.PartnerID, "panic", r)
		}
	}()
	s.ingest(ctx, ev)
}
