package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/replyd/internal/domain"
	"github.com/ashureev/replyd/internal/transport"
)

// command is a marshaled cross-context request executed on the pipeline
// goroutine, keeping every transport send on the loop's own context.
type command struct {
	partnerID string
	text      string
	reply     chan error
}

// SendManual delivers an operator-composed message through the pipeline
// goroutine. Returns transport.ErrNotRunning when the loop is not active.
func (s *Service) SendManual(ctx context.Context, partnerID, text string) error {
	if !s.running.Load() {
		return transport.ErrNotRunning
	}

	cmd := command{partnerID: partnerID, text: text, reply: make(chan error, 1)}
	select {
	case s.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver executes a manual send on the pipeline goroutine and records the
// message. A persistence failure is logged but does not fail a delivered
// send.
func (s *Service) deliver(ctx context.Context, partnerID, text string) error {
	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.client.SendMessage(sendCtx, partnerID, text); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	sent := domain.Message{
		Direction: domain.DirectionSent,
		Sender:    senderSelf,
		Text:      text,
		PartnerID: partnerID,
	}
	if _, err := s.store.Append(ctx, partnerID, sent); err != nil {
		slog.Error("[LOOP] Failed to persist manual message", "partner_id", partnerID, "error", err)
	}
	return nil
}

// AuthState returns the login handshake snapshot.
func (s *Service) AuthState() domain.AuthState {
	return s.coord.Snapshot()
}

// SubmitCode forwards the operator's login code to the handshake.
func (s *Service) SubmitCode(code string) error {
	return s.coord.SubmitCode(code)
}

// SubmitPassword forwards the operator's two-step password to the handshake.
func (s *Service) SubmitPassword(password string) error {
	return s.coord.SubmitPassword(password)
}
