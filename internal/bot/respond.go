package bot

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/replyd/internal/ai"
	"github.com/ashureev/replyd/internal/config"
	"github.com/ashureev/replyd/internal/domain"
)

// respond runs one response unit for a partner. The unit's context is its
// cancellation window: a newer inbound message supersedes it any time up
// to the send. Once the send is issued the tail always completes, so a
// delivered reply is never missing from the log.
func (s *Service) respond(ctx context.Context, partnerID, partnerName string, settings config.Settings) {
	msgs, err := s.store.Messages(ctx, partnerID)
	if err != nil {
		slog.Error("[RESPOND] Failed to load conversation", "partner_id", partnerID, "error", err)
		msgs = nil
	}
	profile, err := s.store.Profile(ctx, partnerID)
	if err != nil {
		slog.Error("[RESPOND] Failed to load profile", "partner_id", partnerID, "error", err)
		profile = ""
	}
	persona, err := s.identity.Load()
	if err != nil {
		slog.Error("[RESPOND] Failed to load persona", "partner_id", partnerID, "error", err)
		persona = ""
	}

	reply := s.generateReply(ctx, settings, msgs, persona, partnerName, profile)

	delay := randDelay(settings.DelayMin, settings.DelayMax, defaultReplyDelayMin, defaultReplyDelayMax)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		slog.Debug("[RESPOND] Superseded before send", "partner_id", partnerID)
		return
	}
	if ctx.Err() != nil {
		return
	}

	// Point of no return. The tail runs detached from the unit's
	// cancellation so send and persist stay paired.
	tail := context.WithoutCancel(ctx)
	if err := s.client.SendMessage(tail, partnerID, reply); err != nil {
		slog.Error("[RESPOND] Failed to send reply", "partner_id", partnerID, "error", err)
		return
	}

	sent := domain.Message{
		Direction: domain.DirectionSent,
		Sender:    senderSelf,
		Text:      reply,
		PartnerID: partnerID,
	}
	stored, err := s.store.Append(tail, partnerID, sent)
	if err != nil {
		slog.Error("[RESPOND] Failed to persist sent reply", "partner_id", partnerID, "error", err)
		stored = sent
	}
	slog.Info("[RESPOND] Reply sent", "partner_id", partnerID, "delay", delay.Round(time.Millisecond))

	s.maybeUpdateProfile(tail, settings, partnerID, partnerName, msgs, stored)
}

// generateReply produces the outgoing text, falling back to the static
// auto response when generation is unavailable or fails.
func (s *Service) generateReply(ctx context.Context, settings config.Settings, msgs []domain.Message, persona, partnerName, profile string) string {
	if !s.generator.Available(settings) {
		return settings.AutoResponse
	}

	turns := ai.BuildTurns(msgs, persona, partnerName, profile, ai.DefaultContextLimit)
	reply, err := s.generator.Reply(ctx, settings, turns)
	if err != nil {
		slog.Error("[RESPOND] Generation failed, using auto response", "error", err)
		return settings.AutoResponse
	}
	if strings.TrimSpace(reply) == "" {
		return settings.AutoResponse
	}
	return reply
}

// maybeUpdateProfile refreshes the partner profile after a reply, unless
// everything the partner sent since our previous reply was trivial. The
// scan walks the pre-send snapshot backwards and stops at the previous
// sent record; the extraction context is that snapshot plus the reply just
// sent.
func (s *Service) maybeUpdateProfile(ctx context.Context, settings config.Settings, partnerID, partnerName string, snapshot []domain.Message, sent domain.Message) {
	if !s.generator.Available(settings) {
		return
	}
	if allTrivialSinceLastReply(snapshot) {
		slog.Debug("[RESPOND] Skipping profile update for trivial batch", "partner_id", partnerID)
		return
	}

	current, err := s.store.Profile(ctx, partnerID)
	if err != nil {
		slog.Error("[RESPOND] Failed to load profile for update", "partner_id", partnerID, "error", err)
		return
	}

	recent := make([]domain.Message, 0, len(snapshot)+1)
	recent = append(recent, snapshot...)
	recent = append(recent, sent)

	updated, err := s.generator.ExtractProfile(ctx, settings, current, recent, partnerName)
	if err != nil {
		slog.Error("[RESPOND] Profile extraction failed", "partner_id", partnerID, "error", err)
		return
	}
	if strings.TrimSpace(updated) == "" || updated == current {
		return
	}
	if err := s.store.WriteProfile(ctx, partnerID, updated); err != nil {
		slog.Error("[RESPOND] Failed to write profile", "partner_id", partnerID, "error", err)
	}
}

// allTrivialSinceLastReply reports whether every received record after the
// last sent record is trivial. An empty stretch counts as trivial.
func allTrivialSinceLastReply(msgs []domain.Message) bool {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Direction == domain.DirectionSent {
			break
		}
		if !ai.IsTrivial(msgs[i].Text) {
			return false
		}
	}
	return true
}
