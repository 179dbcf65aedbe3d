package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/replyd/internal/config"
	"github.com/ashureev/replyd/internal/domain"
	"github.com/ashureev/replyd/internal/transport"
)

const (
	// senderSelf labels outgoing records in conversation logs.
	senderSelf = "Me"

	// backfillLimit caps the one-time history import per partner.
	backfillLimit = 50

	// summaryMaxLen caps summaries in runes.
	summaryMaxLen = 100

	// notifyTimeout bounds a webhook notification delivery.
	notifyTimeout = 10 * time.Second
)

// Fallback delay windows in seconds, used when the configured bounds are
// invalid.
const (
	defaultReplyDelayMin = 3
	defaultReplyDelayMax = 10
	defaultReadDelayMin  = 1
	defaultReadDelayMax  = 5
)

// ingest handles one inbound event on the pipeline goroutine: record the
// message, acknowledge it after a delay, import history on first contact,
// notify the webhook and schedule the response unit. Ingestion itself is
// never cancelled mid-event.
func (s *Service) ingest(ctx context.Context, ev transport.Event) {
	if !ev.Private || strings.TrimSpace(ev.Text) == "" {
		return
	}

	settings := s.provider.Load()
	sender := ev.DisplayName()

	msg := domain.Message{
		Timestamp: ev.Time,
		Direction: domain.DirectionReceived,
		Sender:    sender,
		Text:      ev.Text,
		Summary:   summarize(ev.Text),
		PartnerID: ev.PartnerID,
	}
	stored, err := s.store.Append(ctx, ev.PartnerID, msg)
	if err != nil {
		slog.Error("[INGEST] Failed to persist inbound message", "partner_id", ev.PartnerID, "error", err)
		stored = msg
	}

	go s.markReadLater(ev, settings)

	if !s.store.IsSynced(ctx, ev.PartnerID) {
		s.backfill(ctx, ev, settings)
	}

	s.notify(stored, settings)

	s.registry.Supersede(ctx, ev.PartnerID, func(unitCtx context.Context) {
		s.respond(unitCtx, ev.PartnerID, sender, settings)
	})
}

// markReadLater acknowledges the message after a humanizing delay. Runs
// detached from the event loop; failure is logged and swallowed.
func (s *Service) markReadLater(ev transport.Event, settings config.Settings) {
	delay := randDelay(settings.ReadDelayMin, settings.ReadDelayMax, defaultReadDelayMin, defaultReadDelayMax)
	time.Sleep(delay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.client.MarkRead(ctx, ev.PartnerID, ev.MessageID); err != nil {
		slog.Warn("[INGEST] Failed to mark message read", "partner_id", ev.PartnerID, "error", err)
	}
}

// backfill runs the one-time history import for a partner: fetch recent
// history, replace the log wholesale, seed an initial profile and mark the
// partner synced. The sync marker is only written after a successful
// import so a failure retries on the next inbound message.
func (s *Service) backfill(ctx context.Context, ev transport.Event, settings config.Settings) {
	history, err := s.client.FetchHistory(ctx, ev.PartnerID, backfillLimit)
	if err != nil {
		slog.Error("[SYNC] Failed to fetch history", "partner_id", ev.PartnerID, "error", err)
		return
	}

	sender := ev.DisplayName()
	msgs := make([]domain.Message, 0, len(history))
	for _, item := range history {
		if strings.TrimSpace(item.Text) == "" {
			continue
		}
		m := domain.Message{
			Timestamp: item.Time,
			Direction: domain.DirectionReceived,
			Sender:    sender,
			Text:      item.Text,
			PartnerID: ev.PartnerID,
		}
		if item.Outgoing {
			m.Direction = domain.DirectionSent
			m.Sender = senderSelf
		} else {
			m.Summary = summarize(item.Text)
		}
		msgs = append(msgs, m)
	}

	if err := s.store.BulkImport(ctx, ev.PartnerID, msgs); err != nil {
		slog.Error("[SYNC] Failed to import history", "partner_id", ev.PartnerID, "error", err)
		return
	}

	s.seedProfile(ctx, ev.PartnerID, sender, msgs, settings)

	if err := s.store.MarkSynced(ctx, ev.PartnerID); err != nil {
		slog.Error("[SYNC] Failed to mark partner synced", "partner_id", ev.PartnerID, "error", err)
		return
	}
	slog.Info("[SYNC] Partner history imported", "partner_id", ev.PartnerID, "messages", len(msgs))
}

// seedProfile extracts an initial partner profile from imported history.
// Best effort: sync completes with or without it.
func (s *Service) seedProfile(ctx context.Context, partnerID, partnerName string, msgs []domain.Message, settings config.Settings) {
	if !s.generator.Available(settings) || len(msgs) == 0 {
		return
	}

	profile, err := s.generator.ExtractProfile(ctx, settings, "", msgs, partnerName)
	if err != nil {
		slog.Error("[SYNC] Initial profile extraction failed", "partner_id", partnerID, "error", err)
		return
	}
	if strings.TrimSpace(profile) == "" {
		return
	}
	if err := s.store.WriteProfile(ctx, partnerID, profile); err != nil {
		slog.Error("[SYNC] Failed to write initial profile", "partner_id", partnerID, "error", err)
	}
}

// notify posts a short inbound summary to the configured webhook. Delivery
// is detached and best effort.
func (s *Service) notify(msg domain.Message, settings config.Settings) {
	url := strings.TrimSpace(settings.NotifyURL)
	if url == "" {
		return
	}

	payload, err := json.Marshal(map[string]string{
		"timestamp": msg.Timestamp.Format(time.RFC3339),
		"sender":    msg.Sender,
		"summary":   msg.Summary,
	})
	if err != nil {
		slog.Warn("[NOTIFY] Failed to encode notification", "error", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			slog.Warn("[NOTIFY] Failed to build notification request", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpc.Do(req)
		if err != nil {
			slog.Warn("[NOTIFY] Webhook delivery failed", "error", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusMultipleChoices {
			slog.Warn("[NOTIFY] Webhook rejected notification", "status", resp.StatusCode)
		}
	}()
}

// summarize condenses text for log records and notifications. Short texts
// pass through, longer ones keep the first sentence when it fits.
func summarize(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= summaryMaxLen {
		return text
	}

	if idx := strings.IndexAny(text, ".!?\n"); idx >= 0 {
		first := strings.TrimSpace(text[:idx+1])
		if n := len([]rune(first)); n > 0 && n <= summaryMaxLen {
			return first
		}
	}
	return string(runes[:summaryMaxLen-3]) + "..."
}

// randDelay picks a uniform delay between minSec and maxSec seconds.
// Inverted bounds are swapped; negative bounds fall back to the defaults.
func randDelay(minSec, maxSec, defMin, defMax int) time.Duration {
	if minSec < 0 || maxSec < 0 {
		minSec, maxSec = defMin, defMax
	}
	if minSec > maxSec {
		minSec, maxSec = maxSec, minSec
	}
	span := float64(maxSec-minSec) * float64(time.Second)
	return time.Duration(float64(minSec)*float64(time.Second) + rand.Float64()*span)
}
