package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/replyd/internal/domain"
	"github.com/ashureev/replyd/internal/transport"
)

// maxSendLength caps a manual message in runes.
const maxSendLength = 4096

// ListMessages returns the aggregate conversation log, or a single
// partner's log when partner_id is given.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	var (
		msgs []domain.Message
		err  error
	)
	if partnerID := r.URL.Query().Get("partner_id"); partnerID != "" {
		msgs, err = h.store.Messages(r.Context(), partnerID)
	} else {
		msgs, err = h.store.AllMessages(r.Context())
	}
	if err != nil {
		slog.Error("Failed to load messages", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	if msgs == nil {
		msgs = []domain.Message{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// SendMessage delivers an operator-composed message through the pipeline.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PartnerID string `json:"partner_id"`
		Text      string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.PartnerID = strings.TrimSpace(req.PartnerID)
	if req.PartnerID == "" {
		Error(w, http.StatusBadRequest, "partner_id is required")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}
	if len([]rune(req.Text)) > maxSendLength {
		Error(w, http.StatusBadRequest, "text is too long")
		return
	}

	if !h.pipeline.Running() {
		Error(w, http.StatusServiceUnavailable, "Bot is not available")
		return
	}
	if h.pipeline.AuthState().Status != domain.AuthAuthorized {
		Error(w, http.StatusBadRequest, "Bot is not authorized")
		return
	}

	switch err := h.pipeline.SendManual(r.Context(), req.PartnerID, req.Text); {
	case err == nil:
		JSON(w, http.StatusOK, map[string]string{"status": "sent"})
	case errors.Is(err, transport.ErrNotRunning):
		Error(w, http.StatusServiceUnavailable, "Bot is not available")
	default:
		slog.Error("Manual send failed", "partner_id", req.PartnerID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to send message")
	}
}
