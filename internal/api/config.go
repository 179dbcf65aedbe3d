package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ashureev/replyd/internal/config"
	"github.com/ashureev/replyd/internal/identity"
)

// maskedKeys are the settings returned and accepted in masked form.
var maskedKeys = map[string]bool{
	"API_HASH":       true,
	"OPENAI_API_KEY": true,
}

// GetConfig returns the merged settings with secrets masked.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	values := h.provider.Values()
	resp := make(map[string]interface{}, len(values)+1)
	for key, v := range values {
		if maskedKeys[key] {
			v = maskSecret(v)
		}
		resp[key] = v
	}
	resp["is_configured"] = h.provider.Load().IsConfigured()
	JSON(w, http.StatusOK, resp)
}

// UpdateConfig saves submitted settings to the overlay and returns the
// refreshed masked view. A masked secret submission keeps the stored value.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var updates map[string]string
	if err := decodeJSON(r, &updates); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if v, ok := updates["API_ID"]; ok && v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			Error(w, http.StatusBadRequest, "API_ID must be numeric")
			return
		}
	}

	filtered := make(map[string]string, len(updates))
	for _, key := range config.SettingsKeys {
		v, ok := updates[key]
		if !ok {
			continue
		}
		if maskedKeys[key] && isMasked(v) {
			continue
		}
		filtered[key] = v
	}

	if err := h.provider.SaveOverlay(filtered); err != nil {
		slog.Error("Failed to save settings", "error", err)
		Error(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	h.GetConfig(w, r)
}

// GetIdentity returns the persona text.
func (h *Handler) GetIdentity(w http.ResponseWriter, r *http.Request) {
	text, err := h.persona.Load()
	if err != nil {
		slog.Error("Failed to load persona", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load identity")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"identity": text})
}

// UpdateIdentity replaces the persona text.
func (h *Handler) UpdateIdentity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
	}
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len([]rune(req.Identity)) > identity.MaxPersonaLen {
		Error(w, http.StatusBadRequest, "identity text is too long")
		return
	}

	if err := h.persona.Save(req.Identity); err != nil {
		slog.Error("Failed to save persona", "error", err)
		Error(w, http.StatusInternalServerError, "failed to save identity")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"identity": req.Identity})
}

// maskSecret hides a credential, keeping at most four characters visible on
// each end. Short values are fully starred at their original length.
func maskSecret(s string) string {
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return ""
	}

	visible := n / 8
	if visible > 4 {
		visible = 4
	}
	stars := n - 2*visible
	if stars > 32 {
		stars = 32
	}
	return string(r[:visible]) + strings.Repeat("*", stars) + string(r[n-visible:])
}

// isMasked reports whether a submitted value is a masked placeholder
// rather than a real secret.
func isMasked(s string) bool {
	return strings.Contains(s, "**")
}
