package api

import (
	"net/http"
	"strings"
)

// AuthStatus returns the login handshake snapshot.
func (h *Handler) AuthStatus(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.pipeline.AuthState())
}

// SubmitCode forwards the operator's login code to the handshake.
func (h *Handler) SubmitCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		Error(w, http.StatusBadRequest, "code is required")
		return
	}
	if err := h.pipeline.SubmitCode(req.Code); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// SubmitPassword forwards the operator's two-step password to the
// handshake. The password itself is passed through untrimmed.
func (h *Handler) SubmitPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.Password) == "" {
		Error(w, http.StatusBadRequest, "password is required")
		return
	}
	if err := h.pipeline.SubmitPassword(req.Password); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
