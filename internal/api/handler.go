// Package api provides the HTTP surface for configuring and observing the
// responder.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/replyd/internal/config"
	"github.com/ashureev/replyd/internal/domain"
	"github.com/ashureev/replyd/internal/identity"
	"github.com/ashureev/replyd/internal/store"
)

// Pipeline is the part of the bot service the API drives.
type Pipeline interface {
	SendManual(ctx context.Context, partnerID, text string) error
	AuthState() domain.AuthState
	SubmitCode(code string) error
	SubmitPassword(password string) error
	Running() bool
}

// Handler serves the dashboard API.
type Handler struct {
	store    store.Store
	provider *config.Provider
	persona  *identity.Manager
	pipeline Pipeline
	apiToken string
}

// NewHandler creates a new Handler with common dependencies. An empty
// apiToken disables bearer authentication.
func NewHandler(st store.Store, provider *config.Provider, persona *identity.Manager, pipeline Pipeline, apiToken string) *Handler {
	return &Handler{
		store:    st,
		provider: provider,
		persona:  persona,
		pipeline: pipeline,
		apiToken: apiToken,
	}
}

// RegisterRoutes registers the dashboard API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/config", h.GetConfig)
		r.With(requireJSON).Post("/config", h.UpdateConfig)
		r.Get("/messages", h.ListMessages)
		r.With(requireJSON).Post("/messages/send", h.SendMessage)
		r.Get("/identity", h.GetIdentity)
		r.With(requireJSON).Post("/identity", h.UpdateIdentity)
		r.Get("/auth/status", h.AuthStatus)
		r.With(requireJSON).Post("/auth/code", h.SubmitCode)
		r.With(requireJSON).Post("/auth/password", h.SubmitPassword)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// requireAuth enforces the bearer token when one is configured.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.apiToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token != h.apiToken {
			Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireJSON rejects request bodies that are not JSON.
func requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct := strings.ToLower(r.Header.Get("Content-Type"))
		if !strings.HasPrefix(ct, "application/json") {
			Error(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// decodeJSON reads a bounded request body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}
