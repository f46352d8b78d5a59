// Package handler provides HTTP request handlers.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tokengate/tokengate/internal/auth"
	"github.com/tokengate/tokengate/internal/repository"
)

// Handler serves the root info endpoint and router fallbacks.
type Handler struct {
	repo *repository.Repository
}

// New creates a new Handler instance. repo may be nil in tests; the root
// endpoint then answers anonymously.
func New(repo *repository.Repository) *Handler {
	return &Handler{repo: repo}
}

// Root is the info endpoint. With a valid key presented (soft auth) it
// answers with the caller's balance; anonymously otherwise.
// GET /
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"service": "tokengate",
		"status":  "ok",
	}

	authCtx := auth.AuthFromContext(r.Context())
	if authCtx != nil && h.repo != nil {
		balance, err := h.repo.GetBalance(r.Context(), authCtx.UserID)
		if err != nil && !errors.Is(err, repository.ErrBalanceNotFound) {
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		response["authenticated"] = true
		response["balance"] = balance
		response["subscription_active"] = authCtx.SubscriptionActive
	}

	writeJSON(w, http.StatusOK, response)
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not_found", "resource not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "not_found", "method not allowed")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes the standard error envelope. errType comes from the
// closed set: auth_error, insufficient_credits, provider_error,
// proxy_error, not_found, server_error.
func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
		},
	})
}
