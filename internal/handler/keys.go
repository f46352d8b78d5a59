package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/tokengate/tokengate/internal/auth"
	"github.com/tokengate/tokengate/internal/cache"
	"github.com/tokengate/tokengate/internal/model"
	"github.com/tokengate/tokengate/internal/repository"
)

// KeyHandler handles API key issuance and revocation.
type KeyHandler struct {
	logger     *slog.Logger
	repository *repository.Repository
	cache      *cache.Cache
}

// NewKeyHandler creates a new KeyHandler. cache may be nil; revocation
// then relies on the auth cache TTL.
func NewKeyHandler(logger *slog.Logger, repo *repository.Repository, cacheClient *cache.Cache) *KeyHandler {
	return &KeyHandler{
		logger:     logger,
		repository: repo,
		cache:      cacheClient,
	}
}

type createKeyRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type createKeyResponse struct {
	APIKey string `json:"api_key"`
	Prefix string `json:"prefix"`
	Name   string `json:"name,omitempty"`
}

// CreateKey handles POST /keys. This is the sign-up surface: it finds or
// creates the user for the email and always mints a fresh key. The
// plaintext key appears in this response and nowhere else.
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "proxy_error", "invalid request body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		writeError(w, http.StatusBadRequest, "proxy_error", "a valid email is required")
		return
	}

	user, err := h.repository.GetOrCreateUser(ctx, &model.User{
		ID:        ulid.Make().String(),
		Email:     email,
		CreatedAt: time.Now(),
	})
	if err != nil {
		h.logger.Error("failed to get or create user", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "server_error", "failed to create user")
		return
	}

	generatedKey, err := auth.GenerateAPIKey(auth.EnvLive)
	if err != nil {
		h.logger.Error("failed to generate API key", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "server_error", "failed to generate API key")
		return
	}

	apiKey := &model.APIKey{
		ID:        ulid.Make().String(),
		UserID:    user.ID,
		KeyHash:   generatedKey.Hash,
		KeyPrefix: generatedKey.Prefix,
		Name:      req.Name,
		CreatedAt: time.Now(),
	}

	if err := h.repository.CreateAPIKey(ctx, apiKey); err != nil {
		h.logger.Error("failed to create API key", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "server_error", "failed to create API key")
		return
	}

	h.logger.Info("API key created",
		slog.String("key_id", apiKey.ID),
		slog.String("key_prefix", apiKey.KeyPrefix),
		slog.String("user_id", user.ID),
	)

	writeJSON(w, http.StatusCreated, createKeyResponse{
		APIKey: generatedKey.Plaintext,
		Prefix: generatedKey.Prefix,
		Name:   req.Name,
	})
}

// RevokeKey handles DELETE /keys/{prefix}. Only the owner can revoke,
// and the cached auth contexts for the prefix are dropped so the key
// stops resolving immediately.
func (h *KeyHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx := auth.AuthFromContext(ctx)
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "auth_error", "authentication required")
		return
	}

	prefix := chi.URLParam(r, "prefix")
	if prefix == "" {
		writeError(w, http.StatusNotFound, "not_found", "key not found")
		return
	}

	if err := h.repository.RevokeAPIKeyByPrefix(ctx, authCtx.UserID, prefix); err != nil {
		if errors.Is(err, repository.ErrAPIKeyNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "key not found")
			return
		}
		h.logger.Error("failed to revoke API key", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "server_error", "failed to revoke key")
		return
	}

	if h.cache != nil {
		if err := h.cache.DeleteAuthContextsByKeyPrefix(ctx, prefix); err != nil {
			h.logger.Warn("failed to invalidate cached auth contexts",
				slog.String("key_prefix", prefix),
				slog.String("error", err.Error()),
			)
		}
	}

	h.logger.Info("API key revoked",
		slog.String("key_prefix", prefix),
		slog.String("user_id", authCtx.UserID),
	)

	w.WriteHeader(http.StatusNoContent)
}
