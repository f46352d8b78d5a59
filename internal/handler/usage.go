package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tokengate/tokengate/internal/auth"
	"github.com/tokengate/tokengate/internal/model"
	"github.com/tokengate/tokengate/internal/repository"
)

const (
	usageWindow      = 30 * 24 * time.Hour
	recentUsageLimit = 20
)

// UsageHandler serves the account usage dashboard endpoint.
type UsageHandler struct {
	logger     *slog.Logger
	repository *repository.Repository
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(logger *slog.Logger, repo *repository.Repository) *UsageHandler {
	return &UsageHandler{
		logger:     logger,
		repository: repo,
	}
}

type usageResponse struct {
	Balance            int64                  `json:"balance"`
	SubscriptionActive bool                   `json:"subscription_active"`
	UsageLast30Days    *model.UsageSummary    `json:"usage_last_30_days"`
	RecentRequests     []*model.UsageRecord   `json:"recent_requests"`
	Keys               []model.APIKeyResponse `json:"keys"`
}

// GetUsage handles GET /usage.
func (h *UsageHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx := auth.AuthFromContext(ctx)
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "auth_error", "authentication required")
		return
	}

	balance, err := h.repository.GetBalance(ctx, authCtx.UserID)
	if err != nil && !errors.Is(err, repository.ErrBalanceNotFound) {
		h.logger.Error("balance lookup failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	// Subscription state is read fresh here rather than from the cached
	// auth context: this is the page users check after paying.
	user, err := h.repository.GetUserByID(ctx, authCtx.UserID)
	if err != nil {
		h.logger.Error("user lookup failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	summary, err := h.repository.SummarizeUsage(ctx, authCtx.UserID, time.Now().Add(-usageWindow))
	if err != nil {
		h.logger.Error("usage summary failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	recent, err := h.repository.ListRecentUsage(ctx, authCtx.UserID, recentUsageLimit)
	if err != nil {
		h.logger.Error("recent usage lookup failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	keys, err := h.repository.ListAPIKeysByUserID(ctx, authCtx.UserID)
	if err != nil {
		h.logger.Error("key list failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	keyResponses := make([]model.APIKeyResponse, 0, len(keys))
	for _, key := range keys {
		keyResponses = append(keyResponses, key.ToResponse())
	}
	if recent == nil {
		recent = []*model.UsageRecord{}
	}

	writeJSON(w, http.StatusOK, usageResponse{
		Balance:            balance,
		SubscriptionActive: user.SubscriptionActive(time.Now()),
		UsageLast30Days:    summary,
		RecentRequests:     recent,
		Keys:               keyResponses,
	})
}
