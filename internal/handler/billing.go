package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tokengate/tokengate/internal/auth"
	"github.com/tokengate/tokengate/internal/billing"
)

// maxWebhookBody caps webhook payload reads. Stripe events are small;
// anything larger is not a legitimate delivery.
const maxWebhookBody = 256 * 1024

// BillingHandler exposes checkout, portal, and the Stripe webhook.
type BillingHandler struct {
	logger  *slog.Logger
	service *billing.Service
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(logger *slog.Logger, service *billing.Service) *BillingHandler {
	return &BillingHandler{
		logger:  logger,
		service: service,
	}
}

type checkoutRequest struct {
	Type   string `json:"type"`
	Amount int64  `json:"amount"`
}

// Checkout handles POST /billing/checkout.
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx := auth.AuthFromContext(ctx)
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "auth_error", "authentication required")
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "proxy_error", "invalid request body")
		return
	}

	url, err := h.service.CreateCheckoutSession(ctx, authCtx.UserID, billing.CheckoutType(req.Type), req.Amount)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidAmount) || errors.Is(err, billing.ErrInvalidCheckoutType) {
			writeError(w, http.StatusBadRequest, "proxy_error", err.Error())
			return
		}
		h.logger.Error("checkout session failed",
			slog.String("user_id", authCtx.UserID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "server_error", "failed to create checkout session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Portal handles GET /billing/portal.
func (h *BillingHandler) Portal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx := auth.AuthFromContext(ctx)
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "auth_error", "authentication required")
		return
	}

	url, err := h.service.CreatePortalSession(ctx, authCtx.UserID)
	if err != nil {
		h.logger.Error("portal session failed",
			slog.String("user_id", authCtx.UserID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "server_error", "failed to create portal session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Webhook handles POST /billing/webhook. Signature verification needs
// the exact raw bytes Stripe signed, so the body is read before any
// JSON decoding.
func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "proxy_error", "failed to read payload")
		return
	}

	if err := h.service.ProcessWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		writeError(w, http.StatusBadRequest, "proxy_error", "invalid signature")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
