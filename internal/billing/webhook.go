package billing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"
)

// ErrBadSignature means the payload failed Stripe signature verification
// and must be rejected with a 400 so Stripe retries.
var ErrBadSignature = errors.New("invalid webhook signature")

// ProcessWebhook verifies a webhook delivery against the endpoint secret
// and applies it. Signature failure is the only error returned; every
// post-signature outcome is acknowledged so Stripe does not retry
// deliveries we have already seen or cannot use. Failures past that
// point are logged, making log monitoring the operational backstop for
// missed credit applications.
func (s *Service) ProcessWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := webhook.ConstructEvent(payload, sigHeader, s.cfg.StripeWebhookSecret)
	if err != nil {
		s.logger.Warn("webhook signature verification failed", "error", err)
		return ErrBadSignature
	}

	switch event.Type {
	case "checkout.session.completed":
		s.handleCheckoutCompleted(ctx, event)
	case "invoice.payment_succeeded":
		s.handleInvoicePaid(ctx, event)
	case "customer.subscription.deleted", "invoice.payment_failed":
		// No immediate revocation: the stored expiry lapses naturally.
		s.logger.Info("subscription lapse event acknowledged", "type", event.Type, "event_id", event.ID)
	default:
		s.logger.Debug("unhandled webhook event acknowledged", "type", event.Type, "event_id", event.ID)
	}
	return nil
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event stripe.Event) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		s.logger.Error("malformed checkout.session.completed payload", "event_id", event.ID, "error", err)
		return
	}

	userID := session.Metadata["user_id"]
	if userID == "" {
		s.logger.Error("checkout session missing user_id metadata", "session_id", session.ID)
		return
	}

	switch session.Mode {
	case stripe.CheckoutSessionModePayment:
		if session.AmountTotal <= 0 {
			s.logger.Error("checkout session with non-positive amount",
				"session_id", session.ID,
				"amount", session.AmountTotal,
			)
			return
		}
		applied, err := s.store.ApplyCreditPurchase(ctx, session.ID, userID, session.AmountTotal)
		if err != nil {
			s.logger.Error("failed to apply credit purchase",
				"session_id", session.ID,
				"user_id", userID,
				"amount", session.AmountTotal,
				"error", err,
			)
			return
		}
		if !applied {
			s.logger.Info("duplicate credit purchase ignored", "session_id", session.ID)
			return
		}
		s.logger.Info("credits applied",
			"session_id", session.ID,
			"user_id", userID,
			"amount", session.AmountTotal,
		)
	case stripe.CheckoutSessionModeSubscription:
		s.extendSubscription(ctx, session.ID, userID)
	default:
		s.logger.Warn("checkout session in unexpected mode",
			"session_id", session.ID,
			"mode", string(session.Mode),
		)
	}
}

func (s *Service) handleInvoicePaid(ctx context.Context, event stripe.Event) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		s.logger.Error("malformed invoice.payment_succeeded payload", "event_id", event.ID, "error", err)
		return
	}
	if invoice.Customer == nil || invoice.Customer.ID == "" {
		s.logger.Error("invoice without customer", "invoice_id", invoice.ID)
		return
	}

	user, err := s.store.GetUserByStripeCustomerID(ctx, invoice.Customer.ID)
	if err != nil {
		if userNotFound(err) {
			s.logger.Warn("invoice for unknown customer",
				"invoice_id", invoice.ID,
				"customer_id", invoice.Customer.ID,
			)
			return
		}
		s.logger.Error("failed to resolve invoice customer",
			"invoice_id", invoice.ID,
			"customer_id", invoice.Customer.ID,
			"error", err,
		)
		return
	}

	s.extendSubscription(ctx, invoice.ID, user.ID)
}

// extendSubscription applies one paid period, deduplicated on eventID.
func (s *Service) extendSubscription(ctx context.Context, eventID, userID string) {
	expiresAt := s.subscriptionExpiry(time.Now())

	applied, err := s.store.ApplySubscriptionPayment(ctx, eventID, userID, expiresAt)
	if err != nil {
		s.logger.Error("failed to apply subscription payment",
			"event_id", eventID,
			"user_id", userID,
			"error", err,
		)
		return
	}
	if !applied {
		s.logger.Info("duplicate subscription payment ignored", "event_id", eventID)
		return
	}
	s.logger.Info("subscription extended",
		"event_id", eventID,
		"user_id", userID,
		"expires_at", expiresAt,
	)
}
