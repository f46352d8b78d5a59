// Package billing integrates Stripe: checkout sessions for credit
// purchases and subscriptions, the customer billing portal, and the
// webhook that applies paid events to the ledger.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"

	"github.com/tokengate/tokengate/internal/config"
	"github.com/tokengate/tokengate/internal/model"
	"github.com/tokengate/tokengate/internal/repository"
)

// Store is the persistence surface billing needs.
type Store interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByStripeCustomerID(ctx context.Context, customerID string) (*model.User, error)
	SetStripeCustomerID(ctx context.Context, userID, customerID string) error
	ApplyCreditPurchase(ctx context.Context, eventID, userID string, amount int64) (bool, error)
	ApplySubscriptionPayment(ctx context.Context, eventID, userID string, expiresAt time.Time) (bool, error)
}

// CheckoutType selects what a checkout session purchases.
type CheckoutType string

const (
	CheckoutCredits      CheckoutType = "credits"
	CheckoutSubscription CheckoutType = "subscription"
)

// Service drives the Stripe API.
type Service struct {
	cfg    *config.Config
	store  Store
	stripe *client.API
	logger *slog.Logger
}

// NewService creates a billing service with its own Stripe client.
func NewService(cfg *config.Config, store Store, logger *slog.Logger) *Service {
	api := &client.API{}
	api.Init(cfg.StripeSecretKey, nil)
	return &Service{
		cfg:    cfg,
		store:  store,
		stripe: api,
		logger: logger.With("component", "billing"),
	}
}

// CreateCheckoutSession starts a Stripe checkout for the given user.
// Credits use a one-time payment with the amount as the line item;
// subscriptions use the configured recurring price.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID string, checkoutType CheckoutType, amount int64) (string, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}

	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return "", err
	}

	params := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(customerID),
		SuccessURL: stripe.String(s.cfg.CheckoutSuccessURL),
		CancelURL:  stripe.String(s.cfg.CheckoutCancelURL),
	}
	params.AddMetadata("user_id", user.ID)

	switch checkoutType {
	case CheckoutCredits:
		if amount < s.cfg.MinCreditPurchase {
			return "", fmt.Errorf("%w: minimum purchase is %d", ErrInvalidAmount, s.cfg.MinCreditPurchase)
		}
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String("usd"),
				UnitAmount: stripe.Int64(amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("TokenGate credits"),
				},
			},
			Quantity: stripe.Int64(1),
		}}
		params.AddMetadata("credit_amount", fmt.Sprintf("%d", amount))
	case CheckoutSubscription:
		if s.cfg.StripeSubscriptionPriceID == "" {
			return "", errors.New("subscription price not configured")
		}
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(s.cfg.StripeSubscriptionPriceID),
			Quantity: stripe.Int64(1),
		}}
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCheckoutType, checkoutType)
	}

	session, err := s.stripe.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}

	s.logger.Info("checkout session created",
		"user_id", user.ID,
		"type", string(checkoutType),
		"session_id", session.ID,
	)
	return session.URL, nil
}

// CreatePortalSession returns a billing-portal URL for the user.
func (s *Service) CreatePortalSession(ctx context.Context, userID string) (string, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}

	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return "", err
	}

	session, err := s.stripe.BillingPortalSessions.New(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(s.cfg.PortalReturnURL),
	})
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return session.URL, nil
}

// ensureCustomer returns the user's Stripe customer id, creating the
// customer on first use and storing the reference.
func (s *Service) ensureCustomer(ctx context.Context, user *model.User) (string, error) {
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return *user.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
	}
	params.AddMetadata("user_id", user.ID)

	customer, err := s.stripe.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}

	if err := s.store.SetStripeCustomerID(ctx, user.ID, customer.ID); err != nil {
		// Another request may have won the race; re-read and use the
		// stored id so one user never accumulates customers silently.
		stored, rerr := s.store.GetUserByID(ctx, user.ID)
		if rerr == nil && stored.StripeCustomerID != nil && *stored.StripeCustomerID != "" {
			return *stored.StripeCustomerID, nil
		}
		return "", fmt.Errorf("store stripe customer id: %w", err)
	}

	s.logger.Info("stripe customer created", "user_id", user.ID, "customer_id", customer.ID)
	return customer.ID, nil
}

// subscriptionExpiry computes the expiry granted by one paid period.
func (s *Service) subscriptionExpiry(now time.Time) time.Time {
	return now.Add(s.cfg.SubscriptionPeriod + s.cfg.SubscriptionGrace)
}

// Sentinel errors surfaced to handlers as 400s.
var (
	ErrInvalidAmount       = errors.New("invalid credit amount")
	ErrInvalidCheckoutType = errors.New("invalid checkout type")
)

// userNotFound reports whether err means the user backing an event no
// longer exists.
func userNotFound(err error) bool {
	return errors.Is(err, repository.ErrUserNotFound)
}
