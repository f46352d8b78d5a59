package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/tokengate/tokengate/internal/model"
)

// ApplyCreditPurchase credits the user's balance for an external payment,
// deduplicated on the payment processor's event identifier. The dedup
// record and the credit are written in one transaction: both or neither.
//
// Returns false with no mutation when the event was already applied,
// which makes at-least-once webhook delivery safe to replay.
func (r *Repository) ApplyCreditPurchase(ctx context.Context, eventID, userID string, amount int64) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx,
		`INSERT INTO payment_events (event_id, kind, user_id, amount, created_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID, model.PaymentKindCredits, userID, amount,
	)
	if err != nil {
		return false, fmt.Errorf("insert payment event: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Duplicate delivery; the original application already happened.
		return false, nil
	}

	if err := r.CreditBalanceTx(ctx, tx, userID, amount); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	return true, nil
}

// ApplySubscriptionPayment extends the user's subscription expiry,
// deduplicated on the payment processor's event identifier the same way
// as ApplyCreditPurchase.
func (r *Repository) ApplySubscriptionPayment(ctx context.Context, eventID, userID string, expiresAt time.Time) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx,
		`INSERT INTO payment_events (event_id, kind, user_id, amount, created_at)
		 VALUES ($1, $2, $3, 0, NOW())
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID, model.PaymentKindSubscription, userID,
	)
	if err != nil {
		return false, fmt.Errorf("insert payment event: %w", err)
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET subscription_expires_at = $2 WHERE id = $1`,
		userID, expiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("extend subscription: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	return true, nil
}

// GetPaymentEvent retrieves an applied payment event by processor event ID.
func (r *Repository) GetPaymentEvent(ctx context.Context, eventID string) (*model.PaymentEvent, error) {
	var ev model.PaymentEvent
	err := r.pool.QueryRow(ctx,
		`SELECT event_id, kind, user_id, amount, created_at
		 FROM payment_events WHERE event_id = $1`,
		eventID,
	).Scan(&ev.EventID, &ev.Kind, &ev.UserID, &ev.Amount, &ev.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment event: %w", err)
	}
	return &ev, nil
}
