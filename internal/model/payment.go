package model

import "time"

// Payment event kinds.
const (
	PaymentKindCredits      = "credits"
	PaymentKindSubscription = "subscription"
)

// PaymentEvent records one applied payment-processor event, keyed by the
// processor's event identifier. Its existence is the idempotency guard
// against duplicate webhook delivery.
type PaymentEvent struct {
	EventID   string    `json:"event_id"`
	Kind      string    `json:"kind"`
	UserID    string    `json:"user_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}
