// Package model defines domain entities for the application.
package model

import "time"

// User represents an account that owns API keys and a credit balance.
type User struct {
	ID                    string     `json:"id"`
	Email                 string     `json:"email"`
	StripeCustomerID      *string    `json:"-"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

// SubscriptionActive reports whether the user's subscription covers the given instant.
func (u *User) SubscriptionActive(now time.Time) bool {
	return u.SubscriptionExpiresAt != nil && u.SubscriptionExpiresAt.After(now)
}
