package model

import "time"

// APIKey represents an API key entity. The raw secret is never stored;
// only its argon2id hash and a short visible prefix for lookup.
type APIKey struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	KeyHash    string     `json:"-"` // Never serialize
	KeyPrefix  string     `json:"key_prefix"`
	Name       string     `json:"name,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsRevoked returns true if the key has been revoked.
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// AuthContext holds authenticated request context.
// This is injected into the request context by auth middleware.
type AuthContext struct {
	KeyID              string
	KeyPrefix          string
	UserID             string
	SubscriptionActive bool
}

// APIKeyResponse represents the response for an API key (without secrets).
type APIKeyResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	KeyPrefix  string     `json:"key_prefix"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Revoked    bool       `json:"revoked"`
}

// ToResponse converts an APIKey to APIKeyResponse.
func (k *APIKey) ToResponse() APIKeyResponse {
	return APIKeyResponse{
		ID:         k.ID,
		Name:       k.Name,
		KeyPrefix:  k.KeyPrefix,
		CreatedAt:  k.CreatedAt,
		LastUsedAt: k.LastUsedAt,
		Revoked:    k.IsRevoked(),
	}
}
