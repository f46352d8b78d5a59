package model

import "time"

// UsageRecord is one billed request in the append-only usage journal.
// Records are immutable once written and read only for aggregation.
type UsageRecord struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	Cost         int64     `json:"cost"`
	CreatedAt    time.Time `json:"created_at"`
}

// UsageSummary aggregates usage records over a window.
type UsageSummary struct {
	Requests     int64 `json:"requests"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	Cost         int64 `json:"cost"`
}
