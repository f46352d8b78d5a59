package journal

import "errors"

// ValidateUsagePayload checks a payload deserialized from the stream
// before it reaches Postgres. Records failing these checks go to the
// dead-letter stream rather than poisoning the batch.
func ValidateUsagePayload(p UsagePayload) error {
	if p.RecordID == "" {
		return errors.New("record id is required")
	}
	if p.UserID == "" {
		return errors.New("user_id is required")
	}
	if p.Provider != "openai" && p.Provider != "anthropic" {
		return errors.New("unknown provider")
	}
	if p.Model == "" {
		return errors.New("model is required")
	}
	if p.InputTokens < 0 || p.OutputTokens < 0 {
		return errors.New("token counts must be non-negative")
	}
	if p.Cost < 0 {
		return errors.New("cost must be non-negative")
	}
	if p.RequestedAt <= 0 {
		return errors.New("requested_at is required")
	}
	return nil
}
