package journal

import (
	"testing"
	"time"
)

func TestValidateUsagePayload(t *testing.T) {
	valid := UsagePayload{
		RecordID:     "01J0RECORD000000000000TEST",
		UserID:       "01J0USER00000000000000TEST",
		Provider:     "openai",
		Model:        "gpt-4o",
		InputTokens:  120,
		OutputTokens: 450,
		Cost:         3,
		RequestedAt:  time.Now().UnixMilli(),
	}

	if err := ValidateUsagePayload(valid); err != nil {
		t.Fatalf("expected valid payload, got %v", err)
	}

	cases := []struct {
		name    string
		payload UsagePayload
	}{
		{"missing_record_id", UsagePayload{UserID: "u", Provider: "openai", Model: "gpt-4o", RequestedAt: 1}},
		{"missing_user_id", UsagePayload{RecordID: "r", Provider: "openai", Model: "gpt-4o", RequestedAt: 1}},
		{"unknown_provider", UsagePayload{RecordID: "r", UserID: "u", Provider: "cohere", Model: "command", RequestedAt: 1}},
		{"missing_model", UsagePayload{RecordID: "r", UserID: "u", Provider: "anthropic", RequestedAt: 1}},
		{"negative_input_tokens", UsagePayload{RecordID: "r", UserID: "u", Provider: "openai", Model: "gpt-4o", InputTokens: -1, RequestedAt: 1}},
		{"negative_output_tokens", UsagePayload{RecordID: "r", UserID: "u", Provider: "openai", Model: "gpt-4o", OutputTokens: -1, RequestedAt: 1}},
		{"negative_cost", UsagePayload{RecordID: "r", UserID: "u", Provider: "openai", Model: "gpt-4o", Cost: -1, RequestedAt: 1}},
		{"missing_requested_at", UsagePayload{RecordID: "r", UserID: "u", Provider: "openai", Model: "gpt-4o"}},
	}

	for _, tc := range cases {
		if err := ValidateUsagePayload(tc.payload); err == nil {
			t.Fatalf("expected error for %s", tc.name)
		}
	}
}
