package auth

import (
	"strings"
	"testing"
)

func TestGenerateAPIKey(t *testing.T) {
	t.Parallel()

	generated, err := GenerateAPIKey(EnvLive)
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}

	if !strings.HasPrefix(generated.Plaintext, "tg_live_") {
		t.Errorf("Expected tg_live_ prefix, got: %s", generated.Plaintext)
	}
	if !ValidateKeyFormat(generated.Plaintext) {
		t.Errorf("Generated key should match the key format: %s", generated.Plaintext)
	}
	if len(generated.Prefix) != KeyPrefixLen {
		t.Errorf("Expected prefix length %d, got %d", KeyPrefixLen, len(generated.Prefix))
	}
	if !strings.Contains(generated.Plaintext, "_"+generated.Prefix+"_") {
		t.Error("Plaintext key should embed the visible prefix")
	}

	// The hash must verify against the plaintext
	match, err := VerifyKey(generated.Plaintext, generated.Hash)
	if err != nil {
		t.Fatalf("VerifyKey failed: %v", err)
	}
	if !match {
		t.Error("Generated key should verify against its hash")
	}
}

func TestGenerateAPIKey_TestEnv(t *testing.T) {
	t.Parallel()

	generated, err := GenerateAPIKey(EnvTest)
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}

	if !strings.HasPrefix(generated.Plaintext, "tg_test_") {
		t.Errorf("Expected tg_test_ prefix, got: %s", generated.Plaintext)
	}
}

func TestGenerateAPIKey_InvalidEnvDefaultsToLive(t *testing.T) {
	t.Parallel()

	generated, err := GenerateAPIKey("staging")
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}

	if !strings.HasPrefix(generated.Plaintext, "tg_live_") {
		t.Errorf("Unknown env should default to live, got: %s", generated.Plaintext)
	}
}

func TestGenerateAPIKey_Uniqueness(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		generated, err := GenerateAPIKey(EnvLive)
		if err != nil {
			t.Fatalf("GenerateAPIKey failed: %v", err)
		}
		if seen[generated.Plaintext] {
			t.Fatal("Generated duplicate key")
		}
		seen[generated.Plaintext] = true
	}
}

func TestParseAPIKey(t *testing.T) {
	t.Parallel()

	parsed, err := ParseAPIKey("tg_live_a1b2c3_0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("ParseAPIKey failed: %v", err)
	}

	if parsed.Env != "live" {
		t.Errorf("Expected env live, got: %s", parsed.Env)
	}
	if parsed.Prefix != "a1b2c3" {
		t.Errorf("Expected prefix a1b2c3, got: %s", parsed.Prefix)
	}
	if parsed.Secret != "0123456789abcdef0123456789abcdef" {
		t.Errorf("Unexpected secret: %s", parsed.Secret)
	}
}

func TestParseAPIKey_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"wrong scheme", "sk_live_a1b2c3_0123456789abcdef0123456789abcdef"},
		{"unknown env", "tg_prod_a1b2c3_0123456789abcdef0123456789abcdef"},
		{"short prefix", "tg_live_a1b2_0123456789abcdef0123456789abcdef"},
		{"short secret", "tg_live_a1b2c3_0123456789abcdef"},
		{"uppercase hex", "tg_live_A1B2C3_0123456789ABCDEF0123456789ABCDEF"},
		{"trailing garbage", "tg_live_a1b2c3_0123456789abcdef0123456789abcdefx"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseAPIKey(tt.key); err == nil {
				t.Errorf("Expected error for key: %s", tt.key)
			}
			if ValidateKeyFormat(tt.key) {
				t.Errorf("ValidateKeyFormat should reject: %s", tt.key)
			}
		})
	}
}
