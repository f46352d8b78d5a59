// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Cache (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts. WriteTimeout must cover the longest streamed relay,
	// so it defaults far higher than a typical JSON API.
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10m"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Upstream providers
	OpenAIAPIKey     string `env:"OPENAI_API_KEY,required"`
	OpenAIBaseURL    string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com"`
	AnthropicAPIKey  string `env:"ANTHROPIC_API_KEY,required"`
	AnthropicBaseURL string `env:"ANTHROPIC_BASE_URL" envDefault:"https://api.anthropic.com"`

	// Bound on waiting for an unresponsive upstream: time to first response
	// headers, and the longest allowed gap between stream chunks.
	UpstreamHeaderTimeout time.Duration `env:"UPSTREAM_HEADER_TIMEOUT" envDefault:"60s"`
	StreamIdleTimeout     time.Duration `env:"STREAM_IDLE_TIMEOUT" envDefault:"90s"`

	// Payment processor (Stripe)
	StripeSecretKey           string        `env:"STRIPE_SECRET_KEY,required"`
	StripeWebhookSecret       string        `env:"STRIPE_WEBHOOK_SECRET,required"`
	StripeSubscriptionPriceID string        `env:"STRIPE_SUBSCRIPTION_PRICE_ID"`
	CheckoutSuccessURL        string        `env:"CHECKOUT_SUCCESS_URL" envDefault:"http://localhost:8080/billing/success"`
	CheckoutCancelURL         string        `env:"CHECKOUT_CANCEL_URL" envDefault:"http://localhost:8080/billing/cancel"`
	PortalReturnURL           string        `env:"PORTAL_RETURN_URL" envDefault:"http://localhost:8080"`
	MinCreditPurchase         int64         `env:"MIN_CREDIT_PURCHASE" envDefault:"500"`
	SubscriptionPeriod        time.Duration `env:"SUBSCRIPTION_PERIOD" envDefault:"720h"`
	SubscriptionGrace         time.Duration `env:"SUBSCRIPTION_GRACE" envDefault:"72h"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 10MB; chat payloads carry
	// full conversation history).
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"10485760"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
