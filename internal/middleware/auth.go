package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tokengate/tokengate/internal/auth"
	"github.com/tokengate/tokengate/internal/cache"
	"github.com/tokengate/tokengate/internal/metrics"
	"github.com/tokengate/tokengate/internal/model"
	"github.com/tokengate/tokengate/internal/repository"
)

// lastUsedTimeout bounds the async last_used_at update.
const lastUsedTimeout = 5 * time.Second

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger     *slog.Logger
	Repository *repository.Repository
	Cache      *cache.Cache
	Metrics    metrics.Recorder
}

// Auth returns a middleware that authenticates API requests.
// It extracts the API key from the Authorization header, verifies it
// against the stored argon2id hash, and injects the auth context into
// the request.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, ok := resolveKey(cfg, r)
			if !ok {
				writeAuthError(w)
				return
			}

			ctx := auth.ContextWithAuth(r.Context(), authCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SoftAuth resolves a presented key without requiring one: with a valid
// key the auth context is injected, otherwise the request proceeds
// anonymously. Used by the root info endpoint.
func SoftAuth(cfg AuthConfig) func(http.Handler) http.Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if extractAPIKey(r) == "" {
				next.ServeHTTP(w, r)
				return
			}

			if authCtx, ok := resolveKey(cfg, r); ok {
				r = r.WithContext(auth.ContextWithAuth(r.Context(), authCtx))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// resolveKey authenticates the presented key: format check, cache
// lookup, then prefix-indexed hash verification against Postgres.
func resolveKey(cfg AuthConfig, r *http.Request) (*model.AuthContext, bool) {
	key := extractAPIKey(r)
	if key == "" {
		cfg.Logger.Warn("authentication failed",
			slog.String("reason", "missing_key"),
			slog.String("ip", r.RemoteAddr),
			slog.String("endpoint", r.Method+" "+r.URL.Path),
			slog.String("request_id", GetRequestID(r.Context())),
		)
		return nil, false
	}

	// Validate key format
	parsed, err := auth.ParseAPIKey(key)
	if err != nil {
		cfg.Logger.Warn("authentication failed",
			slog.String("reason", "invalid_format"),
			slog.String("ip", r.RemoteAddr),
			slog.String("endpoint", r.Method+" "+r.URL.Path),
			slog.String("request_id", GetRequestID(r.Context())),
		)
		return nil, false
	}

	// Check cache first. The cache key carries the visible prefix so
	// revocation can purge every entry for a key immediately.
	cacheKey := cache.AuthCacheKey(parsed.Prefix, auth.QuickHash(key))
	authCtx, _ := cfg.Cache.GetAuthContext(r.Context(), cacheKey)

	if authCtx != nil {
		cfg.Metrics.IncAuthCacheHit()
		cfg.Logger.Debug("authentication successful",
			slog.String("key_id", authCtx.KeyID),
			slog.String("key_prefix", authCtx.KeyPrefix),
			slog.String("user_id", authCtx.UserID),
			slog.Bool("cache_hit", true),
			slog.String("request_id", GetRequestID(r.Context())),
		)
		return authCtx, true
	}
	cfg.Metrics.IncAuthCacheMiss()

	// Cache miss - lookup by prefix
	keys, err := cfg.Repository.GetAPIKeysByPrefix(r.Context(), parsed.Prefix)
	if err != nil {
		cfg.Logger.Error("database error during auth",
			slog.String("error", err.Error()),
			slog.String("request_id", GetRequestID(r.Context())),
		)
		return nil, false
	}

	if len(keys) == 0 {
		cfg.Logger.Warn("authentication failed",
			slog.String("reason", "invalid_key"),
			slog.String("ip", r.RemoteAddr),
			slog.String("endpoint", r.Method+" "+r.URL.Path),
			slog.String("request_id", GetRequestID(r.Context())),
		)
		return nil, false
	}

	// Verify against each candidate key (handles prefix collisions)
	var matchedKey *model.APIKey
	for _, k := range keys {
		match, err := auth.VerifyKey(key, k.KeyHash)
		if err != nil {
			continue
		}
		if match {
			matchedKey = k
			break
		}
	}

	if matchedKey == nil {
		cfg.Logger.Warn("authentication failed",
			slog.String("reason", "invalid_key"),
			slog.String("ip", r.RemoteAddr),
			slog.String("endpoint", r.Method+" "+r.URL.Path),
			slog.String("request_id", GetRequestID(r.Context())),
		)
		return nil, false
	}

	// Subscription state rides in the auth context; staleness is bounded
	// by the cache TTL.
	subscriptionActive := false
	user, err := cfg.Repository.GetUserByID(r.Context(), matchedKey.UserID)
	if err != nil {
		cfg.Logger.Error("user lookup during auth failed",
			slog.String("user_id", matchedKey.UserID),
			slog.String("error", err.Error()),
			slog.String("request_id", GetRequestID(r.Context())),
		)
		return nil, false
	}
	subscriptionActive = user.SubscriptionActive(time.Now())

	authCtx = &model.AuthContext{
		KeyID:              matchedKey.ID,
		KeyPrefix:          matchedKey.KeyPrefix,
		UserID:             matchedKey.UserID,
		SubscriptionActive: subscriptionActive,
	}

	// Cache the result
	_ = cfg.Cache.SetAuthContext(r.Context(), cacheKey, authCtx)

	// Update last_used_at asynchronously, off the request context
	keyID := matchedKey.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), lastUsedTimeout)
		defer cancel()
		_ = cfg.Repository.UpdateAPIKeyLastUsed(ctx, keyID)
	}()

	cfg.Logger.Debug("authentication successful",
		slog.String("key_id", authCtx.KeyID),
		slog.String("key_prefix", authCtx.KeyPrefix),
		slog.String("user_id", authCtx.UserID),
		slog.Bool("cache_hit", false),
		slog.String("request_id", GetRequestID(r.Context())),
	)
	return authCtx, true
}

// extractAPIKey extracts the API key from the request.
// Supports both "Authorization: Bearer <key>" and "X-API-Key: <key>" headers.
func extractAPIKey(r *http.Request) string {
	// Try Authorization header first
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		if strings.HasPrefix(authHeader, "Bearer ") {
			return strings.TrimPrefix(authHeader, "Bearer ")
		}
	}

	// Fall back to X-API-Key header
	return r.Header.Get("X-API-Key")
}

// writeAuthError writes a 401 Unauthorized response.
// Uses the same message for all auth failures to prevent enumeration.
func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"message":"invalid or missing API key","type":"auth_error"}}`))
}
