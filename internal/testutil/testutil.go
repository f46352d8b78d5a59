package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tokengate/tokengate/internal/model"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 917917

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// migrationNames lists migrations in apply order. Down migrations run
// in reverse so foreign keys into earlier tables never block a drop.
var migrationNames = []string{"000001_core", "000002_billing"}

// ResetDatabase drops and recreates the full schema for tests.
func ResetDatabase(ctx context.Context, pool *pgxpool.Pool) error {
	for i := len(migrationNames) - 1; i >= 0; i-- {
		if err := applyMigration(ctx, pool, migrationNames[i]+".down.sql"); err != nil {
			return err
		}
	}
	for _, name := range migrationNames {
		if err := applyMigration(ctx, pool, name+".up.sql"); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, filename string) error {
	root, err := ProjectRoot()
	if err != nil {
		return err
	}

	sql, err := os.ReadFile(filepath.Join(root, "migrations", filename))
	if err != nil {
		return fmt.Errorf("read migration %s: %w", filename, err)
	}
	if _, err := pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("apply migration %s: %w", filename, err)
	}
	return nil
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// ProjectRoot returns the project root directory.
func ProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to resolve testutil path")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
	return root, nil
}

// ============================================================================
// Test Data Factories
// ============================================================================

// NewTestUser creates a test user with sensible defaults.
func NewTestUser(t testing.TB) *model.User {
	t.Helper()
	now := time.Now().UTC()
	return &model.User{
		ID:        fmt.Sprintf("user-%d", now.UnixNano()),
		Email:     fmt.Sprintf("user-%d@example.com", now.UnixNano()),
		CreatedAt: now,
	}
}

// NewTestUserWithSubscription creates a test user whose subscription
// is paid up until expiresAt.
func NewTestUserWithSubscription(t testing.TB, expiresAt time.Time) *model.User {
	t.Helper()
	user := NewTestUser(t)
	user.SubscriptionExpiresAt = &expiresAt
	return user
}

// NewTestAPIKey creates a test API key with sensible defaults.
// The hash is a placeholder; tests that exercise verification should
// generate a real key via the auth package.
func NewTestAPIKey(t testing.TB, userID string) *model.APIKey {
	t.Helper()
	now := time.Now().UTC()
	return &model.APIKey{
		ID:        fmt.Sprintf("key-%d", now.UnixNano()),
		UserID:    userID,
		KeyHash:   fmt.Sprintf("hash-%d", now.UnixNano()),
		KeyPrefix: fmt.Sprintf("%06x", now.UnixNano()%0xffffff),
		Name:      "Test Key",
		CreatedAt: now,
	}
}

// NewTestUsageRecord creates a usage record with sensible defaults.
func NewTestUsageRecord(t testing.TB, userID string) *model.UsageRecord {
	t.Helper()
	now := time.Now().UTC()
	return &model.UsageRecord{
		ID:           UniqueID("usage"),
		UserID:       userID,
		Provider:     "openai",
		Model:        "gpt-4o",
		InputTokens:  1000,
		OutputTokens: 500,
		Cost:         42,
		CreatedAt:    now,
	}
}

// UniqueID generates a unique ID for tests.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
