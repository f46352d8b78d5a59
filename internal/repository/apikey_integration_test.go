//go:build integration

package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/tokengate/tokengate/internal/model"
	"github.com/tokengate/tokengate/internal/testutil"
)

func TestIntegrationAPIKey_CreateAndLookupByPrefix(t *testing.T) {
	ctx, repo := newLedgerTestEnv(t)

	user := testutil.NewTestUser(t)
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	key := testutil.NewTestAPIKey(t, user.ID)
	if err := repo.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}

	keys, err := repo.GetAPIKeysByPrefix(ctx, key.KeyPrefix)
	if err != nil {
		t.Fatalf("GetAPIKeysByPrefix failed: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(keys))
	}
	if keys[0].ID != key.ID {
		t.Errorf("ID mismatch: got %q, want %q", keys[0].ID, key.ID)
	}
	if keys[0].KeyHash != key.KeyHash {
		t.Errorf("KeyHash mismatch: got %q, want %q", keys[0].KeyHash, key.KeyHash)
	}
}

func TestIntegrationAPIKey_RevokedKeysNotReturned(t *testing.T) {
	ctx, repo := newLedgerTestEnv(t)

	user := testutil.NewTestUser(t)
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	key := testutil.NewTestAPIKey(t, user.ID)
	if err := repo.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}

	if err := repo.RevokeAPIKeyByPrefix(ctx, user.ID, key.KeyPrefix); err != nil {
		t.Fatalf("RevokeAPIKeyByPrefix failed: %v", err)
	}

	keys, err := repo.GetAPIKeysByPrefix(ctx, key.KeyPrefix)
	if err != nil {
		t.Fatalf("GetAPIKeysByPrefix failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("revoked key should not be returned for auth, got %d keys", len(keys))
	}
}

func TestIntegrationAPIKey_RevokeWrongOwner(t *testing.T) {
	ctx, repo := newLedgerTestEnv(t)

	owner := testutil.NewTestUser(t)
	if err := repo.CreateUser(ctx, owner); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	other := testutil.NewTestUser(t)
	if err := repo.CreateUser(ctx, other); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	key := testutil.NewTestAPIKey(t, owner.ID)
	if err := repo.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}

	err := repo.RevokeAPIKeyByPrefix(ctx, other.ID, key.KeyPrefix)
	if !errors.Is(err, ErrAPIKeyNotFound) {
		t.Errorf("revoking another user's key should fail with ErrAPIKeyNotFound, got: %v", err)
	}
}

func TestIntegrationUsage_BulkInsertIdempotent(t *testing.T) {
	ctx, repo := newLedgerTestEnv(t)

	user := testutil.NewTestUser(t)
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	rec := testutil.NewTestUsageRecord(t, user.ID)

	if err := repo.BulkInsertUsage(ctx, []*model.UsageRecord{rec}); err != nil {
		t.Fatalf("BulkInsertUsage failed: %v", err)
	}
	// Redelivered batch with the same record ID must not double-write.
	if err := repo.BulkInsertUsage(ctx, []*model.UsageRecord{rec}); err != nil {
		t.Fatalf("BulkInsertUsage redelivery failed: %v", err)
	}

	summary, err := repo.SummarizeUsage(ctx, user.ID, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("SummarizeUsage failed: %v", err)
	}
	if summary.Requests != 1 {
		t.Errorf("requests = %d, want 1", summary.Requests)
	}
	if summary.Cost != rec.Cost {
		t.Errorf("cost = %d, want %d", summary.Cost, rec.Cost)
	}
}
