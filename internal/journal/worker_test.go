package journal

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestParseMessagesRedeliveryKeepsRecordID(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	worker := NewWorker(nil, nil, logger, "consumer-test", nil)

	payload := UsagePayload{
		RecordID:     "01J0RECORD000000000000TEST",
		UserID:       "01J0USER00000000000000TEST",
		Provider:     "openai",
		Model:        "gpt-4o",
		InputTokens:  1200,
		OutputTokens: 340,
		Cost:         2,
		RequestedAt:  time.Now().UnixMilli(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	msg := redis.XMessage{
		ID:     "1700000000000-0",
		Values: map[string]interface{}{"payload": string(data)},
	}

	ctx := context.Background()
	first, ids := worker.parseMessages(ctx, []redis.XMessage{msg})
	if len(first) != 1 {
		t.Fatalf("parsed %d records, want 1", len(first))
	}
	if len(ids) != 1 || ids[0] != msg.ID {
		t.Errorf("message ids = %v, want [%s]", ids, msg.ID)
	}
	if first[0].ID != payload.RecordID {
		t.Errorf("record id = %q, want the published %q", first[0].ID, payload.RecordID)
	}

	// A crash between insert and ack redelivers the same message. Parsing
	// it again must produce the same primary key so the insert's conflict
	// guard drops the duplicate instead of double-counting usage.
	second, _ := worker.parseMessages(ctx, []redis.XMessage{msg})
	if len(second) != 1 {
		t.Fatalf("parsed %d records on redelivery, want 1", len(second))
	}
	if second[0].ID != first[0].ID {
		t.Errorf("redelivered record id = %q, want %q", second[0].ID, first[0].ID)
	}
}

func TestNewConsumerIDUnique(t *testing.T) {
	t.Parallel()

	a, b := NewConsumerID(), NewConsumerID()
	if a == "" || b == "" {
		t.Fatal("consumer id must not be empty")
	}
	if a == b {
		t.Errorf("consumer ids must be unique per call, got %q twice", a)
	}
}
