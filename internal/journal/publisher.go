// Package journal provides usage record capture and processing.
//
// Billing debits the balance synchronously on the request path; the
// journal is the durable audit trail behind it, fed through a Redis
// stream so a slow Postgres never adds latency to a relay response.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tokengate/tokengate/internal/metrics"
)

const (
	// StreamKey is the Redis stream for usage records.
	StreamKey = "stream:usage_records"

	// DeadLetterStreamKey is the Redis stream for poison messages.
	DeadLetterStreamKey = "stream:usage_records:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 100 * time.Millisecond
)

// UsagePayload is the compressed record format for the Redis stream.
// RecordID becomes the journal row's primary key, so a message that is
// delivered twice (crash before ack, pending-entry reclaim) inserts the
// same row both times and the conflict guard drops the duplicate.
type UsagePayload struct {
	RecordID     string `json:"id"`
	UserID       string `json:"uid"`
	Provider     string `json:"p"`
	Model        string `json:"m"`
	InputTokens  int64  `json:"it"`
	OutputTokens int64  `json:"ot"`
	Cost         int64  `json:"c"`  // minor units
	Estimated    bool   `json:"e,omitempty"`
	RequestedAt  int64  `json:"t"` // Unix milliseconds
}

// Publisher enqueues usage records to the Redis stream.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewPublisher creates a new usage record publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "journal.publisher"),
		metrics: recorder,
	}
}

// Publish adds a usage record to the stream synchronously. The record ID
// is minted here, before the stream write, so the journal key survives
// redelivery.
func (p *Publisher) Publish(ctx context.Context, record UsagePayload) (string, error) {
	if record.RecordID == "" {
		record.RecordID = ulid.Make().String()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}

	result, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true, // ~MAXLEN for performance
		ID:     "*",  // Auto-generate ID
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()

	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return result, nil
}

// PublishAsync publishes without blocking the caller.
// Errors are logged but not returned (fire-and-forget) since the debit
// already happened on the request path.
func (p *Publisher) PublishAsync(record UsagePayload) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		streamID, err := p.Publish(ctx, record)
		if err != nil {
			p.logger.Warn("failed to publish usage record",
				"user_id", record.UserID,
				"provider", record.Provider,
				"error", err,
			)
			p.metrics.IncJournalPublished("dropped")
			return
		}

		p.logger.Debug("usage record published",
			"user_id", record.UserID,
			"stream_id", streamID,
		)
		p.metrics.IncJournalPublished("success")
	}()
}
