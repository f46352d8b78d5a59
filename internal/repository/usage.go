package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tokengate/tokengate/internal/model"
)

// BulkInsertUsage appends a batch of usage records to the journal.
// Inserts are idempotent via ON CONFLICT DO NOTHING so a redelivered
// journal batch never double-writes a record.
func (r *Repository) BulkInsertUsage(ctx context.Context, records []*model.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}

	query := `
		INSERT INTO usage_records (
			id, user_id, provider, model, input_tokens, output_tokens, cost, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`

	for _, rec := range records {
		batch.Queue(query,
			rec.ID,
			rec.UserID,
			rec.Provider,
			rec.Model,
			rec.InputTokens,
			rec.OutputTokens,
			rec.Cost,
			rec.CreatedAt,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < len(records); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch insert usage record %d: %w", i, err)
		}
	}

	return nil
}

// SummarizeUsage aggregates a user's usage records since the given time.
func (r *Repository) SummarizeUsage(ctx context.Context, userID string, since time.Time) (*model.UsageSummary, error) {
	var summary model.UsageSummary
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(input_tokens), 0),
		        COALESCE(SUM(output_tokens), 0),
		        COALESCE(SUM(cost), 0)
		 FROM usage_records
		 WHERE user_id = $1 AND created_at >= $2`,
		userID, since,
	).Scan(&summary.Requests, &summary.InputTokens, &summary.OutputTokens, &summary.Cost)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}
	return &summary, nil
}

// ListRecentUsage returns the user's most recent usage records, newest first.
func (r *Repository) ListRecentUsage(ctx context.Context, userID string, limit int) ([]*model.UsageRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, provider, model, input_tokens, output_tokens, cost, created_at
		 FROM usage_records
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	defer rows.Close()

	var records []*model.UsageRecord
	for rows.Next() {
		var rec model.UsageRecord
		err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&rec.Provider,
			&rec.Model,
			&rec.InputTokens,
			&rec.OutputTokens,
			&rec.Cost,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}

	return records, nil
}
