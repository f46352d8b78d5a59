package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrBalanceNotFound indicates the user has no credit balance row.
var ErrBalanceNotFound = errors.New("credit balance not found")

// GetBalance returns the user's current balance in minor units.
func (r *Repository) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx,
		`SELECT balance FROM credit_balances WHERE user_id = $1`,
		userID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrBalanceNotFound
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// CreditBalance adds amount (> 0) to the user's balance.
func (r *Repository) CreditBalance(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	result, err := r.pool.Exec(ctx,
		`UPDATE credit_balances SET balance = balance + $2, updated_at = NOW() WHERE user_id = $1`,
		userID, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrBalanceNotFound
	}
	return nil
}

// CreditBalanceTx is CreditBalance inside a caller-owned transaction,
// for writes that must commit atomically with other rows.
func (r *Repository) CreditBalanceTx(ctx context.Context, tx pgx.Tx, userID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	result, err := tx.Exec(ctx,
		`UPDATE credit_balances SET balance = balance + $2, updated_at = NOW() WHERE user_id = $1`,
		userID, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrBalanceNotFound
	}
	return nil
}

// DebitBalance atomically subtracts amount from the user's balance.
// Returns false with no mutation if the balance is insufficient.
//
// The check and the subtraction are one SQL statement, so two concurrent
// debits against funds sufficient for only one can never both succeed.
// A debit of zero or less is a no-op success (free request).
func (r *Repository) DebitBalance(ctx context.Context, userID string, amount int64) (bool, error) {
	if amount <= 0 {
		return true, nil
	}

	result, err := r.pool.Exec(ctx,
		`UPDATE credit_balances
		 SET balance = balance - $2, updated_at = NOW()
		 WHERE user_id = $1 AND balance >= $2`,
		userID, amount,
	)
	if err != nil {
		return false, fmt.Errorf("failed to debit balance: %w", err)
	}

	return result.RowsAffected() == 1, nil
}
