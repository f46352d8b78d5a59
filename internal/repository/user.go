package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tokengate/tokengate/internal/model"
)

// Common errors for user repository operations.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailExists  = errors.New("email already exists")
)

const userColumns = "id, email, stripe_customer_id, subscription_expires_at, created_at"

// CreateUser inserts a new user together with a zero credit balance.
// The two rows are created in one transaction so every user always has
// a balance row to debit against.
func (r *Repository) CreateUser(ctx context.Context, user *model.User) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO users (id, email, created_at) VALUES ($1, $2, $3)`,
		user.ID, user.Email, user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO credit_balances (user_id, balance, updated_at) VALUES ($1, 0, $2)`,
		user.ID, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create credit balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// GetUserByID retrieves a user by their ID.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by their email address.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// GetUserByStripeCustomerID retrieves a user by their payment-processor
// customer reference.
func (r *Repository) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE stripe_customer_id = $1`, customerID)
	return scanUser(row)
}

// GetOrCreateUser gets a user by email or creates one if not found.
// Idempotent under concurrent signups for the same email.
func (r *Repository) GetOrCreateUser(ctx context.Context, user *model.User) (*model.User, error) {
	existing, err := r.GetUserByEmail(ctx, user.Email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	// Create new user
	user.CreatedAt = time.Now()
	if err := r.CreateUser(ctx, user); err != nil {
		// Handle race condition - another request may have created it
		if errors.Is(err, ErrEmailExists) {
			return r.GetUserByEmail(ctx, user.Email)
		}
		return nil, err
	}

	return user, nil
}

// SetStripeCustomerID stores the payment-processor customer reference.
func (r *Repository) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET stripe_customer_id = $2 WHERE id = $1`,
		userID, customerID,
	)
	if err != nil {
		return fmt.Errorf("failed to set stripe customer: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.StripeCustomerID,
		&user.SubscriptionExpiresAt,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &user, nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
