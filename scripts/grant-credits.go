package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tokengate/tokengate/internal/model"
	"github.com/tokengate/tokengate/internal/repository"
)

type output struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	Granted int64  `json:"granted"`
	Balance int64  `json:"balance"`
}

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		email       = flag.String("email", "", "Email of the user to credit")
		amount      = flag.Int64("amount", 0, "Credit amount in minor currency units (cents)")
		create      = flag.Bool("create", false, "Create the user if no account exists for the email")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if *databaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}
	if *email == "" {
		fmt.Fprintln(os.Stderr, "-email is required")
		os.Exit(1)
	}
	if *amount <= 0 {
		fmt.Fprintln(os.Stderr, "-amount must be a positive number of cents")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, *databaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect database:", err)
		os.Exit(1)
	}
	defer repo.Close()

	user, err := resolveUser(ctx, repo, *email, *create)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	if err := repo.CreditBalance(ctx, user.ID, *amount); err != nil {
		fmt.Fprintln(os.Stderr, "credit balance:", err)
		os.Exit(1)
	}

	balance, err := repo.GetBalance(ctx, user.ID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read balance:", err)
		os.Exit(1)
	}

	out := output{
		UserID:  user.ID,
		Email:   user.Email,
		Granted: *amount,
		Balance: balance,
	}

	switch strings.ToLower(*format) {
	case "plain":
		fmt.Printf("credited %d to %s, balance now %d\n", out.Granted, out.Email, out.Balance)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fmt.Fprintln(os.Stderr, "invalid format; use plain or json")
		os.Exit(1)
	}
}

func resolveUser(ctx context.Context, repo *repository.Repository, email string, create bool) (*model.User, error) {
	user, err := repo.GetUserByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !create {
		return nil, fmt.Errorf("no user for email %s (pass -create to create one)", email)
	}

	user = &model.User{
		ID:        ulid.Make().String(),
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}
