// Package main is the entrypoint for the TokenGate API server.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tokengate/tokengate/internal/billing"
	"github.com/tokengate/tokengate/internal/cache"
	"github.com/tokengate/tokengate/internal/config"
	"github.com/tokengate/tokengate/internal/handler"
	"github.com/tokengate/tokengate/internal/journal"
	"github.com/tokengate/tokengate/internal/metrics"
	"github.com/tokengate/tokengate/internal/middleware"
	"github.com/tokengate/tokengate/internal/relay"
	"github.com/tokengate/tokengate/internal/repository"
	"github.com/tokengate/tokengate/internal/server"
)

func main() {
	// Initialize context
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg)

	// Initialize database
	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to database")

	// Initialize cache
	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		os.Exit(1)
	}
	defer cacheClient.Close()
	logger.Info("connected to Redis")

	metricsRecorder := metrics.NewNoop()

	// Usage journal pipeline
	publisher := journal.NewPublisher(cacheClient.Client(), logger, metricsRecorder)
	worker := journal.NewWorker(cacheClient.Client(), repo, logger, journal.NewConsumerID(), metricsRecorder)

	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()
	go func() {
		if err := worker.Run(workerCtx); err != nil && err != context.Canceled {
			logger.Error("journal worker stopped", "error", err)
		}
	}()

	// Services
	billingService := billing.NewService(cfg, repo, logger)
	gateway := relay.New(cfg, repo, publisher, logger, metricsRecorder)

	// Handlers
	h := handler.New(repo)
	healthHandler := handler.NewHealthHandler(repo, cacheClient)
	keyHandler := handler.NewKeyHandler(logger, repo, cacheClient)
	usageHandler := handler.NewUsageHandler(logger, repo)
	billingHandler := handler.NewBillingHandler(logger, billingService)

	// Setup router
	r := setupRouter(h, healthHandler, keyHandler, usageHandler, billingHandler, gateway, repo, cacheClient, cfg, logger, metricsRecorder)

	// Create and run server
	srv := server.New(
		r,
		cfg.AppPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)
	srv.OnShutdown("journal_worker", worker.Shutdown)

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	level := parseLogLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(
	h *handler.Handler,
	healthHandler *handler.HealthHandler,
	keyHandler *handler.KeyHandler,
	usageHandler *handler.UsageHandler,
	billingHandler *handler.BillingHandler,
	gateway *relay.Gateway,
	repo *repository.Repository,
	cacheClient *cache.Cache,
	cfg *config.Config,
	logger *slog.Logger,
	metricsRecorder metrics.Recorder,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{
		IsDevelopment: cfg.IsDevelopment(),
	}))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	if origins := cfg.GetCORSAllowedOrigins(); len(origins) > 0 {
		corsCfg := middleware.DefaultCORSConfig()
		corsCfg.AllowedOrigins = origins
		r.Use(middleware.CORS(corsCfg))
	}

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/readyz", healthHandler.Readyz)

	// Auth middleware configuration
	authCfg := middleware.AuthConfig{
		Logger:     logger,
		Repository: repo,
		Cache:      cacheClient,
		Metrics:    metricsRecorder,
	}

	// Root info endpoint: personalized when a key is presented
	r.With(middleware.SoftAuth(authCfg)).Get("/", h.Root)

	// Sign-up surface: issues the first key for an email
	r.Post("/keys", keyHandler.CreateKey)

	// Stripe webhook: authenticated by signature, not by API key
	r.Post("/billing/webhook", billingHandler.Webhook)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(authCfg))

		r.Delete("/keys/{prefix}", keyHandler.RevokeKey)
		r.Get("/usage", usageHandler.GetUsage)

		r.Post("/v1/chat/completions", gateway.ChatCompletions)
		r.Post("/v1/messages", gateway.Messages)

		r.Post("/billing/checkout", billingHandler.Checkout)
		r.Get("/billing/portal", billingHandler.Portal)
	})

	// 404 and 405 handlers
	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
