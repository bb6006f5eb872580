package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ptca/certtrack/internal/api"
	"github.com/ptca/certtrack/internal/config"
	"github.com/ptca/certtrack/internal/db"
	"github.com/ptca/certtrack/internal/digest"
	"github.com/ptca/certtrack/internal/mailer"
	"github.com/ptca/certtrack/internal/metrics"
	"github.com/ptca/certtrack/internal/observ"
	"github.com/ptca/certtrack/internal/redis"
	"github.com/ptca/certtrack/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting certtrack server",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.Int("window_days", cfg.WindowDays),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	// Initialize repository
	repo := db.NewRepository(database, logger)

	// Initialize Redis for the run lock and rate limiting. Redis is
	// optional: without it the digest falls back to the plain log-backed
	// dedup check and the API runs unthrottled.
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, run lock and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var runLock digest.RunLock
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		runLock = redis.NewRunLock(redisClient, redis.DefaultRunLockTTL, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimitPerMinute,
			Window: 1 * time.Minute, // per minute per client IP
		})
		defer redisClient.Close()
	}

	// Initialize the email transport. Without a recipient configured the
	// digest is rendered and logged instead of sent, which keeps local
	// development free of AWS credentials.
	var notifier mailer.Notifier
	if cfg.DigestToEmail != "" {
		sesMailer, err := mailer.NewSESMailer(ctx, mailer.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.DigestFromEmail,
			FromName:  cfg.DigestFromName,
			ToEmail:   cfg.DigestToEmail,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create SES mailer: %w", err)
		}
		notifier = sesMailer
	} else {
		logger.Warn("DIGEST_TO_EMAIL not set, digests will be logged instead of emailed")
		notifier = mailer.NewLogMailer(logger)
	}

	// Initialize digest orchestrator
	digestService := digest.NewService(repo, notifier, runLock, logger)

	// Optional in-process weekly trigger
	if cfg.DigestCron != "" {
		sched := scheduler.New(digestService, cfg.DigestCron, cfg.WindowDays, logger)
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start digest scheduler: %w", err)
		}
		defer sched.Stop()
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	handler := api.NewHandler(logger, repo, digestService, notifier, cfg.WindowDays)
	r.Route("/v1", func(r chi.Router) {
		// Apply rate limiting to API routes
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.ClientIPKeyFunc))

		r.Post("/digest/run", handler.RunDigest)
		r.Get("/certifications/expiring", handler.ListExpiring)
		r.Post("/certifications", handler.CreateCertification)
		r.Get("/certifications", handler.ListCertifications)
		r.Post("/certifications/seed", handler.SeedCertifications)
		r.Post("/email/test", handler.TestEmail)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
