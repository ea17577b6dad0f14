package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/lockboxhq/lockbox/backend/internal/archive"
	"github.com/lockboxhq/lockbox/backend/internal/auth"
	"github.com/lockboxhq/lockbox/backend/internal/config"
	"github.com/lockboxhq/lockbox/backend/internal/health"
	"github.com/lockboxhq/lockbox/backend/internal/logger"
	"github.com/lockboxhq/lockbox/backend/internal/metrics"
	authmw "github.com/lockboxhq/lockbox/backend/internal/middleware"
	"github.com/lockboxhq/lockbox/backend/internal/repository"
)

const version = "1.0.0"

func main() {
	cfg := config.Load()

	log := logger.New(logger.DefaultConfig())
	slog.SetDefault(log)

	if cfg.JWT.Secret == "" {
		log.Error("JWT_SECRET environment variable is required")
		os.Exit(1)
	}

	dbPool, err := setupDatabase(cfg, log)
	if err != nil {
		log.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer dbPool.Close()

	// Separate sqlx connection for the audit repository
	auditDB, err := sqlx.Connect("pgx", cfg.Database.DSN())
	if err != nil {
		log.Error("failed to connect audit database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer auditDB.Close()

	accountRepo := repository.NewAccountRepository(dbPool)
	sessionRepo := repository.NewSessionRepository(dbPool)
	tokenRepo := repository.NewTokenRepository(dbPool)
	auditRepo := repository.NewAuditRepository(auditDB)

	tokenService := auth.NewTokenService(auth.TokenServiceConfig{
		Secret:            cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.AccessTokenExpiry,
		SessionExpiry:     cfg.JWT.SessionExpiry,
		Issuer:            cfg.JWT.Issuer,
	})

	hasher := auth.NewCredentialHasher(auth.HasherParams{
		Time:        cfg.Hasher.Time,
		MemoryKiB:   cfg.Hasher.MemoryKiB,
		Parallelism: cfg.Hasher.Parallelism,
		KeyLength:   cfg.Hasher.KeyLength,
		SaltLength:  cfg.Hasher.SaltLength,
	})

	lockout := auth.NewLockoutPolicy(cfg.Lockout.MaxAttempts, cfg.Lockout.LockDuration)
	singleUse := auth.NewSingleUseTokens(tokenRepo, tokenService)

	auditEmitter := auth.NewAuditEmitter(auth.AuditEmitterConfig{
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, auth.NewRepositorySink(auditRepo, 0), log)
	defer auditEmitter.Close()

	service := auth.NewService(
		accountRepo,
		sessionRepo,
		hasher,
		lockout,
		tokenService,
		singleUse,
		auditEmitter,
		auth.ServiceConfig{
			RotateRefresh:    cfg.JWT.RotateRefresh,
			VerificationTTL:  cfg.Tokens.VerificationTTL,
			PasswordResetTTL: cfg.Tokens.PasswordResetTTL,
		},
		log,
	)

	handler := auth.NewHandler(service)
	// Reset tokens go out of band. Until a mail sender is wired up, record
	// that one was issued; the token value itself is never logged.
	handler.SetResetTokenDelivery(func(email, _ string) {
		log.Info("password reset token issued for delivery",
			slog.String("email", email))
	})
	authMiddleware := authmw.NewAuthMiddleware(tokenService)
	healthHandler := health.NewHandler(health.Config{
		DBPool:  dbPool,
		Version: version,
	})

	dbCollector := metrics.NewDBStatsCollector(dbPool)
	dbCollector.Start(15 * time.Second)
	defer dbCollector.Stop()

	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		archiver, err = archive.NewArchiver(&cfg.Archive, auditRepo, log)
		if err != nil {
			log.Error("failed to configure audit archiver", slog.String("error", err.Error()))
			os.Exit(1)
		}
		archiver.Start()
	}

	credentialLimiter := authmw.NewCredentialRateLimiter(30, time.Minute)

	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(authmw.StructuredLogger(log))
	r.Use(metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/health/ready", healthHandler.Readiness)
	r.Get("/health/live", healthHandler.Liveness)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(credentialLimiter.Limit)
			auth.RegisterRoutes(r, handler, authMiddleware.Authenticate)
		})
		auth.RegisterAdminRoutes(r, handler, authMiddleware.Authenticate)
	})

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting server", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	healthHandler.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", slog.String("error", err.Error()))
	}

	if archiver != nil {
		archiver.Stop(ctx)
	}

	log.Info("server exited")
}

// setupDatabase creates and configures the database connection pool
func setupDatabase(cfg *config.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("connected to database",
		slog.String("host", cfg.Database.Host),
		slog.String("database", cfg.Database.DBName))
	return pool, nil
}
