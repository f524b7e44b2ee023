package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/credo-auth/credo/internal/audit"
	"github.com/credo-auth/credo/internal/auth"
	"github.com/credo-auth/credo/internal/authz"
	"github.com/credo-auth/credo/internal/config"
	"github.com/credo-auth/credo/internal/database"
	"github.com/credo-auth/credo/internal/email"
	httpServer "github.com/credo-auth/credo/internal/http"
	"github.com/credo-auth/credo/internal/logging"
	"github.com/credo-auth/credo/internal/password"
	"github.com/credo-auth/credo/internal/ratelimit"
	"github.com/credo-auth/credo/internal/token"
	"github.com/credo-auth/credo/internal/user"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(cfg.Server.IsDevelopment())
	logger.Info("starting application",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(db.DB); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	redisClient, err := initRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer redisClient.Close()

	// Repositories
	userRepo := user.NewRepository(db)
	tokenRepo := token.NewRepository(db)
	auditRepo := audit.NewRepository(db)
	sessionRepo := auth.NewRedisSessionRepository(redisClient)

	// Domain services
	hasher := password.NewHasher(password.Params{
		Time:    cfg.Hash.Time,
		Memory:  cfg.Hash.Memory,
		Threads: cfg.Hash.Threads,
	})
	tokenService := token.NewService(tokenRepo)
	auditor := audit.NewRecorder(auditRepo, logger)
	authorizer := authz.NewAuthorizer(authz.DefaultPolicy())
	roleManager := authz.NewManager(userRepo, authorizer)
	rateLimiter := ratelimit.NewLimiter(redisClient)

	pasetoService, err := auth.NewPasetoService(cfg.Auth.PasetoKey)
	if err != nil {
		return fmt.Errorf("failed to initialize PASETO service: %w", err)
	}

	emailService := email.NewService(
		cfg.Email.SMTPHost,
		cfg.Email.SMTPPort,
		cfg.Email.SMTPUser,
		cfg.Email.SMTPPassword,
		cfg.Email.FrontendURL,
	)

	authService, err := auth.NewService(
		userRepo,
		tokenService,
		sessionRepo,
		hasher,
		pasetoService,
		emailService,
		auditor,
		logger,
		auth.ServiceConfig{
			AccessTokenDuration:  cfg.Auth.AccessTokenDuration,
			SessionDuration:      cfg.Auth.SessionDuration,
			VerificationTokenTTL: cfg.Auth.VerificationTokenTTL,
			ResetTokenTTL:        cfg.Auth.ResetTokenTTL,
			EmailSendTimeout:     cfg.Email.SendTimeout,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to initialize auth service: %w", err)
	}

	// HTTP surface
	authHandler := auth.NewHandler(
		authService,
		roleManager,
		userRepo,
		auditor,
		rateLimiter,
		logger,
		!cfg.Server.IsDevelopment(), // isProduction
		cfg.Auth.AccessTokenDuration,
		cfg.Auth.SessionDuration,
	)
	authMiddleware := auth.NewMiddleware(pasetoService, userRepo, authorizer)

	router := httpServer.NewRouter(cfg, authHandler, authMiddleware, db, redisClient, logger)

	server := httpServer.NewServer(
		":"+cfg.Server.Port,
		router,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
		logger,
	)

	// Purge expired single-use tokens in the background. Validation never
	// depends on this; it only keeps the table small.
	go sweepExpiredTokens(ctx, tokenService, logger, cfg.Auth.TokenSweepInterval)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// initRedis initializes the Redis connection and returns a Redis client
func initRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return client, nil
}

// sweepExpiredTokens periodically purges expired single-use tokens.
func sweepExpiredTokens(ctx context.Context, tokens *token.Service, logger *logging.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := tokens.SweepExpired(ctx)
			if err != nil {
				logger.Warn("token sweep failed", "error", err)
				continue
			}
			if purged > 0 {
				logger.Info("purged expired tokens", "count", purged)
			}
		}
	}
}
