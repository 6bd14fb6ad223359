package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"upcontacts/internal/auth"
	"upcontacts/internal/contact"
	"upcontacts/internal/db"
	"upcontacts/internal/mail"
	"upcontacts/internal/maintenance"
	"upcontacts/internal/media"
	"upcontacts/internal/observability"
)

const serviceName = "UpContacts API"

type Options struct {
	LoadDotEnv bool
	// EnvFile overrides the default ".env" when LoadDotEnv is set.
	EnvFile       string
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

type pinger interface {
	Ping(ctx context.Context) error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		if options.EnvFile != "" {
			_ = godotenv.Load(options.EnvFile)
		} else {
			_ = godotenv.Load()
		}
	}

	logger := observability.NewLogger()

	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	database.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(ctx, database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	codec, err := auth.NewTokenCodec(cfg.JWTSecret, cfg.JWTAlgorithm)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init token codec: %w", err)
	}
	codec.WithLifetimes(cfg.AccessTTL, cfg.RefreshTTL)

	var (
		cache      auth.IdentityCache = auth.NewMemoryCache()
		closeCache                    = func() error { return nil }
	)
	if cfg.RedisURL != "" {
		redisCache, err := auth.NewRedisCacheFromURL(cfg.RedisURL)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("init identity cache: %w", err)
		}
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("identity_cache_unreachable", map[string]any{"error": err.Error()})
		}
		cache = redisCache
		closeCache = redisCache.Close
	}

	images, err := newImageHost(ctx, cfg)
	if err != nil {
		_ = closeCache()
		_ = database.Close()
		return nil, fmt.Errorf("init avatar store: %w", err)
	}

	mailer, err := mail.NewClient(cfg.Mail, logger)
	if err != nil {
		_ = closeCache()
		_ = database.Close()
		return nil, fmt.Errorf("init mailer: %w", err)
	}

	authRepo := auth.NewRepository(database)
	authService := auth.NewService(authRepo, codec, cache, mailer, images, logger).
		WithSecurityConfig(authRepo, cfg.LoginMaxAttempts, cfg.LoginLockDuration).
		WithCacheTTL(cfg.CacheTTL)
	resolver := auth.NewResolver(codec, authRepo, cache, logger).WithCacheTTL(cfg.CacheTTL)

	mux := http.NewServeMux()

	auth.NewHandler(authService).RegisterRoutes(
		mux,
		resolver,
		auth.NewRateLimiter(cfg.LoginRateLimitMax, cfg.LoginRateLimitWindow, "too many login attempts"),
	)
	contact.NewHandler(contact.NewRepository(database), logger).RegisterRoutes(
		mux,
		resolver,
		auth.NewRateLimiter(cfg.ContactCreateRateLimit, time.Minute, "too many contacts created, try again later"),
	)
	maintenance.NewCleanupHandler(
		authRepo,
		logger,
		cfg.CronSecret,
		cfg.LoginAttemptRetention,
		cfg.CleanupBatchSize,
	).RegisterRoutes(mux)
	registerServiceRoutes(mux, authRepo, cache)

	return &Runtime{
		Handler: wrap(logger, mux),
		Close: func() error {
			observability.FlushSentry()
			cacheErr := closeCache()
			if err := database.Close(); err != nil {
				return err
			}
			return cacheErr
		},
	}, nil
}

func newImageHost(ctx context.Context, cfg Config) (auth.ImageHost, error) {
	if cfg.AvatarStore == AvatarStoreS3 {
		return media.NewS3Store(ctx, cfg.S3)
	}
	return media.NewCloudinary(cfg.CloudinaryURL)
}

func wrap(logger *observability.Logger, mux http.Handler) http.Handler {
	return observability.RecoverMiddleware(logger,
		observability.RequestIDMiddleware(
			observability.RequestLoggingMiddleware(logger, mux)))
}

func registerServiceRoutes(mux *http.ServeMux, database, cache pinger) {
	mux.HandleFunc("GET /{$}", rootHandler)
	mux.HandleFunc("GET /health", healthHandler(database, cache))
}

func rootHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": serviceName,
		"health":  "/health",
	})
}

// healthHandler answers 503 only when the database is down. The cache state
// is reported but never degrades the service.
func healthHandler(database, cache pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		cacheState := "connected"
		if err := cache.Ping(ctx); err != nil {
			cacheState = "disconnected"
		}

		status := http.StatusOK
		body := map[string]any{"status": "ok", "cache": cacheState, "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}

		writeJSON(w, status, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
