package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"upcontacts/internal/mail"
	"upcontacts/internal/media"
)

const (
	AvatarStoreCloudinary = "cloudinary"
	AvatarStoreS3         = "s3"
)

type Config struct {
	DatabaseURL string
	AppEnv      string
	SentryDSN   string

	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	JWTSecret    string
	JWTAlgorithm string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	CacheTTL     time.Duration
	RedisURL     string

	AvatarStore   string
	CloudinaryURL string
	S3            media.S3Config

	Mail mail.Config

	LoginMaxAttempts       int
	LoginLockDuration      time.Duration
	LoginRateLimitMax      int
	LoginRateLimitWindow   time.Duration
	ContactCreateRateLimit int

	CronSecret            string
	LoginAttemptRetention time.Duration
	CleanupBatchSize      int
}

// LoadConfig reads the process environment. Numeric values that are missing,
// malformed or non-positive fall back to their defaults.
func LoadConfig() (Config, error) {
	cfg := Config{
		AppEnv:    envOrDefault("APP_ENV", "development"),
		SentryDSN: strings.TrimSpace(os.Getenv("SENTRY_DSN")),

		DBMaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
		DBConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),

		JWTAlgorithm: envOrDefault("JWT_ALGORITHM", "HS256"),
		AccessTTL:    envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTTL:   envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),
		CacheTTL:     envMinutesOrDefault("CACHE_TTL_MINUTES", 60),
		RedisURL:     strings.TrimSpace(os.Getenv("REDIS_URL")),

		AvatarStore: strings.ToLower(envOrDefault("AVATAR_STORE", AvatarStoreCloudinary)),
		S3: media.S3Config{
			Bucket:    strings.TrimSpace(os.Getenv("S3_BUCKET")),
			Region:    envOrDefault("S3_REGION", "us-east-1"),
			Endpoint:  strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
			AccessKey: strings.TrimSpace(os.Getenv("S3_ACCESS_KEY")),
			SecretKey: strings.TrimSpace(os.Getenv("S3_SECRET_KEY")),
			PublicURL: strings.TrimSpace(os.Getenv("S3_PUBLIC_URL")),
		},

		Mail: mail.Config{
			Host:        strings.TrimSpace(os.Getenv("SMTP_HOST")),
			User:        strings.TrimSpace(os.Getenv("SMTP_USER")),
			Password:    os.Getenv("SMTP_PASSWORD"),
			From:        strings.TrimSpace(os.Getenv("MAIL_FROM")),
			FrontendURL: envOrDefault("FRONTEND_URL", "http://localhost:8000"),
			SkipVerify:  EnvBoolOrDefault("SMTP_SKIP_VERIFY", false),
		},

		LoginMaxAttempts:       envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		LoginLockDuration:      envMinutesOrDefault("LOGIN_LOCK_MINUTES", 15),
		LoginRateLimitMax:      envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		LoginRateLimitWindow:   envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
		ContactCreateRateLimit: envIntOrDefault("CONTACT_CREATE_RATE_LIMIT_MAX", 10),

		CronSecret:            strings.TrimSpace(os.Getenv("CRON_SECRET")),
		LoginAttemptRetention: envDaysOrDefault("AUTH_LOGIN_ATTEMPT_RETENTION_DAYS", 30),
		CleanupBatchSize:      envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),
	}

	var err error
	if cfg.DatabaseURL, err = mustEnv("DATABASE_URL"); err != nil {
		return Config{}, err
	}
	if cfg.JWTSecret, err = mustEnv("JWT_SECRET"); err != nil {
		return Config{}, err
	}

	switch cfg.AvatarStore {
	case AvatarStoreCloudinary:
		if cfg.CloudinaryURL, err = mustEnv("CLOUDINARY_URL"); err != nil {
			return Config{}, err
		}
	case AvatarStoreS3:
		if cfg.S3.Bucket == "" {
			return Config{}, fmt.Errorf("missing required env: S3_BUCKET")
		}
	default:
		return Config{}, fmt.Errorf("unsupported AVATAR_STORE: %q", cfg.AvatarStore)
	}

	return cfg, nil
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
