// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// DefaultWindowDays is the look-ahead window used when a digest run does
// not specify one.
const DefaultWindowDays = 60

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (optional; run lock and rate limiting are skipped without it)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Digest email
	AWSRegion       string
	DigestFromEmail string
	DigestFromName  string
	DigestToEmail   string

	// Digest behavior
	WindowDays int
	// DigestCron is a cron spec for the optional in-process weekly
	// trigger, e.g. "0 9 * * MON". Empty disables the scheduler.
	DigestCron string

	// Rate limiting for /v1 routes (requests per minute per client IP)
	RateLimitPerMinute int
}

// Load reads configuration from environment variables with sensible
// defaults. A .env file is honored when present but never overrides
// variables already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "certtrack",
		DBPassword: "",
		DBName:     "certtrack",
		DBSSLMode:  "disable",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		AWSRegion:      "us-east-1",
		DigestFromName: "Cert Tracker",

		WindowDays:         DefaultWindowDays,
		RateLimitPerMinute: 100,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// Email config
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("DIGEST_FROM_EMAIL"); from != "" {
		cfg.DigestFromEmail = from
	}

	if name := os.Getenv("DIGEST_FROM_NAME"); name != "" {
		cfg.DigestFromName = name
	}

	if to := os.Getenv("DIGEST_TO_EMAIL"); to != "" {
		cfg.DigestToEmail = to
	}

	// Digest behavior
	if days := os.Getenv("DIGEST_WINDOW_DAYS"); days != "" {
		d, err := strconv.Atoi(days)
		if err != nil {
			return nil, fmt.Errorf("invalid DIGEST_WINDOW_DAYS: %w", err)
		}
		if d < 0 {
			return nil, fmt.Errorf("invalid DIGEST_WINDOW_DAYS: must be >= 0, got %d", d)
		}
		cfg.WindowDays = d
	}

	if spec := os.Getenv("DIGEST_CRON"); spec != "" {
		cfg.DigestCron = spec
	}

	if limit := os.Getenv("RATE_LIMIT_PER_MINUTE"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %w", err)
		}
		cfg.RateLimitPerMinute = l
	}

	return cfg, nil
}
