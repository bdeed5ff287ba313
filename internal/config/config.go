// Package config loads server configuration from environment variables.
//
// Required variables:
//   - DATABASE_URL: PostgreSQL connection string.
//
// Optional variables:
//   - HTTP_ADDR: listen address for the HTTP server (default ":8080").
//   - GRPC_ADDR: listen address for the gRPC server (default ":9090").
//   - LOG_LEVEL: debug, info, warn or error (default "info").
//   - CHOICE_CACHE_TTL: lifetime of cached filter choices
//     (default "5m", must be > 0 if set).
//   - CHOICE_CACHE_SIZE: max in-memory cache entries
//     (default "1024", must be > 0 if set).
//   - REDIS_URL: when set, cached choices are kept in Redis instead of memory.
//   - CATALOG_RESYNC_INTERVAL: safety-net refresh of the catalog version
//     (default "1m", must be > 0 if set).
//   - DEFAULT_PER_PAGE: page size when a request does not give one
//     (default "12", between 1 and MAX_PER_PAGE).
//   - MAX_PER_PAGE: upper bound for per_page (default "100").
//   - RATE_LIMIT: requests per second per client on search endpoints
//     (default "20", must be > 0 if set).
//   - MAX_JSON_BODY_SIZE: max HTTP JSON request body size in bytes
//     (default "1048576", must be > 0 if set).
//   - RUN_MIGRATIONS: apply migrations at start-up (default "true").
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPAddr                    = ":8080"
	defaultGRPCAddr                    = ":9090"
	defaultChoiceCacheTTL              = 5 * time.Minute
	defaultChoiceCacheSize             = 1024
	defaultCatalogResyncInterval       = time.Minute
	defaultPerPage                     = 12
	defaultMaxPerPage                  = 100
	defaultRateLimit                   = 20
	defaultMaxJSONBodySize       int64 = 1 << 20 // 1MB
)

// Config holds the runtime configuration for the facetz server.
type Config struct {
	DatabaseURL           string
	HTTPAddr              string
	GRPCAddr              string
	LogLevel              string
	ChoiceCacheTTL        time.Duration
	ChoiceCacheSize       int
	RedisURL              string
	CatalogResyncInterval time.Duration
	DefaultPerPage        int
	MaxPerPage            int
	RateLimit             int
	MaxJSONBodySize       int64
	RunMigrations         bool
}

// Load reads configuration from environment variables, applying defaults where
// appropriate. It returns an error if required variables are missing or if
// optional values fail validation.
func Load() (Config, error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}

	choiceCacheTTL, err := positiveDuration("CHOICE_CACHE_TTL", defaultChoiceCacheTTL)
	if err != nil {
		return Config{}, err
	}

	catalogResyncInterval, err := positiveDuration("CATALOG_RESYNC_INTERVAL", defaultCatalogResyncInterval)
	if err != nil {
		return Config{}, err
	}

	choiceCacheSize, err := positiveInt("CHOICE_CACHE_SIZE", defaultChoiceCacheSize)
	if err != nil {
		return Config{}, err
	}

	rateLimit, err := positiveInt("RATE_LIMIT", defaultRateLimit)
	if err != nil {
		return Config{}, err
	}

	maxPerPage, err := positiveInt("MAX_PER_PAGE", defaultMaxPerPage)
	if err != nil {
		return Config{}, err
	}

	perPage, err := positiveInt("DEFAULT_PER_PAGE", defaultPerPage)
	if err != nil {
		return Config{}, err
	}
	if perPage > maxPerPage {
		return Config{}, errors.New("DEFAULT_PER_PAGE must be <= MAX_PER_PAGE")
	}

	maxJSONBodySize := defaultMaxJSONBodySize
	if v := strings.TrimSpace(os.Getenv("MAX_JSON_BODY_SIZE")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return Config{}, errors.New("MAX_JSON_BODY_SIZE must be a positive integer (bytes)")
		}
		maxJSONBodySize = n
	}

	runMigrations := true
	if v := strings.TrimSpace(os.Getenv("RUN_MIGRATIONS")); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse RUN_MIGRATIONS: %w", err)
		}
		runMigrations = parsed
	}

	return Config{
		DatabaseURL:           databaseURL,
		HTTPAddr:              envOrDefault("HTTP_ADDR", defaultHTTPAddr),
		GRPCAddr:              envOrDefault("GRPC_ADDR", defaultGRPCAddr),
		LogLevel:              envOrDefault("LOG_LEVEL", "info"),
		ChoiceCacheTTL:        choiceCacheTTL,
		ChoiceCacheSize:       choiceCacheSize,
		RedisURL:              strings.TrimSpace(os.Getenv("REDIS_URL")),
		CatalogResyncInterval: catalogResyncInterval,
		DefaultPerPage:        perPage,
		MaxPerPage:            maxPerPage,
		RateLimit:             rateLimit,
		MaxJSONBodySize:       maxJSONBodySize,
		RunMigrations:         runMigrations,
	}, nil
}

func positiveDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return parsed, nil
}

func positiveInt(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return parsed, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
