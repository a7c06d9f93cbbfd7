package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/config"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
)

const (
	storagePostgres = "postgres"
	storageMemory   = "memory"
)

type appConfig struct {
	Service  string
	Port     string
	GRPCPort string
	LogLevel string

	// Storage is "postgres" (default) or "memory" for local runs without a database.
	Storage       string
	DatabaseURL   string
	MemoryCatalog []string

	RedisURL        string
	CatalogCacheTTL time.Duration
	BookRatePerMin  int
	// RateLimitFailOpen lets bookings through when redis is unreachable.
	RateLimitFailOpen bool

	KafkaBrokers       string
	KafkaGroupID       string
	KafkaCatalogTopic  string
	OutboxPollInterval time.Duration

	JWTSecret string
	JWKSURL   string
	JWKSTTL   time.Duration

	RequestTimeout time.Duration
	BodyLimitBytes int

	Booking booking.Config
}

func loadConfig() (appConfig, error) {
	cfg := appConfig{
		Service:           config.String("SERVICE_NAME", "booking-service"),
		LogLevel:          config.String("LOG_LEVEL", "info"),
		Storage:           strings.ToLower(config.String("STORAGE", storagePostgres)),
		MemoryCatalog:     config.List("MEMORY_CATALOG"),
		RedisURL:          config.String("REDIS_URL", ""),
		KafkaBrokers:      config.String("KAFKA_BROKERS", ""),
		KafkaGroupID:      config.String("KAFKA_GROUP_ID", "booking-service"),
		KafkaCatalogTopic: config.String("KAFKA_CATALOG_TOPIC", "catalog.provider.services.changed.v1"),
		JWTSecret:         config.String("JWT_SECRET", ""),
		JWKSURL:           config.String("JWKS_URL", ""),
		RateLimitFailOpen: config.Bool("RATE_LIMIT_FAIL_OPEN", true),
	}

	var err error
	if cfg.Port, err = config.Port("PORT", "8083"); err != nil {
		return cfg, err
	}
	if cfg.GRPCPort, err = config.Port("GRPC_PORT", "9093"); err != nil {
		return cfg, err
	}
	switch cfg.Storage {
	case storagePostgres:
		if cfg.DatabaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
			return cfg, err
		}
	case storageMemory:
	default:
		return cfg, fmt.Errorf("STORAGE must be %q or %q (got %q)", storagePostgres, storageMemory, cfg.Storage)
	}
	if cfg.JWTSecret == "" && cfg.JWKSURL == "" {
		return cfg, fmt.Errorf("JWT_SECRET or JWKS_URL is required")
	}

	if cfg.CatalogCacheTTL, err = config.Duration("CATALOG_CACHE_TTL", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.OutboxPollInterval, err = config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.JWKSTTL, err = config.Duration("JWKS_CACHE_TTL", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.RequestTimeout, err = config.Duration("REQUEST_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.BodyLimitBytes, err = config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20); err != nil {
		return cfg, err
	}
	if cfg.BookRatePerMin, err = config.Int("BOOK_RATE_LIMIT_PER_MINUTE", 30); err != nil {
		return cfg, err
	}

	if cfg.Booking.StepMinutes, err = config.Int("SLOT_STEP_MINUTES", booking.DefaultStepMinutes); err != nil {
		return cfg, err
	}
	if cfg.Booking.DefaultDurationMinutes, err = config.Int("DEFAULT_DURATION_MINUTES", booking.DefaultDurationMinutes); err != nil {
		return cfg, err
	}
	tz := config.String("TIMEZONE", "UTC")
	if cfg.Booking.Location, err = time.LoadLocation(tz); err != nil {
		return cfg, fmt.Errorf("TIMEZONE %q: %w", tz, err)
	}
	return cfg, nil
}
