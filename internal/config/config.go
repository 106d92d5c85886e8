package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

type Config struct {
	CRDBDSN      string
	HTTPAddr     string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	JWTPublicKey string
	OTLPEndpoint string
	LogLevel     string

	HoldTTL          time.Duration
	HoldMaxTTL       time.Duration
	SnapshotCacheTTL time.Duration
	IdempotencyTTL   time.Duration

	CompactInterval time.Duration
	CompactBatch    int
	OutboxInterval  time.Duration
	OutboxBatch     int

	DefaultCurrency    string
	EnforceAmountMatch bool
	MigrateOnStart     bool
	RateLimitPerMinute int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		CRDBDSN:         os.Getenv("CRDB_DSN"),
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		MongoURI:        os.Getenv("MONGO_URI"),
		MongoDB:         getenv("MONGO_DB", "seats"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RabbitURL:       os.Getenv("RABBIT_URL"),
		JWTPublicKey:    os.Getenv("JWT_PUBLIC_KEY"),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		DefaultCurrency: getenv("DEFAULT_CURRENCY", "LKR"),
	}
	if cfg.CRDBDSN == "" {
		return nil, errors.New("CRDB_DSN is required")
	}

	var err error
	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"HOLD_TTL", 600 * time.Second, &cfg.HoldTTL},
		{"HOLD_MAX_TTL", time.Hour, &cfg.HoldMaxTTL},
		{"SNAPSHOT_CACHE_TTL", time.Second, &cfg.SnapshotCacheTTL},
		{"IDEMPOTENCY_TTL", 24 * time.Hour, &cfg.IdempotencyTTL},
		{"COMPACT_INTERVAL", time.Minute, &cfg.CompactInterval},
		{"OUTBOX_INTERVAL", 5 * time.Second, &cfg.OutboxInterval},
	}
	for _, d := range durations {
		if *d.dst, err = durationEnv(d.key, d.def); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"COMPACT_BATCH", 500, &cfg.CompactBatch},
		{"OUTBOX_BATCH", 50, &cfg.OutboxBatch},
		{"RATE_LIMIT_PER_MINUTE", 120, &cfg.RateLimitPerMinute},
	}
	for _, i := range ints {
		if *i.dst, err = intEnv(i.key, i.def); err != nil {
			return nil, err
		}
	}

	if cfg.EnforceAmountMatch, err = boolEnv("ENFORCE_AMOUNT_MATCH", false); err != nil {
		return nil, err
	}
	if cfg.MigrateOnStart, err = boolEnv("MIGRATE_ON_START", true); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.Wrapf(err, "parse %s", key)
	}
	return b, nil
}
