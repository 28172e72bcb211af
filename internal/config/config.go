package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const PROD_STRING = "prod"

// Config holds all application configuration loaded from environment.
type Config struct {
	IsProduction bool
	ProdOrigins  string
	HTTPAddr     string
	DBDSN        string
	JWTSecret    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AMQPURL             string
	EventsExchange      string
	ProviderEventsQueue string

	PaymentAPIURL        string
	PaymentAPIKey        string
	PaymentWebhookSecret string
	PaymentTimeout       time.Duration
	FinalizeAfter        time.Duration

	Jobs      JobsConfig
	RateLimit RateLimitConfig
}

// JobsConfig holds cron specs for background sweeps. An empty spec disables the job.
type JobsConfig struct {
	ExpireUnpaidSchedule   string
	FinalizeSchedule       string
	DispatchRefundSchedule string
	BatchSize              int
}

// RateLimitConfig configures the Redis token bucket in front of write endpoints.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	Prefix         string
}

// Load loads configuration from .env (optional) and environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	err := godotenv.Load()
	if err != nil {
		log.Printf("failed to load .env file: %v", err)
	}

	cfg := &Config{}

	// Production origin (default: empty)
	cfg.ProdOrigins = getEnv("PROD_ORIGINS", "")

	// Application environment (default: dev)
	appEnvStr := getEnv("APP_ENV", "dev")
	cfg.IsProduction = appEnvStr == PROD_STRING

	// HTTP listen address (default: :8080)
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")

	// Database DSN is required
	cfg.DBDSN = os.Getenv("DB_DSN")
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("DB_DSN is required")
	}

	// JWT secret is required for verifying tokens
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	// Redis is optional; rate limiting is disabled without it.
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	if cfg.RedisDB, err = getEnvAsInt("REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	// RabbitMQ is optional; lifecycle events fall back to the log publisher.
	cfg.AMQPURL = getEnv("AMQP_URL", "")
	cfg.EventsExchange = getEnv("EVENTS_EXCHANGE", "booking.events")
	cfg.ProviderEventsQueue = getEnv("PROVIDER_EVENTS_QUEUE", "payment.provider-events")

	// Payment processor. Without an API URL the sandbox processor is used.
	cfg.PaymentAPIURL = getEnv("PAYMENT_API_URL", "")
	cfg.PaymentAPIKey = getEnv("PAYMENT_API_KEY", "")
	cfg.PaymentWebhookSecret = getEnv("PAYMENT_WEBHOOK_SECRET", "")
	if cfg.IsProduction && cfg.PaymentWebhookSecret == "" {
		return nil, fmt.Errorf("PAYMENT_WEBHOOK_SECRET is required in production")
	}

	if cfg.PaymentTimeout, err = getEnvAsDuration("PAYMENT_TIMEOUT", 30*time.Minute); err != nil {
		return nil, fmt.Errorf("invalid PAYMENT_TIMEOUT: %w", err)
	}
	if cfg.FinalizeAfter, err = getEnvAsDuration("FINALIZE_AFTER", 72*time.Hour); err != nil {
		return nil, fmt.Errorf("invalid FINALIZE_AFTER: %w", err)
	}

	// Background jobs (robfig/cron specs)
	cfg.Jobs.ExpireUnpaidSchedule = getEnv("JOB_EXPIRE_UNPAID_SCHEDULE", "@every 1m")
	cfg.Jobs.FinalizeSchedule = getEnv("JOB_FINALIZE_SCHEDULE", "0 * * * *")
	cfg.Jobs.DispatchRefundSchedule = getEnv("JOB_DISPATCH_REFUNDS_SCHEDULE", "@every 30s")
	if cfg.Jobs.BatchSize, err = getEnvAsInt("JOB_BATCH_SIZE", 100); err != nil {
		return nil, fmt.Errorf("invalid JOB_BATCH_SIZE: %w", err)
	}

	if cfg.RateLimit, err = loadRateLimit(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadRateLimit() (RateLimitConfig, error) {
	var err error
	rl := RateLimitConfig{
		Enabled: getEnvAsBool("RATE_LIMIT_ENABLED", true),
		Prefix:  getEnv("RATE_LIMIT_PREFIX", "rl"),
	}
	if rl.Capacity, err = getEnvAsInt("RATE_LIMIT_CAPACITY", 30); err != nil {
		return rl, fmt.Errorf("invalid RATE_LIMIT_CAPACITY: %w", err)
	}
	if rl.RefillTokens, err = getEnvAsInt("RATE_LIMIT_REFILL_TOKENS", 1); err != nil {
		return rl, fmt.Errorf("invalid RATE_LIMIT_REFILL_TOKENS: %w", err)
	}
	if rl.RefillInterval, err = getEnvAsDuration("RATE_LIMIT_REFILL_INTERVAL", time.Second); err != nil {
		return rl, fmt.Errorf("invalid RATE_LIMIT_REFILL_INTERVAL: %w", err)
	}
	if rl.TTL, err = getEnvAsDuration("RATE_LIMIT_TTL", 10*time.Minute); err != nil {
		return rl, fmt.Errorf("invalid RATE_LIMIT_TTL: %w", err)
	}

	if rl.Capacity < 1 {
		rl.Capacity = 1
	}
	if rl.RefillTokens < 1 {
		rl.RefillTokens = 1
	}
	if rl.RefillInterval <= 0 {
		rl.RefillInterval = time.Second
	}
	// Keys must outlive a full refill of the bucket.
	if minTTL := 5 * rl.RefillInterval; rl.TTL < minTTL {
		rl.TTL = minTTL
	}
	return rl, nil
}

// getEnv returns the value of the environment variable if set,
// otherwise returns the provided default value.
func getEnv(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer.
// It returns the default value if the variable is not set.
// It returns an error if the variable is set but is not a valid integer.
func getEnvAsInt(key string, defaultValue int) (int, error) {
	valStr := getEnv(key, "")
	if valStr == "" {
		return defaultValue, nil
	}

	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("env %s value %q is not a valid integer: %w", key, valStr, err)
	}

	return val, nil
}

// getEnvAsDuration parses values such as "15m" or "1h".
func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valStr := getEnv(key, "")
	if valStr == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(valStr)
	if err != nil {
		return 0, fmt.Errorf("env %s value %q is not a valid duration: %w", key, valStr, err)
	}
	return val, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	switch strings.ToLower(getEnv(key, "")) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}
