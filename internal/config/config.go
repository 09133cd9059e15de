package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Env     string // dev, prod
	Version string // reported by health endpoints

	HTTPPort        string        // default 8080
	ShutdownTimeout time.Duration // graceful shutdown timeout

	PostgresDSN string // required

	RedisAddr     string        // host:port
	RedisUsername string        // redis username
	RedisPassword string        // redis password
	LockTTL       time.Duration // how long a Redis provider lock lives
	LockWait      time.Duration // how long a contended booking waits for the lock

	WorkerInterval    time.Duration // how often the no-show worker runs
	WorkerMetricsPort string        // where the no-show worker serves /metrics, default 9091
	NoShowGrace       time.Duration // how long after its end an active appointment becomes a no-show

	LogLevel  string // debug, info, warn, error
	LogFormat string // json, console
}

// Load reads the environment, after merging a .env file when one exists.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:               envOr("APP_ENV", "dev"),
		Version:           envOr("APP_VERSION", "dev"),
		HTTPPort:          envOr("HTTP_PORT", "8080"),
		ShutdownTimeout:   durationOr("SHUTDOWN_TIMEOUT", 10*time.Second),
		PostgresDSN:       os.Getenv("POSTGRES_DSN"),
		LockTTL:           durationOr("LOCK_TTL", 5*time.Second),
		LockWait:          durationOr("LOCK_WAIT", 250*time.Millisecond),
		WorkerInterval:    durationOr("WORKER_INTERVAL", time.Minute),
		WorkerMetricsPort: envOr("WORKER_METRICS_PORT", "9091"),
		NoShowGrace:       durationOr("NO_SHOW_GRACE", 2*time.Hour),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		LogFormat:         envOr("LOG_FORMAT", "json"),
	}

	if err := cfg.loadRedis(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// REDIS_URL wins over the individual REDIS_* keys.
func (c *Config) loadRedis() error {
	if raw := os.Getenv("REDIS_URL"); raw != "" {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		c.RedisAddr = opts.Addr
		c.RedisUsername = opts.Username
		c.RedisPassword = opts.Password
		return nil
	}

	c.RedisAddr = envOr("REDIS_ADDR", "127.0.0.1:6379")
	c.RedisUsername = os.Getenv("REDIS_USERNAME")
	c.RedisPassword = os.Getenv("REDIS_PASSWORD")
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.PostgresDSN == "" {
		errs = append(errs, errors.New("POSTGRES_DSN is required"))
	}
	if c.LockTTL <= 0 {
		errs = append(errs, errors.New("LOCK_TTL must be positive"))
	}
	if c.LockWait < 0 {
		errs = append(errs, errors.New("LOCK_WAIT must not be negative"))
	}
	if c.WorkerInterval <= 0 {
		errs = append(errs, errors.New("WORKER_INTERVAL must be positive"))
	}
	if c.NoShowGrace < 0 {
		errs = append(errs, errors.New("NO_SHOW_GRACE must not be negative"))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// durationOr accepts plain seconds ("30") or Go syntax ("1m30s").
func durationOr(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	fmt.Fprintf(os.Stderr, "invalid duration for %s=%q, using default %s\n", key, v, def)
	return def
}
