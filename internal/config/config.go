package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"

	"github.com/kursadbilgin/batch-engine/internal/ratelimit"
	"github.com/kursadbilgin/batch-engine/internal/retry"
)

type Config struct {
	RedisURL    string `env:"REDIS_URL,required=true"`
	AnalyzerURL string `env:"ANALYZER_URL,required=true"`
	DatabaseDSN string `env:"DATABASE_DSN"`
	RabbitMQURL string `env:"RABBITMQ_URL"`

	APIPort   int    `env:"API_PORT,default=8080"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	RateLimitPerSec        int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	RateLimitOverrides     string `env:"RATE_LIMIT_OVERRIDES"`
	AnalyzerTimeoutSeconds int    `env:"ANALYZER_TIMEOUT_SECONDS,default=30"`
	CallbackTimeoutSeconds int    `env:"CALLBACK_TIMEOUT_SECONDS,default=10"`
	StatusCacheTTLSeconds  int    `env:"STATUS_CACHE_TTL_SECONDS,default=3600"`
	JobRetentionHours      int    `env:"JOB_RETENTION_HOURS,default=24"`
	CleanupIntervalMinutes int    `env:"CLEANUP_INTERVAL_MINUTES,default=30"`

	RetryExternalMaxAttempts   int `env:"RETRY_EXTERNAL_MAX_ATTEMPTS,default=3"`
	RetryExternalBaseMS        int `env:"RETRY_EXTERNAL_BASE_MS,default=1000"`
	RetryExternalMaxMS         int `env:"RETRY_EXTERNAL_MAX_MS,default=30000"`
	RetryProcessingMaxAttempts int `env:"RETRY_PROCESSING_MAX_ATTEMPTS,default=2"`
	RetryProcessingBaseMS      int `env:"RETRY_PROCESSING_BASE_MS,default=500"`

	SubmissionQueue    string `env:"SUBMISSION_QUEUE,default=batch.submissions"`
	EventsQueue        string `env:"EVENTS_QUEUE,default=batch.events"`
	EventsExchange     string `env:"EVENTS_EXCHANGE,default=batch.lifecycle"`
	SubmissionPrefetch int    `env:"SUBMISSION_PREFETCH,default=4"`
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads variables from the given files into the environment without
// overriding ones already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, file := range files {
		if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("invalid API_PORT %d", c.APIPort)
	}
	if strings.TrimSpace(c.SubmissionQueue) == "" || strings.TrimSpace(c.EventsQueue) == "" ||
		strings.TrimSpace(c.EventsExchange) == "" {
		return fmt.Errorf("queue and exchange names must not be empty")
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q", c.LogFormat)
	}

	if _, err := ratelimit.ParseOverrides(c.RateLimitOverrides); err != nil {
		return fmt.Errorf("invalid RATE_LIMIT_OVERRIDES: %w", err)
	}

	nonNegative := map[string]int{
		"RATE_LIMIT_PER_SEC":            c.RateLimitPerSec,
		"RETRY_EXTERNAL_MAX_ATTEMPTS":   c.RetryExternalMaxAttempts,
		"RETRY_PROCESSING_MAX_ATTEMPTS": c.RetryProcessingMaxAttempts,
		"RETRY_EXTERNAL_BASE_MS":        c.RetryExternalBaseMS,
		"RETRY_EXTERNAL_MAX_MS":         c.RetryExternalMaxMS,
		"RETRY_PROCESSING_BASE_MS":      c.RetryProcessingBaseMS,
	}
	for name, value := range nonNegative {
		if value < 0 {
			return fmt.Errorf("%s must not be negative, got %d", name, value)
		}
	}
	return nil
}

// RateLimits is the per-operation-type call budget. Validate has already
// checked the override list.
func (c *Config) RateLimits() ratelimit.Limits {
	overrides, _ := ratelimit.ParseOverrides(c.RateLimitOverrides)
	return ratelimit.Limits{Default: c.RateLimitPerSec, PerKey: overrides}
}

func (c *Config) AnalyzerTimeout() time.Duration {
	return secondsOr(c.AnalyzerTimeoutSeconds, 30)
}

func (c *Config) CallbackTimeout() time.Duration {
	return secondsOr(c.CallbackTimeoutSeconds, 10)
}

func (c *Config) StatusCacheTTL() time.Duration {
	return secondsOr(c.StatusCacheTTLSeconds, 3600)
}

func (c *Config) JobRetention() time.Duration {
	if c.JobRetentionHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.JobRetentionHours) * time.Hour
}

func (c *Config) CleanupInterval() time.Duration {
	if c.CleanupIntervalMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.CleanupIntervalMinutes) * time.Minute
}

// ExternalRetryPolicy is the exponential-with-jitter policy for external-service errors.
func (c *Config) ExternalRetryPolicy() retry.Exponential {
	policy := retry.DefaultExternal()
	if c.RetryExternalMaxAttempts > 0 {
		policy.Attempts = c.RetryExternalMaxAttempts
	}
	if c.RetryExternalBaseMS > 0 {
		policy.Base = time.Duration(c.RetryExternalBaseMS) * time.Millisecond
	}
	if c.RetryExternalMaxMS > 0 {
		policy.Max = time.Duration(c.RetryExternalMaxMS) * time.Millisecond
	}
	return policy
}

// ProcessingRetryPolicy is the linear policy for local processing errors.
func (c *Config) ProcessingRetryPolicy() retry.Linear {
	policy := retry.DefaultProcessing()
	if c.RetryProcessingMaxAttempts > 0 {
		policy.Attempts = c.RetryProcessingMaxAttempts
	}
	if c.RetryProcessingBaseMS > 0 {
		policy.Base = time.Duration(c.RetryProcessingBaseMS) * time.Millisecond
		policy.Increment = policy.Base
	}
	return policy
}

func secondsOr(value int, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}
