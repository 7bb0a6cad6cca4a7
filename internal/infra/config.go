package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv        string
	Port          string
	PublicBaseURL string
	DatabaseURL   string
	RedisURL      string
	RedisQueueKey string
	AdminAPIKey   string

	StorageBackend       string
	StoragePath          string
	StorageSigningSecret string
	SupabaseURL          string
	SupabaseServiceKey   string
	SignedURLTTL         time.Duration

	OpenRouterAPIKey     string
	OpenRouterBaseURL    string
	OpenRouterTextModel  string
	OpenRouterImageModel string
	OpenRouterReferer    string
	OpenRouterTitle      string
	ProviderTimeout      time.Duration
	ProviderMaxRetries   int

	JobMaxAttempts      int
	JobRetryBackoff     time.Duration
	PipelineStepTimeout time.Duration
	WorkerPollInterval  time.Duration
	WorkerStaleAfter    time.Duration
	WorkerConcurrency   int

	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	CORSAllowedOrigins []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		Port:          port,
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		RedisQueueKey: getEnv("REDIS_QUEUE_KEY", "book_jobs:ready"),
		AdminAPIKey:   os.Getenv("ADMIN_API_KEY"),

		StorageBackend:       getEnv("STORAGE_BACKEND", "file"),
		StoragePath:          getEnv("STORAGE_PATH", "./data/storage"),
		StorageSigningSecret: os.Getenv("STORAGE_SIGNING_SECRET"),
		SupabaseURL:          strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
		SupabaseServiceKey:   os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SignedURLTTL:         getEnvDuration("SIGNED_URL_TTL", time.Hour),

		OpenRouterAPIKey:     os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterBaseURL:    getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterTextModel:  getEnv("OPENROUTER_TEXT_MODEL", "xiaomi/mimo-v2-flash:free"),
		OpenRouterImageModel: getEnv("OPENROUTER_IMAGE_MODEL", "bytedance-seed/seedream-4.5"),
		OpenRouterReferer:    getEnv("OPENROUTER_REFERER", "http://localhost:"+port),
		OpenRouterTitle:      getEnv("OPENROUTER_TITLE", "Bedtime Solved"),
		ProviderTimeout:      getEnvDuration("PROVIDER_TIMEOUT", 120*time.Second),
		ProviderMaxRetries:   getEnvInt("PROVIDER_MAX_RETRIES", 3),

		JobMaxAttempts:      getEnvInt("JOB_MAX_ATTEMPTS", 3),
		JobRetryBackoff:     getEnvDuration("JOB_RETRY_BACKOFF", 10*time.Second),
		PipelineStepTimeout: getEnvDuration("PIPELINE_STEP_TIMEOUT", 10*time.Minute),
		WorkerPollInterval:  getEnvDuration("WORKER_POLL_INTERVAL", 2*time.Second),
		WorkerStaleAfter:    getEnvDuration("WORKER_STALE_AFTER", 15*time.Minute),
		WorkerConcurrency:   getEnvInt("WORKER_CONCURRENCY", 1),

		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	switch cfg.StorageBackend {
	case "file":
	case "supabase":
		if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
			return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required for the supabase storage backend")
		}
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	// A step that is still running must never look abandoned.
	if cfg.WorkerStaleAfter <= cfg.PipelineStepTimeout {
		return nil, fmt.Errorf("WORKER_STALE_AFTER (%s) must be longer than PIPELINE_STEP_TIMEOUT (%s)", cfg.WorkerStaleAfter, cfg.PipelineStepTimeout)
	}

	if cfg.ProviderMaxRetries < 0 {
		cfg.ProviderMaxRetries = 0
	}

	if cfg.JobMaxAttempts < 1 {
		cfg.JobMaxAttempts = 1
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
