/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	BaseURL     string // Public base URL (e.g., https://news.example.com)
	DBBackend   DatabaseBackend
	DBDSN       string
	MetricsBind string

	// Audio object storage. News audio and explainer audio live in separate
	// buckets, matching how the publishing pipeline uploads them.
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3NewsBucket      string
	S3ExplainerBucket string
	S3AudioPath       string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3PublicBaseURL   string // Optional CDN/CloudFront URL
	S3UsePathStyle    bool   // Required for MinIO

	// Catalog assembly
	CatalogDays      int    // Days of news counting back from the base date
	CatalogTimezone  string // Publishing timezone for the base-date boundary
	CatalogBoundary  int    // Hour of day before which yesterday is newest
	LeadInCueRef     string // Media reference of the transition cue
	AutoAdvanceDelay time.Duration

	// Loader capability probe
	ConstrainedWidth int // Viewport width at or below which full prefetch applies

	// Session tokens issued by the identity collaborator
	JWTSigningKey string

	// Billing collaborator
	BillingAPIBaseURL    string
	BillingWebhookSecret string

	// Redis metadata cache
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NATS event bridge (optional, single-instance deployments leave it off)
	NATSURL string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("MIMIR_ENV", "development"),
		HTTPBind:    getEnv("MIMIR_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("MIMIR_HTTP_PORT", 8080),
		BaseURL:     getEnv("MIMIR_BASE_URL", ""),
		DBBackend:   DatabaseBackend(getEnv("MIMIR_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:       getEnv("MIMIR_DB_DSN", "mimir.db"),
		MetricsBind: getEnv("MIMIR_METRICS_BIND", "127.0.0.1:9000"),

		S3AccessKeyID:     getEnvAny([]string{"MIMIR_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"MIMIR_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"MIMIR_S3_REGION", "AWS_REGION"}, "ap-northeast-1"),
		S3NewsBucket:      getEnv("MIMIR_S3_NEWS_BUCKET", ""),
		S3ExplainerBucket: getEnv("MIMIR_S3_EXPLAINER_BUCKET", ""),
		S3AudioPath:       getEnv("MIMIR_S3_AUDIO_PATH", "audio-files"),
		S3Endpoint:        getEnv("MIMIR_S3_ENDPOINT", ""),
		S3PublicBaseURL:   getEnv("MIMIR_S3_PUBLIC_BASE_URL", ""),
		S3UsePathStyle:    getEnvBool("MIMIR_S3_USE_PATH_STYLE", false),

		CatalogDays:      getEnvInt("MIMIR_CATALOG_DAYS", 7),
		CatalogTimezone:  getEnv("MIMIR_CATALOG_TIMEZONE", "Asia/Tokyo"),
		CatalogBoundary:  getEnvInt("MIMIR_CATALOG_BOUNDARY_HOUR", 5),
		LeadInCueRef:     getEnv("MIMIR_LEAD_IN_CUE_REF", "/click.mp3"),
		AutoAdvanceDelay: time.Duration(getEnvInt("MIMIR_AUTO_ADVANCE_DELAY_MS", 500)) * time.Millisecond,

		ConstrainedWidth: getEnvInt("MIMIR_CONSTRAINED_WIDTH", 768),

		JWTSigningKey: getEnv("MIMIR_JWT_SIGNING_KEY", ""),

		BillingAPIBaseURL:    getEnv("MIMIR_BILLING_API_BASE_URL", ""),
		BillingWebhookSecret: getEnv("MIMIR_BILLING_WEBHOOK_SECRET", ""),

		RedisAddr:     getEnv("MIMIR_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("MIMIR_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("MIMIR_REDIS_DB", 0),

		NATSURL: getEnv("MIMIR_NATS_URL", ""),

		TracingEnabled:    getEnvBool("MIMIR_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("MIMIR_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("MIMIR_TRACING_SAMPLE_RATE", 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.S3NewsBucket == "" && cfg.S3PublicBaseURL == "" {
		return nil, fmt.Errorf("MIMIR_S3_NEWS_BUCKET or MIMIR_S3_PUBLIC_BASE_URL must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("MIMIR_JWT_SIGNING_KEY must be provided")
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.BillingWebhookSecret == "" {
		return nil, fmt.Errorf("MIMIR_BILLING_WEBHOOK_SECRET must be set in production")
	}

	if cfg.CatalogDays <= 0 {
		cfg.CatalogDays = 7
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}
