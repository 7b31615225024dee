package config

import (
	"testing"
	"time"
)

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	t.Setenv("MIMIR_S3_NEWS_BUCKET", "daily-news-audio")
	t.Setenv("MIMIR_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("MIMIR_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.S3NewsBucket != "daily-news-audio" {
		t.Fatalf("unexpected news bucket: %q", cfg.S3NewsBucket)
	}
	if cfg.JWTSigningKey != "supersecret" {
		t.Fatalf("unexpected jwt signing key: %q", cfg.JWTSigningKey)
	}
	if cfg.AutoAdvanceDelay != 500*time.Millisecond {
		t.Fatalf("unexpected auto advance delay: %v", cfg.AutoAdvanceDelay)
	}
	if cfg.CatalogDays != 7 {
		t.Fatalf("unexpected catalog days: %d", cfg.CatalogDays)
	}
}

func TestLoadRejectsUnknownDatabaseBackend(t *testing.T) {
	t.Setenv("MIMIR_S3_NEWS_BUCKET", "daily-news-audio")
	t.Setenv("MIMIR_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("MIMIR_DB_BACKEND", "oracle")

	if _, err := Load(); err == nil {
		t.Fatal("expected config load to fail for unknown database backend")
	}
}

func TestLoadProductionRequiresWebhookSecret(t *testing.T) {
	t.Setenv("MIMIR_S3_NEWS_BUCKET", "daily-news-audio")
	t.Setenv("MIMIR_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("MIMIR_ENV", "production")

	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail without webhook secret")
	}

	t.Setenv("MIMIR_BILLING_WEBHOOK_SECRET", "whsec_test")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production config load with webhook secret to succeed: %v", err)
	}
}
