package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("WHATSAPP_APP_SECRET", "app-secret")
	t.Setenv("WHATSAPP_VERIFY_TOKEN", "verify-me")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPListenAddr != ":8080" {
		t.Errorf("expected default listen addr, got %q", cfg.HTTPListenAddr)
	}
	if cfg.WebhookMaxBodyBytes != 1<<20 {
		t.Errorf("expected 1MiB body cap, got %d", cfg.WebhookMaxBodyBytes)
	}
	if cfg.PartnerCacheTTL != 10*time.Minute {
		t.Errorf("expected 10m cache ttl, got %s", cfg.PartnerCacheTTL)
	}
	if cfg.UsesPostgres() {
		t.Error("default database should be sqlite")
	}
	if cfg.SendingEnabled() {
		t.Error("sending must be disabled without tokens")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/ebrecho")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("PARTNER_CACHE_TTL", "30s")
	t.Setenv("WHATSAPP_ACCESS_TOKEN", "token")
	t.Setenv("ADMIN_TOKEN", "admin")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.UsesPostgres() {
		t.Error("expected postgres database")
	}
	if cfg.RedisDB != 3 || !cfg.RedisTLS {
		t.Errorf("unexpected redis settings: db=%d tls=%v", cfg.RedisDB, cfg.RedisTLS)
	}
	if cfg.PartnerCacheTTL != 30*time.Second {
		t.Errorf("expected 30s ttl, got %s", cfg.PartnerCacheTTL)
	}
	if !cfg.SendingEnabled() {
		t.Error("expected sending enabled")
	}
}

func TestLoadMissingSecrets(t *testing.T) {
	t.Setenv("WHATSAPP_APP_SECRET", "")
	t.Setenv("WHATSAPP_VERIFY_TOKEN", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing secrets")
	}
	msg := err.Error()
	if !strings.Contains(msg, "WHATSAPP_APP_SECRET") || !strings.Contains(msg, "WHATSAPP_VERIFY_TOKEN") {
		t.Fatalf("expected both keys reported, got %q", msg)
	}
}

func TestLoadInvalidNumber(t *testing.T) {
	setRequired(t)
	t.Setenv("REDIS_DB", "zero")

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error for REDIS_DB")
	}
}

func TestValidateBodyCap(t *testing.T) {
	cfg := Config{
		WhatsAppAppSecret:   "s",
		WhatsAppVerifyToken: "v",
		DatabaseURL:         ":memory:",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero body cap")
	}
	cfg.WebhookMaxBodyBytes = 1024
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseSkipsWebhookSecrets(t *testing.T) {
	t.Setenv("WHATSAPP_APP_SECRET", "")
	t.Setenv("WHATSAPP_VERIFY_TOKEN", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/ebrecho")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cfg.UsesPostgres() {
		t.Error("expected postgres backend")
	}
}
