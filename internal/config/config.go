package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime settings loaded from the environment.
type Config struct {
	AppEnv         string
	LogLevel       string
	HTTPListenAddr string
	PublicBasePath string

	DatabaseURL    string
	DatabaseSchema string

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisTLS        bool
	PartnerCacheTTL time.Duration

	WhatsAppAppSecret    string
	WhatsAppVerifyToken  string
	WhatsAppAccessToken  string
	WhatsAppGraphBaseURL string
	WhatsAppAPIVersion   string
	WhatsAppTimeout      time.Duration
	WebhookMaxBodyBytes  int64

	AdminToken       string
	MetricsNamespace string
}

// Load reads configuration from environment variables and validates it.
func Load() (Config, error) {
	cfg, err := Parse()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse reads configuration from environment variables without validating
// the webhook secrets, for commands that only touch storage.
func Parse() (Config, error) {
	cfg := Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		HTTPListenAddr: getEnv("HTTP_LISTEN_ADDR", ":8080"),
		PublicBasePath: getEnv("PUBLIC_BASE_PATH", ""),

		DatabaseURL:    getEnv("DATABASE_URL", "data/ebrecho-wa.db"),
		DatabaseSchema: getEnv("DATABASE_SCHEMA", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		WhatsAppAppSecret:    getEnv("WHATSAPP_APP_SECRET", ""),
		WhatsAppVerifyToken:  getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		WhatsAppAccessToken:  getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppGraphBaseURL: getEnv("WHATSAPP_GRAPH_BASE_URL", "https://graph.facebook.com"),
		WhatsAppAPIVersion:   getEnv("WHATSAPP_API_VERSION", "v21.0"),

		AdminToken:       getEnv("ADMIN_TOKEN", ""),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "ebrecho_wa"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.RedisTLS, err = getEnvBool("REDIS_TLS", false); err != nil {
		return Config{}, err
	}
	if cfg.PartnerCacheTTL, err = getEnvDuration("PARTNER_CACHE_TTL", 10*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.WhatsAppTimeout, err = getEnvDuration("WHATSAPP_TIMEOUT", 15*time.Second); err != nil {
		return Config{}, err
	}
	maxBody, err := getEnvInt("WEBHOOK_MAX_BODY_BYTES", 1<<20)
	if err != nil {
		return Config{}, err
	}
	cfg.WebhookMaxBodyBytes = int64(maxBody)
	return cfg, nil
}

// Validate checks the settings required to serve webhooks.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.WhatsAppAppSecret) == "" {
		errs = append(errs, errors.New("WHATSAPP_APP_SECRET is required"))
	}
	if strings.TrimSpace(c.WhatsAppVerifyToken) == "" {
		errs = append(errs, errors.New("WHATSAPP_VERIFY_TOKEN is required"))
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.WebhookMaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("WEBHOOK_MAX_BODY_BYTES must be positive, got %d", c.WebhookMaxBodyBytes))
	}
	if c.PartnerCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("PARTNER_CACHE_TTL must not be negative, got %s", c.PartnerCacheTTL))
	}
	return errors.Join(errs...)
}

// UsesPostgres reports whether DatabaseURL points at a Postgres server.
func (c Config) UsesPostgres() bool {
	url := strings.ToLower(c.DatabaseURL)
	return strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://")
}

// SendingEnabled reports whether outbound messages can be sent.
func (c Config) SendingEnabled() bool {
	return c.WhatsAppAccessToken != "" && c.AdminToken != ""
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && strings.TrimSpace(val) != "" {
		return strings.TrimSpace(val)
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return val, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return val, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return val, nil
}
