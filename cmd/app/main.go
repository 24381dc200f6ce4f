package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ebrecho-wa/internal/cache"
	"ebrecho-wa/internal/config"
	"ebrecho-wa/internal/httpserver"
	"ebrecho-wa/internal/ingest"
	"ebrecho-wa/internal/logging"
	"ebrecho-wa/internal/metrics"
	"ebrecho-wa/internal/partner"
	"ebrecho-wa/internal/repo"
	"ebrecho-wa/internal/whatsapp"
	"ebrecho-wa/migrations"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "ebrecho-wa",
		Short:         "WhatsApp Cloud API webhook receiver for ebrecho partners",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), seedPartnersCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cfg)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Parse()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := logging.NewLogger(cfg.LogLevel)
			repository, err := openRepository(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			repository.Close()
			return nil
		},
	}
}

func seedPartnersCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed-partners",
		Short: "Create or rename partners from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Parse()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := logging.NewLogger(cfg.LogLevel)

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open seed file: %w", err)
			}
			defer f.Close()

			repository, err := openRepository(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer repository.Close()

			var invalidator partner.Invalidator
			if cfg.RedisAddr != "" {
				redisClient := newRedis(cfg, logger)
				defer closeRedis(redisClient, logger)
				invalidator = redisClient
			}

			n, err := partner.Seed(cmd.Context(), repository, invalidator, f)
			if errors.Is(err, partner.ErrCacheInvalidation) {
				logger.Warn("partners seeded but cached lookups were kept", "error", err)
			} else if err != nil {
				return err
			}
			logger.Info("partners seeded", "count", n, "file", file)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "partners.yaml", "path to the partner seed file")
	return cmd
}

func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (repo.Repository, error) {
	repository, err := repo.Open(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
	if err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}
	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		repository.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	backend := "sqlite"
	if cfg.UsesPostgres() {
		backend = "postgres"
	}
	logger.Info("database migrated", "backend", backend)
	return repository, nil
}

func newRedis(cfg config.Config, logger *slog.Logger) *cache.Redis {
	return cache.New(cache.Config{
		Addr:      cfg.RedisAddr,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		UseTLS:    cfg.RedisTLS,
		KeyPrefix: "ebrecho-wa",
	}, logger)
}

func closeRedis(r *cache.Redis, logger *slog.Logger) {
	if err := r.Close(); err != nil {
		logger.Warn("failed closing redis", "error", err)
	}
}

func serve(cfg config.Config) error {
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting ebrecho-wa", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repository.Close()

	var partnerCache partner.Cache
	if cfg.RedisAddr != "" {
		redisClient := newRedis(cfg, logger)
		defer closeRedis(redisClient, logger)
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed, partner lookups will hit the database", "error", err)
		}
		partnerCache = redisClient
	}

	resolver := partner.NewResolver(repository, partnerCache, cfg.PartnerCacheTTL, logger)
	persister := ingest.NewPersister(repository, logger, metricRegistry)
	processor := ingest.NewProcessor(resolver, persister, logger, metricRegistry)

	webhookHandler, err := whatsapp.NewWebhookHandler(logger, metricRegistry, whatsapp.WebhookConfig{
		AppSecret:    cfg.WhatsAppAppSecret,
		VerifyToken:  cfg.WhatsAppVerifyToken,
		MaxBodyBytes: cfg.WebhookMaxBodyBytes,
	}, processor)
	if err != nil {
		return fmt.Errorf("init webhook handler: %w", err)
	}

	deps := httpserver.Dependencies{Repository: repository}
	if cfg.SendingEnabled() {
		client := whatsapp.NewClient(whatsapp.ClientConfig{
			BaseURL:     cfg.WhatsAppGraphBaseURL,
			APIVersion:  cfg.WhatsAppAPIVersion,
			AccessToken: cfg.WhatsAppAccessToken,
			Timeout:     cfg.WhatsAppTimeout,
		}, logger, metricRegistry)
		deps.Sender = ingest.NewSender(client, resolver, repository, logger)
		logger.Info("outbound sending enabled")
	}

	httpSrv := httpserver.New(httpserver.Config{
		Addr:       cfg.HTTPListenAddr,
		BasePath:   cfg.PublicBasePath,
		AdminToken: cfg.AdminToken,
	}, logger, metricRegistry, httpserver.Handlers{
		WhatsAppWebhook: webhookHandler,
	}, deps)

	logger.Info("webhook endpoint configured", "path", strings.TrimSuffix(cfg.PublicBasePath, "/")+httpserver.WebhookPath)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}
