package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ebrecho-wa/internal/ingest"
	"ebrecho-wa/internal/metrics"
	"ebrecho-wa/internal/repo"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WebhookPath is where the WhatsApp Cloud API delivers events.
const WebhookPath = "/api/whatsapp/webhook"

// Config holds listener settings.
type Config struct {
	Addr       string
	BasePath   string
	AdminToken string
}

// Handlers groups optional HTTP handlers to mount.
type Handlers struct {
	WhatsAppWebhook http.Handler
}

// MessageSender sends an outbound text on behalf of a partner.
type MessageSender interface {
	SendText(ctx context.Context, req ingest.SendRequest) (*repo.MessageRecord, error)
}

// Dependencies exposes core dependencies to handlers that need them.
type Dependencies struct {
	Repository repo.Repository
	// Sender is nil when outbound sending is not configured.
	Sender MessageSender
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	handlers   Handlers
	deps       Dependencies
	basePath   string
	adminToken string
}

// New creates a new HTTP server with health, metrics, webhook and admin endpoints.
func New(cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics, handlers Handlers, deps Dependencies) *Server {
	server := &Server{
		logger:     logger.With("component", "http"),
		metrics:    metricRegistry,
		handlers:   handlers,
		deps:       deps,
		basePath:   normaliseBasePath(cfg.BasePath),
		adminToken: cfg.AdminToken,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", server.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/admin/whatsapp/messages", server.requireAdmin(server.handleMessages))

	if handlers.WhatsAppWebhook != nil {
		mux.Handle(WebhookPath, handlers.WhatsAppWebhook)
	}

	server.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mountWithBasePath(server.basePath, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}

	return server
}

// Handler returns the root handler, base path included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Repository != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Repository.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": "down"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Warn("failed to encode json response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		if r.URL.RawPath != "" {
			rawTrimmed := strings.TrimPrefix(r.URL.RawPath, basePath)
			if rawTrimmed == "" {
				rawTrimmed = "/"
			}
			r.URL.RawPath = rawTrimmed
		}
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
