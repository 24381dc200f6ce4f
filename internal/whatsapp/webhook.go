package whatsapp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"ebrecho-wa/internal/metrics"
)

const defaultMaxBodyBytes = 1 << 20

// EventProcessor receives the normalized events of a verified delivery.
type EventProcessor interface {
	Process(ctx context.Context, events []Event) error
}

// WebhookConfig holds the shared secrets of the webhook endpoint.
type WebhookConfig struct {
	AppSecret    string
	VerifyToken  string
	MaxBodyBytes int64
}

// WebhookHandler serves the GET handshake and POST deliveries of the Cloud API webhook.
type WebhookHandler struct {
	logger      *slog.Logger
	metrics     *metrics.Metrics
	verifier    *Verifier
	verifyToken string
	maxBody     int64
	processor   EventProcessor
	now         func() time.Time
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(logger *slog.Logger, metrics *metrics.Metrics, cfg WebhookConfig, processor EventProcessor) (*WebhookHandler, error) {
	verifier, err := NewVerifier(cfg.AppSecret)
	if err != nil {
		return nil, err
	}
	if cfg.VerifyToken == "" {
		return nil, errors.New("whatsapp verify token is empty")
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &WebhookHandler{
		logger:      logger.With("component", "whatsapp_webhook"),
		metrics:     metrics,
		verifier:    verifier,
		verifyToken: cfg.VerifyToken,
		maxBody:     maxBody,
		processor:   processor,
		now:         time.Now,
	}, nil
}

// ServeHTTP satisfies http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerify(w, r)
	case http.MethodPost:
		h.handleEvent(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *WebhookHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode := query.Get("hub.mode")
	token := query.Get("hub.verify_token")
	challenge := query.Get("hub.challenge")

	if mode == "" || token == "" || challenge == "" {
		h.count(http.MethodGet, "bad_request")
		http.Error(w, "missing hub parameters", http.StatusBadRequest)
		return
	}

	if mode != "subscribe" || subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
		h.logger.Warn("webhook verification rejected", "mode", mode)
		h.count(http.MethodGet, "forbidden")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	h.logger.Info("webhook verification accepted")
	h.count(http.MethodGet, "ok")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

func (h *WebhookHandler) handleEvent(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		h.logger.Warn("failed reading webhook body", "error", err)
		h.count(http.MethodPost, "bad_request")
		http.Error(w, "bad format", http.StatusBadRequest)
		return
	}

	if err := h.verifier.Verify(r.Header, body); err != nil {
		h.logger.Warn("webhook signature rejected", "error", err)
		h.metrics.Errors.WithLabelValues("whatsapp_webhook_auth").Inc()
		h.count(http.MethodPost, "forbidden")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	batch, err := NormalizeBatch(body, h.now())
	if err != nil {
		h.logger.Warn("webhook payload rejected", "error", err)
		h.count(http.MethodPost, "bad_request")
		http.Error(w, "bad format", http.StatusBadRequest)
		return
	}
	for _, s := range batch.Skipped {
		h.logger.Warn("skipping webhook item", "path", s.Path, "reason", s.Reason)
	}
	if len(batch.Skipped) > 0 {
		h.metrics.Errors.WithLabelValues("whatsapp_webhook_skipped_item").Add(float64(len(batch.Skipped)))
	}
	events := batch.Events

	outcome := "ok"
	if err := h.process(r.Context(), events); err != nil {
		// the provider must not see a failure for a valid, signed delivery
		h.logger.Error("failed processing webhook", "error", err, "events", len(events))
		h.metrics.Errors.WithLabelValues("whatsapp_webhook_process").Inc()
		outcome = "absorbed_error"
	}

	h.count(http.MethodPost, outcome)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *WebhookHandler) process(ctx context.Context, events []Event) (err error) {
	if h.processor == nil || len(events) == 0 {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while processing events: %v", rec)
		}
	}()
	return h.processor.Process(ctx, events)
}

func (h *WebhookHandler) count(method, outcome string) {
	h.metrics.WebhookRequests.WithLabelValues(method, outcome).Inc()
}
