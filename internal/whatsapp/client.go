package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ebrecho-wa/internal/metrics"
)

const (
	defaultGraphBaseURL = "https://graph.facebook.com"
	defaultAPIVersion   = "v21.0"
)

// ErrInvalidAccessToken indicates the Cloud API rejected the access token.
var ErrInvalidAccessToken = errors.New("whatsapp invalid access token")

// ClientConfig holds Cloud API client configuration.
type ClientConfig struct {
	BaseURL     string
	APIVersion  string
	AccessToken string
	Timeout     time.Duration
}

// Client provides typed access to the WhatsApp Cloud API.
type Client struct {
	logger  *slog.Logger
	baseURL string
	version string
	token   string
	http    *http.Client
	metrics *metrics.Metrics
}

// APIError is the Graph API error envelope.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	TraceID    string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp api error: status=%d code=%d %s", e.StatusCode, e.Code, e.Message)
}

// NewClient creates a new Cloud API client.
func NewClient(cfg ClientConfig, logger *slog.Logger, metrics *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultGraphBaseURL
	}
	version := strings.Trim(cfg.APIVersion, "/")
	if version == "" {
		version = defaultAPIVersion
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		logger:  logger.With("component", "whatsapp_client"),
		baseURL: base,
		version: version,
		token:   cfg.AccessToken,
		http:    &http.Client{Timeout: timeout},
		metrics: metrics,
	}
}

type sendTextRequest struct {
	MessagingProduct string      `json:"messaging_product"`
	RecipientType    string      `json:"recipient_type"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Text             textContent `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText sends a text message from phoneNumberID and returns the provider message id.
func (c *Client) SendText(ctx context.Context, phoneNumberID, to, body string) (string, error) {
	if phoneNumberID == "" || to == "" {
		return "", errors.New("send text: phone number id and recipient are required")
	}
	if strings.TrimSpace(body) == "" {
		return "", errors.New("send text: empty body")
	}

	payload := sendTextRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             textContent{Body: body},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal send text: %w", err)
	}

	var resp sendResponse
	if err := c.do(ctx, http.MethodPost, "/"+phoneNumberID+"/messages", "messages", raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Messages) == 0 || resp.Messages[0].ID == "" {
		return "", errors.New("send text: response carried no message id")
	}
	if c.metrics != nil {
		c.metrics.WAOutgoingMessages.WithLabelValues("text").Inc()
	}
	return resp.Messages[0].ID, nil
}

func (c *Client) do(ctx context.Context, method, path, endpoint string, body []byte, dest any) error {
	reqURL := c.baseURL + "/" + c.version + path
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ebrecho-wa/cloud-api-client")

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.GraphRequests.WithLabelValues(endpoint, "error").Inc()
		}
		return fmt.Errorf("whatsapp request: %w", err)
	}
	defer res.Body.Close()

	statusLabel := fmt.Sprintf("%d", res.StatusCode)
	if c.metrics != nil {
		c.metrics.GraphRequests.WithLabelValues(endpoint, statusLabel).Inc()
		c.metrics.GraphLatency.WithLabelValues(endpoint, statusLabel).Observe(time.Since(start).Seconds())
	}

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode >= 400 {
		return classifyHTTPError(res.StatusCode, bodyBytes)
	}

	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func classifyHTTPError(status int, body []byte) error {
	var env struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		return fmt.Errorf("whatsapp error: status=%d body=%s", status, strings.TrimSpace(string(body)))
	}
	env.Error.StatusCode = status
	// code 190 is an expired or invalid OAuth token
	if status == http.StatusUnauthorized || env.Error.Code == 190 {
		return fmt.Errorf("%w: %w", ErrInvalidAccessToken, env.Error)
	}
	return env.Error
}
