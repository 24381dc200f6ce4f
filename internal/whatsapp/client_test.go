package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ebrecho-wa/internal/logging"
	"ebrecho-wa/internal/metrics"
)

func TestClientSendText(t *testing.T) {
	var got sendTextRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v21.0/826543520541078/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","contacts":[{"input":"5511","wa_id":"5511"}],"messages":[{"id":"wamid.OUT1"}]}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, AccessToken: "token"}, logging.Discard(), metrics.Registry("test"))
	id, err := c.SendText(context.Background(), "826543520541078", "5511", "Seu pedido foi enviado")
	if err != nil {
		t.Fatalf("send text: %v", err)
	}
	if id != "wamid.OUT1" {
		t.Fatalf("unexpected message id %q", id)
	}
	if got.MessagingProduct != "whatsapp" || got.Type != "text" || got.To != "5511" || got.Text.Body != "Seu pedido foi enviado" {
		t.Fatalf("unexpected request payload %+v", got)
	}
}

func TestClientSendTextErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v21.0/expired/messages":
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"Error validating access token","type":"OAuthException","code":190,"fbtrace_id":"T1"}}`))
		case "/v21.0/bad/messages":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`upstream down`))
		}
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, AccessToken: "token"}, logging.Discard(), metrics.Registry("test"))
	ctx := context.Background()

	if _, err := c.SendText(ctx, "expired", "1", "hi"); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("expected ErrInvalidAccessToken, got %v", err)
	}

	_, err := c.SendText(ctx, "bad", "1", "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 100 || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected APIError code 100, got %v", err)
	}

	if _, err := c.SendText(ctx, "other", "1", "hi"); err == nil {
		t.Fatal("expected error for 502")
	}
	if _, err := c.SendText(ctx, "x", "1", "  "); err == nil {
		t.Fatal("expected error for empty body")
	}
}
