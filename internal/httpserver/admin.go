package httpserver

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ebrecho-wa/internal/ingest"
	"ebrecho-wa/internal/partner"
	"ebrecho-wa/internal/repo"
	"ebrecho-wa/internal/whatsapp"
)

const (
	maxAdminBody      = 64 << 10
	maxListedMessages = 100
)

type messageView struct {
	ID               string     `json:"id"`
	MessageID        string     `json:"message_id"`
	PartnerID        *string    `json:"partner_id"`
	PhoneNumberID    string     `json:"phone_number_id"`
	FromNumber       string     `json:"from_number"`
	ToNumber         *string    `json:"to_number,omitempty"`
	Direction        string     `json:"direction"`
	MessageType      string     `json:"message_type"`
	TextContent      *string    `json:"text_content,omitempty"`
	MediaID          *string    `json:"media_id,omitempty"`
	Status           string     `json:"status"`
	MessageTimestamp time.Time  `json:"message_timestamp"`
	StatusUpdatedAt  *time.Time `json:"status_updated_at,omitempty"`
}

func newMessageView(m *repo.MessageRecord) messageView {
	return messageView{
		ID:               m.ID,
		MessageID:        m.MessageID,
		PartnerID:        m.PartnerID,
		PhoneNumberID:    m.PhoneNumberID,
		FromNumber:       m.FromNumber,
		ToNumber:         m.ToNumber,
		Direction:        string(m.Direction),
		MessageType:      m.MessageType,
		TextContent:      m.TextContent,
		MediaID:          m.MediaID,
		Status:           string(m.Status),
		MessageTimestamp: m.MessageTimestamp,
		StatusUpdatedAt:  m.StatusUpdatedAt,
	}
}

// requireAdmin guards next with the static admin bearer token. Without a
// configured token the admin surface is disabled.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			http.NotFound(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.adminToken)) != 1 {
			s.metrics.Errors.WithLabelValues("admin_auth").Inc()
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListMessages(w, r)
	case http.MethodPost:
		s.handleSendMessage(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if s.deps.Repository == nil {
		writeError(w, http.StatusServiceUnavailable, "repository unavailable")
		return
	}
	phoneNumberID := strings.TrimSpace(r.URL.Query().Get("phone_number_id"))
	if phoneNumberID == "" {
		writeError(w, http.StatusBadRequest, "phone_number_id is required")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListedMessages)
	}

	records, err := s.deps.Repository.ListRecentMessages(r.Context(), phoneNumberID, limit)
	if err != nil {
		s.logger.Error("failed listing messages", "error", err, "phone_number_id", phoneNumberID)
		writeError(w, http.StatusInternalServerError, "failed listing messages")
		return
	}
	views := make([]messageView, 0, len(records))
	for i := range records {
		views = append(views, newMessageView(&records[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": views})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sender == nil {
		writeError(w, http.StatusServiceUnavailable, "sending is not configured")
		return
	}
	defer r.Body.Close()

	var req ingest.SendRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxAdminBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	stored, err := s.deps.Sender.SendText(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrInvalidSendRequest):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, partner.ErrUnknownPartner):
			writeError(w, http.StatusNotFound, "unknown partner")
		default:
			var apiErr *whatsapp.APIError
			if errors.As(err, &apiErr) || errors.Is(err, whatsapp.ErrInvalidAccessToken) {
				s.logger.Warn("cloud api rejected message", "error", err)
				writeError(w, http.StatusBadGateway, "whatsapp rejected the message")
				return
			}
			s.logger.Error("failed sending message", "error", err)
			writeError(w, http.StatusInternalServerError, "failed sending message")
		}
		return
	}
	writeJSON(w, http.StatusCreated, newMessageView(stored))
}
