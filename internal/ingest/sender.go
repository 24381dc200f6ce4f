package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ebrecho-wa/internal/repo"
)

// TextSender delivers a text message and returns the provider message id.
type TextSender interface {
	SendText(ctx context.Context, phoneNumberID, to, body string) (string, error)
}

// ErrInvalidSendRequest marks a send request that is missing required fields.
var ErrInvalidSendRequest = errors.New("invalid send request")

// SendRequest is an outbound text message from a partner number.
type SendRequest struct {
	PhoneNumberID string `json:"phone_number_id"`
	To            string `json:"to"`
	Body          string `json:"body"`
}

// Sender sends messages on behalf of partners and records them so later
// status webhooks find a stored row.
type Sender struct {
	client   TextSender
	resolver PartnerResolver
	store    Store
	logger   *slog.Logger
	now      func() time.Time
}

// NewSender wires a sender.
func NewSender(client TextSender, resolver PartnerResolver, store Store, logger *slog.Logger) *Sender {
	return &Sender{
		client:   client,
		resolver: resolver,
		store:    store,
		logger:   logger.With("component", "sender"),
		now:      time.Now,
	}
}

// SendText sends req through the Cloud API and stores the outbound message
// with status SENT. The partner must be known.
func (s *Sender) SendText(ctx context.Context, req SendRequest) (*repo.MessageRecord, error) {
	req.PhoneNumberID = strings.TrimSpace(req.PhoneNumberID)
	req.To = strings.TrimSpace(req.To)
	if req.PhoneNumberID == "" || req.To == "" || strings.TrimSpace(req.Body) == "" {
		return nil, fmt.Errorf("%w: phone_number_id, to and body are required", ErrInvalidSendRequest)
	}

	owner, err := s.resolver.Resolve(ctx, req.PhoneNumberID)
	if err != nil {
		return nil, err
	}

	messageID, err := s.client.SendText(ctx, req.PhoneNumberID, req.To, req.Body)
	if err != nil {
		return nil, fmt.Errorf("send text: %w", err)
	}

	raw, err := json.Marshal(map[string]any{
		"to":   req.To,
		"type": "text",
		"text": map[string]string{"body": req.Body},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal outbound payload: %w", err)
	}

	body := req.Body
	to := req.To
	stored, err := s.store.UpsertMessage(ctx, repo.MessageRecord{
		MessageID:        messageID,
		PartnerID:        &owner.ID,
		PhoneNumberID:    req.PhoneNumberID,
		FromNumber:       req.PhoneNumberID,
		ToNumber:         &to,
		Direction:        repo.DirectionOutbound,
		MessageType:      MessageType("text"),
		TextContent:      &body,
		Status:           repo.StatusSent,
		RawPayload:       raw,
		MessageTimestamp: s.now().UTC().Truncate(time.Second),
	})
	if err != nil {
		s.logger.Error("sent message not recorded", "error", err, "message_id", messageID)
		return nil, fmt.Errorf("record outbound message %s: %w", messageID, err)
	}

	s.logger.Info("outbound message sent", "message_id", messageID, "partner_id", owner.ID)
	return stored, nil
}
