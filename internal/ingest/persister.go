package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ebrecho-wa/internal/metrics"
	"ebrecho-wa/internal/repo"
	"ebrecho-wa/internal/whatsapp"
)

// ErrUnsupportedStatus is returned for provider statuses that have no stored equivalent.
var ErrUnsupportedStatus = errors.New("unsupported whatsapp status")

// Store is the message side of the repository.
type Store interface {
	UpsertMessage(ctx context.Context, msg repo.MessageRecord) (*repo.MessageRecord, error)
	UpdateMessageStatus(ctx context.Context, update repo.StatusUpdate) (bool, error)
}

// Persister writes normalized events to the message store.
type Persister struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewPersister builds a persister over store.
func NewPersister(store Store, logger *slog.Logger, metrics *metrics.Metrics) *Persister {
	return &Persister{
		store:   store,
		logger:  logger.With("component", "persister"),
		metrics: metrics,
	}
}

// PersistMessage upserts an inbound message keyed on its provider id. A nil
// partner stores the row unassigned; a later delivery can attach it.
func (p *Persister) PersistMessage(ctx context.Context, partner *repo.Partner, evt *whatsapp.MessageEvent) error {
	if evt == nil || evt.MessageID == "" {
		return errors.New("message event without id")
	}
	record := repo.MessageRecord{
		MessageID:        evt.MessageID,
		PhoneNumberID:    evt.PhoneNumberID,
		FromNumber:       evt.From,
		ToNumber:         optional(evt.DisplayPhoneNumber),
		Direction:        repo.DirectionInbound,
		MessageType:      MessageType(evt.Type),
		TextContent:      optional(evt.Text),
		MediaID:          optional(evt.MediaID),
		Status:           repo.StatusReceived,
		RawPayload:       []byte(evt.Content),
		MessageTimestamp: evt.Timestamp,
	}
	if partner != nil {
		record.PartnerID = &partner.ID
	}

	start := time.Now()
	_, err := p.store.UpsertMessage(ctx, record)
	p.observe("message", start)
	if err != nil {
		return fmt.Errorf("persist message %s: %w", evt.MessageID, err)
	}
	return nil
}

// PersistStatus applies a delivery status to a stored message. It reports
// false for a stale status and returns repo.ErrMessageNotFound when the
// message was never stored.
func (p *Persister) PersistStatus(ctx context.Context, evt *whatsapp.StatusEvent) (bool, error) {
	if evt == nil || evt.MessageID == "" {
		return false, errors.New("status event without id")
	}
	status, ok := StatusFromProvider(evt.Status)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnsupportedStatus, evt.Status)
	}

	start := time.Now()
	applied, err := p.store.UpdateMessageStatus(ctx, repo.StatusUpdate{
		MessageID: evt.MessageID,
		Status:    status,
		Timestamp: evt.Timestamp,
	})
	p.observe("status", start)
	if err != nil {
		if errors.Is(err, repo.ErrMessageNotFound) {
			return false, err
		}
		return false, fmt.Errorf("persist status %s: %w", evt.MessageID, err)
	}
	return applied, nil
}

func (p *Persister) observe(kind string, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.PersistLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

var knownTypes = map[string]string{
	"text":        "TEXT",
	"image":       "IMAGE",
	"audio":       "AUDIO",
	"video":       "VIDEO",
	"document":    "DOCUMENT",
	"sticker":     "STICKER",
	"location":    "LOCATION",
	"contacts":    "CONTACTS",
	"interactive": "INTERACTIVE",
	"button":      "BUTTON",
	"reaction":    "REACTION",
}

// MessageType maps a provider message type to its stored form. Types outside
// the known set are stored as UNKNOWN; the raw payload keeps the original.
func MessageType(providerType string) string {
	if t, ok := knownTypes[strings.ToLower(strings.TrimSpace(providerType))]; ok {
		return t
	}
	return "UNKNOWN"
}

// StatusFromProvider maps a provider status string to a stored status.
func StatusFromProvider(status string) (repo.MessageStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "sent":
		return repo.StatusSent, true
	case "delivered":
		return repo.StatusDelivered, true
	case "read":
		return repo.StatusRead, true
	case "failed":
		return repo.StatusFailed, true
	default:
		return "", false
	}
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
