package repo

import (
	"errors"
	"time"
)

var (
	// ErrPartnerNotFound is returned when no partner owns a phone number id.
	ErrPartnerNotFound = errors.New("partner not found")
	// ErrMessageNotFound is returned when a message id has no stored row.
	ErrMessageNotFound = errors.New("message not found")
)

// Partner represents a row in the partners table.
type Partner struct {
	ID                    string
	Name                  string
	WhatsAppPhoneNumberID string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Direction tells whether a message was received or sent by a partner number.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageStatus is the delivery state of a stored message.
type MessageStatus string

const (
	StatusReceived  MessageStatus = "RECEIVED"
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
	StatusFailed    MessageStatus = "FAILED"
)

// Rank orders statuses so updates only move forward. FAILED is terminal.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	case StatusFailed:
		return 4
	default:
		return 0
	}
}

// storedTime is the form every timestamp column is written in. SQLite keeps
// DATETIME as text, so mixed precision would break ORDER BY.
func storedTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// rankCase mirrors MessageStatus.Rank for use inside UPDATE filters.
const rankCase = `CASE status WHEN 'SENT' THEN 1 WHEN 'DELIVERED' THEN 2 WHEN 'READ' THEN 3 WHEN 'FAILED' THEN 4 ELSE 0 END`

// MessageRecord is a row in the whatsapp_messages table.
type MessageRecord struct {
	ID               string
	MessageID        string
	PartnerID        *string
	PhoneNumberID    string
	FromNumber       string
	ToNumber         *string
	Direction        Direction
	MessageType      string
	TextContent      *string
	MediaID          *string
	Status           MessageStatus
	RawPayload       []byte
	MessageTimestamp time.Time
	StatusUpdatedAt  *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// StatusUpdate carries a delivery status change for a stored message.
type StatusUpdate struct {
	MessageID string
	Status    MessageStatus
	Timestamp time.Time
}
