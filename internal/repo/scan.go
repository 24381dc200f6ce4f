package repo

import "time"

const messageColumns = `id, message_id, partner_id, phone_number_id, from_number, to_number, direction, message_type, text_content, media_id, status, raw_payload, message_timestamp, status_updated_at, created_at, updated_at`

// rowScanner is satisfied by pgx rows and database/sql rows alike.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*MessageRecord, error) {
	var (
		msg       MessageRecord
		direction string
		status    string
		statusAt  *time.Time
	)
	if err := row.Scan(
		&msg.ID,
		&msg.MessageID,
		&msg.PartnerID,
		&msg.PhoneNumberID,
		&msg.FromNumber,
		&msg.ToNumber,
		&direction,
		&msg.MessageType,
		&msg.TextContent,
		&msg.MediaID,
		&status,
		&msg.RawPayload,
		&msg.MessageTimestamp,
		&statusAt,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	msg.Direction = Direction(direction)
	msg.Status = MessageStatus(status)
	msg.StatusUpdatedAt = statusAt
	return &msg, nil
}

// jsonParam binds raw JSON as text so it casts cleanly under the simple protocol.
func jsonParam(raw []byte) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}
