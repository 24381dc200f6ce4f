package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// -- Partners --

func (r *SQLiteRepository) GetPartnerByPhoneNumberID(ctx context.Context, phoneNumberID string) (*Partner, error) {
	const q = `
SELECT id, name, whatsapp_phone_number_id, created_at, updated_at
FROM partners
WHERE whatsapp_phone_number_id = ?
LIMIT 1;
`
	var p Partner
	err := r.db.QueryRowContext(ctx, q, phoneNumberID).Scan(&p.ID, &p.Name, &p.WhatsAppPhoneNumberID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPartnerNotFound
		}
		return nil, fmt.Errorf("get partner by phone number id: %w", err)
	}
	return &p, nil
}

func (r *SQLiteRepository) UpsertPartner(ctx context.Context, partner Partner) (*Partner, error) {
	id := partner.ID
	if id == "" {
		id = uuid.NewString()
	}
	const q = `
INSERT INTO partners (id, name, whatsapp_phone_number_id)
VALUES (?, ?, ?)
ON CONFLICT (whatsapp_phone_number_id) DO UPDATE SET
    name = excluded.name,
    updated_at = CURRENT_TIMESTAMP;
`
	if _, err := r.db.ExecContext(ctx, q, id, partner.Name, partner.WhatsAppPhoneNumberID); err != nil {
		return nil, fmt.Errorf("upsert partner: %w", err)
	}
	return r.GetPartnerByPhoneNumberID(ctx, partner.WhatsAppPhoneNumberID)
}

// -- Messages --

func (r *SQLiteRepository) UpsertMessage(ctx context.Context, msg MessageRecord) (*MessageRecord, error) {
	const q = `
INSERT INTO whatsapp_messages (id, message_id, partner_id, phone_number_id, from_number, to_number, direction, message_type, text_content, media_id, status, raw_payload, message_timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (message_id) DO UPDATE SET
    partner_id = COALESCE(whatsapp_messages.partner_id, excluded.partner_id),
    updated_at = CURRENT_TIMESTAMP;
`
	_, err := r.db.ExecContext(ctx, q,
		uuid.NewString(),
		msg.MessageID,
		msg.PartnerID,
		msg.PhoneNumberID,
		msg.FromNumber,
		msg.ToNumber,
		string(msg.Direction),
		msg.MessageType,
		msg.TextContent,
		msg.MediaID,
		string(msg.Status),
		jsonParam(msg.RawPayload),
		storedTime(msg.MessageTimestamp),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert message: %w", err)
	}
	return r.GetMessageByMessageID(ctx, msg.MessageID)
}

func (r *SQLiteRepository) UpdateMessageStatus(ctx context.Context, update StatusUpdate) (bool, error) {
	const q = `
UPDATE whatsapp_messages
SET status = ?, status_updated_at = ?, updated_at = CURRENT_TIMESTAMP
WHERE message_id = ? AND ` + rankCase + ` < ?;
`
	res, err := r.db.ExecContext(ctx, q, string(update.Status), storedTime(update.Timestamp), update.MessageID, update.Status.Rank())
	if err != nil {
		return false, fmt.Errorf("update message status: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}

	var exists int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM whatsapp_messages WHERE message_id = ?`, update.MessageID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check message exists: %w", err)
	}
	if exists == 0 {
		return false, ErrMessageNotFound
	}
	return false, nil
}

func (r *SQLiteRepository) GetMessageByMessageID(ctx context.Context, messageID string) (*MessageRecord, error) {
	q := `SELECT ` + messageColumns + ` FROM whatsapp_messages WHERE message_id = ? LIMIT 1;`
	msg, err := scanMessage(r.db.QueryRowContext(ctx, q, messageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

func (r *SQLiteRepository) ListRecentMessages(ctx context.Context, phoneNumberID string, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	q := `
SELECT ` + messageColumns + `
FROM whatsapp_messages
WHERE phone_number_id = ?
ORDER BY message_timestamp DESC, created_at DESC
LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, phoneNumberID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	var records []MessageRecord
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recent message: %w", err)
		}
		records = append(records, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent messages: %w", err)
	}
	return records, nil
}

// compile-time checks
var (
	_ Repository = (*SQLiteRepository)(nil)
	_ Repository = (*PostgresRepository)(nil)
)
