package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository provides typed access to the marketplace Postgres database.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
}

// Open picks the Postgres or SQLite backend based on the database URL.
func Open(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (Repository, error) {
	lower := strings.ToLower(databaseURL)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return NewPostgres(ctx, databaseURL, schema, logger)
	}
	return NewSQLite(ctx, databaseURL, logger)
}

// NewPostgres opens a new connection pool to the database with the desired search_path.
func NewPostgres(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		logger: logger.With("component", "repo"),
		schema: schema,
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations applies the postgres/ schema migrations from filesystem.
func (r *PostgresRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	sub, err := fs.Sub(filesystem, "postgres")
	if err != nil {
		return fmt.Errorf("open postgres migrations: %w", err)
	}
	return ApplyMigrations(ctx, r.pool, sub)
}

// GetPartnerByPhoneNumberID returns the partner owning the WhatsApp number.
func (r *PostgresRepository) GetPartnerByPhoneNumberID(ctx context.Context, phoneNumberID string) (*Partner, error) {
	const q = `
SELECT id, name, whatsapp_phone_number_id, created_at, updated_at
FROM partners
WHERE whatsapp_phone_number_id = $1
LIMIT 1;
`
	var p Partner
	err := r.pool.QueryRow(ctx, q, phoneNumberID).Scan(&p.ID, &p.Name, &p.WhatsAppPhoneNumberID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPartnerNotFound
		}
		return nil, fmt.Errorf("get partner by phone number id: %w", err)
	}
	return &p, nil
}

// UpsertPartner creates or renames the partner bound to a phone number id.
func (r *PostgresRepository) UpsertPartner(ctx context.Context, partner Partner) (*Partner, error) {
	id := partner.ID
	if id == "" {
		id = uuid.NewString()
	}
	const q = `
INSERT INTO partners (id, name, whatsapp_phone_number_id)
VALUES ($1, $2, $3)
ON CONFLICT (whatsapp_phone_number_id) DO UPDATE SET
    name = EXCLUDED.name,
    updated_at = NOW()
RETURNING id, name, whatsapp_phone_number_id, created_at, updated_at;
`
	var p Partner
	err := r.pool.QueryRow(ctx, q, id, partner.Name, partner.WhatsAppPhoneNumberID).
		Scan(&p.ID, &p.Name, &p.WhatsAppPhoneNumberID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert partner: %w", err)
	}
	return &p, nil
}

// UpsertMessage stores a message once per message id. Redelivery keeps the
// original row and only attaches a partner that was missing before.
func (r *PostgresRepository) UpsertMessage(ctx context.Context, msg MessageRecord) (*MessageRecord, error) {
	const q = `
INSERT INTO whatsapp_messages (id, message_id, partner_id, phone_number_id, from_number, to_number, direction, message_type, text_content, media_id, status, raw_payload, message_timestamp)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (message_id) DO UPDATE SET
    partner_id = COALESCE(whatsapp_messages.partner_id, EXCLUDED.partner_id),
    updated_at = NOW()
RETURNING ` + messageColumns + `;
`
	row := r.pool.QueryRow(ctx, q,
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
	stored, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("upsert message: %w", err)
	}
	return stored, nil
}

// UpdateMessageStatus moves a message forward to update.Status. It reports
// false when the stored status is already at or beyond the new one.
func (r *PostgresRepository) UpdateMessageStatus(ctx context.Context, update StatusUpdate) (bool, error) {
	const q = `
UPDATE whatsapp_messages
SET status = $2, status_updated_at = $3, updated_at = NOW()
WHERE message_id = $1 AND ` + rankCase + ` < $4;
`
	ct, err := r.pool.Exec(ctx, q, update.MessageID, string(update.Status), storedTime(update.Timestamp), update.Status.Rank())
	if err != nil {
		return false, fmt.Errorf("update message status: %w", err)
	}
	if ct.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM whatsapp_messages WHERE message_id = $1)`, update.MessageID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check message exists: %w", err)
	}
	if !exists {
		return false, ErrMessageNotFound
	}
	return false, nil
}

// GetMessageByMessageID loads a message by its provider id.
func (r *PostgresRepository) GetMessageByMessageID(ctx context.Context, messageID string) (*MessageRecord, error) {
	q := `SELECT ` + messageColumns + ` FROM whatsapp_messages WHERE message_id = $1 LIMIT 1;`
	msg, err := scanMessage(r.pool.QueryRow(ctx, q, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// ListRecentMessages returns the latest messages exchanged on a partner number.
func (r *PostgresRepository) ListRecentMessages(ctx context.Context, phoneNumberID string, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	q := `
SELECT ` + messageColumns + `
FROM whatsapp_messages
WHERE phone_number_id = $1
ORDER BY message_timestamp DESC, created_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, phoneNumberID, limit)
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
