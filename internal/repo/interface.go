package repo

import (
	"context"
	"io/fs"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Partners
	GetPartnerByPhoneNumberID(ctx context.Context, phoneNumberID string) (*Partner, error)
	UpsertPartner(ctx context.Context, partner Partner) (*Partner, error)

	// Messages
	UpsertMessage(ctx context.Context, msg MessageRecord) (*MessageRecord, error)
	UpdateMessageStatus(ctx context.Context, update StatusUpdate) (bool, error)
	GetMessageByMessageID(ctx context.Context, messageID string) (*MessageRecord, error)
	ListRecentMessages(ctx context.Context, phoneNumberID string, limit int) ([]MessageRecord, error)
}
