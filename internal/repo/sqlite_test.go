package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ebrecho-wa/internal/logging"
	"ebrecho-wa/migrations"
)

func newTestSQLite(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	r, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "test.db"), logging.Discard())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(r.Close)
	if err := r.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return r
}

func strPtr(s string) *string { return &s }

func TestSQLiteMigrationsAreRepeatable(t *testing.T) {
	r := newTestSQLite(t)
	if err := r.RunMigrations(context.Background(), migrations.Files); err != nil {
		t.Fatalf("second migration run: %v", err)
	}
}

func TestSQLitePartnerLookup(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()

	if _, err := r.GetPartnerByPhoneNumberID(ctx, "missing"); !errors.Is(err, ErrPartnerNotFound) {
		t.Fatalf("expected ErrPartnerNotFound, got %v", err)
	}

	created, err := r.UpsertPartner(ctx, Partner{Name: "Brechó da Ana", WhatsAppPhoneNumberID: "826543520541078"})
	if err != nil {
		t.Fatalf("upsert partner: %v", err)
	}
	renamed, err := r.UpsertPartner(ctx, Partner{Name: "Brechó Ana", WhatsAppPhoneNumberID: "826543520541078"})
	if err != nil {
		t.Fatalf("rename partner: %v", err)
	}
	if renamed.ID != created.ID {
		t.Fatalf("expected same partner id, got %s and %s", created.ID, renamed.ID)
	}

	got, err := r.GetPartnerByPhoneNumberID(ctx, "826543520541078")
	if err != nil {
		t.Fatalf("get partner: %v", err)
	}
	if got.Name != "Brechó Ana" {
		t.Fatalf("expected renamed partner, got %q", got.Name)
	}
}

func TestSQLiteUpsertMessageIsIdempotent(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()

	msg := MessageRecord{
		MessageID:        "ABGGFlA5Fpa",
		PhoneNumberID:    "826543520541078",
		FromNumber:       "16315551181",
		Direction:        DirectionInbound,
		MessageType:      "TEXT",
		TextContent:      strPtr("this is a text message"),
		Status:           StatusReceived,
		RawPayload:       []byte(`{"id":"ABGGFlA5Fpa"}`),
		MessageTimestamp: time.Unix(1603059201, 0),
	}

	first, err := r.UpsertMessage(ctx, msg)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := r.UpsertMessage(ctx, msg)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected one row, got ids %s and %s", first.ID, second.ID)
	}

	list, err := r.ListRecentMessages(ctx, "826543520541078", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 stored message, got %d", len(list))
	}
	got := list[0]
	if got.TextContent == nil || *got.TextContent != "this is a text message" {
		t.Fatalf("unexpected text content: %v", got.TextContent)
	}
	if got.PartnerID != nil {
		t.Fatalf("expected no partner, got %v", *got.PartnerID)
	}
	if !got.MessageTimestamp.Equal(time.Unix(1603059201, 0)) {
		t.Fatalf("unexpected timestamp %s", got.MessageTimestamp)
	}
	if string(got.RawPayload) != `{"id":"ABGGFlA5Fpa"}` {
		t.Fatalf("unexpected raw payload %s", got.RawPayload)
	}
}

func TestSQLiteStoresWholeSeconds(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()

	base := MessageRecord{
		PhoneNumberID: "826543520541078",
		FromNumber:    "16315551181",
		Direction:     DirectionInbound,
		MessageType:   "TEXT",
		Status:        StatusReceived,
	}
	early := base
	early.MessageID = "wamid.EARLY"
	early.MessageTimestamp = time.Unix(1760443200, 999_999_999)
	late := base
	late.MessageID = "wamid.LATE"
	late.MessageTimestamp = time.Unix(1760443201, 0)

	for _, m := range []MessageRecord{late, early} {
		if _, err := r.UpsertMessage(ctx, m); err != nil {
			t.Fatalf("upsert %s: %v", m.MessageID, err)
		}
	}
	if _, err := r.UpdateMessageStatus(ctx, StatusUpdate{MessageID: "wamid.EARLY", Status: StatusSent, Timestamp: time.Unix(1760443202, 123)}); err != nil {
		t.Fatalf("update status: %v", err)
	}

	list, err := r.ListRecentMessages(ctx, "826543520541078", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].MessageID != "wamid.LATE" || list[1].MessageID != "wamid.EARLY" {
		t.Fatalf("unexpected order %+v", list)
	}
	if !list[1].MessageTimestamp.Equal(time.Unix(1760443200, 0)) {
		t.Fatalf("timestamp=%v, want truncated to the second", list[1].MessageTimestamp)
	}
	if list[1].StatusUpdatedAt == nil || !list[1].StatusUpdatedAt.Equal(time.Unix(1760443202, 0)) {
		t.Fatalf("status_updated_at=%v, want truncated to the second", list[1].StatusUpdatedAt)
	}
}

func TestSQLiteUpsertAttachesLatePartner(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()

	msg := MessageRecord{
		MessageID:        "wamid.late",
		PhoneNumberID:    "111",
		FromNumber:       "5511999990000",
		Direction:        DirectionInbound,
		MessageType:      "TEXT",
		Status:           StatusReceived,
		MessageTimestamp: time.Now(),
	}
	if _, err := r.UpsertMessage(ctx, msg); err != nil {
		t.Fatalf("upsert without partner: %v", err)
	}

	partner, err := r.UpsertPartner(ctx, Partner{Name: "Late", WhatsAppPhoneNumberID: "111"})
	if err != nil {
		t.Fatalf("upsert partner: %v", err)
	}
	msg.PartnerID = &partner.ID
	stored, err := r.UpsertMessage(ctx, msg)
	if err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if stored.PartnerID == nil || *stored.PartnerID != partner.ID {
		t.Fatalf("expected partner attached, got %v", stored.PartnerID)
	}
}

func TestSQLiteUpdateMessageStatus(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()

	_, err := r.UpsertMessage(ctx, MessageRecord{
		MessageID:        "wamid.status",
		PhoneNumberID:    "222",
		FromNumber:       "5511888880000",
		Direction:        DirectionOutbound,
		MessageType:      "TEXT",
		Status:           StatusSent,
		MessageTimestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	steps := []struct {
		status  MessageStatus
		applied bool
		want    MessageStatus
	}{
		{StatusDelivered, true, StatusDelivered},
		{StatusDelivered, false, StatusDelivered},
		{StatusRead, true, StatusRead},
		{StatusDelivered, false, StatusRead},
		{StatusFailed, true, StatusFailed},
		{StatusRead, false, StatusFailed},
	}
	for i, step := range steps {
		applied, err := r.UpdateMessageStatus(ctx, StatusUpdate{MessageID: "wamid.status", Status: step.status, Timestamp: time.Now()})
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if applied != step.applied {
			t.Fatalf("step %d: applied=%v, want %v", i, applied, step.applied)
		}
		got, err := r.GetMessageByMessageID(ctx, "wamid.status")
		if err != nil {
			t.Fatalf("step %d get: %v", i, err)
		}
		if got.Status != step.want {
			t.Fatalf("step %d: status=%s, want %s", i, got.Status, step.want)
		}
		if got.StatusUpdatedAt == nil {
			t.Fatalf("step %d: expected status_updated_at", i)
		}
	}
}

func TestSQLiteUpdateUnknownMessage(t *testing.T) {
	r := newTestSQLite(t)

	_, err := r.UpdateMessageStatus(context.Background(), StatusUpdate{MessageID: "nope", Status: StatusRead, Timestamp: time.Now()})
	if !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
	if _, err := r.GetMessageByMessageID(context.Background(), "nope"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected no row created, got %v", err)
	}
}

func TestStatusRank(t *testing.T) {
	order := []MessageStatus{StatusReceived, StatusSent, StatusDelivered, StatusRead, StatusFailed}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Fatalf("%s should rank below %s", order[i-1], order[i])
		}
	}
}

func TestOpenPicksBackend(t *testing.T) {
	r, err := Open(context.Background(), filepath.Join(t.TempDir(), "open.db"), "", logging.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()
	if _, ok := r.(*SQLiteRepository); !ok {
		t.Fatalf("expected sqlite repository, got %T", r)
	}
}
