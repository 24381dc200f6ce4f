package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"ebrecho-wa/internal/logging"
	"ebrecho-wa/internal/partner"
	"ebrecho-wa/internal/repo"
)

type fakeTextSender struct {
	calls int
	id    string
	err   error
}

func (f *fakeTextSender) SendText(ctx context.Context, phoneNumberID, to, body string) (string, error) {
	f.calls++
	return f.id, f.err
}

func TestSenderRecordsOutboundMessage(t *testing.T) {
	h := newHarness(t)
	client := &fakeTextSender{id: "wamid.OUT1"}
	s := NewSender(client, partner.NewResolver(h.repo, nil, 0, logging.Discard()), h.repo, logging.Discard())
	s.now = func() time.Time { return time.Unix(1760443300, 0) }

	stored, err := s.SendText(context.Background(), SendRequest{PhoneNumberID: partnerNumber, To: "5511988887777", Body: "Sim, ainda está!"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if stored.MessageID != "wamid.OUT1" || stored.Direction != repo.DirectionOutbound || stored.Status != repo.StatusSent {
		t.Fatalf("unexpected record %+v", stored)
	}
	if stored.ToNumber == nil || *stored.ToNumber != "5511988887777" {
		t.Fatalf("unexpected recipient %v", stored.ToNumber)
	}

	// a later delivery receipt moves the outbound row forward
	h.post(t, statusWebhook("wamid.OUT1", "delivered"))
	if msg := h.message(t, "wamid.OUT1"); msg.Status != repo.StatusDelivered {
		t.Fatalf("status=%s, want DELIVERED", msg.Status)
	}
}

func TestSenderRejectsBadRequests(t *testing.T) {
	h := newHarness(t)
	client := &fakeTextSender{id: "x"}
	s := NewSender(client, partner.NewResolver(h.repo, nil, 0, logging.Discard()), h.repo, logging.Discard())
	ctx := context.Background()

	if _, err := s.SendText(ctx, SendRequest{PhoneNumberID: partnerNumber, To: "1"}); !errors.Is(err, ErrInvalidSendRequest) {
		t.Fatalf("expected ErrInvalidSendRequest, got %v", err)
	}
	if _, err := s.SendText(ctx, SendRequest{PhoneNumberID: "999", To: "1", Body: "oi"}); !errors.Is(err, partner.ErrUnknownPartner) {
		t.Fatalf("expected ErrUnknownPartner, got %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("client must not be called, got %d calls", client.calls)
	}

	client.err = errors.New("graph down")
	if _, err := s.SendText(ctx, SendRequest{PhoneNumberID: partnerNumber, To: "1", Body: "oi"}); err == nil {
		t.Fatal("expected client error")
	}
}

func TestSenderStoresWholeSecondTimestamps(t *testing.T) {
	h := newHarness(t)
	h.post(t, messagePayload(partnerNumber, "wamid.IN", "tem tamanho M?"))

	client := &fakeTextSender{id: "wamid.OUT2"}
	s := NewSender(client, partner.NewResolver(h.repo, nil, 0, logging.Discard()), h.repo, logging.Discard())
	s.now = func() time.Time { return time.Unix(1760443200, 750_000_000) }

	stored, err := s.SendText(context.Background(), SendRequest{PhoneNumberID: partnerNumber, To: "5511988887777", Body: "Tem sim"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !stored.MessageTimestamp.Equal(time.Unix(1760443200, 0)) {
		t.Fatalf("timestamp=%v, want whole second", stored.MessageTimestamp)
	}

	msgs, err := h.repo.ListRecentMessages(context.Background(), partnerNumber, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	for _, m := range msgs {
		if m.MessageTimestamp.Nanosecond() != 0 {
			t.Fatalf("%s stored with sub-second precision: %v", m.MessageID, m.MessageTimestamp)
		}
	}
}
