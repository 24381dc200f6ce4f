package whatsapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedPayload indicates the body is not a WhatsApp business account envelope.
var ErrMalformedPayload = errors.New("malformed whatsapp payload")

// EventKind tags the variants of Event.
type EventKind string

const (
	KindMessage EventKind = "message"
	KindStatus  EventKind = "status"
)

// Event is a normalized webhook item: either a *MessageEvent or a *StatusEvent.
type Event interface {
	Kind() EventKind
	EventMessageID() string
}

// MessageEvent is one entry of value.messages[].
type MessageEvent struct {
	PhoneNumberID      string
	DisplayPhoneNumber string
	From               string
	ContactName        string
	MessageID          string
	Timestamp          time.Time
	// Type is the provider message type, lower case ("text", "image", ...).
	// A body that does not decode for its declared type turns into "unknown".
	Type     string
	Text     string
	MediaID  string
	MimeType string
	Caption  string
	// Content is the raw message item, kept for every type so storage is lossless.
	Content json.RawMessage
}

func (e *MessageEvent) Kind() EventKind        { return KindMessage }
func (e *MessageEvent) EventMessageID() string { return e.MessageID }

// StatusEvent is one entry of value.statuses[].
type StatusEvent struct {
	PhoneNumberID string
	MessageID     string
	// Status is the provider status, lower case ("sent", "delivered", "read", "failed").
	Status      string
	Timestamp   time.Time
	RecipientID string
	Errors      []StatusError
}

func (e *StatusEvent) Kind() EventKind        { return KindStatus }
func (e *StatusEvent) EventMessageID() string { return e.MessageID }

// SkippedItem describes a part of the envelope that produced no event.
type SkippedItem struct {
	// Path locates the item, e.g. "entry[0].changes[1].value.statuses[2]".
	Path   string
	Reason string
}

// Batch is the result of NormalizeBatch.
type Batch struct {
	Events  []Event
	Skipped []SkippedItem
}

// Normalize parses a webhook body into events in delivery order. See NormalizeBatch.
func Normalize(body []byte, receivedAt time.Time) ([]Event, error) {
	batch, err := NormalizeBatch(body, receivedAt)
	if err != nil {
		return nil, err
	}
	return batch.Events, nil
}

// NormalizeBatch parses a webhook body into events in delivery order and
// reports every item it had to skip. Only a body that is not a business
// account envelope is an error. Items are decoded one at a time: messages and
// statuses without an id are skipped, timestamps that do not parse fall back
// to receivedAt.
func NormalizeBatch(body []byte, receivedAt time.Time) (Batch, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Batch{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Object == "" {
		return Batch{}, fmt.Errorf("%w: missing object", ErrMalformedPayload)
	}
	if env.Object != BusinessAccountObject {
		return Batch{}, fmt.Errorf("%w: unexpected object %q", ErrMalformedPayload, env.Object)
	}

	var b Batch
	entries, err := rawList(env.Entry)
	if err != nil {
		b.skip("entry", err.Error())
		return b, nil
	}
	for i, rawEntry := range entries {
		path := fmt.Sprintf("entry[%d]", i)
		var ent entry
		if err := json.Unmarshal(rawEntry, &ent); err != nil {
			b.skip(path, err.Error())
			continue
		}
		changes, err := rawList(ent.Changes)
		if err != nil {
			b.skip(path+".changes", err.Error())
			continue
		}
		for j, rawChange := range changes {
			b.normalizeChange(fmt.Sprintf("%s.changes[%d]", path, j), rawChange, receivedAt)
		}
	}
	return b, nil
}

func (b *Batch) skip(path, reason string) {
	b.Skipped = append(b.Skipped, SkippedItem{Path: path, Reason: reason})
}

func (b *Batch) normalizeChange(path string, raw json.RawMessage, receivedAt time.Time) {
	var ch change
	if err := json.Unmarshal(raw, &ch); err != nil {
		b.skip(path, err.Error())
		return
	}
	var value changeValue
	if len(ch.Value) > 0 {
		if err := json.Unmarshal(ch.Value, &value); err != nil {
			b.skip(path+".value", err.Error())
			return
		}
	}
	path += ".value"

	var meta metadata
	if len(value.Metadata) > 0 {
		if err := json.Unmarshal(value.Metadata, &meta); err != nil {
			b.skip(path+".metadata", err.Error())
		}
	}

	names := map[string]string{}
	contacts, err := rawList(value.Contacts)
	if err != nil {
		b.skip(path+".contacts", err.Error())
	}
	for _, rawContact := range contacts {
		var c contact
		if json.Unmarshal(rawContact, &c) == nil && c.WaID != "" {
			names[string(c.WaID)] = string(c.Profile.Name)
		}
	}

	messages, err := rawList(value.Messages)
	if err != nil {
		b.skip(path+".messages", err.Error())
	}
	for k, rawMsg := range messages {
		evt, reason := normalizeMessage(rawMsg, meta, receivedAt)
		if evt == nil {
			b.skip(fmt.Sprintf("%s.messages[%d]", path, k), reason)
			continue
		}
		evt.ContactName = names[evt.From]
		b.Events = append(b.Events, evt)
	}

	statuses, err := rawList(value.Statuses)
	if err != nil {
		b.skip(path+".statuses", err.Error())
	}
	for k, rawStatus := range statuses {
		evt, reason := normalizeStatus(rawStatus, meta, receivedAt)
		if evt == nil {
			b.skip(fmt.Sprintf("%s.statuses[%d]", path, k), reason)
			continue
		}
		b.Events = append(b.Events, evt)
	}
}

// normalizeMessage decodes the common header first and the per-type body
// second. It returns a nil event with a reason only when the item has no id.
func normalizeMessage(raw json.RawMessage, meta metadata, receivedAt time.Time) (*MessageEvent, string) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, "message is not an object"
	}
	var head messageHeader
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err.Error()
	}
	if strings.TrimSpace(string(head.ID)) == "" {
		return nil, "message without id"
	}

	evt := &MessageEvent{
		PhoneNumberID:      string(meta.PhoneNumberID),
		DisplayPhoneNumber: string(meta.DisplayPhoneNumber),
		From:               string(head.From),
		MessageID:          string(head.ID),
		Timestamp:          parseTimestamp(string(head.Timestamp), receivedAt),
		Type:               strings.ToLower(strings.TrimSpace(string(head.Type))),
		Content:            append(json.RawMessage(nil), raw...),
	}
	if evt.Type == "" {
		evt.Type = "unknown"
	}
	if err := applyBody(evt, fields[evt.Type]); err != nil {
		evt.Type = "unknown"
		evt.Text, evt.MediaID, evt.MimeType, evt.Caption = "", "", "", ""
	}
	return evt, ""
}

// applyBody fills the typed fields of evt from the object keyed by its type.
// An absent body is fine; a body of the wrong shape is an error.
func applyBody(evt *MessageEvent, body json.RawMessage) error {
	if len(body) == 0 {
		return nil
	}
	switch evt.Type {
	case "text":
		var c textContent
		if err := json.Unmarshal(body, &c); err != nil {
			return err
		}
		evt.Text = c.Body
	case "image", "audio", "video", "document", "sticker":
		var c mediaContent
		if err := json.Unmarshal(body, &c); err != nil {
			return err
		}
		evt.MediaID = c.ID
		evt.MimeType = c.MimeType
		evt.Caption = c.Caption
		evt.Text = c.Caption
	case "button":
		var c buttonContent
		if err := json.Unmarshal(body, &c); err != nil {
			return err
		}
		evt.Text = c.Text
	case "interactive":
		var c interactiveReply
		if err := json.Unmarshal(body, &c); err != nil {
			return err
		}
		switch {
		case c.ButtonReply != nil:
			evt.Text = c.ButtonReply.Title
		case c.ListReply != nil:
			evt.Text = c.ListReply.Title
		}
	case "reaction":
		var c reactionContent
		if err := json.Unmarshal(body, &c); err != nil {
			return err
		}
		evt.Text = c.Emoji
	case "location":
		var c locationContent
		if err := json.Unmarshal(body, &c); err != nil {
			return err
		}
		evt.Text = strings.TrimSpace(strings.Join(nonEmpty(c.Name, c.Address), " - "))
	}
	return nil
}

func normalizeStatus(raw json.RawMessage, meta metadata, receivedAt time.Time) (*StatusEvent, string) {
	var st statusItem
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, "status is not an object"
	}
	if strings.TrimSpace(string(st.ID)) == "" {
		return nil, "status without id"
	}
	evt := &StatusEvent{
		PhoneNumberID: string(meta.PhoneNumberID),
		MessageID:     string(st.ID),
		Status:        strings.ToLower(strings.TrimSpace(string(st.Status))),
		Timestamp:     parseTimestamp(string(st.Timestamp), receivedAt),
		RecipientID:   string(st.RecipientID),
	}
	errs, _ := rawList(st.Errors)
	for _, rawErr := range errs {
		var e statusErrorItem
		if json.Unmarshal(rawErr, &e) != nil {
			continue
		}
		evt.Errors = append(evt.Errors, StatusError{
			Code:    string(e.Code),
			Title:   string(e.Title),
			Message: string(e.Message),
		})
	}
	return evt, ""
}

func parseTimestamp(raw string, fallback time.Time) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Unix(secs, 0)
}

func nonEmpty(values ...string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
