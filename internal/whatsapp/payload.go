package whatsapp

import (
	"bytes"
	"encoding/json"
	"errors"
)

// BusinessAccountObject is the only envelope object accepted by the webhook.
const BusinessAccountObject = "whatsapp_business_account"

// Wire types for the Cloud API webhook envelope:
// entry[].changes[].value.{messages,statuses}.
//
// Only the envelope object is decoded strictly. Every nested level stays raw
// and is decoded item by item, so one odd item never rejects the delivery.

type envelope struct {
	Object string          `json:"object"`
	Entry  json.RawMessage `json:"entry"`
}

type entry struct {
	ID      flexString      `json:"id"`
	Changes json.RawMessage `json:"changes"`
}

type change struct {
	Field flexString      `json:"field"`
	Value json.RawMessage `json:"value"`
}

type changeValue struct {
	Metadata json.RawMessage `json:"metadata"`
	Contacts json.RawMessage `json:"contacts"`
	Messages json.RawMessage `json:"messages"`
	Statuses json.RawMessage `json:"statuses"`
}

type metadata struct {
	DisplayPhoneNumber flexString `json:"display_phone_number"`
	PhoneNumberID      flexString `json:"phone_number_id"`
}

type contact struct {
	WaID    flexString `json:"wa_id"`
	Profile struct {
		Name flexString `json:"name"`
	} `json:"profile"`
}

// messageHeader holds the fields every message item carries. The per-type
// body is decoded separately once the type is known.
type messageHeader struct {
	From      flexString `json:"from"`
	ID        flexString `json:"id"`
	Timestamp flexString `json:"timestamp"`
	Type      flexString `json:"type"`
}

type textContent struct {
	Body string `json:"body"`
}

type mediaContent struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

type buttonContent struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

type interactiveReply struct {
	Type        string `json:"type"`
	ButtonReply *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"button_reply,omitempty"`
	ListReply *struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"list_reply,omitempty"`
}

type reactionContent struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type locationContent struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
}

type statusItem struct {
	ID          flexString      `json:"id"`
	Status      flexString      `json:"status"`
	Timestamp   flexString      `json:"timestamp"`
	RecipientID flexString      `json:"recipient_id"`
	Errors      json.RawMessage `json:"errors"`
}

type statusErrorItem struct {
	Code    flexString `json:"code"`
	Title   flexString `json:"title"`
	Message flexString `json:"message"`
}

// StatusError is a provider error attached to a failed status.
type StatusError struct {
	Code    string
	Title   string
	Message string
}

// flexString accepts a JSON string or number. Any other value decodes to "".
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	*f = ""
	return nil
}

var errNotArray = errors.New("not an array")

// rawList splits a JSON array into its items. Absent or null is an empty list.
func rawList(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '[' {
		return nil, errNotArray
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, err
	}
	return items, nil
}
