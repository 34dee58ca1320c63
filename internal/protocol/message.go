package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Sender classifies who authored a chat message.
type Sender int

const (
	SenderSystem Sender = iota
	SenderClient
	SenderAI
	SenderManager
)

// String returns the lowercase role name.
func (s Sender) String() string {
	switch s {
	case SenderClient:
		return "client"
	case SenderAI:
		return "ai"
	case SenderManager:
		return "manager"
	default:
		return "system"
	}
}

// AISenderID is the literal sender id the backend uses for automated replies.
const AISenderID = "ai"

// Classify derives the sender role from a raw sender id. selfID is the local
// user's id.
func Classify(senderID, selfID string) Sender {
	switch {
	case senderID != "" && senderID == selfID:
		return SenderClient
	case senderID == AISenderID:
		return SenderAI
	case isDigits(senderID):
		return SenderManager
	default:
		return SenderSystem
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// MediaType enumerates attachment kinds.
type MediaType string

const (
	MediaPhoto     MediaType = "photo"
	MediaVideo     MediaType = "video"
	MediaVoice     MediaType = "voice"
	MediaVideoNote MediaType = "video_note"
	MediaDocument  MediaType = "document"
)

// Attachment is a media descriptor resolved by the backend. FileID is an
// opaque locator assigned server-side.
type Attachment struct {
	Type     MediaType `json:"type"`
	FileID   string    `json:"file_id"`
	Caption  string    `json:"caption,omitempty"`
	MIMEType string    `json:"mime_type,omitempty"`
	FileSize int64     `json:"file_size,omitempty"`
}

// ChatMessage is a unit of conversation content ready for rendering. Sender
// is computed once when the message is ingested.
type ChatMessage struct {
	Text     string
	Media    *Attachment
	SenderID string
	Sender   Sender
	SentAt   time.Time
}

// Valid reports whether the message carries text or media.
func (m ChatMessage) Valid() bool {
	return m.Text != "" || m.Media != nil
}

// Ingest converts a wire message into a classified ChatMessage.
func Ingest(w WireMessage, selfID string) ChatMessage {
	id := string(w.SenderID)
	return ChatMessage{
		Text:     w.Text,
		Media:    w.Media,
		SenderID: id,
		Sender:   Classify(id, selfID),
		SentAt:   w.Timestamp.OrNow(),
	}
}

// ID is an identifier that the backend may encode as a JSON string or number.
type ID string

// UnmarshalJSON accepts strings, numbers and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("protocol: id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Timestamp parses the ISO-8601 variants the backend emits, with or without
// a zone offset.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON leaves the zero time for null, empty or unparseable values.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Null or a non-string value: treat as absent.
		t.Time = time.Time{}
		return nil
	}
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	t.Time = time.Time{}
	return nil
}

// MarshalJSON encodes as RFC 3339.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// OrNow returns the parsed time, or the current time when absent.
func (t Timestamp) OrNow() time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t.Time
}
