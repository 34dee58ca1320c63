// Package protocol defines the wire envelopes exchanged with the support chat
// backend over the live channel and the upload endpoint.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Type is the envelope discriminator.
type Type string

// Inbound envelope types.
const (
	TypeInit         Type = "init"
	TypeMessage      Type = "message"
	TypeAIResponse   Type = "ai_response"
	TypeStatusUpdate Type = "status_update"
	TypeError        Type = "error"
)

// Outbound-only envelope types. TypeMessage is used in both directions.
const (
	TypeStartNewChat Type = "start_new_chat"
)

// StatusClosed is the status_update status that ends a conversation.
const StatusClosed = "closed"

// Envelope is the {type, payload} unit carried by every channel frame.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// HasPayload reports whether the envelope carries a non-null payload.
func (e Envelope) HasPayload() bool {
	p := bytes.TrimSpace(e.Payload)
	return len(p) > 0 && !bytes.Equal(p, []byte("null"))
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("protocol: decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ParseEnvelope parses a raw frame.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: parse frame: %w", err)
	}
	return env, nil
}

// Marshal encodes an outbound envelope with its payload.
func Marshal(t Type, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s payload: %w", t, err)
	}
	data, err := json.Marshal(Envelope{Type: t, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s envelope: %w", t, err)
	}
	return data, nil
}

// --- Inbound payloads ---

// Common holds the fields any inbound payload may carry.
type Common struct {
	ChatID *string `json:"chat_id"`
}

// ConversationID returns the carried conversation id, or "" when absent.
func (c Common) ConversationID() string {
	if c.ChatID == nil {
		return ""
	}
	return *c.ChatID
}

// InitPayload is sent by the backend on connect and on new conversations.
type InitPayload struct {
	Common
	History     []WireMessage `json:"history"`
	Status      string        `json:"status"`
	ShowButtons bool          `json:"show_buttons"`
}

// WireMessage is a chat message as serialized by the backend.
type WireMessage struct {
	Common
	Text      string      `json:"text"`
	SenderID  ID          `json:"sender_id"`
	Timestamp Timestamp   `json:"timestamp"`
	Media     *Attachment `json:"media"`
}

// AIResponsePayload carries an automated answer.
type AIResponsePayload struct {
	WireMessage
	ShowButtons bool `json:"show_buttons"`
}

// StatusUpdatePayload announces a conversation status transition.
type StatusUpdatePayload struct {
	Common
	Message           string `json:"message"`
	Status            string `json:"status"`
	NewChatID         string `json:"new_chat_id"`
	ShowNewChatButton bool   `json:"show_new_chat_button"`
}

// ErrorPayload reports a backend-side failure to the user.
type ErrorPayload struct {
	Common
	Message            string `json:"message"`
	ShowOperatorButton bool   `json:"show_operator_button"`
	ShowNewChatButton  bool   `json:"show_new_chat_button"`
}

// --- Outbound payloads ---

// FileInfo describes an attachment in an outbound message before the
// backend has assigned it a file id.
type FileInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// OutboundMessage is the payload of an outbound "message" envelope. File is
// always serialized (null for text sends); ChatID is omitted until stamped.
type OutboundMessage struct {
	Text   string    `json:"text"`
	File   *FileInfo `json:"file"`
	ChatID *string   `json:"chat_id,omitempty"`
}

// StampConversation sets the conversation id carried by the message.
func (m *OutboundMessage) StampConversation(id string) {
	if id == "" {
		m.ChatID = nil
		return
	}
	m.ChatID = &id
}

// TextMessage builds the outbound envelope for a plain text send.
func TextMessage(text, conversationID string) ([]byte, error) {
	msg := OutboundMessage{Text: text}
	msg.StampConversation(conversationID)
	return Marshal(TypeMessage, msg)
}

// StartNewChat builds the outbound envelope requesting a fresh conversation.
func StartNewChat() ([]byte, error) {
	return Marshal(TypeStartNewChat, struct{}{})
}
