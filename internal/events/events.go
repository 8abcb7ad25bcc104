// Package events defines the closed set of frames exchanged over the
// websocket endpoint. Every frame is a JSON envelope carrying an event name
// and a payload with a fixed schema; anything outside this set is rejected
// at the boundary before it reaches a handler.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Wire event names.
const (
	// MessageSend is sent by a client to deliver a message to another user.
	MessageSend = "message:send"
	// MessageReceive is pushed to the recipient's connections in real time.
	MessageReceive = "message:receive"
	// MessageSent echoes the persisted record back to the sender once
	// storage completes, so optimistic client state can be reconciled.
	MessageSent = "message:sent"
	// UserTyping carries transient typing pulses in both directions.
	UserTyping = "user:typing"
	// UserStatus announces online/offline transitions to every client.
	UserStatus = "user:status"
)

// ErrMalformed is returned for frames that are not a valid envelope or
// whose payload does not match the event's schema.
var ErrMalformed = errors.New("malformed event")

// Envelope is the wire frame: an event name plus its raw payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// SendMessage is the client payload for MessageSend.
type SendMessage struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// ReceiveMessage is the server payload for MessageReceive.
type ReceiveMessage struct {
	From      string `json:"from"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// SentMessage is the server payload for MessageSent. The id is the
// persisted record's id; clients replace their optimistic copy by it.
type SentMessage struct {
	ID        string `json:"id"`
	To        string `json:"to"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// TypingRequest is the client payload for UserTyping.
type TypingRequest struct {
	To       string `json:"to"`
	IsTyping bool   `json:"isTyping"`
}

// TypingNotice is the server payload for UserTyping as seen by the target.
type TypingNotice struct {
	From     string `json:"from"`
	IsTyping bool   `json:"isTyping"`
}

// StatusUpdate is the server payload for UserStatus.
type StatusUpdate struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// New builds an envelope around a payload. It is used for outbound frames
// where the payload is one of the structs above and cannot fail to marshal
// in practice; the error is still surfaced for callers that log it.
func New(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: raw}, nil
}

// Decode parses a raw inbound frame into an envelope. Payload validation
// happens in Bind, once the event name has selected a schema.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event name", ErrMalformed)
	}
	return env, nil
}

// Bind unmarshals the envelope payload into the schema struct for its event.
func (e Envelope) Bind(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Timestamp renders a server-assigned time in the wire format (RFC 3339 UTC).
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
