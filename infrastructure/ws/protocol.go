// Package ws is the websocket face of the relay: it upgrades HTTP
// connections, speaks the JSON event protocol, and drives the connection
// lifecycle against the auth, roster, and relay services.
package ws

import (
	"encoding/json"
	"fmt"

	"github.com/samber/lo"

	"relay/domain"
	"relay/domain/event"
)

// Wire event names. Client-facing, so they match what the browser client
// listens for rather than Go naming conventions.
const (
	EventAuth             = "auth"
	EventSession          = "session"
	EventUsers            = "users"
	EventUserConnected    = "user connected"
	EventUserDisconnected = "user disconnected"
	EventPrivateMessage   = "private message"
	EventAuthError        = "auth error"
)

// Envelope frames every event: one JSON object per websocket text frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// AuthPayload is the handshake the client sends as its first frame.
type AuthPayload struct {
	Username  string `json:"username,omitempty"`
	SessionID string `json:"sessionID,omitempty"`
}

// SessionPayload hands a fresh identity its credentials.
type SessionPayload struct {
	SessionID string `json:"sessionID"`
	UserID    string `json:"userID"`
}

// MessagePayload is a direct message on the wire. From is empty on the
// client-to-server leg; the server always stamps it on delivery.
type MessagePayload struct {
	Content string `json:"content"`
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
}

// UserPayload is one roster entry, also used for "user connected"
// notifications (with an empty message list).
type UserPayload struct {
	UserID    string           `json:"userID"`
	Username  string           `json:"username"`
	Connected bool             `json:"connected"`
	Messages  []MessagePayload `json:"messages"`
}

// EncodeEvent frames a payload into an envelope of the given type.
func EncodeEvent(eventType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %q payload: %w", eventType, err)
	}
	frame, err := json.Marshal(Envelope{Type: eventType, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %q envelope: %w", eventType, err)
	}
	return frame, nil
}

// DecodeEnvelope parses a frame into its envelope; payloads stay raw until
// the handler knows what to expect.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

func toMessagePayload(m domain.Message) MessagePayload {
	return MessagePayload{Content: m.Content, From: m.From, To: m.To}
}

func toUserPayload(entry domain.RosterEntry) UserPayload {
	messages := lo.Map(entry.Messages, func(m domain.Message, _ int) MessagePayload {
		return toMessagePayload(m)
	})
	if messages == nil {
		// Clients expect "messages": [] rather than null.
		messages = []MessagePayload{}
	}
	return UserPayload{
		UserID:    entry.UserID,
		Username:  entry.Username,
		Connected: entry.Connected,
		Messages:  messages,
	}
}

// encodeDomainEvent translates a fanned-out domain event into its wire frame.
func encodeDomainEvent(e event.DomainEvent) ([]byte, error) {
	switch evt := e.(type) {
	case event.PeerOnline:
		return EncodeEvent(EventUserConnected, UserPayload{
			UserID:    evt.UserID,
			Username:  evt.Username,
			Connected: true,
			Messages:  []MessagePayload{},
		})
	case event.PeerOffline:
		return EncodeEvent(EventUserDisconnected, evt.UserID)
	case event.MessageRelayed:
		return EncodeEvent(EventPrivateMessage, toMessagePayload(evt.Message))
	default:
		return nil, fmt.Errorf("no wire translation for event %q", e.Kind())
	}
}
