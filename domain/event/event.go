// Package event defines the domain events fanned out to connection sinks.
package event

import "relay/domain"

// DomainEvent is anything the relay pushes to live connections.
type DomainEvent interface {
	// Kind names the event for logging and wire translation.
	Kind() string
}

// PeerOnline fires on an identity's 0 -> 1 live-connection transition.
type PeerOnline struct {
	UserID   string
	Username string
}

func (PeerOnline) Kind() string { return "peer online" }

// PeerOffline fires on an identity's 1 -> 0 live-connection transition.
type PeerOffline struct {
	UserID string
}

func (PeerOffline) Kind() string { return "peer offline" }

// MessageRelayed carries a persisted direct message to the connections of
// its sender and recipient.
type MessageRelayed struct {
	Message domain.Message
}

func (MessageRelayed) Kind() string { return "message relayed" }
