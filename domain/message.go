// Package domain contains core concepts of the relay.
// This file defines direct messages between two identities.
// Messages are immutable once created.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is an immutable direct message between two identities.
// From and To are user IDs, never session tokens.
type Message struct {
	ID      uuid.UUID
	From    string
	To      string
	Content string
	At      time.Time
}
