package domain

// RosterEntry is the per-peer view handed to a newly connected client:
// the peer's identity, its presence, and the prior conversation with it.
// Derived on demand, never stored.
type RosterEntry struct {
	UserID    string
	Username  string
	Connected bool
	Messages  []Message
}
