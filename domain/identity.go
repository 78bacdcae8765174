// Package domain contains core concepts of the relay.
// This file defines identities and resumable sessions.
// No runtime, network, or storage logic should be added here.
package domain

// Identity is a stable (userID, username) pair representing one participant,
// independent of any single connection.
type Identity struct {
	UserID   string
	Username string
}

// Session binds a resumable credential to an identity.
// SessionID is the token handed back to the client for reconnection;
// UserID is the stable address other participants use.
type Session struct {
	SessionID string
	UserID    string
	Username  string
	Connected bool
}

// Identity returns the identity bound to the session.
func (s Session) Identity() Identity {
	return Identity{UserID: s.UserID, Username: s.Username}
}
