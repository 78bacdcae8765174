package errors

import "fmt"

var (
	// ErrInvalidUsername is sent verbatim to clients whose handshake carries
	// neither a resumable session nor a usable username.
	ErrInvalidUsername = fmt.Errorf("invalid username")

	ErrSessionNotFound = fmt.Errorf("session not found")
	ErrInvalidMessage  = fmt.Errorf("invalid message")
	ErrHandshakeFirst  = fmt.Errorf("first frame must be an auth handshake")
)
