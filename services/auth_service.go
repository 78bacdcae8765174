package services

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"relay/domain"
	"relay/errors"
	"relay/repositories"
)

var validate = validator.New()

// Handshake is the first thing a connection says: either a resumable token,
// a username for a fresh identity, or both (token wins when it resolves).
type Handshake struct {
	SessionID string
	Username  string
}

type usernameRule struct {
	Username string `validate:"required,min=1,max=64"`
}

type IAuthService interface {
	Resolve(handshake Handshake) (session domain.Session, fresh bool, err error)
	SetConnected(session domain.Session, connected bool) error
}

// AuthService resolves a handshake into a session: resumed when the token is
// known, freshly minted when a username is supplied, rejected otherwise.
type AuthService struct {
	sessions repositories.ISessionRepository
}

func NewAuthService(sessions repositories.ISessionRepository) *AuthService {
	return &AuthService{sessions: sessions}
}

// Resolve implements the handshake contract.
// A stale or unknown token is not an error: it silently falls back to the
// username path, so a client whose server restarted can re-register under
// the same username without special-casing anything.
func (s *AuthService) Resolve(handshake Handshake) (domain.Session, bool, error) {
	if handshake.SessionID != "" {
		session, err := s.sessions.FindSession(handshake.SessionID)
		if err == nil {
			return session, false, nil
		}
		if !stderrors.Is(err, errors.ErrSessionNotFound) {
			return domain.Session{}, false, err
		}
	}

	username := strings.TrimSpace(handshake.Username)
	if err := validate.Struct(usernameRule{Username: username}); err != nil {
		return domain.Session{}, false, errors.ErrInvalidUsername
	}

	session := domain.Session{
		SessionID: uuid.NewString(),
		UserID:    uuid.NewString(),
		Username:  username,
		Connected: true,
	}
	if err := s.sessions.SaveSession(session); err != nil {
		return domain.Session{}, false, fmt.Errorf("create session: %w", err)
	}
	return session, true, nil
}

// SetConnected records an identity's presence flag, flipped only on the
// 0<->1 live-connection boundary by the gateway.
func (s *AuthService) SetConnected(session domain.Session, connected bool) error {
	session.Connected = connected
	return s.sessions.SaveSession(session)
}
