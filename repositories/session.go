package repositories

import (
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"relay/domain"
	"relay/errors"
)

const sessionKeyPrefix = "sess:"

type ISessionRepository interface {
	FindSession(sessionID string) (domain.Session, error)
	SaveSession(session domain.Session) error
	FindAllSessions() ([]domain.Session, error)
}

type SessionRepository struct {
	db *badger.DB
}

func NewSessionRepository(db *badger.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// diskSession is the stored shape of a session record.
type diskSession struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Connected bool   `json:"connected"`
}

// FindSession looks up a session by its resumable token.
// Returns errors.ErrSessionNotFound for unknown tokens; a stale token is a
// normal condition, not a storage failure.
func (r *SessionRepository) FindSession(sessionID string) (domain.Session, error) {
	var stored diskSession
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKeyPrefix + sessionID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		})
	})
	if err != nil {
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return domain.Session{}, errors.ErrSessionNotFound
		}
		return domain.Session{}, fmt.Errorf("find session: %w", err)
	}
	return toSession(stored), nil
}

// SaveSession upserts a session keyed by its token. Sessions are never
// deleted; they live for the whole process.
func (r *SessionRepository) SaveSession(session domain.Session) error {
	data, err := json.Marshal(fromSession(session))
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(sessionKeyPrefix+session.SessionID), data)
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// FindAllSessions returns every known session, order unspecified.
func (r *SessionRepository) FindAllSessions() ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(sessionKeyPrefix)
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var stored diskSession
				if err := json.Unmarshal(val, &stored); err != nil {
					return err
				}
				sessions = append(sessions, toSession(stored))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find all sessions: %w", err)
	}
	return sessions, nil
}

func fromSession(s domain.Session) diskSession {
	return diskSession{
		SessionID: s.SessionID,
		UserID:    s.UserID,
		Username:  s.Username,
		Connected: s.Connected,
	}
}

func toSession(s diskSession) domain.Session {
	return domain.Session{
		SessionID: s.SessionID,
		UserID:    s.UserID,
		Username:  s.Username,
		Connected: s.Connected,
	}
}
