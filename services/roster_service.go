package services

import (
	"sort"

	"github.com/samber/lo"

	"relay/domain"
	"relay/repositories"
)

type IRosterService interface {
	ForUser(self domain.Session) ([]domain.RosterEntry, error)
}

// RosterService assembles the initial state for a newly connected client:
// every other known identity, its presence flag, and the prior conversation
// between that identity and the connecting user.
type RosterService struct {
	sessions repositories.ISessionRepository
	messages repositories.IMessageRepository
}

func NewRosterService(sessions repositories.ISessionRepository, messages repositories.IMessageRepository) *RosterService {
	return &RosterService{sessions: sessions, messages: messages}
}

// ForUser joins the session store with the connecting user's message history.
// The snapshot is a point-in-time read; concurrent connects are reconciled on
// the client through the presence events that follow.
func (s *RosterService) ForUser(self domain.Session) ([]domain.RosterEntry, error) {
	sessions, err := s.sessions.FindAllSessions()
	if err != nil {
		return nil, err
	}

	history, err := s.messages.FindMessagesForUser(self.UserID)
	if err != nil {
		return nil, err
	}

	// Group the user's history by conversation peer, preserving order.
	byPeer := lo.GroupBy(history, func(m domain.Message) string {
		if m.From == self.UserID {
			return m.To
		}
		return m.From
	})

	peers := lo.Filter(sessions, func(session domain.Session, _ int) bool {
		return session.UserID != self.UserID
	})
	entries := lo.Map(peers, func(session domain.Session, _ int) domain.RosterEntry {
		return domain.RosterEntry{
			UserID:    session.UserID,
			Username:  session.Username,
			Connected: session.Connected,
			Messages:  byPeer[session.UserID],
		}
	})

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Username < entries[j].Username
	})
	return entries, nil
}
