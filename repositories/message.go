package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"relay/domain"
)

type IMessageRepository interface {
	SaveMessage(message domain.Message) error
	FindMessagesForUser(userID string) ([]domain.Message, error)
}

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
	seq           atomic.Int64
}

// NewMessageRepository builds the append-only message store.
// limitMessages optionally caps how many messages FindMessagesForUser
// returns (most recent kept); nil means unlimited.
func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) *MessageRepository {
	r := &MessageRepository{db: db, log: log, limitMessages: limitMessages}
	// Seed the sequence with the wall clock so keys written after a restart
	// of an on-disk store still sort after the existing ones.
	r.seq.Store(time.Now().UnixNano())
	return r
}

// diskMessage is the stored shape of a message record.
type diskMessage struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Content string `json:"content"`
	At      int64  `json:"at"`
}

// messageKey formats "msg:{user_id}:{seq_padded}:{uuid}".
// The 19-digit zero-padded sequence makes lexicographic order equal to
// insertion order; the UUID disambiguates should two writers ever share a
// sequence value.
func messageKey(userID string, seq int64, id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", userID, seq, id))
}

// SaveMessage appends a message under both participants' prefixes in a
// single transaction, so FindMessagesForUser answers a prefix scan for
// either side of the conversation. A self-addressed message is written once.
func (r *MessageRepository) SaveMessage(message domain.Message) error {
	seq := r.seq.Add(1)
	data, err := json.Marshal(fromMessage(message))
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(messageKey(message.From, seq, message.ID), data); err != nil {
			return err
		}
		if message.To == message.From {
			return nil
		}
		return txn.Set(messageKey(message.To, seq, message.ID), data)
	})
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// FindMessagesForUser returns every message sent or received by userID in
// insertion order.
func (r *MessageRepository) FindMessagesForUser(userID string) ([]domain.Message, error) {
	var messages []domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("msg:%s:", userID))
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var stored diskMessage
				if err := json.Unmarshal(val, &stored); err != nil {
					return err
				}
				message, err := toMessage(stored)
				if err != nil {
					return err
				}
				messages = append(messages, message)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find messages for %s: %w", userID, err)
	}
	if r.limitMessages != nil && len(messages) > *r.limitMessages {
		r.log.Debug(fmt.Sprintf("Trimming history to the %d most recent messages", *r.limitMessages))
		messages = messages[len(messages)-*r.limitMessages:]
	}
	return messages, nil
}

func fromMessage(m domain.Message) diskMessage {
	return diskMessage{
		ID:      m.ID.String(),
		From:    m.From,
		To:      m.To,
		Content: m.Content,
		At:      m.At.UnixNano(),
	}
}

func toMessage(m diskMessage) (domain.Message, error) {
	parsedID, err := uuid.Parse(m.ID)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:      parsedID,
		From:    m.From,
		To:      m.To,
		Content: m.Content,
		At:      time.Unix(0, m.At).UTC(),
	}, nil
}
