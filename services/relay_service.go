package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"relay/contract"
	"relay/domain"
	"relay/domain/event"
	"relay/errors"
	"relay/observability"
	"relay/repositories"
)

type IRelayService interface {
	Send(ctx context.Context, sender domain.Session, to, content string, origin contract.EventSink) error
}

// RelayService persists a direct message and fans it out to every live
// connection of the recipient, plus the sender's other connections so a
// message sent from one tab appears in the rest.
type RelayService struct {
	log              *slog.Logger
	messages         repositories.IMessageRepository
	presence         contract.IPresenceTracker
	metrics          observability.IRecorder
	maxContentLength int
}

func NewRelayService(log *slog.Logger, messages repositories.IMessageRepository,
	presence contract.IPresenceTracker, metrics observability.IRecorder,
	maxContentLength int) *RelayService {
	return &RelayService{
		log:              log,
		messages:         messages,
		presence:         presence,
		metrics:          metrics,
		maxContentLength: maxContentLength,
	}
}

// Send validates, persists, then delivers. Persistence must complete before
// any sink sees the message: a send that cannot be recorded is dropped
// entirely rather than delivered unrecorded. Per-sink delivery failures are
// counted and logged but never abort the remaining deliveries and never
// surface to the sender.
func (s *RelayService) Send(ctx context.Context, sender domain.Session, to, content string, origin contract.EventSink) error {
	if to == "" {
		return fmt.Errorf("%w: missing recipient", errors.ErrInvalidMessage)
	}
	if err := validate.Var(content, fmt.Sprintf("required,max=%d", s.maxContentLength)); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidMessage, err)
	}

	message := domain.Message{
		ID:      uuid.New(),
		From:    sender.UserID,
		To:      to,
		Content: content,
		At:      time.Now().UTC(),
	}
	if err := s.messages.SaveMessage(message); err != nil {
		return fmt.Errorf("persist before deliver: %w", err)
	}
	s.metrics.MessageRelayed()

	targets := make(map[contract.EventSink]struct{})
	for _, sink := range s.presence.SinksFor(to) {
		targets[sink] = struct{}{}
	}
	for _, sink := range s.presence.SinksFor(sender.UserID) {
		targets[sink] = struct{}{}
	}
	delete(targets, origin)

	evt := event.MessageRelayed{Message: message}
	for sink := range targets {
		if err := sink.Consume(ctx, evt); err != nil {
			s.log.Warn("delivery skipped",
				"from", message.From,
				"to", message.To,
				"error", err)
			s.metrics.DeliveryDropped()
			continue
		}
		s.metrics.DeliverySucceeded()
	}
	return nil
}
