package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"relay/domain/event"
)

// connSink is one connection's inbox. Producers (the relay engine, presence
// broadcasts) hand events to the buffered channel and never touch the socket;
// the connection's writer loop drains it. A sink that is full past the
// delivery timeout, or already closed, rejects the event so one stuck client
// cannot stall fan-out to the others.
type connSink struct {
	events    chan event.DomainEvent
	timeout   time.Duration
	closed    chan struct{}
	closeOnce sync.Once
}

func newConnSink(bufferSize int, timeout time.Duration) *connSink {
	return &connSink{
		events:  make(chan event.DomainEvent, bufferSize),
		timeout: timeout,
		closed:  make(chan struct{}),
	}
}

// Consume implements contract.EventSink.
func (s *connSink) Consume(ctx context.Context, e event.DomainEvent) error {
	// A closed sink must reject even while the buffer has room.
	select {
	case <-s.closed:
		return fmt.Errorf("connection closed")
	default:
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case s.events <- e:
		return nil
	case <-s.closed:
		return fmt.Errorf("connection closed")
	case <-timer.C:
		return fmt.Errorf("delivery of %q timed out", e.Kind())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close wakes pending and future Consume calls with an error. Idempotent;
// called both on normal teardown and on writer failure.
func (s *connSink) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}
