package contract

import (
	"context"
	"reflect"

	"relay/domain/event"
)

// EventSink is one live connection's inbox. Implementations must not block
// the caller: a slow or closed connection drops the event and reports it.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// IPresenceTracker tracks the live connection sinks of every identity and
// owns the 0<->1 transition decisions.
type IPresenceTracker interface {
	Register(userID string, sink EventSink) (first bool)
	Unregister(userID string, sink EventSink) (empty bool)
	SinksFor(userID string) []EventSink
	SinksExcept(userID string) []EventSink
}

// Worker is a long-running background task supervised by the runtime.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker,
// used for logging and supervision without forcing a Name method on Worker.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
