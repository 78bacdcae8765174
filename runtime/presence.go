// Package runtime owns the live, in-memory state of the relay: which
// identities currently hold open connections and where their events go.
package runtime

import (
	"sync"

	"relay/contract"
)

type sinkSet map[contract.EventSink]struct{}

// PresenceTracker maps each identity to the set of sinks backing its live
// connections. One identity may hold several connections at once (multi-tab);
// only the 0<->1 boundary is a presence change, and that decision is made
// under the lock so a disconnect racing a reconnect never double-fires.
type PresenceTracker struct {
	mu      sync.Mutex
	handles map[string]sinkSet
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{handles: make(map[string]sinkSet)}
}

// Register adds a connection sink for userID and reports whether it was the
// identity's first live connection (a genuine "came online" transition).
func (p *PresenceTracker) Register(userID string, sink contract.EventSink) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.handles[userID]
	if !ok {
		set = make(sinkSet)
		p.handles[userID] = set
	}
	set[sink] = struct{}{}
	return len(set) == 1
}

// Unregister removes a connection sink for userID and reports whether the
// identity now has no live connections ("went offline"). Empty sets are
// removed so the map does not grow with every identity ever seen.
func (p *PresenceTracker) Unregister(userID string, sink contract.EventSink) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.handles[userID]
	if !ok {
		return false
	}
	delete(set, sink)
	if len(set) == 0 {
		delete(p.handles, userID)
		return true
	}
	return false
}

// SinksFor returns a snapshot of the live sinks for one identity.
func (p *PresenceTracker) SinksFor(userID string) []contract.EventSink {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.handles[userID]
	if !ok {
		return nil
	}
	sinks := make([]contract.EventSink, 0, len(set))
	for sink := range set {
		sinks = append(sinks, sink)
	}
	return sinks
}

// SinksExcept returns a snapshot of the live sinks of every identity other
// than userID, used for presence broadcasts.
func (p *PresenceTracker) SinksExcept(userID string) []contract.EventSink {
	p.mu.Lock()
	defer p.mu.Unlock()

	var sinks []contract.EventSink
	for id, set := range p.handles {
		if id == userID {
			continue
		}
		for sink := range set {
			sinks = append(sinks, sink)
		}
	}
	return sinks
}

// ConnectionCount returns the number of live connections across identities.
func (p *PresenceTracker) ConnectionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, set := range p.handles {
		n += len(set)
	}
	return n
}

// OnlineIdentities returns the number of identities with at least one live
// connection.
func (p *PresenceTracker) OnlineIdentities() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}
