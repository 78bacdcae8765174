package runtime

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"relay/domain/event"
)

type nopSink struct{ id int }

func (s *nopSink) Consume(_ context.Context, _ event.DomainEvent) error { return nil }

func TestPresence_Register_First_Connection_Comes_Online(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker()
	userID := uuid.NewString()
	sink := &nopSink{}

	// Given an identity with no live connection
	req.Zero(tracker.OnlineIdentities())

	// When it registers its first connection
	first := tracker.Register(userID, sink)

	// Then that is an online transition
	req.True(first)
	req.Equal(1, tracker.OnlineIdentities())
	req.Equal(1, tracker.ConnectionCount())
	req.Contains(tracker.SinksFor(userID), sink)
}

func TestPresence_Second_Tab_Is_Silent(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker()
	userID := uuid.NewString()
	tab1, tab2 := &nopSink{id: 1}, &nopSink{id: 2}

	// Given an already-online identity
	req.True(tracker.Register(userID, tab1))

	// When a second tab registers
	first := tracker.Register(userID, tab2)

	// Then no transition is reported
	req.False(first)
	req.Equal(1, tracker.OnlineIdentities())
	req.Len(tracker.SinksFor(userID), 2)
}

func TestPresence_Unregister_Last_Connection_Goes_Offline(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker()
	userID := uuid.NewString()
	tab1, tab2 := &nopSink{id: 1}, &nopSink{id: 2}
	tracker.Register(userID, tab1)
	tracker.Register(userID, tab2)

	// When the non-last tab closes
	empty := tracker.Unregister(userID, tab1)

	// Then the identity stays online
	req.False(empty)
	req.Equal(1, tracker.OnlineIdentities())

	// When the last tab closes
	empty = tracker.Unregister(userID, tab2)

	// Then the identity goes offline and leaves no state behind
	req.True(empty)
	req.Zero(tracker.OnlineIdentities())
	req.Nil(tracker.SinksFor(userID))
}

func TestPresence_Unregister_Unknown_Identity_Is_Not_A_Transition(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker()

	req.False(tracker.Unregister(uuid.NewString(), &nopSink{}))
	req.Zero(tracker.OnlineIdentities())
}

func TestPresence_SinksExcept_Skips_The_Given_Identity(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker()
	alice, bob := uuid.NewString(), uuid.NewString()
	aliceTab1, aliceTab2, bobTab := &nopSink{id: 1}, &nopSink{id: 2}, &nopSink{id: 3}
	tracker.Register(alice, aliceTab1)
	tracker.Register(alice, aliceTab2)
	tracker.Register(bob, bobTab)

	sinks := tracker.SinksExcept(alice)

	req.Len(sinks, 1)
	req.Contains(sinks, bobTab)
}

func TestPresence_Concurrent_Churn_Settles_On_Final_State(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker()
	userID := uuid.NewString()

	// Many tabs of the same identity opening and closing concurrently must
	// produce exactly one online and one offline transition each per 0<->1
	// boundary, and the tracker must end empty.
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sink := &nopSink{id: i}
			tracker.Register(userID, sink)
			tracker.Unregister(userID, sink)
		}(i)
	}
	wg.Wait()

	req.Zero(tracker.OnlineIdentities())
	req.Zero(tracker.ConnectionCount())
	req.Nil(tracker.SinksFor(userID))
}
