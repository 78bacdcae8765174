package ws

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relay/domain/event"
)

func TestSink_Buffers_Until_Drained(t *testing.T) {
	req := require.New(t)
	sink := newConnSink(2, 50*time.Millisecond)

	req.NoError(sink.Consume(context.Background(), event.PeerOffline{UserID: "u1"}))
	req.NoError(sink.Consume(context.Background(), event.PeerOffline{UserID: "u2"}))

	req.Equal(event.PeerOffline{UserID: "u1"}, <-sink.events)
	req.Equal(event.PeerOffline{UserID: "u2"}, <-sink.events)
}

func TestSink_Full_Buffer_Times_Out_Instead_Of_Blocking(t *testing.T) {
	req := require.New(t)
	sink := newConnSink(1, 20*time.Millisecond)
	req.NoError(sink.Consume(context.Background(), event.PeerOffline{UserID: "u1"}))

	start := time.Now()
	err := sink.Consume(context.Background(), event.PeerOffline{UserID: "u2"})

	req.Error(err)
	req.Less(time.Since(start), time.Second)
}

func TestSink_Closed_Rejects_Immediately(t *testing.T) {
	req := require.New(t)
	sink := newConnSink(4, time.Second)
	sink.Close()
	sink.Close() // idempotent

	err := sink.Consume(context.Background(), event.PeerOffline{UserID: "u1"})
	req.Error(err)
}
