package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"relay/observability"
	"relay/repositories"
	"relay/runtime"
	"relay/services"
)

// fakeConn is an in-memory Conn driven frame by frame from the test.
type fakeConn struct {
	in        chan []byte
	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case frame, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteFrame(frame []byte) error {
	select {
	case c.out <- frame:
		return nil
	case <-c.closed:
		return io.ErrClosedPipe
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "fake" }

type gatewayFixture struct {
	gateway  *Gateway
	sessions *repositories.SessionRepository
	messages *repositories.MessageRepository
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := slog.Default()
	metrics := observability.NewCollector(prometheus.NewRegistry())
	sessions := repositories.NewSessionRepository(db)
	messages := repositories.NewMessageRepository(db, log, nil)
	presence := runtime.NewPresenceTracker()
	auth := services.NewAuthService(sessions)
	roster := services.NewRosterService(sessions, messages)
	relay := services.NewRelayService(log, messages, presence, metrics, 4096)

	return &gatewayFixture{
		gateway:  NewGateway(log, auth, roster, relay, presence, metrics, 16, time.Second),
		sessions: sessions,
		messages: messages,
	}
}

// client is one simulated connection with its Handle goroutine.
type client struct {
	conn *fakeConn
	done chan struct{}
}

func (f *gatewayFixture) connect(t *testing.T, payload AuthPayload) *client {
	t.Helper()
	c := &client{conn: newFakeConn(), done: make(chan struct{})}
	go func() {
		defer close(c.done)
		f.gateway.Handle(context.Background(), c.conn)
	}()
	c.send(t, EventAuth, payload)
	return c
}

func (c *client) send(t *testing.T, eventType string, payload any) {
	t.Helper()
	frame, err := EncodeEvent(eventType, payload)
	require.NoError(t, err)
	select {
	case c.conn.in <- frame:
	case <-time.After(2 * time.Second):
		t.Fatal("send stalled")
	}
}

func (c *client) read(t *testing.T) Envelope {
	t.Helper()
	select {
	case frame := <-c.conn.out:
		env, err := DecodeEnvelope(frame)
		require.NoError(t, err)
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return Envelope{}
	}
}

func (c *client) readPayload(t *testing.T, wantType string, target any) {
	t.Helper()
	env := c.read(t)
	require.Equal(t, wantType, env.Type)
	require.NoError(t, json.Unmarshal(env.Data, target))
}

func (c *client) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case frame := <-c.conn.out:
		t.Fatalf("unexpected frame: %s", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

func (c *client) disconnect(t *testing.T) {
	t.Helper()
	close(c.conn.in)
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not finish")
	}
}

func TestGateway_Fresh_Connect_Gets_Session_Then_Empty_Roster(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t)

	alice := f.connect(t, AuthPayload{Username: "alice"})
	defer alice.disconnect(t)

	var session SessionPayload
	alice.readPayload(t, EventSession, &session)
	req.NotEmpty(session.SessionID)
	req.NotEmpty(session.UserID)

	var users []UserPayload
	alice.readPayload(t, EventUsers, &users)
	req.Empty(users)
}

func TestGateway_Second_User_Sees_Peer_And_Fires_Presence(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t)

	alice := f.connect(t, AuthPayload{Username: "alice"})
	defer alice.disconnect(t)
	var aliceSession SessionPayload
	alice.readPayload(t, EventSession, &aliceSession)
	var users []UserPayload
	alice.readPayload(t, EventUsers, &users)

	bob := f.connect(t, AuthPayload{Username: "bob"})
	defer bob.disconnect(t)
	var bobSession SessionPayload
	bob.readPayload(t, EventSession, &bobSession)

	// Bob's roster carries alice, online, with no history yet
	bob.readPayload(t, EventUsers, &users)
	req.Len(users, 1)
	req.Equal(aliceSession.UserID, users[0].UserID)
	req.Equal("alice", users[0].Username)
	req.True(users[0].Connected)
	req.Empty(users[0].Messages)

	// Alice hears that bob came online
	var peer UserPayload
	alice.readPayload(t, EventUserConnected, &peer)
	req.Equal(bobSession.UserID, peer.UserID)
	req.Equal("bob", peer.Username)
	req.True(peer.Connected)
	req.Empty(peer.Messages)
}

func TestGateway_Message_Reaches_Recipient_And_Senders_Other_Tab(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t)

	alice := f.connect(t, AuthPayload{Username: "alice"})
	defer alice.disconnect(t)
	var aliceSession SessionPayload
	alice.readPayload(t, EventSession, &aliceSession)
	var users []UserPayload
	alice.readPayload(t, EventUsers, &users)

	bob := f.connect(t, AuthPayload{Username: "bob"})
	defer bob.disconnect(t)
	var bobSession SessionPayload
	bob.readPayload(t, EventSession, &bobSession)
	bob.readPayload(t, EventUsers, &users)
	var peer UserPayload
	alice.readPayload(t, EventUserConnected, &peer)

	// Bob opens a second tab by resuming his session
	bobTab2 := f.connect(t, AuthPayload{SessionID: bobSession.SessionID})
	defer bobTab2.disconnect(t)
	// A resumed connection gets no session frame, only the roster
	bobTab2.readPayload(t, EventUsers, &users)

	// When bob messages alice from his first tab
	bob.send(t, EventPrivateMessage, MessagePayload{Content: "hi", To: aliceSession.UserID})

	// Then alice receives it
	var delivered MessagePayload
	alice.readPayload(t, EventPrivateMessage, &delivered)
	req.Equal("hi", delivered.Content)
	req.Equal(bobSession.UserID, delivered.From)
	req.Equal(aliceSession.UserID, delivered.To)

	// And bob's other tab receives the echo, while the sending tab does not
	bobTab2.readPayload(t, EventPrivateMessage, &delivered)
	req.Equal("hi", delivered.Content)
	bob.expectSilence(t)

	// And the message was persisted
	history, err := f.messages.FindMessagesForUser(aliceSession.UserID)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal("hi", history[0].Content)
}

func TestGateway_Rejects_Handshake_Without_Username(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t)

	c := f.connect(t, AuthPayload{})

	var reason string
	c.readPayload(t, EventAuthError, &reason)
	req.Equal("invalid username", reason)

	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("rejected connection not torn down")
	}

	// No session was created
	all, err := f.sessions.FindAllSessions()
	req.NoError(err)
	req.Empty(all)
}

func TestGateway_Rejects_When_First_Frame_Is_Not_Auth(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t)

	c := &client{conn: newFakeConn(), done: make(chan struct{})}
	go func() {
		defer close(c.done)
		f.gateway.Handle(context.Background(), c.conn)
	}()
	c.send(t, EventPrivateMessage, MessagePayload{Content: "hi", To: "nobody"})

	var reason string
	c.readPayload(t, EventAuthError, &reason)
	req.Equal("invalid username", reason)
	<-c.done
}

func TestGateway_Last_Disconnect_Broadcasts_Exactly_Once(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t)

	alice := f.connect(t, AuthPayload{Username: "alice"})
	var aliceSession SessionPayload
	alice.readPayload(t, EventSession, &aliceSession)
	var users []UserPayload
	alice.readPayload(t, EventUsers, &users)

	aliceTab2 := f.connect(t, AuthPayload{SessionID: aliceSession.SessionID})
	aliceTab2.readPayload(t, EventUsers, &users)

	bob := f.connect(t, AuthPayload{Username: "bob"})
	defer bob.disconnect(t)
	var bobSession SessionPayload
	bob.readPayload(t, EventSession, &bobSession)
	bob.readPayload(t, EventUsers, &users)
	var peer UserPayload
	alice.readPayload(t, EventUserConnected, &peer)
	aliceTab2.readPayload(t, EventUserConnected, &peer)

	// Closing the non-last tab is silent
	alice.disconnect(t)
	bob.expectSilence(t)

	// Closing the last tab broadcasts the offline transition once
	aliceTab2.disconnect(t)
	var goneUserID string
	bob.readPayload(t, EventUserDisconnected, &goneUserID)
	req.Equal(aliceSession.UserID, goneUserID)
	bob.expectSilence(t)

	// And the stored session now reads disconnected
	stored, err := f.sessions.FindSession(aliceSession.SessionID)
	req.NoError(err)
	req.False(stored.Connected)
}

func TestGateway_Resume_Restores_Identity_And_Offline_History(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t)

	alice := f.connect(t, AuthPayload{Username: "alice"})
	var aliceSession SessionPayload
	alice.readPayload(t, EventSession, &aliceSession)
	var users []UserPayload
	alice.readPayload(t, EventUsers, &users)

	bob := f.connect(t, AuthPayload{Username: "bob"})
	var bobSession SessionPayload
	bob.readPayload(t, EventSession, &bobSession)
	bob.readPayload(t, EventUsers, &users)
	var peer UserPayload
	alice.readPayload(t, EventUserConnected, &peer)

	// Alice messages bob, then goes fully offline
	alice.send(t, EventPrivateMessage, MessagePayload{Content: "see you", To: bobSession.UserID})
	var delivered MessagePayload
	bob.readPayload(t, EventPrivateMessage, &delivered)
	alice.disconnect(t)
	var goneUserID string
	bob.readPayload(t, EventUserDisconnected, &goneUserID)

	// Bob reconnects later with his stored token
	bob.disconnect(t)
	bobAgain := f.connect(t, AuthPayload{SessionID: bobSession.SessionID})
	defer bobAgain.disconnect(t)

	// Same identity, and the roster shows the offline alice with her message
	bobAgain.readPayload(t, EventUsers, &users)
	req.Len(users, 1)
	req.Equal(aliceSession.UserID, users[0].UserID)
	req.False(users[0].Connected)
	req.Len(users[0].Messages, 1)
	req.Equal("see you", users[0].Messages[0].Content)
	req.Equal(aliceSession.UserID, users[0].Messages[0].From)

	// Resuming never minted a new session
	all, err := f.sessions.FindAllSessions()
	req.NoError(err)
	req.Len(all, 2)
}
