package ws

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"relay/contract"
	"relay/domain"
	"relay/domain/event"
	"relay/errors"
	"relay/observability"
	"relay/services"
)

// Conn is a single bidirectional event channel: one frame in, one frame out.
// The gateway is written against this rather than a concrete websocket so
// the lifecycle logic can be driven by in-memory connections in tests.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
	RemoteAddr() string
}

// wsConn adapts a hijacked gobwas connection to Conn.
type wsConn struct {
	conn net.Conn
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	return wsutil.ReadClientText(c.conn)
}

func (c *wsConn) WriteFrame(frame []byte) error {
	return wsutil.WriteServerText(c.conn, frame)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Gateway accepts connections, runs the auth handshake, registers presence,
// replays initial state, and relays events for the rest of the connection's
// life.
type Gateway struct {
	log             *slog.Logger
	auth            services.IAuthService
	roster          services.IRosterService
	relay           services.IRelayService
	presence        contract.IPresenceTracker
	metrics         observability.IRecorder
	bufferSize      int
	deliveryTimeout time.Duration
}

func NewGateway(log *slog.Logger, auth services.IAuthService, roster services.IRosterService,
	relay services.IRelayService, presence contract.IPresenceTracker,
	metrics observability.IRecorder, bufferSize int, deliveryTimeout time.Duration) *Gateway {
	return &Gateway{
		log:             log,
		auth:            auth,
		roster:          roster,
		relay:           relay,
		presence:        presence,
		metrics:         metrics,
		bufferSize:      bufferSize,
		deliveryTimeout: deliveryTimeout,
	}
}

// ServeHTTP upgrades the request and hands the hijacked connection to Handle.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		g.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	// The request context dies with this handler; the connection does not.
	go g.Handle(context.Background(), &wsConn{conn: conn})
}

// Handle runs one connection from handshake to teardown. It blocks until the
// transport reports the connection closed.
func (g *Gateway) Handle(ctx context.Context, conn Conn) {
	g.metrics.ConnectionOpened()
	defer g.metrics.ConnectionClosed()
	defer conn.Close()

	session, fresh, err := g.handshake(conn)
	if err != nil {
		g.reject(conn, err)
		return
	}

	sink := newConnSink(g.bufferSize, g.deliveryTimeout)
	first := g.presence.Register(session.UserID, sink)
	if first {
		if err := g.auth.SetConnected(session, true); err != nil {
			g.log.Error("mark session connected", "user_id", session.UserID, "error", err)
		}
	}
	if fresh {
		g.metrics.SessionCreated()
	} else {
		g.metrics.SessionResumed()
	}
	g.log.Info("connection established",
		"remote", conn.RemoteAddr(),
		"user_id", session.UserID,
		"username", session.Username,
		"fresh", fresh,
		"first", first)

	// Initial state is written directly, before the writer loop starts, so
	// the client always sees "session" then "users" before any live event.
	if err := g.sendInitialState(conn, session, fresh); err != nil {
		g.log.Warn("initial state not delivered", "user_id", session.UserID, "error", err)
		g.disconnect(ctx, session, sink)
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(conn, sink)
	}()

	if first {
		g.broadcastPresence(ctx, event.PeerOnline{
			UserID:   session.UserID,
			Username: session.Username,
		}, session.UserID, "online")
	}

	g.readLoop(ctx, conn, session, sink)

	g.disconnect(ctx, session, sink)
	<-writerDone
}

// handshake reads the first frame, which must be an auth event, and resolves
// it into a session.
func (g *Gateway) handshake(conn Conn) (domain.Session, bool, error) {
	frame, err := conn.ReadFrame()
	if err != nil {
		return domain.Session{}, false, err
	}
	env, err := DecodeEnvelope(frame)
	if err != nil || env.Type != EventAuth {
		return domain.Session{}, false, errors.ErrHandshakeFirst
	}
	var payload AuthPayload
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return domain.Session{}, false, errors.ErrHandshakeFirst
		}
	}
	return g.auth.Resolve(services.Handshake{
		SessionID: payload.SessionID,
		Username:  payload.Username,
	})
}

// reject terminates a failed handshake. Authentication failures get the
// typed error frame before the close; transport errors get nothing.
func (g *Gateway) reject(conn Conn, err error) {
	if !stderrors.Is(err, errors.ErrInvalidUsername) && !stderrors.Is(err, errors.ErrHandshakeFirst) {
		g.log.Debug("handshake aborted", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	g.metrics.AuthFailure()
	g.log.Info("handshake rejected", "remote", conn.RemoteAddr(), "error", err)
	frame, err := EncodeEvent(EventAuthError, errors.ErrInvalidUsername.Error())
	if err != nil {
		return
	}
	_ = conn.WriteFrame(frame)
}

func (g *Gateway) sendInitialState(conn Conn, session domain.Session, fresh bool) error {
	if fresh {
		frame, err := EncodeEvent(EventSession, SessionPayload{
			SessionID: session.SessionID,
			UserID:    session.UserID,
		})
		if err != nil {
			return err
		}
		if err := conn.WriteFrame(frame); err != nil {
			return err
		}
	}

	entries, err := g.roster.ForUser(session)
	if err != nil {
		return err
	}
	users := make([]UserPayload, 0, len(entries))
	for _, entry := range entries {
		users = append(users, toUserPayload(entry))
	}
	frame, err := EncodeEvent(EventUsers, users)
	if err != nil {
		return err
	}
	return conn.WriteFrame(frame)
}

// writeLoop drains the sink onto the wire until the sink closes or a write
// fails.
func (g *Gateway) writeLoop(conn Conn, sink *connSink) {
	for {
		select {
		case evt := <-sink.events:
			frame, err := encodeDomainEvent(evt)
			if err != nil {
				g.log.Error("event not encodable", "kind", evt.Kind(), "error", err)
				continue
			}
			if err := conn.WriteFrame(frame); err != nil {
				g.log.Debug("write failed, stopping writer", "remote", conn.RemoteAddr(), "error", err)
				sink.Close()
				return
			}
		case <-sink.closed:
			return
		}
	}
}

// readLoop processes inbound frames until the transport closes.
func (g *Gateway) readLoop(ctx context.Context, conn Conn, session domain.Session, sink *connSink) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			return
		}
		env, err := DecodeEnvelope(frame)
		if err != nil {
			g.log.Warn("undecodable frame", "user_id", session.UserID, "error", err)
			continue
		}
		switch env.Type {
		case EventPrivateMessage:
			var payload MessagePayload
			if err := json.Unmarshal(env.Data, &payload); err != nil {
				g.log.Warn("bad message payload", "user_id", session.UserID, "error", err)
				continue
			}
			if err := g.relay.Send(ctx, session, payload.To, payload.Content, sink); err != nil {
				// Fail closed: nothing was delivered. The connection stays up.
				g.log.Warn("message not relayed", "user_id", session.UserID, "error", err)
			}
		case EventAuth:
			g.log.Debug("duplicate handshake ignored", "user_id", session.UserID)
		default:
			g.log.Warn("unknown event type", "user_id", session.UserID, "type", env.Type)
		}
	}
}

// disconnect tears down one connection. The emptiness decision is made
// atomically inside the tracker, so an identity whose other tab is racing to
// register never flaps offline.
func (g *Gateway) disconnect(ctx context.Context, session domain.Session, sink *connSink) {
	sink.Close()
	empty := g.presence.Unregister(session.UserID, sink)
	if !empty {
		return
	}
	if err := g.auth.SetConnected(session, false); err != nil {
		g.log.Error("mark session disconnected", "user_id", session.UserID, "error", err)
	}
	g.broadcastPresence(ctx, event.PeerOffline{UserID: session.UserID}, session.UserID, "offline")
	g.log.Info("identity offline", "user_id", session.UserID, "username", session.Username)
}

// broadcastPresence notifies every live connection of every other identity.
func (g *Gateway) broadcastPresence(ctx context.Context, evt event.DomainEvent, exceptUserID, kind string) {
	for _, sink := range g.presence.SinksExcept(exceptUserID) {
		if err := sink.Consume(ctx, evt); err != nil {
			g.metrics.DeliveryDropped()
			g.log.Warn("presence delivery skipped", "kind", kind, "error", err)
			continue
		}
		g.metrics.DeliverySucceeded()
	}
	g.metrics.PresenceBroadcast(kind)
}
