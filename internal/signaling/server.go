package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hallway/hallway/internal/auth"
	"github.com/hallway/hallway/internal/config"
	"github.com/hallway/hallway/internal/metrics"
	"github.com/hallway/hallway/internal/presence"
	"github.com/hallway/hallway/internal/ratelimit"
	"github.com/hallway/hallway/internal/registry"
	"github.com/hallway/hallway/internal/room"
)

const wsWriteWait = 1 * time.Second

// User-facing reason for a signal payload that failed structural validation.
const reasonBadSignal = "Invalid signal payload"

// Server is the WebSocket hub. Each accepted connection gets a server-assigned
// UUID, a presence registration and a single writer; the hub doubles as the
// presence transport and the router's deliverer.
type Server struct {
	cfg      config.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	verifier auth.Verifier
	rooms    *room.Store
	coord    *presence.Coordinator
	router   *Router
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*wsSession
}

func NewServer(cfg config.Config, log *slog.Logger, m *metrics.Metrics, reg *registry.Registry, rooms *room.Store) (*Server, error) {
	var verifier auth.Verifier
	if cfg.AuthMode != config.AuthModeNone {
		var err error
		verifier, err = auth.NewVerifier(cfg)
		if err != nil {
			return nil, err
		}
	}
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = &metrics.Metrics{}
	}

	s := &Server{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		verifier: verifier,
		rooms:    rooms,
		upgrader: websocket.Upgrader{
			// Origin checks are enforced by the outer httpserver origin
			// middleware. For unit tests that hit the hub directly, accept all
			// origins here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*wsSession),
	}
	s.coord = presence.NewCoordinator(log, reg, rooms, s)
	s.router = NewRouter(log, m, s)
	return s, nil
}

// Send implements presence.Transport.
func (s *Server) Send(connID string, ev presence.Event) {
	s.Deliver(connID, ev)
}

// Deliver implements Deliverer. It reports false when the connection has
// already left the hub or its socket is dead.
func (s *Server) Deliver(connID string, ev presence.Event) bool {
	s.mu.Lock()
	sess := s.conns[connID]
	s.mu.Unlock()
	if sess == nil {
		return false
	}
	return sess.send(ev) == nil
}

// Broadcast implements presence.Transport. Membership is resolved at send
// time, so the excluded connection is typically the one that just joined or
// left.
func (s *Server) Broadcast(roomID, excludeConnID string, ev presence.Event) {
	members, err := s.rooms.Members(roomID)
	if err != nil {
		return
	}
	for _, m := range members {
		if m.ID == excludeConnID {
			continue
		}
		s.Send(m.ID, ev)
	}
}

// Close drops every live connection with a going-away frame. Used on
// shutdown.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := make([]*wsSession, 0, len(s.conns))
	for _, sess := range s.conns {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.closeWith(websocket.CloseGoingAway, "server shutting down")
		_ = sess.conn.Close()
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(s.cfg.MaxSignalingMessageBytes)

	limiter := ratelimit.NewTokenBucket(
		ratelimit.RealClock{},
		int64(s.cfg.MaxSignalingMessagesPerSecond),
		int64(s.cfg.MaxSignalingMessagesPerSecond),
	)

	identity, ok := s.authenticate(conn, r, limiter)
	if !ok {
		return
	}

	sess := &wsSession{
		srv:     s,
		id:      uuid.NewString(),
		conn:    conn,
		limiter: limiter,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	s.conns[sess.id] = sess
	s.mu.Unlock()
	defer func() {
		close(sess.done)
		s.mu.Lock()
		delete(s.conns, sess.id)
		s.mu.Unlock()
		s.coord.Disconnect(sess.id)
		s.log.Info("connection closed", "conn_id", sess.id)
	}()

	if err := s.coord.Connect(sess.id); err != nil {
		s.log.Error("register connection", "conn_id", sess.id, "error", err)
		return
	}

	s.log.Info("connection established",
		"conn_id", sess.id,
		"subject", identity.Subject,
		"remote", r.RemoteAddr,
	)

	go sess.pingLoop()
	sess.readLoop()
}

// authenticate runs the AUTH_MODE handshake before the connection becomes a
// presence participant: credentials arrive in the upgrade request (X-API-Key
// or Authorization header, or the query string) or in a first auth message
// sent within the auth deadline.
func (s *Server) authenticate(conn *websocket.Conn, r *http.Request, limiter *ratelimit.TokenBucket) (auth.Identity, bool) {
	if s.cfg.AuthMode == config.AuthModeNone {
		return auth.Identity{}, true
	}

	cred, err := auth.CredentialFromRequest(s.cfg.AuthMode, r)
	switch {
	case err == nil:
		identity, verr := s.verifier.Verify(cred)
		if verr != nil {
			s.metrics.Inc(metrics.AuthFailure)
			writeClose(conn, websocket.ClosePolicyViolation, "invalid credentials")
			return auth.Identity{}, false
		}
		return identity, true
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.metrics.Inc(metrics.AuthFailure)
		writeClose(conn, websocket.ClosePolicyViolation, "invalid credentials")
		return auth.Identity{}, false
	case !errors.Is(err, auth.ErrMissingCredentials):
		writeClose(conn, websocket.CloseInternalServerErr, "invalid auth configuration")
		return auth.Identity{}, false
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.SignalingAuthTimeout))

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		if isTimeout(err) {
			s.metrics.Inc(metrics.AuthFailure)
			writeClose(conn, websocket.ClosePolicyViolation, "authentication timeout")
		}
		return auth.Identity{}, false
	}
	if !limiter.Allow(1) {
		s.metrics.Inc(metrics.DropReasonRateLimited)
		writeClose(conn, websocket.ClosePolicyViolation, "rate limit exceeded")
		return auth.Identity{}, false
	}
	if msgType != websocket.TextMessage {
		writeClose(conn, websocket.CloseUnsupportedData, "expected text message")
		return auth.Identity{}, false
	}

	msg, err := parseClientMessage(data)
	if err != nil || msg.Type != messageTypeAuth {
		s.metrics.Inc(metrics.AuthFailure)
		writeClose(conn, websocket.ClosePolicyViolation, "authentication required")
		return auth.Identity{}, false
	}

	cred = msg.APIKey
	if cred == "" {
		cred = msg.Token
	}
	identity, err := s.verifier.Verify(cred)
	if err != nil {
		s.metrics.Inc(metrics.AuthFailure)
		writeClose(conn, websocket.ClosePolicyViolation, "invalid credentials")
		return auth.Identity{}, false
	}

	_ = conn.SetReadDeadline(time.Time{})
	return identity, true
}

func (s *Server) dispatch(sess *wsSession, msg clientMessage) {
	switch msg.Type {
	case messageTypeAuth:
		// Tolerated after authentication: clients using the query-string
		// fallback (or AUTH_MODE=none) may still open with an auth message.
	case messageTypeCreateRoom:
		s.coord.CreateRoom(sess.id, msg.DisplayName)
	case messageTypeJoinRoom:
		s.coord.JoinRoom(sess.id, msg.RoomID, msg.DisplayName)
	case messageTypeLeaveRoom:
		s.coord.LeaveRoom(sess.id)
	case messageTypeSignal:
		if err := s.router.Relay(sess.id, msg.Target, msg.Kind, msg.Payload); err != nil {
			s.Send(sess.id, presence.RoomError(reasonBadSignal))
		}
	}
}

type wsSession struct {
	srv     *Server
	id      string
	conn    *websocket.Conn
	limiter *ratelimit.TokenBucket

	writeMu sync.Mutex
	done    chan struct{}
}

func (sess *wsSession) readLoop() {
	idle := sess.srv.cfg.SignalingWSIdleTimeout
	_ = sess.conn.SetReadDeadline(time.Now().Add(idle))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		msgType, data, err := sess.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				sess.srv.metrics.Inc(metrics.DropReasonMessageTooLarge)
				sess.closeWith(websocket.CloseMessageTooBig, "message too large")
			case isTimeout(err):
				sess.closeWith(websocket.CloseNormalClosure, "idle timeout")
			}
			return
		}
		_ = sess.conn.SetReadDeadline(time.Now().Add(idle))

		// Consume the rate limit *after* reading so the bytes already in the
		// TCP receive buffer are drained; closing with unread data can turn
		// into an abortive close and hide the close reason from the client.
		if !sess.limiter.Allow(1) {
			sess.srv.metrics.Inc(metrics.DropReasonRateLimited)
			sess.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			sess.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := parseClientMessage(data)
		if err != nil {
			sess.closeWith(websocket.ClosePolicyViolation, "bad message")
			return
		}

		sess.srv.dispatch(sess, msg)
	}
}

func (sess *wsSession) pingLoop() {
	ticker := time.NewTicker(sess.srv.cfg.SignalingWSPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			sess.writeMu.Lock()
			err := sess.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			sess.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (sess *wsSession) send(ev presence.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	_ = sess.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return sess.conn.WriteMessage(websocket.TextMessage, data)
}

func (sess *wsSession) closeWith(code int, reason string) {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	_ = sess.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
