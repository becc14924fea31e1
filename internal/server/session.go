package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ParthMatta-9921/Chatapp/internal/auth"
	"github.com/ParthMatta-9921/Chatapp/internal/registry"
	"github.com/ParthMatta-9921/Chatapp/internal/wire"
)

const (
	defaultSendBufferSize     = 32
	defaultSessionIdleTimeout = 5 * time.Minute
	defaultSweepInterval      = time.Minute

	// Slack on top of the content bound for the JSON envelope itself.
	frameOverheadBytes = 512

	controlWriteWait = 5 * time.Second
)

// session is one live websocket connection for an authenticated user. It owns
// the outbound channel; all writes to the conn go through the write loop so a
// push from another user's session never interleaves with an echo.
type session struct {
	id     string
	userID int64

	conn   *websocket.Conn
	sendCh chan any

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	lastSeen  atomic.Int64 // unix nanos of the last inbound frame
}

var _ registry.Handle = (*session)(nil)

func newSession(parent context.Context, userID int64, conn *websocket.Conn, bufSize int) *session {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	s := &session{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		sendCh: make(chan any, bufSize),
		ctx:    ctx,
		cancel: cancel,
	}
	s.touch()
	return s
}

// SessionID implements registry.Handle.
func (s *session) SessionID() string {
	return s.id
}

// Close implements registry.Handle. Idempotent: cancelling the context stops
// the write loop and closing the conn unblocks the read loop.
func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.conn.Close()
	})
	return err
}

// push queues an outbound frame. A full buffer means the peer is not draining
// its socket; the session is cancelled rather than blocking the router.
func (s *session) push(frame any) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.sendCh <- frame:
		return nil
	default:
		s.cancel()
		return errors.New("session send buffer full")
	}
}

func (s *session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *session) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastSeen.Load()))
}

// GatewayOptions configures session lifecycle and observability.
type GatewayOptions struct {
	Metrics            *chatMetrics
	SendBufferSize     int
	MaxContentBytes    int
	SessionIdleTimeout time.Duration
	SweepInterval      time.Duration
}

// Gateway authenticates websocket handshakes and runs the per-session state
// machine: register, read loop, dispatch, cleanup.
type Gateway struct {
	log      *zap.Logger
	verifier auth.CredentialVerifier
	registry registry.ConnectionRegistry
	router   *Router
	metrics  *chatMetrics
	upgrader websocket.Upgrader

	sendBufferSize     int
	maxFrameBytes      int64
	sessionIdleTimeout time.Duration
	sweepInterval      time.Duration
	houseOnce          sync.Once
}

// NewGateway wires the session handler's dependencies.
func NewGateway(log *zap.Logger, verifier auth.CredentialVerifier, reg registry.ConnectionRegistry, router *Router, opts GatewayOptions) *Gateway {
	g := &Gateway{
		log:      log,
		verifier: verifier,
		registry: reg,
		router:   router,
		metrics:  opts.Metrics,
		upgrader: websocket.Upgrader{
			// The browser client is served from a different origin in
			// development; auth is carried by the token, not the origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sendBufferSize:     opts.SendBufferSize,
		sessionIdleTimeout: opts.SessionIdleTimeout,
		sweepInterval:      opts.SweepInterval,
	}
	if g.sendBufferSize <= 0 {
		g.sendBufferSize = defaultSendBufferSize
	}
	if g.sessionIdleTimeout <= 0 {
		g.sessionIdleTimeout = defaultSessionIdleTimeout
	}
	if g.sweepInterval <= 0 {
		g.sweepInterval = defaultSweepInterval
	}
	if opts.MaxContentBytes > 0 {
		g.maxFrameBytes = int64(opts.MaxContentBytes + frameOverheadBytes)
	}
	return g
}

// StartHousekeeping launches the periodic sweep that reclaims sessions whose
// peer vanished without a close frame.
func (g *Gateway) StartHousekeeping(ctx context.Context) {
	g.houseOnce.Do(func() {
		ticker := time.NewTicker(g.sweepInterval)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					g.expireIdleSessions(time.Now())
				}
			}
		}()
	})
}

func (g *Gateway) expireIdleSessions(now time.Time) {
	g.registry.Range(func(userID int64, h registry.Handle) bool {
		sess, ok := h.(*session)
		if !ok {
			return true
		}
		if sess.idleSince(now) > g.sessionIdleTimeout {
			// Closing the conn unblocks the session's read loop, which
			// performs the registry cleanup itself.
			_ = sess.Close()
			g.metrics.recordExpiry()
			g.log.Info("expired idle session",
				zap.Int64("user_id", userID),
				zap.String("session_id", sess.SessionID()))
		}
		return true
	})
}

// HandleUpgrade is the websocket endpoint. The credential arrives as the
// `token` query parameter; verification failure closes the channel with a
// policy-violation code before any frame exchange.
func (g *Gateway) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	userID, authErr := g.verifier.VerifyCredential(r.URL.Query().Get("token"))

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	if authErr != nil {
		g.metrics.recordError("auth_failed")
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlWriteWait))
		_ = conn.Close()
		return
	}

	if g.maxFrameBytes > 0 {
		conn.SetReadLimit(g.maxFrameBytes)
	}

	sess := newSession(r.Context(), userID, conn, g.sendBufferSize)
	if replaced := g.registry.Register(userID, sess); replaced {
		g.metrics.recordEviction()
		g.log.Info("evicted prior session for user", zap.Int64("user_id", userID))
	}
	g.metrics.incSession()
	g.log.Info("user connected",
		zap.Int64("user_id", userID),
		zap.String("session_id", sess.SessionID()),
		zap.String("remote_addr", conn.RemoteAddr().String()))

	go g.writeLoop(sess)
	g.readLoop(sess)
	g.cleanupSession(sess)
}

// writeLoop is the only goroutine that writes the conn.
func (g *Gateway) writeLoop(sess *session) {
	for {
		select {
		case <-sess.ctx.Done():
			return
		case frame := <-sess.sendCh:
			if err := sess.conn.WriteJSON(frame); err != nil {
				g.log.Warn("session write failed",
					zap.Error(err),
					zap.String("session_id", sess.SessionID()))
				sess.cancel()
				return
			}
		}
	}
}

// readLoop processes inbound frames strictly in arrival order, dispatching
// each to the router before reading the next. Validation failures are
// answered in-band; transport failures end the loop.
func (g *Gateway) readLoop(sess *session) {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.log.Debug("session read ended",
					zap.Error(err),
					zap.String("session_id", sess.SessionID()))
			}
			return
		}
		sess.touch()

		ev, err := wire.Decode(data)
		if err != nil {
			var verr *wire.ValidationError
			if errors.As(err, &verr) {
				g.metrics.recordError("invalid_frame")
				if pushErr := sess.push(wire.ErrorNotice{Error: verr.Reason}); pushErr != nil {
					return
				}
				continue
			}
			// Not even JSON: treat as a transport-level failure.
			g.log.Warn("undecodable frame",
				zap.Error(err),
				zap.String("session_id", sess.SessionID()))
			return
		}

		start := time.Now()
		routeErr := g.router.Route(sess.ctx, sess, ev)
		g.metrics.observeLatency(opName(ev), time.Since(start))

		if routeErr != nil {
			var nerr *noticeError
			if errors.As(routeErr, &nerr) {
				g.metrics.recordError(nerr.code)
				if pushErr := sess.push(wire.ErrorNotice{Error: nerr.msg}); pushErr != nil {
					return
				}
				continue
			}
			g.log.Warn("route frame failed",
				zap.Error(routeErr),
				zap.String("session_id", sess.SessionID()))
			return
		}
	}
}

// cleanupSession runs exactly once when the read loop exits. Deregister is
// compare-and-remove, so a session evicted by a newer login never removes its
// successor's registration.
func (g *Gateway) cleanupSession(sess *session) {
	_ = sess.Close()
	g.registry.Deregister(sess.userID, sess)
	g.metrics.decSession()
	g.log.Info("user disconnected",
		zap.Int64("user_id", sess.userID),
		zap.String("session_id", sess.SessionID()))
}

func opName(ev wire.InboundEvent) string {
	switch ev.(type) {
	case wire.SendMessage:
		return "send"
	case wire.HistoryRequest:
		return "history"
	default:
		return "unknown"
	}
}
