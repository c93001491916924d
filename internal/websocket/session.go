package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/UkoeHB/simplenet"
)

const (
	sendBufferSize = 256
	writeTimeout   = 10 * time.Second
)

// session is one continuous transport connection for one client id.
type session struct {
	clientID simplenet.ClientID
	// seq is the server-internal session sequence; a reconnected client gets
	// a session with a fresh seq.
	seq  uint64
	env  simplenet.EnvType
	conn *websocket.Conn
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sendCh chan []byte

	mu     sync.Mutex
	closed bool

	// dead is the death signal captured by request tokens. Set before the
	// pending store is cleared at session destruction.
	dead atomic.Bool

	limiter *rate.Limiter

	pendingMu sync.Mutex
	pending   map[uint64]struct{}

	heartbeatInterval time.Duration
}

func newSession(
	clientID simplenet.ClientID,
	seq uint64,
	env simplenet.EnvType,
	conn *websocket.Conn,
	rateLimit *RateLimitConfig,
	heartbeatInterval time.Duration,
	log zerolog.Logger,
) *session {
	ctx, cancel := context.WithCancel(context.Background())

	s := &session{
		clientID:          clientID,
		seq:               seq,
		env:               env,
		conn:              conn,
		log:               log,
		ctx:               ctx,
		cancel:            cancel,
		sendCh:            make(chan []byte, sendBufferSize),
		limiter:           rateLimit.limiter(),
		pending:           make(map[uint64]struct{}),
		heartbeatInterval: heartbeatInterval,
	}

	go s.writePump()

	return s
}

// trySend queues a frame for egress without blocking. Frames are dropped
// when the session is closed or its egress queue is full.
func (s *session) trySend(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.sendCh <- data:
		return true
	default:
		s.log.Warn().Msg("session egress queue full, dropping frame")
		return false
	}
}

// close closes the connection with a close code and optional reason. Safe to
// call multiple times.
func (s *session) close(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.cancel()

	message := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(time.Second)
	s.conn.WriteControl(websocket.CloseMessage, message, deadline)

	close(s.sendCh)
	s.conn.Close()
}

// allowMsg checks the inbound rate limit. Returns true if the message is
// allowed.
func (s *session) allowMsg() bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.Allow()
}

// addPending records an outstanding request token.
func (s *session) addPending(requestID uint64) {
	s.pendingMu.Lock()
	s.pending[requestID] = struct{}{}
	s.pendingMu.Unlock()
}

// removePending consumes an outstanding request entry. Returns false if the
// request is unknown, e.g. already answered or reaped at session death.
func (s *session) removePending(requestID uint64) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if _, ok := s.pending[requestID]; !ok {
		return false
	}
	delete(s.pending, requestID)
	return true
}

// reapPending eagerly clears the pending store at session destruction so
// orphaned tokens do not pin memory.
func (s *session) reapPending() {
	s.pendingMu.Lock()
	s.pending = make(map[uint64]struct{})
	s.pendingMu.Unlock()
}

// writePump pumps frames from the send channel to the connection and pings
// every heartbeat interval.
func (s *session) writePump() {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.sendCh:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.ctx.Done():
			return
		}
	}
}
