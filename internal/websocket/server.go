package websocket

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/UkoeHB/simplenet"
	"github.com/UkoeHB/simplenet/internal/protocol"
)

// Server is the listening endpoint. It admits sessions, sequences per-session
// events, and surfaces them on a single-consumer queue drained with Next.
type Server struct {
	cfg  *ServerConfig
	auth simplenet.Authenticator
	log  zerolog.Logger

	upgrader   websocket.Upgrader
	httpServer *http.Server
	listener   net.Listener

	mu         sync.Mutex
	running    bool
	sessions   map[simplenet.ClientID]*session
	sessionSeq uint64

	events *eventQueue[ServerEvent]
}

// NewServer creates a server from the given configuration. Call Start to
// begin listening.
func NewServer(cfg *ServerConfig) *Server {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if cfg.ProtocolVersion == "" {
		cfg.ProtocolVersion = DefaultProtocolVersion
	}
	if cfg.RateLimit == nil {
		cfg.RateLimit = DefaultRateLimitConfig()
	}
	auth := cfg.Authenticator
	if auth == nil {
		auth = simplenet.NoneAuthenticator{}
	}

	log := zerolog.New(os.Stderr).With().Timestamp().Str("component", "server").Logger()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}

	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Server{
		cfg:  cfg,
		auth: auth,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		sessions: make(map[simplenet.ClientID]*session),
		events:   newEventQueue[ServerEvent](),
	}
}

// Start begins listening for connections. The server runs until Stop is
// called or the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New(simplenet.ErrServerAlreadyRunning)
	}
	s.running = true
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	if s.cfg.TLSConfig != nil {
		ln = tls.NewListener(ln, s.cfg.TLSConfig)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.mu.Lock()
	s.listener = ln
	s.httpServer = &http.Server{Handler: mux}
	server := s.httpServer
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(stopCtx)
	case <-time.After(100 * time.Millisecond):
		s.log.Info().Str("addr", ln.Addr().String()).Msg("server listening")
		go func() {
			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.Stop(stopCtx)
		}()
		return nil
	}
}

// Stop gracefully stops the server and closes all sessions.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	server := s.httpServer
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close(simplenet.CloseNormal, "server shutting down")
	}

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// URL returns the websocket endpoint url: ws(s)://host:port/ws.
func (s *Server) URL() string {
	addr := s.Addr()
	if addr == nil {
		return ""
	}
	scheme := "ws"
	if s.cfg.TLSConfig != nil {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, addr.String())
}

// Next returns the next server event, or false if none is queued. It never
// blocks.
func (s *Server) Next() (ServerEvent, bool) {
	return s.events.pop()
}

// Running reports whether the server is accepting connections.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NumConnections returns the number of live sessions.
func (s *Server) NumConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Send sends a one-shot message to the target client. The message is
// silently dropped if the transport fails underneath; an error is returned
// when the client has no live session or the payload cannot be encoded.
func (s *Server) Send(id simplenet.ClientID, payload []byte) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %s", simplenet.ErrClientNotFound, id)
	}

	frame, err := protocol.EncodeMsg(payload)
	if err != nil {
		return err
	}
	sess.trySend(frame)
	return nil
}

// Respond answers a request with a payload.
//
// The frame is silently dropped if the session that produced the request is
// no longer alive. The client may have reconnected with a fresh session, but
// the response is still dropped: requests cannot leak across sessions.
func (s *Server) Respond(token *RequestToken, payload []byte) {
	if token == nil || !token.take() {
		return
	}
	if token.sess.dead.Load() {
		s.log.Debug().
			Stringer("client_id", token.clientID).
			Uint64("request_id", token.requestID).
			Msg("dropping response targeted at dead session")
		return
	}
	token.sess.removePending(token.requestID)

	frame, err := protocol.EncodeResponse(token.requestID, payload)
	if err != nil {
		s.log.Error().Err(err).Msg("encoding response failed")
		return
	}
	token.sess.trySend(frame)
}

// Ack consumes a request with no response payload. An acknowledged request
// cannot be responded to. Dead-session suppression applies as in Respond.
func (s *Server) Ack(token *RequestToken) {
	if token == nil || !token.take() {
		return
	}
	if token.sess.dead.Load() {
		s.log.Debug().
			Stringer("client_id", token.clientID).
			Uint64("request_id", token.requestID).
			Msg("dropping ack targeted at dead session")
		return
	}
	token.sess.removePending(token.requestID)
	token.sess.trySend(protocol.EncodeAck(token.requestID))
}

// Reject refuses a request. Dead-session suppression applies as in Respond.
func (s *Server) Reject(token *RequestToken) {
	if token == nil || !token.take() {
		return
	}
	if token.sess.dead.Load() {
		return
	}
	token.sess.removePending(token.requestID)
	token.sess.trySend(protocol.EncodeReject(token.requestID))
}

// DisconnectClient closes the target client's session with the given close
// code and reason. The session may remain open for a short time after this
// call returns.
func (s *Server) DisconnectClient(id simplenet.ClientID, code int, reason string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.log.Info().Stringer("client_id", id).Msg("closing client")
	sess.close(code, reason)
}

// handleWebSocket upgrades incoming connections and runs the opening
// exchange.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	go s.admit(conn)
}

// rejectConn closes a connection that failed admission. No session exists
// yet, so no events are emitted.
func (s *Server) rejectConn(conn *websocket.Conn, code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
	conn.Close()
}

// admit runs the opening exchange on a fresh connection: decode the auth
// frame, check the protocol version, authenticate, enforce id uniqueness and
// capacity, then register the session and enter its read loop.
//
// The session registry entry and the session sequence are updated atomically
// under one lock, so an answer prepared for an older session with the same
// client id can never pass the liveness check of a newer one.
func (s *Server) admit(conn *websocket.Conn) {
	conn.SetReadLimit(s.cfg.MaxMsgSize + 1)
	conn.SetReadDeadline(time.Now().Add(s.cfg.KeepaliveTimeout))

	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	if int64(len(data)) > s.cfg.MaxMsgSize {
		s.rejectConn(conn, simplenet.CloseMessageTooLarge, simplenet.ErrMessageTooLarge)
		return
	}

	frame, err := protocol.DecodeAuth(data)
	if err != nil {
		s.log.Debug().Err(err).Msg("invalid auth frame, rejecting connection")
		s.rejectConn(conn, simplenet.CloseAuthFailed, simplenet.ErrInvalidMessageFormat)
		return
	}

	if frame.Version != s.cfg.ProtocolVersion {
		s.log.Debug().
			Str("client_version", frame.Version).
			Str("server_version", s.cfg.ProtocolVersion).
			Msg("protocol version mismatch, rejecting connection")
		s.rejectConn(conn, simplenet.CloseProtocolMismatch, simplenet.ErrProtocolMismatch)
		return
	}

	if !s.auth.Authenticate(frame.Auth) {
		s.log.Debug().Stringer("client_id", frame.Auth.ClientID).Msg("authentication failed")
		s.rejectConn(conn, simplenet.CloseAuthFailed, "authentication failed")
		return
	}
	clientID := frame.Auth.ClientID
	if frame.Auth.Kind == simplenet.AuthKindToken {
		// the id comes from the verified token, never the client's claim
		clientID = frame.Auth.Token.ClientID
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.rejectConn(conn, simplenet.CloseNormal, "server shutting down")
		return
	}
	if _, exists := s.sessions[clientID]; exists {
		s.mu.Unlock()
		s.log.Debug().Stringer("client_id", clientID).Msg("client id already connected")
		s.rejectConn(conn, simplenet.CloseIDInUse, "client id in use")
		return
	}
	if len(s.sessions) >= s.cfg.MaxConnections {
		s.mu.Unlock()
		s.rejectConn(conn, simplenet.CloseOverCapacity, "max connections reached")
		return
	}
	s.sessionSeq++
	sess := newSession(
		clientID,
		s.sessionSeq,
		frame.Env,
		conn,
		s.cfg.RateLimit,
		s.cfg.HeartbeatInterval,
		s.log.With().Stringer("client_id", clientID).Logger(),
	)
	s.sessions[clientID] = sess
	s.mu.Unlock()

	s.events.push(ServerConnected{
		ClientID:   clientID,
		Env:        frame.Env,
		ConnectMsg: frame.ConnectMsg,
	})
	sess.trySend(protocol.EncodeAuthAck())

	s.readLoop(sess)
}

// destroySession unregisters a dying session, raises its death signal, and
// eagerly reaps its pending-request store before announcing the disconnect.
func (s *Server) destroySession(sess *session) {
	s.mu.Lock()
	if current, ok := s.sessions[sess.clientID]; ok && current == sess {
		delete(s.sessions, sess.clientID)
	}
	s.mu.Unlock()

	sess.dead.Store(true)
	sess.reapPending()
	sess.close(simplenet.CloseNormal, "")

	s.log.Info().Stringer("client_id", sess.clientID).Msg("session destroyed")
	s.events.push(ServerDisconnected{ClientID: sess.clientID})
}

// readLoop processes inbound frames for one session in wire order.
func (s *Server) readLoop(sess *session) {
	defer s.destroySession(sess)

	conn := sess.conn
	conn.SetReadDeadline(time.Now().Add(s.cfg.KeepaliveTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.KeepaliveTimeout))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				sess.log.Debug().Err(err).Msg("session read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.KeepaliveTimeout))

		if !sess.allowMsg() {
			sess.log.Warn().Msg("rate limit exceeded, closing session")
			sess.close(simplenet.CloseRateLimited, "rate limit exceeded")
			return
		}
		if int64(len(data)) > s.cfg.MaxMsgSize {
			sess.log.Debug().Int("size", len(data)).Msg("oversize message, closing session")
			sess.close(simplenet.CloseMessageTooLarge, simplenet.ErrMessageTooLarge)
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			sess.log.Debug().Err(err).Msg("undecodable message, closing session")
			sess.close(websocket.CloseProtocolError, simplenet.ErrInvalidMessageFormat)
			return
		}

		switch env.Type {
		case protocol.EnvMsg:
			s.events.push(ServerMsg{ClientID: sess.clientID, Payload: env.Payload})

		case protocol.EnvRequest:
			sess.addPending(env.RequestID)
			s.events.push(ServerRequest{
				ClientID: sess.clientID,
				Token:    newRequestToken(sess, env.RequestID),
				Payload:  env.Payload,
			})

		default:
			sess.log.Debug().Uint8("tag", uint8(env.Type)).Msg("unexpected envelope from client, closing session")
			sess.close(websocket.CloseProtocolError, simplenet.ErrInvalidMessageFormat)
			return
		}
	}
}
