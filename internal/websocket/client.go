package websocket

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/UkoeHB/simplenet"
	"github.com/UkoeHB/simplenet/internal/protocol"
)

// outFrame is a frame queued for egress together with the signal(s) to
// resolve once its transport fate is known.
type outFrame struct {
	data []byte
	msg  *MessageSignal
	req  *RequestSignal
}

func (f outFrame) flushed() {
	if f.msg != nil {
		f.msg.markSent()
	}
	if f.req != nil {
		f.req.markSent()
	}
}

func (f outFrame) failed() {
	if f.msg != nil {
		f.msg.markFailed()
	}
	if f.req != nil {
		f.req.transition(simplenet.RequestSendFailed)
	}
}

// egressPump owns writes on one connection: queued frames, heartbeat pings,
// and the resolution of send signals. Frames still queued when the pump
// stops are marked failed before done closes.
type egressPump struct {
	conn      *websocket.Conn
	ch        chan outFrame
	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	heartbeat time.Duration
}

func newEgressPump(conn *websocket.Conn, heartbeat time.Duration) *egressPump {
	p := &egressPump{
		conn:      conn,
		ch:        make(chan outFrame, sendBufferSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		heartbeat: heartbeat,
	}
	go p.run()
	return p
}

// enqueue queues a frame without blocking. Returns false when the queue is
// full.
func (p *egressPump) enqueue(f outFrame) bool {
	select {
	case p.ch <- f:
		return true
	default:
		return false
	}
}

// shutdown stops the pump and waits until every queued frame has a resolved
// signal. The trailing drain catches frames enqueued between the pump
// exiting on a write error and the session teardown unbinding the pump.
func (p *egressPump) shutdown() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
	p.drainFailed()
}

func (p *egressPump) run() {
	ticker := time.NewTicker(p.heartbeat)
	defer func() {
		ticker.Stop()
		p.drainFailed()
		close(p.done)
	}()

	for {
		select {
		case f := <-p.ch:
			p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, f.data); err != nil {
				f.failed()
				return
			}
			f.flushed()

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-p.stop:
			return
		}
	}
}

func (p *egressPump) drainFailed() {
	for {
		select {
		case f := <-p.ch:
			f.failed()
		default:
			return
		}
	}
}

// closeReason classifies why a connection ended.
type closeReason struct {
	serverClose bool
	code        int
	text        string
}

type handshakeError struct {
	fatal bool
	err   error
}

// Client is the connecting endpoint. A background worker drives the
// connect/reconnect cycle; the handle is synchronous and non-blocking.
//
// A client is safe to abandon at any time, but for a complete shutdown call
// Close, then drain Next until ClientIsDead appears (always the final
// event).
type Client struct {
	cfg *ClientConfig
	log zerolog.Logger

	events   *eventQueue[ClientEvent]
	registry *requestRegistry

	// mu synchronizes user sends with session transitions: a frame is bound
	// to the session live at enqueue time or fails immediately.
	mu         sync.Mutex
	conn       *websocket.Conn
	egress     *egressPump
	sessionSeq uint64

	// disconnected counts disconnects not yet matched by a consumed
	// Connected event. The client is connected only at zero, so messages
	// cannot be sent before the user has seen the Connected report.
	disconnected atomic.Int32
	closedBySelf atomic.Bool
	dead         atomic.Bool

	closeOnce sync.Once
	closeCh   chan struct{}
}

// NewClient creates a client and starts its background worker. The worker
// begins connecting immediately.
func NewClient(cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}
	if cfg.ProtocolVersion == "" {
		cfg.ProtocolVersion = DefaultProtocolVersion
	}

	log := zerolog.New(os.Stderr).With().Timestamp().
		Str("component", "client").
		Stringer("client_id", cfg.Auth.ClientID).
		Logger()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}

	c := &Client{
		cfg:      cfg,
		log:      log,
		events:   newEventQueue[ClientEvent](),
		registry: newRequestRegistry(),
		closeCh:  make(chan struct{}),
	}
	c.disconnected.Store(1) // starting disconnected

	go c.run()

	return c
}

// ID returns this client's id.
func (c *Client) ID() simplenet.ClientID {
	return c.cfg.Auth.ClientID
}

// IsConnected reports whether messages and requests can currently be
// submitted. It only becomes true once the user has consumed the Connected
// report for the most recent session.
func (c *Client) IsConnected() bool {
	return c.disconnected.Load() == 0 && !c.IsClosed()
}

// IsClosed reports whether Close was called or the client died.
func (c *Client) IsClosed() bool {
	return c.closedBySelf.Load() || c.dead.Load()
}

// IsDead reports whether the worker has terminated and no further events
// will ever be enqueued beyond those already queued. ClientIsDead is the
// final event.
func (c *Client) IsDead() bool {
	return c.dead.Load()
}

// Next returns the next client event, or false if none is queued. It never
// blocks. Draining after ClientIsDead always terminates.
func (c *Client) Next() (ClientEvent, bool) {
	ev, ok := c.events.pop()
	if !ok {
		return nil, false
	}

	// Consuming the connection report is what marks the client connected,
	// so sends are always bound to a session the user knows about.
	if _, isConnected := ev.(ClientConnected); isConnected {
		c.disconnected.Add(-1)
	}
	return ev, true
}

// Send submits a one-shot message to the server. The returned signal tracks
// the message's transport fate. Sending while not connected fails
// immediately.
func (c *Client) Send(payload []byte) *MessageSignal {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnectedLocked() {
		c.log.Warn().Msg("tried to send message while disconnected")
		return newMessageSignal(simplenet.MessageFailed)
	}

	frame, err := protocol.EncodeMsg(payload)
	if err != nil {
		c.log.Error().Err(err).Msg("failed encoding message")
		return newMessageSignal(simplenet.MessageFailed)
	}

	sig := newMessageSignal(simplenet.MessageSending)
	if !c.egress.enqueue(outFrame{data: frame, msg: sig}) {
		sig.markFailed()
	}
	return sig
}

// Request submits a request to the server. The returned signal tracks the
// request until it reaches a terminal status; failed requests emit a client
// event unless the client is already dead. Requesting while not connected
// fails immediately (the request id is still allocated).
func (c *Client) Request(payload []byte) *RequestSignal {
	c.mu.Lock()
	defer c.mu.Unlock()

	sig := c.registry.register(c.sessionSeq)

	if !c.isConnectedLocked() {
		c.log.Warn().Uint64("request_id", sig.ID()).Msg("tried to send request while disconnected")
		return c.failRequestLocked(sig)
	}

	frame, err := protocol.EncodeRequest(sig.ID(), payload)
	if err != nil {
		c.log.Error().Err(err).Msg("failed encoding request")
		return c.failRequestLocked(sig)
	}

	if !c.egress.enqueue(outFrame{data: frame, req: sig}) {
		return c.failRequestLocked(sig)
	}
	return sig
}

func (c *Client) failRequestLocked(sig *RequestSignal) *RequestSignal {
	sig.transition(simplenet.RequestSendFailed)
	c.registry.remove(sig.ID())
	// IsDead is the final event: requests submitted after death resolve
	// through their signal only
	if !c.dead.Load() {
		c.events.push(ClientSendFailed{RequestID: sig.ID()})
	}
	return sig
}

func (c *Client) isConnectedLocked() bool {
	return c.egress != nil && c.disconnected.Load() == 0 && !c.IsClosed()
}

// Close closes the client. In-progress messages may or may not fail; new
// messages and requests cannot be sent afterwards. The client eventually
// emits ClientIsDead.
func (c *Client) Close() {
	if c.IsClosed() {
		c.log.Warn().Msg("tried to close an already closed client")
		return
	}
	c.log.Info().Msg("client closing self")

	c.closedBySelf.Store(true)
	c.events.push(ClientClosedBySelf{})
	c.closeOnce.Do(func() { close(c.closeCh) })

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		message := websocket.FormatCloseMessage(simplenet.CloseNormal, "client done")
		conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
		conn.Close()
	}
}

func (c *Client) stopRequested() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

// run is the background worker: connect, pump the session, reclassify
// pending requests on every transition, reconnect per config, and emit
// ClientIsDead on the way out.
func (c *Client) run() {
	defer c.die()

	attempts := 0
	budget := c.cfg.MaxInitialConnectAttempts

	for {
		if c.closedBySelf.Load() || c.stopRequested() {
			return
		}

		// token expiry observed locally preempts any wire I/O
		if c.cfg.Auth.Kind == simplenet.AuthKindToken && c.cfg.Auth.Token.IsExpired() {
			c.log.Info().Msg("auth token expired, giving up")
			return
		}

		if attempts >= budget {
			c.log.Info().Int("attempts", attempts).Msg("connection attempt budget exhausted")
			return
		}
		attempts++

		conn, herr := c.dial()
		if herr != nil {
			if herr.fatal {
				c.log.Error().Err(herr.err).Msg("fatal connection rejection")
				return
			}
			c.log.Debug().Err(herr.err).Msg("connection attempt failed")
			if !c.waitReconnect() {
				return
			}
			continue
		}

		if !c.beginSession(conn) {
			conn.Close()
			return
		}

		reason := c.readLoop(conn)
		c.endSession(reason)

		if c.closedBySelf.Load() {
			return
		}
		if reason.serverClose {
			if simplenet.CloseCodeFatal(reason.code) {
				c.log.Error().Int("code", reason.code).Str("reason", reason.text).Msg("fatal server close")
				return
			}
			if !c.cfg.ReconnectOnServerClose {
				return
			}
		} else if !c.cfg.ReconnectOnDisconnect {
			return
		}

		budget = c.cfg.MaxReconnectAttempts
		attempts = 0
		if budget <= 0 {
			return
		}
		if !c.waitReconnect() {
			return
		}
	}
}

func (c *Client) waitReconnect() bool {
	select {
	case <-c.closeCh:
		return false
	case <-time.After(c.cfg.ReconnectInterval):
		return true
	}
}

// dial establishes a connection and runs the opening exchange: send the
// auth frame, then wait for the server's admission acknowledgement or a
// typed rejection.
func (c *Client) dial() (*websocket.Conn, *handshakeError) {
	dialer := &websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	conn, _, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return nil, &handshakeError{err: err}
	}
	conn.SetReadLimit(c.cfg.MaxMsgSize)

	frame, err := protocol.EncodeAuth(protocol.AuthFrame{
		Version:    c.cfg.ProtocolVersion,
		Env:        c.cfg.Env,
		Auth:       c.cfg.Auth,
		ConnectMsg: c.cfg.ConnectMsg,
	})
	if err != nil {
		// encoding the configured auth material can only fail on bad config
		conn.Close()
		return nil, &handshakeError{fatal: true, err: err}
	}

	conn.SetWriteDeadline(time.Now().Add(c.cfg.ConnectTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		conn.Close()
		return nil, &handshakeError{err: err}
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.ConnectTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return nil, &handshakeError{fatal: simplenet.CloseCodeFatal(closeErr.Code), err: err}
		}
		return nil, &handshakeError{err: err}
	}

	env, err := protocol.Decode(data)
	if err != nil || env.Type != protocol.EnvAuth {
		conn.Close()
		return nil, &handshakeError{err: errors.New(simplenet.ErrInvalidMessageFormat)}
	}

	return conn, nil
}

// beginSession binds a fresh connection as the current session and reports
// Connected. Returns false if the client closed itself mid-handshake.
func (c *Client) beginSession(conn *websocket.Conn) bool {
	c.mu.Lock()
	if c.closedBySelf.Load() {
		c.mu.Unlock()
		return false
	}
	c.sessionSeq++
	c.conn = conn
	c.egress = newEgressPump(conn, c.cfg.HeartbeatInterval)
	c.mu.Unlock()

	c.log.Info().Msg("connected")
	c.events.push(ClientConnected{})
	return true
}

// endSession tears down the current session. The session-death sweep runs
// first, so every request of the dying session is terminal and reported
// before the disconnect report is enqueued.
func (c *Client) endSession(reason closeReason) {
	c.mu.Lock()
	eg := c.egress
	c.egress = nil
	c.conn = nil
	seq := c.sessionSeq
	c.mu.Unlock()

	c.disconnected.Add(1)

	if eg != nil {
		eg.shutdown()
	}

	c.emitSwept(c.registry.sweep(seq))

	if c.closedBySelf.Load() {
		// ClosedBySelf was already reported by Close
		return
	}
	if reason.serverClose {
		c.log.Info().Int("code", reason.code).Str("reason", reason.text).Msg("closed by server")
		c.events.push(ClientClosedByServer{Code: reason.code, Reason: reason.text})
	} else {
		c.log.Info().Msg("disconnected")
		c.events.push(ClientDisconnected{})
	}
}

func (c *Client) emitSwept(swept []sweptRequest) {
	for _, sr := range swept {
		switch sr.status {
		case simplenet.RequestSendFailed:
			c.events.push(ClientSendFailed{RequestID: sr.id})
		case simplenet.RequestResponseLost:
			c.events.push(ClientResponseLost{RequestID: sr.id})
		case simplenet.RequestAborted:
			c.events.push(ClientAborted{RequestID: sr.id})
		default:
			c.log.Error().
				Uint64("request_id", sr.id).
				Stringer("status", sr.status).
				Msg("unexpected request status while draining failed requests")
		}
	}
}

// readLoop processes inbound frames in wire order until the connection ends.
func (c *Client) readLoop(conn *websocket.Conn) closeReason {
	conn.SetReadDeadline(time.Now().Add(c.cfg.KeepaliveTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.KeepaliveTimeout))
		return nil
	})
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.KeepaliveTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return closeReason{serverClose: true, code: closeErr.Code, text: closeErr.Text}
			}
			return closeReason{}
		}
		conn.SetReadDeadline(time.Now().Add(c.cfg.KeepaliveTimeout))

		env, err := protocol.Decode(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("received server msg that failed to decode")
			continue
		}

		switch env.Type {
		case protocol.EnvMsg:
			c.events.push(ClientMsg{Payload: env.Payload})

		case protocol.EnvResponse:
			// unknown ids include requests swept when an earlier session
			// died: results can never cross sessions
			if c.registry.resolve(env.RequestID, simplenet.RequestResponded) {
				c.events.push(ClientResponse{RequestID: env.RequestID, Payload: env.Payload})
			} else {
				c.log.Error().Uint64("request_id", env.RequestID).Msg("ignoring response for unknown request")
			}

		case protocol.EnvAck:
			if c.registry.resolve(env.RequestID, simplenet.RequestAcknowledged) {
				c.events.push(ClientAck{RequestID: env.RequestID})
			} else {
				c.log.Error().Uint64("request_id", env.RequestID).Msg("ignoring ack for unknown request")
			}

		case protocol.EnvReject:
			if c.registry.resolve(env.RequestID, simplenet.RequestRejected) {
				c.events.push(ClientReject{RequestID: env.RequestID})
			} else {
				c.log.Error().Uint64("request_id", env.RequestID).Msg("ignoring rejection for unknown request")
			}

		case protocol.EnvAuth:
			// duplicate admission ack, ignore

		default:
			c.log.Warn().Uint8("tag", uint8(env.Type)).Msg("received unexpected envelope from server")
		}
	}
}

// die runs the final cleanup: terminalize every remaining request, then
// report IsDead as the last event the client will ever emit.
func (c *Client) die() {
	c.mu.Lock()
	eg := c.egress
	c.egress = nil
	c.conn = nil
	c.mu.Unlock()
	if eg != nil {
		eg.shutdown()
	}

	swept, aborted := c.registry.abortAll()
	c.emitSwept(swept)

	c.disconnected.Add(1)
	c.events.push(ClientIsDead{PendingRequests: aborted})
	c.dead.Store(true)
	c.log.Info().Msg("client dead")
}
