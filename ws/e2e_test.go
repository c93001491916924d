package ws_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/UkoeHB/simplenet"
	"github.com/UkoeHB/simplenet/ws"
)

const eventTimeout = 3 * time.Second

func nopLogger() *zerolog.Logger {
	log := zerolog.Nop()
	return &log
}

func startServer(t *testing.T, mutate func(cfg *ws.ServerConfig)) *ws.Server {
	t.Helper()

	cfg := ws.DefaultServerConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.Logger = nopLogger()
	if mutate != nil {
		mutate(cfg)
	}

	server := ws.NewServer(cfg)
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(stopCtx)
	})
	return server
}

func clientConfig(url string, id simplenet.ClientID) *ws.ClientConfig {
	cfg := ws.DefaultClientConfig()
	cfg.URL = url
	cfg.Auth = simplenet.NewNoneAuth(id)
	cfg.ReconnectInterval = 100 * time.Millisecond
	cfg.ConnectTimeout = 2 * time.Second
	cfg.Logger = nopLogger()
	return cfg
}

func startClient(t *testing.T, cfg *ws.ClientConfig) *ws.Client {
	t.Helper()
	client := ws.NewClient(cfg)
	t.Cleanup(func() {
		if !client.IsClosed() {
			client.Close()
		}
	})
	return client
}

// nextClientEvent returns the next client event, failing the test if none
// arrives in time.
func nextClientEvent(t *testing.T, c *ws.Client) ws.ClientEvent {
	t.Helper()
	deadline := time.Now().Add(eventTimeout)
	for time.Now().Before(deadline) {
		if ev, ok := c.Next(); ok {
			return ev
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for client event")
	return nil
}

// nextServerEvent returns the next server event, failing the test if none
// arrives in time.
func nextServerEvent(t *testing.T, s *ws.Server) ws.ServerEvent {
	t.Helper()
	deadline := time.Now().Add(eventTimeout)
	for time.Now().Before(deadline) {
		if ev, ok := s.Next(); ok {
			return ev
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for server event")
	return nil
}

func expectConnected(t *testing.T, c *ws.Client) {
	t.Helper()
	if ev := nextClientEvent(t, c); ev != (ws.ClientConnected{}) {
		t.Fatalf("event = %#v, want ClientConnected", ev)
	}
}

// TestBasicEcho covers the full happy path: connect with a connect message,
// exchange one-shot messages in both directions, close, drain.
func TestBasicEcho(t *testing.T) {
	t.Parallel()

	server := startServer(t, nil)
	clientID := uuid.Nil
	cfg := clientConfig(server.URL(), clientID)
	cfg.ConnectMsg = []byte("hi")
	client := startClient(t, cfg)

	// server sees the connection with env and connect message
	ev := nextServerEvent(t, server)
	connected, ok := ev.(ws.ServerConnected)
	if !ok {
		t.Fatalf("event = %#v, want ServerConnected", ev)
	}
	if connected.ClientID != clientID {
		t.Errorf("client id = %s, want %s", connected.ClientID, clientID)
	}
	if connected.Env != simplenet.EnvNative {
		t.Errorf("env = %v, want native", connected.Env)
	}
	if string(connected.ConnectMsg) != "hi" {
		t.Errorf("connect msg = %q, want %q", connected.ConnectMsg, "hi")
	}

	expectConnected(t, client)

	// client -> server
	sig := client.Send([]byte{42})
	if msgEv := nextServerEvent(t, server); string(msgEv.(ws.ServerMsg).Payload) != string([]byte{42}) {
		t.Errorf("server msg = %#v, want payload [42]", msgEv)
	}
	if status := sig.Status(); status == simplenet.MessageFailed {
		t.Errorf("message status = %v", status)
	}

	// server -> client
	if err := server.Send(clientID, []byte{24}); err != nil {
		t.Fatalf("server send failed: %v", err)
	}
	if msgEv := nextClientEvent(t, client); string(msgEv.(ws.ClientMsg).Payload) != string([]byte{24}) {
		t.Errorf("client msg = %#v, want payload [24]", msgEv)
	}

	// close and drain: ClosedBySelf then IsDead with no pending requests
	client.Close()
	if ev := nextClientEvent(t, client); ev != (ws.ClientClosedBySelf{}) {
		t.Fatalf("event = %#v, want ClientClosedBySelf", ev)
	}
	dead, ok := nextClientEvent(t, client).(ws.ClientIsDead)
	if !ok {
		t.Fatal("want ClientIsDead as the final event")
	}
	if len(dead.PendingRequests) != 0 {
		t.Errorf("pending requests at death = %v, want none", dead.PendingRequests)
	}
	if !client.IsDead() {
		t.Error("client should report dead after IsDead")
	}

	if ev := nextServerEvent(t, server); ev != (ws.ServerDisconnected{ClientID: clientID}) {
		t.Errorf("event = %#v, want ServerDisconnected", ev)
	}
}

// TestRequestResponse covers the request stream terminals: respond, ack,
// and reject.
func TestRequestResponse(t *testing.T) {
	t.Parallel()

	server := startServer(t, nil)
	clientID := uuid.New()
	client := startClient(t, clientConfig(server.URL(), clientID))

	nextServerEvent(t, server) // ServerConnected
	expectConnected(t, client)

	t.Run("ack", func(t *testing.T) {
		sig := client.Request([]byte("do it"))
		req := nextServerEvent(t, server).(ws.ServerRequest)
		if string(req.Payload) != "do it" {
			t.Errorf("request payload = %q", req.Payload)
		}
		server.Ack(req.Token)

		if ev := nextClientEvent(t, client); ev != (ws.ClientAck{RequestID: sig.ID()}) {
			t.Fatalf("event = %#v, want ClientAck{%d}", ev, sig.ID())
		}
		if status := sig.Status(); status != simplenet.RequestAcknowledged {
			t.Errorf("signal status = %v, want Acknowledged", status)
		}
	})

	t.Run("respond", func(t *testing.T) {
		sig := client.Request([]byte("ask"))
		req := nextServerEvent(t, server).(ws.ServerRequest)
		server.Respond(req.Token, []byte("answer"))

		resp := nextClientEvent(t, client).(ws.ClientResponse)
		if resp.RequestID != sig.ID() || string(resp.Payload) != "answer" {
			t.Errorf("response = %#v, want id %d payload %q", resp, sig.ID(), "answer")
		}
		if status := sig.Status(); status != simplenet.RequestResponded {
			t.Errorf("signal status = %v, want Responded", status)
		}
	})

	t.Run("reject", func(t *testing.T) {
		sig := client.Request([]byte("no"))
		req := nextServerEvent(t, server).(ws.ServerRequest)
		server.Reject(req.Token)

		if ev := nextClientEvent(t, client); ev != (ws.ClientReject{RequestID: sig.ID()}) {
			t.Fatalf("event = %#v, want ClientReject{%d}", ev, sig.ID())
		}
		if status := sig.Status(); status != simplenet.RequestRejected {
			t.Errorf("signal status = %v, want Rejected", status)
		}
	})

	t.Run("token consumes once", func(t *testing.T) {
		sig := client.Request([]byte("again"))
		req := nextServerEvent(t, server).(ws.ServerRequest)
		server.Ack(req.Token)
		server.Respond(req.Token, []byte("too late"))

		if ev := nextClientEvent(t, client); ev != (ws.ClientAck{RequestID: sig.ID()}) {
			t.Fatalf("event = %#v, want ClientAck{%d}", ev, sig.ID())
		}
		// the response through the consumed token must never arrive
		if _, ok := client.Next(); ok {
			t.Error("consumed token produced an extra event")
		}
	})
}

// TestDeadSessionResponseSuppression covers the reconnect race: a response
// prepared for a dead session must never reach the new session of the same
// client id, and the client terminalizes the request before reconnecting.
func TestDeadSessionResponseSuppression(t *testing.T) {
	t.Parallel()

	server := startServer(t, nil)
	clientID := uuid.New()
	cfg := clientConfig(server.URL(), clientID)
	cfg.ReconnectOnServerClose = true
	client := startClient(t, cfg)

	nextServerEvent(t, server) // ServerConnected, session A
	expectConnected(t, client)

	sig := client.Request([]byte("pending"))
	req := nextServerEvent(t, server).(ws.ServerRequest)

	// session A dies before the server answers
	server.DisconnectClient(clientID, simplenet.CloseNormal, "kick")

	// client: the request terminalizes, then the close report, then the
	// session-B connection report
	if ev := nextClientEvent(t, client); ev != (ws.ClientResponseLost{RequestID: sig.ID()}) {
		t.Fatalf("event = %#v, want ClientResponseLost{%d}", ev, sig.ID())
	}
	if ev := nextClientEvent(t, client); ev != (ws.ClientClosedByServer{Code: simplenet.CloseNormal, Reason: "kick"}) {
		t.Fatalf("event = %#v, want ClientClosedByServer", ev)
	}
	if status := sig.Status(); status != simplenet.RequestResponseLost {
		t.Errorf("signal status = %v, want ResponseLost", status)
	}

	// server: session A destroyed, session B admitted
	if ev := nextServerEvent(t, server); ev != (ws.ServerDisconnected{ClientID: clientID}) {
		t.Fatalf("event = %#v, want ServerDisconnected", ev)
	}
	ev := nextServerEvent(t, server)
	if _, ok := ev.(ws.ServerConnected); !ok {
		t.Fatalf("event = %#v, want ServerConnected for session B", ev)
	}
	expectConnected(t, client)

	// answering through the session-A token is silently suppressed
	server.Respond(req.Token, []byte("stale"))

	// flush the channel with a fresh message; the stale response must not
	// precede (or follow) it
	if err := server.Send(clientID, []byte("sync")); err != nil {
		t.Fatalf("server send failed: %v", err)
	}
	msg, ok := nextClientEvent(t, client).(ws.ClientMsg)
	if !ok || string(msg.Payload) != "sync" {
		t.Fatalf("event = %#v, want the sync message, not a stale response", msg)
	}
	if ev, extra := client.Next(); extra {
		t.Errorf("stale response leaked to the new session: %#v", ev)
	}
}

// TestRequestTerminalizedBeforeDisconnectReport covers the queue ordering
// invariant: a waiting request reaches a terminal event before the
// session-end report is enqueued.
func TestRequestTerminalizedBeforeDisconnectReport(t *testing.T) {
	t.Parallel()

	server := startServer(t, nil)
	clientID := uuid.New()
	client := startClient(t, clientConfig(server.URL(), clientID))

	nextServerEvent(t, server)
	expectConnected(t, client)

	sig := client.Request([]byte("never answered"))
	nextServerEvent(t, server) // server received the request; status is Waiting

	server.DisconnectClient(clientID, simplenet.CloseNormal, "going away")

	if ev := nextClientEvent(t, client); ev != (ws.ClientResponseLost{RequestID: sig.ID()}) {
		t.Fatalf("event = %#v, want ClientResponseLost before the close report", ev)
	}
	closed, ok := nextClientEvent(t, client).(ws.ClientClosedByServer)
	if !ok {
		t.Fatalf("want ClientClosedByServer after the request terminal, got %#v", closed)
	}
	if _, ok := nextClientEvent(t, client).(ws.ClientIsDead); !ok {
		t.Fatal("want ClientIsDead as the final event")
	}
}

// TestTokenExpiryPreventsReconnect covers local expiry preemption: once the
// auth token expires the client stops reconnecting without wire I/O.
func TestTokenExpiryPreventsReconnect(t *testing.T) {
	t.Parallel()

	priv, pub, err := simplenet.GenerateAuthTokenKeys()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}
	server := startServer(t, func(cfg *ws.ServerConfig) {
		cfg.Authenticator = simplenet.TokenAuthenticator{PubKey: pub}
	})

	clientID := uuid.New()
	cfg := clientConfig(server.URL(), clientID)
	cfg.Auth = simplenet.NewTokenAuth(simplenet.MakeAuthTokenFromLifetime(priv, 1, clientID))
	cfg.ReconnectOnServerClose = true
	client := startClient(t, cfg)

	nextServerEvent(t, server)
	expectConnected(t, client)

	// wait out the token, then kill the session
	time.Sleep(1500 * time.Millisecond)
	server.DisconnectClient(clientID, simplenet.CloseNormal, "")

	if _, ok := nextClientEvent(t, client).(ws.ClientClosedByServer); !ok {
		t.Fatal("want ClientClosedByServer")
	}
	if _, ok := nextClientEvent(t, client).(ws.ClientIsDead); !ok {
		t.Fatal("want ClientIsDead: an expired token must preempt reconnecting")
	}

	// the server never saw a reconnect attempt
	nextServerEvent(t, server) // ServerDisconnected for the kick
	if ev, ok := server.Next(); ok {
		t.Errorf("unexpected server event after expiry: %#v", ev)
	}
}

// TestIDCollision covers admission rule 2: a second client with a live id is
// rejected with IdInUse and the first client is undisturbed.
func TestIDCollision(t *testing.T) {
	t.Parallel()

	server := startServer(t, nil)
	clientID := uuid.MustParse("00000000-0000-0000-0000-000000000005")

	first := startClient(t, clientConfig(server.URL(), clientID))
	nextServerEvent(t, server)
	expectConnected(t, first)

	secondCfg := clientConfig(server.URL(), clientID)
	secondCfg.MaxInitialConnectAttempts = 1
	second := startClient(t, secondCfg)

	if _, ok := nextClientEvent(t, second).(ws.ClientIsDead); !ok {
		t.Fatal("second client should die without connecting")
	}

	// the first client is undisturbed
	if err := server.Send(clientID, []byte("still here")); err != nil {
		t.Fatalf("server send failed: %v", err)
	}
	if msg, ok := nextClientEvent(t, first).(ws.ClientMsg); !ok || string(msg.Payload) != "still here" {
		t.Fatalf("first client disturbed by the collision")
	}
	if ev, ok := server.Next(); ok {
		t.Errorf("unexpected server event from the rejected connection: %#v", ev)
	}
}

// TestOverCapacity covers admission rule 3: the max_connections-th session
// is accepted and the next is rejected.
func TestOverCapacity(t *testing.T) {
	t.Parallel()

	server := startServer(t, func(cfg *ws.ServerConfig) {
		cfg.MaxConnections = 1
	})

	first := startClient(t, clientConfig(server.URL(), uuid.New()))
	nextServerEvent(t, server)
	expectConnected(t, first)

	secondCfg := clientConfig(server.URL(), uuid.New())
	secondCfg.MaxInitialConnectAttempts = 1
	second := startClient(t, secondCfg)

	if _, ok := nextClientEvent(t, second).(ws.ClientIsDead); !ok {
		t.Fatal("second client should die over capacity")
	}
	if n := server.NumConnections(); n != 1 {
		t.Errorf("connections = %d, want 1", n)
	}
}

// TestMessageSizeBoundary covers the frame size boundary: a frame exactly at
// max_msg_size passes, one byte larger closes the session with
// MessageTooLarge.
func TestMessageSizeBoundary(t *testing.T) {
	t.Parallel()

	const limit = 128
	server := startServer(t, func(cfg *ws.ServerConfig) {
		cfg.MaxMsgSize = limit
	})

	cfg := clientConfig(server.URL(), uuid.New())
	cfg.ReconnectOnDisconnect = false
	client := startClient(t, cfg)

	nextServerEvent(t, server)
	expectConnected(t, client)

	// payload + 1 byte envelope tag == limit: accepted
	client.Send(make([]byte, limit-1))
	if msg, ok := nextServerEvent(t, server).(ws.ServerMsg); !ok || len(msg.Payload) != limit-1 {
		t.Fatal("frame at the limit should be delivered")
	}

	// one byte larger: session closed with MessageTooLarge
	client.Send(make([]byte, limit))
	closed, ok := nextClientEvent(t, client).(ws.ClientClosedByServer)
	if !ok {
		t.Fatalf("want ClientClosedByServer for the oversize frame")
	}
	if closed.Code != simplenet.CloseMessageTooLarge {
		t.Errorf("close code = %d, want %d", closed.Code, simplenet.CloseMessageTooLarge)
	}
}

// TestRateLimitClosesSession covers the per-session inbound token bucket.
func TestRateLimitClosesSession(t *testing.T) {
	t.Parallel()

	server := startServer(t, func(cfg *ws.ServerConfig) {
		cfg.RateLimit = &ws.RateLimitConfig{Period: time.Hour, MaxCount: 3, Enabled: true}
	})

	cfg := clientConfig(server.URL(), uuid.New())
	cfg.ReconnectOnDisconnect = false
	client := startClient(t, cfg)

	nextServerEvent(t, server)
	expectConnected(t, client)

	for i := 0; i < 4; i++ {
		client.Send([]byte{byte(i)})
	}

	deadline := time.Now().Add(eventTimeout)
	for {
		ev := nextClientEvent(t, client)
		if closed, ok := ev.(ws.ClientClosedByServer); ok {
			if closed.Code != simplenet.CloseRateLimited {
				t.Errorf("close code = %d, want %d", closed.Code, simplenet.CloseRateLimited)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("session was not closed for rate limiting")
		}
	}
}

// TestProtocolMismatchIsFatal covers handshake version comparison: the
// client dies without retrying.
func TestProtocolMismatchIsFatal(t *testing.T) {
	t.Parallel()

	server := startServer(t, nil)

	cfg := clientConfig(server.URL(), uuid.New())
	cfg.ProtocolVersion = "999"
	client := startClient(t, cfg)

	if _, ok := nextClientEvent(t, client).(ws.ClientIsDead); !ok {
		t.Fatal("protocol mismatch should kill the client")
	}
	if ev, ok := server.Next(); ok {
		t.Errorf("unexpected server event: %#v", ev)
	}
}

// TestSecretAuthentication covers the shared-secret admission path.
func TestSecretAuthentication(t *testing.T) {
	t.Parallel()

	secret := [simplenet.SecretAuthBytes]byte{9, 9, 9}
	server := startServer(t, func(cfg *ws.ServerConfig) {
		cfg.Authenticator = simplenet.SecretAuthenticator{Secret: secret}
	})

	good := clientConfig(server.URL(), uuid.New())
	good.Auth = simplenet.NewSecretAuth(good.Auth.ClientID, secret)
	client := startClient(t, good)
	nextServerEvent(t, server)
	expectConnected(t, client)

	bad := clientConfig(server.URL(), uuid.New())
	bad.Auth = simplenet.NewSecretAuth(bad.Auth.ClientID, [simplenet.SecretAuthBytes]byte{1})
	rejected := startClient(t, bad)
	if _, ok := nextClientEvent(t, rejected).(ws.ClientIsDead); !ok {
		t.Fatal("wrong secret should kill the client without retries")
	}
}

// TestReconnectBudgetExhaustion covers the attempt budget boundary: the
// client takes its configured attempts against an unreachable server and
// then dies.
func TestReconnectBudgetExhaustion(t *testing.T) {
	t.Parallel()

	cfg := clientConfig("ws://127.0.0.1:1/ws", uuid.New())
	cfg.MaxInitialConnectAttempts = 2
	cfg.ReconnectInterval = 50 * time.Millisecond
	cfg.ConnectTimeout = 500 * time.Millisecond
	client := startClient(t, cfg)

	if _, ok := nextClientEvent(t, client).(ws.ClientIsDead); !ok {
		t.Fatal("client should die once the attempt budget is exhausted")
	}
}

// TestSendWhileDisconnectedFails covers the state machine rule that sends
// outside Connected fail immediately.
func TestSendWhileDisconnectedFails(t *testing.T) {
	t.Parallel()

	// unreachable server with a patient retry budget: the client stays in
	// the connecting state for the duration of the test
	cfg := clientConfig("ws://127.0.0.1:1/ws", uuid.New())
	cfg.ReconnectInterval = 10 * time.Second
	cfg.ConnectTimeout = 500 * time.Millisecond
	client := startClient(t, cfg)

	if sig := client.Send([]byte("early")); sig.Status() != simplenet.MessageFailed {
		t.Errorf("send while connecting = %v, want Failed", sig.Status())
	}

	sig := client.Request([]byte("early"))
	if sig.Status() != simplenet.RequestSendFailed {
		t.Errorf("request while connecting = %v, want SendFailed", sig.Status())
	}
	if ev := nextClientEvent(t, client); ev != (ws.ClientSendFailed{RequestID: sig.ID()}) {
		t.Fatalf("event = %#v, want ClientSendFailed{%d}", ev, sig.ID())
	}
}
