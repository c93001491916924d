// Package simplenet provides a bi-directional, session-oriented client/server
// channel over WebSocket transport.
//
// The engine multiplexes three logical streams on each connection: one-shot
// messages (both directions), client-initiated requests with server
// responses/acks/rejections, and per-session connection reports. It owns
// authentication, session lifecycle, reconnect behavior, and the consistency
// guarantees that keep the event streams deterministic under disconnects.
//
// # Architecture
//
// Each endpoint wraps a long-running background worker behind a synchronous,
// non-blocking handle. Users call Send/Request (client) or
// Send/Respond/Ack/Reject (server) and drain high-level events with Next().
// All application frames are binary envelopes: a one-byte tag followed by an
// optional request id and the payload. Payloads are opaque byte slices; the
// application owns payload encoding.
//
// # Quick start
//
//	import "github.com/UkoeHB/simplenet/ws"
//
//	server := ws.NewServer(ws.DefaultServerConfig())
//	server.Start(ctx)
//
//	cfg := ws.DefaultClientConfig()
//	cfg.URL = server.URL()
//	cfg.Auth = simplenet.NewNoneAuth(uuid.New())
//	client := ws.NewClient(cfg)
//
//	for {
//	    ev, ok := client.Next()
//	    if !ok {
//	        break
//	    }
//	    switch ev := ev.(type) {
//	    case ws.ClientConnected:
//	        client.Send([]byte("hello"))
//	    case ws.ClientMsg:
//	        // ev.Payload
//	    }
//	}
//
// # Authentication
//
// Authentication travels as the first binary frame inside the WebSocket
// channel (so TLS encrypts it), in one of three forms: None (bare client id),
// Secret (client id plus a 16-byte shared secret, compared in constant time),
// or Token (an ed25519-signed client id with an expiry). Rejections close the
// connection with a typed close code; AuthFailed and ProtocolMismatch are
// fatal to the client, IdInUse and OverCapacity are retryable.
//
// # Consistency guarantees
//
//   - A request resolves exactly once; terminal statuses are never
//     overwritten.
//   - Responses prepared for a dead session are silently suppressed and can
//     never reach a reconnected client with the same id.
//   - When a session dies, every still-pending request of that session is
//     terminalized (SendFailed or ResponseLost) before the disconnect report
//     is enqueued, and before any subsequent Connected report.
//   - IsDead is always the final client event; draining after it terminates.
package simplenet
