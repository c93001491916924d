package websocket

import "github.com/UkoeHB/simplenet"

// ClientEvent is an event surfaced on the client's user queue. The concrete
// types are ClientConnected, ClientDisconnected, ClientClosedByServer,
// ClientClosedBySelf, ClientIsDead, ClientMsg, ClientResponse, ClientAck,
// ClientReject, ClientSendFailed, ClientResponseLost, and ClientAborted.
type ClientEvent interface {
	clientEvent()
}

// ClientConnected reports that the client connected to the server.
//
// All requests sent before the client became connected will have produced a
// terminal event before this event is emitted.
type ClientConnected struct{}

// ClientDisconnected reports that the transport dropped.
type ClientDisconnected struct{}

// ClientClosedByServer reports a server-ordered close with its typed reason.
type ClientClosedByServer struct {
	Code   int
	Reason string
}

// ClientClosedBySelf reports that the client closed itself.
type ClientClosedBySelf struct{}

// ClientIsDead reports that the client has died and will not reconnect.
//
// PendingRequests holds the ids of requests that were still sending at the
// time of death; each has already been terminalized as Aborted. No more
// events are emitted after this one.
type ClientIsDead struct {
	PendingRequests []uint64
}

// ClientMsg is a one-shot server message.
type ClientMsg struct {
	Payload []byte
}

// ClientResponse answers a request.
type ClientResponse struct {
	RequestID uint64
	Payload   []byte
}

// ClientAck reports that the server consumed a request with no response.
type ClientAck struct {
	RequestID uint64
}

// ClientReject reports that the server refused a request.
type ClientReject struct {
	RequestID uint64
}

// ClientSendFailed reports that the transport dropped a request before it
// was flushed.
type ClientSendFailed struct {
	RequestID uint64
}

// ClientResponseLost reports that the session died while a request was
// waiting for its result.
type ClientResponseLost struct {
	RequestID uint64
}

// ClientAborted reports that the client died while a request was still
// sending.
type ClientAborted struct {
	RequestID uint64
}

func (ClientConnected) clientEvent()      {}
func (ClientDisconnected) clientEvent()   {}
func (ClientClosedByServer) clientEvent() {}
func (ClientClosedBySelf) clientEvent()   {}
func (ClientIsDead) clientEvent()         {}
func (ClientMsg) clientEvent()            {}
func (ClientResponse) clientEvent()       {}
func (ClientAck) clientEvent()            {}
func (ClientReject) clientEvent()         {}
func (ClientSendFailed) clientEvent()     {}
func (ClientResponseLost) clientEvent()   {}
func (ClientAborted) clientEvent()        {}

// ServerEvent is an event surfaced on the server's user queue. The concrete
// types are ServerConnected, ServerDisconnected, ServerMsg, and
// ServerRequest.
type ServerEvent interface {
	serverEvent()
}

// ServerConnected reports an admitted session.
type ServerConnected struct {
	ClientID   simplenet.ClientID
	Env        simplenet.EnvType
	ConnectMsg []byte
}

// ServerDisconnected reports a destroyed session.
type ServerDisconnected struct {
	ClientID simplenet.ClientID
}

// ServerMsg is a one-shot client message.
type ServerMsg struct {
	ClientID simplenet.ClientID
	Payload  []byte
}

// ServerRequest is a client request. Answer it through the token with
// Server.Respond, Server.Ack, or Server.Reject; unanswered requests are
// reaped silently when their session dies.
type ServerRequest struct {
	ClientID simplenet.ClientID
	Token    *RequestToken
	Payload  []byte
}

func (ServerConnected) serverEvent()    {}
func (ServerDisconnected) serverEvent() {}
func (ServerMsg) serverEvent()          {}
func (ServerRequest) serverEvent()      {}
