package simplenet

import "github.com/google/uuid"

// ClientID uniquely identifies a logical client. It is a 128-bit value chosen
// by the client at connect time (the server takes it from the verified token
// when token authentication is used). Connection attempts with an
// already-connected id are rejected.
type ClientID = uuid.UUID

// EnvType describes the environment a client connects from. Browser clients
// speak the same wire protocol but may need different keepalive handling.
type EnvType byte

const (
	EnvNative EnvType = iota
	EnvBrowser
)

func (e EnvType) String() string {
	switch e {
	case EnvNative:
		return "native"
	case EnvBrowser:
		return "browser"
	default:
		return "unknown"
	}
}

// MessageStatus is the client-visible state of a one-shot message submitted
// with Send.
type MessageStatus uint32

const (
	// MessageSending means the message is in the transport egress queue.
	MessageSending MessageStatus = iota
	// MessageSent means the message was flushed to the transport.
	MessageSent
	// MessageFailed means the transport dropped the message before flushing.
	MessageFailed
)

func (s MessageStatus) String() string {
	switch s {
	case MessageSending:
		return "Sending"
	case MessageSent:
		return "Sent"
	case MessageFailed:
		return "Failed"
	default:
		return "invalid"
	}
}

// RequestStatus is the client-visible state of an outgoing request.
//
// Sending, Waiting and the terminal statuses are the externally observable
// values; RequestSent is a transient internal state reported as Waiting.
type RequestStatus uint32

const (
	// RequestSending means the request is in the transport egress queue.
	RequestSending RequestStatus = iota
	// RequestSent means the request was flushed to the transport. Reported
	// externally as RequestWaiting.
	RequestSent
	// RequestWaiting means the request reached the transport and no terminal
	// result has been heard yet.
	RequestWaiting
	// RequestResponded means the server responded to the request.
	RequestResponded
	// RequestAcknowledged means the server consumed the request with no
	// response payload.
	RequestAcknowledged
	// RequestRejected means the server refused the request.
	RequestRejected
	// RequestSendFailed means the transport dropped the request before it was
	// flushed.
	RequestSendFailed
	// RequestResponseLost means the session died while the request was
	// waiting. The server may have responded, acked, or rejected it, but the
	// result will never be known.
	RequestResponseLost
	// RequestAborted means the client died while the request was still
	// sending.
	RequestAborted
)

// Terminal reports whether the status is final. A request never transitions
// out of a terminal status.
func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestResponded, RequestAcknowledged, RequestRejected,
		RequestSendFailed, RequestResponseLost, RequestAborted:
		return true
	default:
		return false
	}
}

func (s RequestStatus) String() string {
	switch s {
	case RequestSending:
		return "Sending"
	case RequestSent:
		return "Sent"
	case RequestWaiting:
		return "Waiting"
	case RequestResponded:
		return "Responded"
	case RequestAcknowledged:
		return "Acknowledged"
	case RequestRejected:
		return "Rejected"
	case RequestSendFailed:
		return "SendFailed"
	case RequestResponseLost:
		return "ResponseLost"
	case RequestAborted:
		return "Aborted"
	default:
		return "invalid"
	}
}
