package websocket

import (
	"fmt"
	"sync/atomic"

	"github.com/UkoeHB/simplenet"
)

// RequestToken is the capability to answer exactly one client request,
// scoped to the session that produced it.
//
// When a client reconnects it gets a new session and old tokens become
// orphans: answering through an orphan is silently suppressed, since the
// originating session can no longer receive it.
type RequestToken struct {
	clientID  simplenet.ClientID
	requestID uint64
	sess      *session
	consumed  atomic.Bool
}

func newRequestToken(sess *session, requestID uint64) *RequestToken {
	return &RequestToken{
		clientID:  sess.clientID,
		requestID: requestID,
		sess:      sess,
	}
}

// ClientID is the id of the client that sent the request.
func (t *RequestToken) ClientID() simplenet.ClientID {
	return t.clientID
}

// RequestID is the request id chosen by the client.
func (t *RequestToken) RequestID() uint64 {
	return t.requestID
}

// Alive reports whether answering through the token can still reach the
// originating session.
func (t *RequestToken) Alive() bool {
	return !t.consumed.Load() && !t.sess.dead.Load()
}

// take consumes the token. Only the first caller wins; a consumed token
// never produces wire I/O again.
func (t *RequestToken) take() bool {
	return t.consumed.CompareAndSwap(false, true)
}

func (t *RequestToken) String() string {
	return fmt.Sprintf("RequestToken[%s, %d]", t.clientID, t.requestID)
}
