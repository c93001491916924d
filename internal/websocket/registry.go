package websocket

import (
	"sync"

	"github.com/UkoeHB/simplenet"
)

// sweptRequest pairs a request id with the terminal status a sweep assigned
// to it, in registry-insertion order.
type sweptRequest struct {
	id     uint64
	status simplenet.RequestStatus
}

type pendingRequest struct {
	sig *RequestSignal
	// session is the client session sequence the request was sent in.
	session uint64
}

// requestRegistry tracks outgoing requests by id in order to coordinate
// status updates. Ids increase monotonically over the client's lifetime and
// are allocated even for requests that fail immediately.
type requestRegistry struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*pendingRequest
	// order preserves insertion order for sweep emission.
	order []uint64
}

func newRequestRegistry() *requestRegistry {
	return &requestRegistry{pending: make(map[uint64]*pendingRequest)}
}

// register allocates a request id and inserts a Sending entry bound to the
// given session sequence.
func (r *requestRegistry) register(session uint64) *RequestSignal {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	sig := newRequestSignal(id)
	r.pending[id] = &pendingRequest{sig: sig, session: session}
	r.order = append(r.order, id)
	return sig
}

// remove drops a tracked entry, e.g. after the caller resolved it inline.
func (r *requestRegistry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropLocked(id)
}

func (r *requestRegistry) dropLocked(id uint64) {
	delete(r.pending, id)
	for i, ordered := range r.order {
		if ordered == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// resolve applies a terminal status heard from the wire and removes the
// entry. It returns false for unknown ids, which includes every request
// swept when an earlier session died - the cross-session suppression point
// on the client side.
func (r *requestRegistry) resolve(id uint64, status simplenet.RequestStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.pending[id]
	if !ok {
		return false
	}
	r.dropLocked(id)
	return entry.sig.transition(status)
}

// sweep terminalizes every non-terminal request bound to the dying session:
// flushed requests become ResponseLost, unflushed ones SendFailed. Results
// are returned in registry-insertion order so the caller can emit events
// before enqueueing the disconnect report.
func (r *requestRegistry) sweep(session uint64) []sweptRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	var swept []sweptRequest
	var keep []uint64
	for _, id := range r.order {
		entry, ok := r.pending[id]
		if !ok || entry.session != session {
			keep = append(keep, id)
			continue
		}

		// An entry that is already terminal was failed by the egress pump
		// and still needs its event; otherwise flushed requests lose their
		// response and unflushed ones failed to send.
		status := entry.sig.raw()
		switch status {
		case simplenet.RequestSending:
			status = simplenet.RequestSendFailed
			entry.sig.transition(status)
		case simplenet.RequestSent:
			status = simplenet.RequestResponseLost
			entry.sig.transition(status)
		}
		swept = append(swept, sweptRequest{id: id, status: status})
		delete(r.pending, id)
	}
	r.order = keep
	return swept
}

// abortAll is the final cleanup at client death: flushed requests become
// ResponseLost, still-sending ones Aborted. The aborted ids are reported
// separately for the IsDead event.
func (r *requestRegistry) abortAll() (swept []sweptRequest, aborted []uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		entry, ok := r.pending[id]
		if !ok {
			continue
		}

		status := entry.sig.raw()
		switch status {
		case simplenet.RequestSending:
			status = simplenet.RequestAborted
			entry.sig.transition(status)
			entry.sig.Abort()
			aborted = append(aborted, id)
		case simplenet.RequestSent:
			status = simplenet.RequestResponseLost
			entry.sig.transition(status)
		}
		swept = append(swept, sweptRequest{id: id, status: status})
		delete(r.pending, id)
	}
	r.order = nil
	return swept, aborted
}
