package websocket

import (
	"sync/atomic"

	"github.com/UkoeHB/simplenet"
)

// MessageSignal tracks the status of a one-shot message submitted with
// Client.Send. It is shareable; all holders observe the same cell.
type MessageSignal struct {
	status atomic.Uint32
}

func newMessageSignal(initial simplenet.MessageStatus) *MessageSignal {
	s := &MessageSignal{}
	s.status.Store(uint32(initial))
	return s
}

// Status returns the message's current status.
func (s *MessageSignal) Status() simplenet.MessageStatus {
	return simplenet.MessageStatus(s.status.Load())
}

func (s *MessageSignal) markSent() {
	s.status.CompareAndSwap(uint32(simplenet.MessageSending), uint32(simplenet.MessageSent))
}

func (s *MessageSignal) markFailed() {
	s.status.CompareAndSwap(uint32(simplenet.MessageSending), uint32(simplenet.MessageFailed))
}

// RequestSignal tracks the status of a client request. It is shareable;
// all holders observe the same status cell and abort flag. A terminal
// status, once set, is never overwritten.
type RequestSignal struct {
	id      uint64
	status  atomic.Uint32
	aborted atomic.Bool
}

func newRequestSignal(id uint64) *RequestSignal {
	return &RequestSignal{id: id}
}

// ID returns the id of the request corresponding to this signal.
func (s *RequestSignal) ID() uint64 {
	return s.id
}

// Status returns the request's externally visible status. The transient
// flushed state is reported as Waiting.
func (s *RequestSignal) Status() simplenet.RequestStatus {
	status := simplenet.RequestStatus(s.status.Load())
	if status == simplenet.RequestSent {
		return simplenet.RequestWaiting
	}
	return status
}

// Abort raises the abort flag. Aborting is informational: the request is not
// cancelled and the server may still observe and execute it. The flag is
// visible to every holder of the signal.
func (s *RequestSignal) Abort() {
	s.aborted.Store(true)
}

// Aborted reports whether the abort flag is raised.
func (s *RequestSignal) Aborted() bool {
	return s.aborted.Load()
}

// raw returns the internal status without the Sent -> Waiting mapping.
func (s *RequestSignal) raw() simplenet.RequestStatus {
	return simplenet.RequestStatus(s.status.Load())
}

// transition advances the status cell. Terminal statuses latch: once set,
// further transitions fail.
func (s *RequestSignal) transition(to simplenet.RequestStatus) bool {
	for {
		cur := s.status.Load()
		if simplenet.RequestStatus(cur).Terminal() {
			return false
		}
		if s.status.CompareAndSwap(cur, uint32(to)) {
			return true
		}
	}
}

// markSent flags the request as flushed to the transport. A no-op unless the
// request is still sending.
func (s *RequestSignal) markSent() {
	s.status.CompareAndSwap(uint32(simplenet.RequestSending), uint32(simplenet.RequestSent))
}
