package protocol

import (
	"errors"
	"sync"
)

// SessionState is one step of a session's CONNECTING → READY → DRAINING
// lifecycle (§4.8).
type SessionState uint8

const (
	StateConnecting SessionState = iota
	StateReady
	StateDraining
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateReady:
		return "READY"
	case StateDraining:
		return "DRAINING"
	default:
		return "UNKNOWN"
	}
}

// ErrNotReady is returned by Acquire when the session has not completed
// its handshake or has already begun draining.
var ErrNotReady = errors.New("protocol: session is not READY")

// Negotiated holds the handshake-time limits agreed during CONNECTING.
type Negotiated struct {
	MaxSGL            int
	MaxKeyLength      int
	MaxInflightCmd    int
}

// Session tracks one client connection's lifecycle state and per-key
// receive-order serialization: requests for the same key that were fully
// received before a later request began are applied in that order, even
// though responses may be written out of submission order (§4.8's
// ordering rule).
type Session struct {
	mu    sync.Mutex
	state SessionState
	neg   Negotiated

	// inflight serializes operations against the same key within this
	// session; the owning thread still runs every op one at a time, but
	// this guards against a future concurrent dispatch implementation
	// breaking the receive-order guarantee.
	inflight map[string]chan struct{}
}

// NewSession constructs a session in the CONNECTING state.
func NewSession() *Session {
	return &Session{state: StateConnecting, inflight: make(map[string]chan struct{})}
}

// CompleteHandshake negotiates session limits as min(client, server) for
// each field and transitions to READY.
func (s *Session) CompleteHandshake(clientMaxSGL, clientMaxKeyLength, clientMaxInflight int, serverMaxSGL, serverMaxKeyLength, serverMaxInflight int) Negotiated {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.neg = Negotiated{
		MaxSGL:         min(clientMaxSGL, serverMaxSGL),
		MaxKeyLength:   min(clientMaxKeyLength, serverMaxKeyLength),
		MaxInflightCmd: min(clientMaxInflight, serverMaxInflight),
	}
	s.state = StateReady
	return s.neg
}

// Negotiated returns the limits agreed during CompleteHandshake.
func (s *Session) Negotiated() Negotiated {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.neg
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BeginDraining flags the session closing: no new requests are accepted,
// but Acquire calls already in flight are left to complete normally.
func (s *Session) BeginDraining() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateDraining
}

// Acquire enters the receive-order critical section for key, returning a
// release function the caller must invoke when the operation completes.
// It returns ErrNotReady if the session is not READY. Acquire for
// distinct keys never blocks on each other; two Acquire calls for the
// same key block the second until the first releases, enforcing
// receive-order application for that key.
func (s *Session) Acquire(key string) (release func(), err error) {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return nil, ErrNotReady
	}
	wait, busy := s.inflight[key]
	mine := make(chan struct{})
	s.inflight[key] = mine
	s.mu.Unlock()

	if busy {
		<-wait
	}

	return func() {
		close(mine)
		s.mu.Lock()
		if s.inflight[key] == mine {
			delete(s.inflight, key)
		}
		s.mu.Unlock()
	}, nil
}
