// Package session models one transport connection's runtime state and the
// registry that owns all of them. A session is ephemeral: created on
// connect, bound to a durable participant during handshake, destroyed on
// close or heartbeat timeout. The connection state machine lives here so
// no caller ever inspects transport internals.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/scrawl-dev/scrawl/internal/protocol"
)

// State is the per-session connection state machine:
//
//	Unauthenticated -> Syncing -> Live -> Closed
//
// There are no backward transitions. A reconnect always allocates a brand
// new session starting at Unauthenticated.
type State int

const (
	StateUnauthenticated State = iota
	StateSyncing
	StateLive
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateSyncing:
		return "syncing"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one connection's runtime state. The send channel is the only
// path for outbound frames; the hub enqueues, the write pump drains, so
// per-recipient ordering follows channel FIFO.
type Session struct {
	id   string
	send chan []byte
	done chan struct{}

	mu            sync.Mutex
	state         State
	participantID string
	displayName   string
	color         string
	lastHeartbeat time.Time
}

// New creates an unauthenticated session with the given id and send buffer.
func New(id string, sendBuffer int) *Session {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Session{
		id:            id,
		send:          make(chan []byte, sendBuffer),
		done:          make(chan struct{}),
		state:         StateUnauthenticated,
		lastHeartbeat: time.Now(),
	}
}

// ID returns the connection-scoped session id.
func (s *Session) ID() string { return s.id }

// Send returns the outbound frame channel. It is never closed; Done
// signals teardown instead, so enqueuers can never hit a closed channel.
func (s *Session) Send() chan []byte { return s.send }

// Done is closed when the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Bind attaches the durable participant identity. It may happen exactly
// once, while the session is still unauthenticated.
func (s *Session) Bind(participantID, displayName, color string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUnauthenticated {
		return fmt.Errorf("session %s already bound in state %s", s.id, s.state)
	}
	s.participantID = participantID
	s.displayName = displayName
	s.color = color
	s.state = StateSyncing
	return nil
}

// ParticipantID returns the bound identity, empty before handshake.
func (s *Session) ParticipantID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participantID
}

// Participant returns the wire representation of the bound identity.
func (s *Session) Participant() protocol.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return protocol.Participant{
		ID:          s.participantID,
		DisplayName: s.displayName,
		Color:       s.color,
		Active:      true,
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MarkLive completes reconciliation: the snapshot has been enqueued and
// the session now receives every subsequent broadcast.
func (s *Session) MarkLive() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateSyncing {
		return fmt.Errorf("session %s cannot go live from state %s", s.id, s.state)
	}
	s.state = StateLive
	return nil
}

// MarkClosed is terminal and idempotent. It reports whether this call did
// the closing, so teardown side effects run exactly once.
func (s *Session) MarkClosed() (closedNow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed
	close(s.done)
	return true
}

// CanReceiveBroadcast reports whether fan-out may target this session.
// Only live sessions qualify: a syncing session must see its snapshot
// before any incremental event.
func (s *Session) CanReceiveBroadcast() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateLive
}

// Heartbeat records application-level liveness from the client.
func (s *Session) Heartbeat(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = at
}

// LastHeartbeat returns the most recent application heartbeat time.
func (s *Session) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}
