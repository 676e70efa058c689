// Package hub is the authority's connection-handling core. It binds
// ephemeral websocket sessions to durable participants, serializes every
// mutation of the operation log and presence registry, and fans accepted
// events out to all live sessions.
//
// All state transitions run under one mutex, so the reconciliation
// guarantee holds by construction: a session's snapshot is enqueued and
// the session marked live inside the same critical section that accepts
// operations, and broadcasts only reach live sessions. A client therefore
// never observes an incremental event before the base it applies onto.
package hub

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/scrawl-dev/scrawl/internal/auth"
	"github.com/scrawl-dev/scrawl/internal/config"
	"github.com/scrawl-dev/scrawl/internal/logging"
	"github.com/scrawl-dev/scrawl/internal/oplog"
	"github.com/scrawl-dev/scrawl/internal/presence"
	"github.com/scrawl-dev/scrawl/internal/protocol"
	"github.com/scrawl-dev/scrawl/internal/session"
)

// OriginValidator validates websocket connection origins.
type OriginValidator interface {
	IsAllowedOrigin(origin string) bool
}

// Hub owns the session registry and routes every inbound event to the
// operation log or presence registry before fanning it out.
type Hub struct {
	mu sync.Mutex // serializes all log/presence mutations and fan-out

	log      *oplog.Log
	presence *presence.Registry
	sessions *session.Registry
	verifier *auth.Verifier

	originValidator OriginValidator
	cfg             config.SyncConfig
	logger          logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	shutdownOnce sync.Once

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// New creates a hub. The origin validator is required; everything else
// has a safe zero configuration.
func New(log *oplog.Log, pres *presence.Registry, verifier *auth.Verifier, originValidator OriginValidator, cfg config.SyncConfig, logger logging.Logger) *Hub {
	if originValidator == nil {
		panic("hub: originValidator is required")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		log:             log,
		presence:        pres,
		sessions:        session.NewRegistry(),
		verifier:        verifier,
		originValidator: originValidator,
		cfg:             cfg,
		logger:          logger.WithComponent("hub"),
		ctx:             ctx,
		cancel:          cancel,
		entropy:         ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	go h.runSweeper()
	return h
}

// peer pairs a session with its transport connection. The hub never hands
// the connection to anyone else; callers observe the session state machine
// instead of transport internals.
type peer struct {
	sess *session.Session
	ws   *websocket.Conn
}

func (h *Hub) newSessionID() string {
	h.idMu.Lock()
	defer h.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), h.entropy).String()
}

// handleMessage routes one decoded frame. The returned error, if any, is
// fatal for the connection.
func (h *Hub) handleMessage(p *peer, env *protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeHandshake:
		return h.handshake(p, env)
	case protocol.TypeOperation:
		return h.requireLive(p, func() error { return h.submitOperation(p, env) })
	case protocol.TypeCursorUpdate:
		return h.requireLive(p, func() error { return h.submitCursor(p, env) })
	case protocol.TypeClear:
		return h.requireLive(p, func() error { return h.submitClear(p) })
	case protocol.TypeHeartbeat:
		return h.requireLive(p, func() error { return h.heartbeat(p) })
	default:
		return h.rejectMessage(p, &protocol.ProtocolError{
			Reason: "message type " + string(env.Type) + " is not accepted from clients",
		})
	}
}

// requireLive gates post-handshake message types. Before handshake the
// session cannot be trusted, so the violation is fatal.
func (h *Hub) requireLive(p *peer, fn func() error) error {
	if p.sess.State() != session.StateLive {
		perr := &protocol.ProtocolError{Reason: "message not accepted before handshake"}
		if p.sess.State() == session.StateUnauthenticated {
			return perr
		}
		return h.rejectMessage(p, perr)
	}
	return fn()
}

// rejectMessage reports a non-fatal protocol violation back to the sender
// and keeps the connection open.
func (h *Hub) rejectMessage(p *peer, perr *protocol.ProtocolError) error {
	h.logger.Debug(h.ctx, "message rejected",
		"session_id", p.sess.ID(),
		"reason", perr.Reason,
	)
	h.enqueueEnvelope(p.sess, protocol.NewErrorNotice(perr.Reason))
	return nil
}

// handshake binds the asserted identity, reconciles the session with a
// full snapshot, and announces the participant when this is their first
// live session. Identity failures close the connection.
func (h *Hub) handshake(p *peer, env *protocol.Envelope) error {
	if p.sess.State() != session.StateUnauthenticated {
		return h.rejectMessage(p, &protocol.ProtocolError{Reason: "handshake already completed"})
	}

	if err := h.verifier.Verify(env.Token, env.ParticipantID); err != nil {
		return &protocol.IdentityError{Reason: err.Error()}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := p.sess.Bind(env.ParticipantID, env.DisplayName, env.Color); err != nil {
		return &protocol.ProtocolError{Reason: err.Error()}
	}

	first, reactivated := h.presence.Join(p.sess.Participant(), p.sess.ID())

	// Snapshot goes on the send channel before the session turns live, so
	// channel FIFO delivers it ahead of any subsequent broadcast.
	snap := protocol.NewSnapshot(h.presence.Snapshot(), h.log.Snapshot(), h.log.Version())
	h.enqueueEnvelope(p.sess, snap)

	if err := p.sess.MarkLive(); err != nil {
		return &protocol.ProtocolError{Reason: err.Error()}
	}

	// A new session re-announces a participant the sweeper flipped
	// inactive, same as a late heartbeat would.
	if first || reactivated {
		h.publishLocked(protocol.NewPresenceEvent(protocol.TypePresenceJoin, env.ParticipantID), p.sess.ID())
	}

	h.logger.Info(h.ctx, "session live",
		"session_id", p.sess.ID(),
		"participant_id", env.ParticipantID,
		"sessions", h.sessions.Count(),
	)
	return nil
}

// submitOperation appends a client operation and echoes it to every live
// session, the sender included, so the sender's UI confirms acceptance.
// A duplicate id is a silent no-op.
func (h *Hub) submitOperation(p *peer, env *protocol.Envelope) error {
	op := *env.Operation
	pid := p.sess.ParticipantID()
	if op.AuthorID == "" {
		op.AuthorID = pid
	} else if op.AuthorID != pid {
		return h.rejectMessage(p, &protocol.ProtocolError{
			Reason: "operation authorId does not match session participant",
		})
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	pos, dup := h.log.Append(op)
	if dup {
		h.logger.Debug(h.ctx, "duplicate operation ignored",
			"operation_id", op.ID,
			"position", pos,
		)
		return nil
	}
	op.CreatedAt = pos

	// A clear submitted as an operation moves the horizon like any other
	// marker, so it must fan out as a clear event: an operation event would
	// leave live clients holding pre-clear state the authority no longer
	// shows.
	if op.Kind == protocol.KindClear {
		h.publishLocked(&protocol.Envelope{
			Type:          protocol.TypeClear,
			ParticipantID: pid,
			Operation:     &op,
			Version:       h.log.Version(),
		}, "")
		return nil
	}
	h.publishLocked(protocol.NewOperationEvent(op, h.log.Version()), "")
	return nil
}

// submitCursor relays an ephemeral pointer position to everyone else.
// Cursors are never logged.
func (h *Hub) submitCursor(p *peer, env *protocol.Envelope) error {
	pid := p.sess.ParticipantID()
	h.presence.UpdateCursor(pid, *env.Point)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishLocked(protocol.NewCursorEvent(pid, *env.Point), p.sess.ID())
	return nil
}

// submitClear appends a server-minted clear marker and broadcasts it. The
// materialized log restarts at the marker; prior history stays in the
// store for audit.
func (h *Hub) submitClear(p *peer) error {
	pid := p.sess.ParticipantID()

	h.mu.Lock()
	defer h.mu.Unlock()

	op, _ := h.log.Clear(pid)
	h.publishLocked(&protocol.Envelope{
		Type:          protocol.TypeClear,
		ParticipantID: pid,
		Operation:     &op,
		Version:       h.log.Version(),
	}, "")
	return nil
}

// heartbeat refreshes both the session's and the participant's
// application-level liveness. A participant that had gone inactive is
// re-announced.
func (h *Hub) heartbeat(p *peer) error {
	now := time.Now()
	p.sess.Heartbeat(now)

	pid := p.sess.ParticipantID()
	_, reactivated := h.presence.Heartbeat(pid, now)
	if reactivated {
		h.mu.Lock()
		h.publishLocked(protocol.NewPresenceEvent(protocol.TypePresenceJoin, pid), p.sess.ID())
		h.mu.Unlock()
	}
	return nil
}

// publishLocked fans an event out to every live session except
// excludeSessionID. Callers hold h.mu. Delivery per recipient is in
// publish order; a full send buffer schedules only that session's
// cleanup and never blocks the others.
func (h *Hub) publishLocked(env *protocol.Envelope, excludeSessionID string) {
	data, err := protocol.Encode(env)
	if err != nil {
		h.logger.Error(h.ctx, err, "dropping unencodable event", "event_type", string(env.Type))
		return
	}

	for _, s := range h.sessions.All() {
		if s.ID() == excludeSessionID {
			continue
		}
		if !s.CanReceiveBroadcast() {
			continue
		}
		h.enqueueFrame(s, data)
	}
}

// enqueueEnvelope encodes and enqueues one frame for a single session.
func (h *Hub) enqueueEnvelope(s *session.Session, env *protocol.Envelope) {
	data, err := protocol.Encode(env)
	if err != nil {
		h.logger.Error(h.ctx, err, "dropping unencodable frame", "event_type", string(env.Type))
		return
	}
	h.enqueueFrame(s, data)
}

// enqueueFrame never blocks: a session that cannot keep up is scheduled
// for disconnect cleanup instead of stalling the fan-out.
func (h *Hub) enqueueFrame(s *session.Session, data []byte) {
	select {
	case <-s.Done():
	case s.Send() <- data:
	default:
		h.logger.Warn(h.ctx, nil, "send buffer full, scheduling disconnect", "session_id", s.ID())
		go h.disconnectByID(s.ID(), "send buffer overflow")
	}
}

func (h *Hub) disconnectByID(id, reason string) {
	if s, ok := h.sessions.Get(id); ok {
		h.disconnect(&peer{sess: s}, reason)
	}
}

// disconnect tears the session down exactly once: it leaves the registry,
// presence is updated, and when the participant's last session closed a
// single presenceLeave goes out.
func (h *Hub) disconnect(p *peer, reason string) {
	if !p.sess.MarkClosed() {
		return
	}

	h.mu.Lock()
	h.sessions.Remove(p.sess.ID())
	if pid := p.sess.ParticipantID(); pid != "" {
		if last := h.presence.Leave(pid, p.sess.ID()); last {
			h.publishLocked(protocol.NewPresenceEvent(protocol.TypePresenceLeave, pid), "")
		}
	}
	h.mu.Unlock()

	if p.ws != nil {
		_ = p.ws.Close(websocket.StatusNormalClosure, reason)
	}

	h.logger.Info(h.ctx, "session closed",
		"session_id", p.sess.ID(),
		"reason", reason,
		"sessions", h.sessions.Count(),
	)
}

// Stats is the operator-facing view served by /api/state.
type Stats struct {
	Version      uint64 `json:"version"`
	Operations   int    `json:"operations"`
	Sessions     int    `json:"sessions"`
	Participants int    `json:"participants"`
}

// Stats returns current counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Version:      h.log.Version(),
		Operations:   len(h.log.Snapshot()),
		Sessions:     h.sessions.Count(),
		Participants: h.presence.Count(),
	}
}

// Shutdown closes every session and stops background work. In-flight
// durable writes are awaited; in-flight sends to closed transports are
// abandoned.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() {
		h.cancel()
		for _, s := range h.sessions.All() {
			h.disconnect(&peer{sess: s}, "server shutdown")
		}
		h.log.WaitPersisted()
	})
	return ctx.Err()
}
