// Package presence tracks which participants currently have at least one
// live session, their last-known cursor, and their application-level
// heartbeat. Presence is keyed by participant, not session: any live
// session keeps a participant present, so the registry reference-counts
// sessions per participant.
package presence

import (
	"sync"
	"time"

	"github.com/scrawl-dev/scrawl/internal/protocol"
)

type entry struct {
	participant   protocol.Participant
	sessions      map[string]struct{}
	lastHeartbeat time.Time
	active        bool
}

// Registry is the authoritative presence store. It is mutated only through
// its methods; no other component holds a reference to its internals.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// NewRegistry creates an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Join records sessionID as a live session of the given participant.
// first reports the participant's first session; reactivated reports an
// existing participant flipping back from inactive. Either one means a
// presenceJoin should be broadcast.
func (r *Registry) Join(p protocol.Participant, sessionID string) (first, reactivated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[p.ID]
	if !ok {
		e = &entry{
			participant: p,
			sessions:    make(map[string]struct{}),
		}
		r.entries[p.ID] = e
	}
	first = len(e.sessions) == 0
	reactivated = ok && !e.active
	e.sessions[sessionID] = struct{}{}
	e.lastHeartbeat = r.now()
	e.active = true
	return first, reactivated
}

// Leave drops sessionID from the participant's live set and returns true
// when it was the last one and the participant was still announced as
// active, i.e. when a presenceLeave should be broadcast. A participant
// the sweeper already flipped inactive had their departure broadcast
// then; the final session close stays silent. The entry is removed
// entirely on last leave; participant identity is an account-management
// concern, not the registry's.
func (r *Registry) Leave(participantID, sessionID string) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[participantID]
	if !ok {
		return false
	}
	delete(e.sessions, sessionID)
	if len(e.sessions) > 0 {
		return false
	}
	delete(r.entries, participantID)
	return e.active
}

// Heartbeat refreshes the participant's application-level liveness and
// reports whether the participant flipped from inactive back to active.
func (r *Registry) Heartbeat(participantID string, at time.Time) (known, reactivated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[participantID]
	if !ok {
		return false, false
	}
	reactivated = !e.active
	e.active = true
	e.lastHeartbeat = at
	return true, reactivated
}

// UpdateCursor stores the participant's last reported pointer position.
// Cursor positions are ephemeral: relayed, never logged.
func (r *Registry) UpdateCursor(participantID string, point protocol.Point) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[participantID]; ok {
		p := point
		e.participant.Cursor = &p
	}
}

// MarkInactive flips every participant whose last heartbeat predates
// cutoff to inactive and returns their ids. Inactive participants remain
// registered; their transport may still be perfectly healthy. The
// application heartbeat and the transport ping are independent signals.
func (r *Registry) MarkInactive(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var flipped []string
	for id, e := range r.entries {
		if e.active && e.lastHeartbeat.Before(cutoff) {
			e.active = false
			flipped = append(flipped, id)
		}
	}
	return flipped
}

// Present reports whether the participant has at least one live session.
func (r *Registry) Present(participantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[participantID]
	return ok
}

// Snapshot returns the present participants with their activity flags and
// cursors, for the reconciliation payload.
func (r *Registry) Snapshot() []protocol.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.Participant, 0, len(r.entries))
	for _, e := range r.entries {
		p := e.participant
		p.Active = e.active
		out = append(out, p)
	}
	return out
}

// Count returns the number of present participants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
