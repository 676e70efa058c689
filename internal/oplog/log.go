// Package oplog holds the ordered, append-only sequence of drawing
// operations that is the single source of truth for canvas content.
//
// The log is authoritative in memory: an accepted operation drives the
// broadcast path immediately, while the durable write behind it is
// fire-and-forget. A crash between the two can lose the most recent
// writes; that is the accepted availability/durability trade-off for the
// live path.
package oplog

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/scrawl-dev/scrawl/internal/logging"
	"github.com/scrawl-dev/scrawl/internal/protocol"
	"github.com/scrawl-dev/scrawl/internal/storage"
)

// persistTimeout bounds each background durable write.
const persistTimeout = 5 * time.Second

// Log is the authoritative operation log. Total order is order of
// acceptance; once appended an entry is never mutated. A clear marker
// moves the materialization horizon forward without erasing what came
// before it.
type Log struct {
	mu      sync.Mutex
	ops     []protocol.Operation
	index   map[string]int64 // operation id -> position
	horizon int64            // position of the most recent clear marker, -1 if none
	nextPos int64
	version uint64

	store  storage.Store
	logger logging.Logger

	// persistWG lets tests wait for in-flight background writes.
	persistWG sync.WaitGroup

	entropy *ulid.MonotonicEntropy
}

// New creates an empty log backed by store. A nil store disables
// persistence; a nil logger discards.
func New(store storage.Store, logger logging.Logger) *Log {
	if store == nil {
		store = storage.Nop{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Log{
		index:   make(map[string]int64),
		horizon: -1,
		store:   store,
		logger:  logger.WithComponent("oplog"),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Replay rebuilds in-memory state from previously persisted operations,
// re-deriving the clear horizon and version counter. It must run before
// the log accepts live traffic.
func (l *Log) Replay(ops []protocol.Operation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, op := range ops {
		if _, dup := l.index[op.ID]; dup {
			continue
		}
		pos := l.nextPos
		op.CreatedAt = pos
		l.ops = append(l.ops, op)
		l.index[op.ID] = pos
		if op.Kind == protocol.KindClear {
			l.horizon = pos
		}
		l.nextPos++
		l.version++
	}
}

// Append accepts op, assigns its log position, and schedules the durable
// write. Re-submitting an id the log has already seen is not an error:
// the original position comes back with dup=true, nothing changes, and
// the version counter stays put. This tolerates at-least-once delivery
// from client retry logic.
func (l *Log) Append(op protocol.Operation) (position int64, dup bool) {
	l.mu.Lock()
	if prev, seen := l.index[op.ID]; seen {
		l.mu.Unlock()
		return prev, true
	}

	position = l.nextPos
	op.CreatedAt = position
	l.ops = append(l.ops, op)
	l.index[op.ID] = position
	if op.Kind == protocol.KindClear {
		l.horizon = position
	}
	l.nextPos++
	l.version++
	l.mu.Unlock()

	l.persistAsync(op, position)
	return position, false
}

// Clear appends a server-minted clear marker attributed to authorID and
// returns it. Snapshots taken after this call contain only operations
// appended after the marker.
func (l *Log) Clear(authorID string) (protocol.Operation, int64) {
	l.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), l.entropy).String()
	l.mu.Unlock()

	op := protocol.Operation{
		ID:       id,
		Kind:     protocol.KindClear,
		AuthorID: authorID,
	}
	pos, _ := l.Append(op)
	op.CreatedAt = pos
	return op, pos
}

// Snapshot returns the currently visible operations in log order: every
// entry after the most recent clear marker. Pre-clear history stays in
// the store for audit but never reaches a snapshot.
func (l *Log) Snapshot() []protocol.Operation {
	l.mu.Lock()
	defer l.mu.Unlock()

	visible := make([]protocol.Operation, 0, len(l.ops))
	for _, op := range l.ops {
		if op.CreatedAt <= l.horizon {
			continue
		}
		visible = append(visible, op)
	}
	return visible
}

// Version returns the monotonic counter that increments exactly once per
// accepted operation or clear. Clients use it to detect missed updates.
func (l *Log) Version() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

// Len returns the total number of entries ever accepted, clear markers
// and superseded history included.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ops)
}

// persistAsync hands op to the store without blocking the caller. A
// failed write is an operator concern, never a client-visible one: the
// in-memory copy remains the source of truth for connected sessions.
func (l *Log) persistAsync(op protocol.Operation, position int64) {
	l.persistWG.Add(1)
	go func() {
		defer l.persistWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := l.store.SaveOperation(ctx, op, position); err != nil {
			l.logger.Error(ctx, err, "operation persist failed",
				"operation_id", op.ID,
				"position", position,
			)
		}
	}()
}

// WaitPersisted blocks until all background writes scheduled so far have
// finished. Shutdown and tests use it; the live path never does.
func (l *Log) WaitPersisted() {
	l.persistWG.Wait()
}
