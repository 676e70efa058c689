// Package storage defines the durable-storage seam behind the operation
// log. The live broadcast path never waits on a Store: persistence is
// best-effort and only matters for recovery after a restart.
package storage

import (
	"context"

	"github.com/scrawl-dev/scrawl/internal/protocol"
)

// Store persists accepted operations and replays them on startup.
// Implementations must retain full history, clear markers included;
// materialization (what a snapshot shows) is the in-memory log's job.
type Store interface {
	// SaveOperation persists one accepted operation at its log position.
	// Saving an already-persisted operation id must be a no-op.
	SaveOperation(ctx context.Context, op protocol.Operation, position int64) error

	// LoadOperations returns every persisted operation in position order.
	LoadOperations(ctx context.Context) ([]protocol.Operation, error)

	Close() error
}

// Nop is the Store used when no storage path is configured: the server
// runs memory-only and history does not survive a restart.
type Nop struct{}

func (Nop) SaveOperation(context.Context, protocol.Operation, int64) error { return nil }

func (Nop) LoadOperations(context.Context) ([]protocol.Operation, error) { return nil, nil }

func (Nop) Close() error { return nil }
