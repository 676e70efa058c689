package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrawl-dev/scrawl/internal/protocol"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "board.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestStore_SaveAndLoadRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ops := []protocol.Operation{
		{ID: "a", Kind: protocol.KindStroke, AuthorID: "u1", Payload: json.RawMessage(`{"tool":"pen"}`), CreatedAt: 0},
		{ID: "wipe", Kind: protocol.KindClear, AuthorID: "u2", CreatedAt: 1},
		{ID: "b", Kind: protocol.KindErase, AuthorID: "u1", CreatedAt: 2},
	}
	for i, op := range ops {
		require.NoError(t, store.SaveOperation(ctx, op, int64(i)))
	}

	loaded, err := store.LoadOperations(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 3)

	assert.Equal(t, "a", loaded[0].ID)
	assert.Equal(t, "wipe", loaded[1].ID)
	assert.Equal(t, protocol.KindClear, loaded[1].Kind)
	assert.Equal(t, "b", loaded[2].ID)
	assert.JSONEq(t, `{"tool":"pen"}`, string(loaded[0].Payload))
	assert.Nil(t, loaded[1].Payload, "empty payloads stay empty")
}

func TestStore_SaveIsIdempotentByID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	op := protocol.Operation{ID: "a", Kind: protocol.KindStroke, AuthorID: "u1"}
	require.NoError(t, store.SaveOperation(ctx, op, 0))
	require.NoError(t, store.SaveOperation(ctx, op, 0), "re-saving the same id must not error")

	loaded, err := store.LoadOperations(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveOperation(ctx, protocol.Operation{ID: "a", Kind: protocol.KindStroke, AuthorID: "u1"}, 0))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.LoadOperations(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "a", loaded[0].ID)
}

func TestStore_RespectsContextCancellation(t *testing.T) {
	store := openTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.SaveOperation(ctx, protocol.Operation{ID: "a", Kind: protocol.KindStroke}, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
