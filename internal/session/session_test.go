package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_Lifecycle(t *testing.T) {
	s := New("s1", 8)

	assert.Equal(t, StateUnauthenticated, s.State())
	assert.False(t, s.CanReceiveBroadcast())
	assert.Empty(t, s.ParticipantID())

	require.NoError(t, s.Bind("u1", "Ada", "#f00"))
	assert.Equal(t, StateSyncing, s.State())
	assert.Equal(t, "u1", s.ParticipantID())
	assert.False(t, s.CanReceiveBroadcast(), "syncing sessions must not receive fan-out")

	require.NoError(t, s.MarkLive())
	assert.Equal(t, StateLive, s.State())
	assert.True(t, s.CanReceiveBroadcast())
}

func TestSession_BindOnce(t *testing.T) {
	s := New("s1", 8)
	require.NoError(t, s.Bind("u1", "Ada", "#f00"))
	assert.Error(t, s.Bind("u2", "Eve", "#00f"), "identity binding happens exactly once")
}

func TestSession_NoBackwardTransitions(t *testing.T) {
	s := New("s1", 8)

	assert.Error(t, s.MarkLive(), "cannot go live before handshake")

	require.NoError(t, s.Bind("u1", "Ada", "#f00"))
	require.NoError(t, s.MarkLive())
	assert.Error(t, s.MarkLive(), "live is terminal until disconnect")
}

func TestSession_MarkClosedIsIdempotent(t *testing.T) {
	s := New("s1", 8)

	assert.True(t, s.MarkClosed(), "first close wins")
	assert.False(t, s.MarkClosed(), "second close is a no-op")
	assert.Equal(t, StateClosed, s.State())

	select {
	case <-s.Done():
	default:
		t.Fatal("done channel should be closed")
	}

	assert.Error(t, s.Bind("u1", "Ada", "#f00"), "closed sessions reject binding")
}

func TestSession_Heartbeat(t *testing.T) {
	s := New("s1", 8)
	at := time.Now().Add(time.Minute)
	s.Heartbeat(at)
	assert.Equal(t, at, s.LastHeartbeat())
}

func TestRegistry_OwnsSessionMap(t *testing.T) {
	r := NewRegistry()

	s1 := New("s1", 8)
	s2 := New("s2", 8)
	r.Add(s1)
	r.Add(s2)

	assert.Equal(t, 2, r.Count())

	got, ok := r.Get("s1")
	require.True(t, ok)
	assert.Same(t, s1, got)

	assert.True(t, r.Remove("s1"))
	assert.False(t, r.Remove("s1"), "removing twice reports absence")
	assert.Equal(t, 1, r.Count())

	all := r.All()
	require.Len(t, all, 1)
	assert.Same(t, s2, all[0])
}
