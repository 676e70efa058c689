package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrawl-dev/scrawl/internal/protocol"
)

func ada() protocol.Participant {
	return protocol.Participant{ID: "u1", DisplayName: "Ada", Color: "#f00"}
}

func TestRegistry_FirstJoinAndLastLeave(t *testing.T) {
	r := NewRegistry()

	first, reactivated := r.Join(ada(), "s1")
	assert.True(t, first, "first session announces the participant")
	assert.False(t, reactivated)
	assert.True(t, r.Present("u1"))

	second, reactivated := r.Join(ada(), "s2")
	assert.False(t, second, "second concurrent session is silent")
	assert.False(t, reactivated, "an active participant is not re-announced")

	last := r.Leave("u1", "s1")
	assert.False(t, last, "one session still live keeps the participant present")
	assert.True(t, r.Present("u1"))

	last = r.Leave("u1", "s2")
	assert.True(t, last, "closing the final session makes the participant absent")
	assert.False(t, r.Present("u1"))
}

func TestRegistry_LeaveUnknownParticipant(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Leave("ghost", "s1"))
}

func TestRegistry_HeartbeatReactivates(t *testing.T) {
	r := NewRegistry()
	r.Join(ada(), "s1")

	flipped := r.MarkInactive(time.Now().Add(time.Minute))
	require.Equal(t, []string{"u1"}, flipped)

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.False(t, snap[0].Active)

	known, reactivated := r.Heartbeat("u1", time.Now())
	assert.True(t, known)
	assert.True(t, reactivated)

	snap = r.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Active)
}

func TestRegistry_NewSessionReactivates(t *testing.T) {
	r := NewRegistry()
	r.Join(ada(), "s1")

	flipped := r.MarkInactive(time.Now().Add(time.Minute))
	require.Equal(t, []string{"u1"}, flipped)

	first, reactivated := r.Join(ada(), "s2")
	assert.False(t, first)
	assert.True(t, reactivated, "a new session flips an inactive participant back")

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Active)
}

func TestRegistry_LastLeaveAfterSweepIsSilent(t *testing.T) {
	r := NewRegistry()
	r.Join(ada(), "s1")

	require.Equal(t, []string{"u1"}, r.MarkInactive(time.Now().Add(time.Minute)))

	last := r.Leave("u1", "s1")
	assert.False(t, last, "the sweep already announced the departure")
	assert.False(t, r.Present("u1"))
}

func TestRegistry_HeartbeatUnknownParticipant(t *testing.T) {
	r := NewRegistry()
	known, reactivated := r.Heartbeat("ghost", time.Now())
	assert.False(t, known)
	assert.False(t, reactivated)
}

func TestRegistry_MarkInactiveIsOneShot(t *testing.T) {
	r := NewRegistry()
	r.Join(ada(), "s1")

	cutoff := time.Now().Add(time.Minute)
	assert.Len(t, r.MarkInactive(cutoff), 1)
	assert.Empty(t, r.MarkInactive(cutoff), "already-inactive participants do not flip again")
}

func TestRegistry_CursorOnlyForKnownParticipants(t *testing.T) {
	r := NewRegistry()
	r.Join(ada(), "s1")

	r.UpdateCursor("u1", protocol.Point{X: 4, Y: 2})
	r.UpdateCursor("ghost", protocol.Point{X: 9, Y: 9})

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	require.NotNil(t, snap[0].Cursor)
	assert.Equal(t, 4.0, snap[0].Cursor.X)
	assert.Equal(t, 2.0, snap[0].Cursor.Y)
}

func TestRegistry_SnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.Join(ada(), "s1")

	snap := r.Snapshot()
	snap[0].DisplayName = "mutated"

	fresh := r.Snapshot()
	assert.Equal(t, "Ada", fresh[0].DisplayName)
}
