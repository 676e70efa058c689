package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, LevelError, ParseLevel(" error "))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Options{Level: LevelWarn, Format: "text", Output: &buf})

	ctx := context.Background()
	logger.Debug(ctx, "not shown")
	logger.Info(ctx, "not shown either")
	logger.Warn(ctx, nil, "shown")

	out := buf.String()
	assert.NotContains(t, out, "not shown")
	assert.Contains(t, out, "shown")
}

func TestLogger_JSONRecordCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Options{Level: LevelDebug, Format: "json", Output: &buf})

	logger.WithComponent("hub").
		With("session_id", "s1").
		Error(context.Background(), errors.New("boom"), "send failed", "participant_id", "u1")

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "send failed", record["msg"])
	assert.Equal(t, "hub", record["component"])
	assert.Equal(t, "boom", record["error"])
	assert.Equal(t, "s1", record["session_id"])
	assert.Equal(t, "u1", record["participant_id"])
}

func TestLogger_WithDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Options{Level: LevelDebug, Format: "text", Output: &buf})

	child := logger.With("child_key", "v")
	child.Info(context.Background(), "from child")
	logger.Info(context.Background(), "from parent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "child_key")
	assert.NotContains(t, lines[1], "child_key")
}

func TestDiscard_EmitsNothing(t *testing.T) {
	logger := Discard()
	logger.Error(context.Background(), errors.New("boom"), "dropped")
	// No output to assert on; the point is it neither panics nor writes.
}
