package common

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationTracker_EnterExit(t *testing.T) {
	tracker := NewOperationTracker(TrackerConfig{Component: "entity-service"})

	tracker.Enter("op-1", "create_entity", map[string]interface{}{"source": "s"})
	tracker.Exit("op-1", nil)

	op := tracker.Get("op-1")
	require.NotNil(t, op)
	assert.Equal(t, OperationCompleted, op.Status)
	assert.NotNil(t, op.CompletedAt)
	assert.GreaterOrEqual(t, op.Duration, time.Duration(0))
}

func TestOperationTracker_ExitWithError(t *testing.T) {
	tracker := NewOperationTracker(TrackerConfig{Component: "entity-service"})

	tracker.Enter("op-1", "create_entity", nil)
	tracker.Exit("op-1", errors.New("constraint violated"))

	op := tracker.Get("op-1")
	require.NotNil(t, op)
	assert.Equal(t, OperationFailed, op.Status)
	assert.Equal(t, "constraint violated", op.Error)
}

func TestOperationTracker_ExitUnknownID(t *testing.T) {
	tracker := NewOperationTracker(TrackerConfig{Component: "x"})
	assert.NotPanics(t, func() {
		tracker.Exit("missing", nil)
	})
}

func TestOperationTracker_Trace(t *testing.T) {
	tracker := NewOperationTracker(TrackerConfig{Component: "x"})

	wantErr := errors.New("nope")
	err := tracker.Trace("op-1", "record_transition", func() error { return wantErr })
	assert.Equal(t, wantErr, err)
	assert.Equal(t, OperationFailed, tracker.Get("op-1").Status)

	err = tracker.Trace("op-2", "record_transition", func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, OperationCompleted, tracker.Get("op-2").Status)
}

func TestOperationTracker_Eviction(t *testing.T) {
	tracker := NewOperationTracker(TrackerConfig{Component: "x", MaxOperations: 3})

	for i := 0; i < 4; i++ {
		tracker.Enter(fmt.Sprintf("op-%d", i), "op", nil)
		time.Sleep(time.Millisecond)
	}

	assert.Nil(t, tracker.Get("op-0"), "oldest operation should be evicted")
	assert.NotNil(t, tracker.Get("op-3"))
	assert.Equal(t, 3, tracker.Stats().TotalOperations)
}

func TestOperationTracker_Stats(t *testing.T) {
	tracker := NewOperationTracker(TrackerConfig{Component: "x"})

	tracker.Enter("a", "create", nil)
	tracker.Exit("a", nil)
	tracker.Enter("b", "create", nil)
	tracker.Exit("b", errors.New("fail"))
	tracker.Enter("c", "lookup", nil)

	stats := tracker.Stats()
	assert.Equal(t, 3, stats.TotalOperations)
	assert.Equal(t, 1, stats.ByStatus[OperationCompleted])
	assert.Equal(t, 1, stats.ByStatus[OperationFailed])
	assert.Equal(t, 1, stats.ByStatus[OperationRunning])
	assert.Equal(t, 2, stats.ByName["create"])
}
