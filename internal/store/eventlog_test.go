package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflow-sh/reflow/pkg/schema"
)

func newTestEventLog(t *testing.T) (*RunEventLog, *LibSQLStore, string) {
	t.Helper()
	s, err := NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))

	flow := testFlow()
	require.NoError(t, s.CreateFlow(ctx, flow))
	run := &Run{ID: uuid.NewString(), FlowID: flow.ID, Status: schema.RunStatusRunning}
	require.NoError(t, s.CreateRun(ctx, run))

	return NewRunEventLog(s), s, run.ID
}

func TestRecordTrace(t *testing.T) {
	log, s, runID := newTestEventLog(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, log.RecordTrace(ctx, runID, schema.TraceEvent{
		Type:      schema.TraceOpStarted,
		OpID:      1,
		OpType:    "HttpRequest",
		Line:      7,
		Timestamp: now,
	}))

	events, err := s.GetEvents(ctx, runID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, schema.TraceOpStarted, events[0].Type)
	assert.Equal(t, 1, events[0].OpID)

	var trace schema.TraceEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &trace))
	assert.Equal(t, "HttpRequest", trace.OpType)
	assert.Equal(t, 7, trace.Line)
}

func TestRecordRunEvent(t *testing.T) {
	log, s, runID := newTestEventLog(t)
	ctx := context.Background()

	require.NoError(t, log.RecordRunEvent(ctx, runID, schema.EventRunStarted, map[string]any{"payload_keys": 2}))
	require.NoError(t, log.RecordRunEvent(ctx, runID, schema.EventRunCompleted, nil))

	events, err := s.GetEvents(ctx, runID, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, schema.EventRunStarted, events[0].Type)
	assert.Equal(t, schema.EventRunCompleted, events[1].Type)
	assert.Nil(t, events[1].Payload)
}

func TestReplayRunRebuildsOpStates(t *testing.T) {
	log, _, runID := newTestEventLog(t)
	ctx := context.Background()

	base := time.Now().UTC()
	record := func(ev schema.TraceEvent) {
		require.NoError(t, log.RecordTrace(ctx, runID, ev))
	}

	record(schema.TraceEvent{Type: schema.TraceOpStarted, OpID: 1, OpType: "HttpRequest", Line: 5, Timestamp: base})
	record(schema.TraceEvent{
		Type: schema.TraceOpCompleted, OpID: 1, OpType: "HttpRequest", Line: 5,
		DurationMs: 31, Payload: map[string]any{"status": float64(200)},
		Timestamp: base.Add(31 * time.Millisecond),
	})
	record(schema.TraceEvent{Type: schema.TraceOpStarted, OpID: 2, OpType: "SlackBubble", Line: 9, Timestamp: base.Add(40 * time.Millisecond)})
	record(schema.TraceEvent{
		Type: schema.TraceOpFailed, OpID: 2, OpType: "SlackBubble", Line: 9,
		DurationMs: 12, Payload: map[string]any{"message": "channel_not_found"},
		Timestamp: base.Add(52 * time.Millisecond),
	})
	record(schema.TraceEvent{Type: schema.TraceOpStarted, OpID: 3, OpType: "EchoOp", Line: 11, Timestamp: base.Add(60 * time.Millisecond)})

	states, err := log.ReplayRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, states, 3)

	op1 := states[1]
	assert.Equal(t, schema.OpStatusCompleted, op1.Status)
	assert.Equal(t, "HttpRequest", op1.OpType)
	assert.Equal(t, int64(31), op1.DurationMs)
	assert.JSONEq(t, `{"status":200}`, string(op1.Output))
	require.NotNil(t, op1.StartedAt)
	require.NotNil(t, op1.CompletedAt)

	op2 := states[2]
	assert.Equal(t, schema.OpStatusFailed, op2.Status)
	assert.JSONEq(t, `{"message":"channel_not_found"}`, string(op2.Error))
	assert.Nil(t, op2.Output)

	// Started but never finished, as after a crash mid-run.
	op3 := states[3]
	assert.Equal(t, schema.OpStatusRunning, op3.Status)
	assert.Nil(t, op3.CompletedAt)
}

func TestReplayIgnoresNonOpEvents(t *testing.T) {
	log, _, runID := newTestEventLog(t)
	ctx := context.Background()

	require.NoError(t, log.RecordRunEvent(ctx, runID, schema.EventRunStarted, nil))
	require.NoError(t, log.RecordTrace(ctx, runID, schema.TraceEvent{Type: schema.TraceLine, Line: 3, Timestamp: time.Now().UTC()}))
	require.NoError(t, log.RecordTrace(ctx, runID, schema.TraceEvent{Type: schema.TraceOpStarted, OpID: 1, OpType: "EchoOp", Timestamp: time.Now().UTC()}))

	states, err := log.ReplayRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, schema.OpStatusRunning, states[1].Status)
}

func TestReplayDetectsSequenceGap(t *testing.T) {
	log, s, runID := newTestEventLog(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, log.RecordTrace(ctx, runID, schema.TraceEvent{Type: schema.TraceLine, Line: i + 1, Timestamp: time.Now().UTC()}))
	}

	// Simulate a lost event.
	_, err := s.DB().ExecContext(ctx, `DELETE FROM run_events WHERE run_id = ? AND sequence = 2`, runID)
	require.NoError(t, err)

	_, err = log.ReplayRun(ctx, runID)
	require.Error(t, err)
	var ferr *schema.FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, schema.ErrCodeStore, ferr.Code)
	assert.Contains(t, ferr.Message, "sequence gap")
}

func TestMaterializeOpStates(t *testing.T) {
	log, s, runID := newTestEventLog(t)
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, log.RecordTrace(ctx, runID, schema.TraceEvent{Type: schema.TraceOpStarted, OpID: 1, OpType: "EchoOp", Line: 4, Timestamp: base}))
	require.NoError(t, log.RecordTrace(ctx, runID, schema.TraceEvent{
		Type: schema.TraceOpCompleted, OpID: 1, OpType: "EchoOp", Line: 4,
		DurationMs: 2, Payload: map[string]any{"echo": "hi"}, Timestamp: base.Add(2 * time.Millisecond),
	}))

	require.NoError(t, log.MaterializeOpStates(ctx, runID))

	st, err := s.GetOpState(ctx, runID, 1)
	require.NoError(t, err)
	assert.Equal(t, schema.OpStatusCompleted, st.Status)
	assert.JSONEq(t, `{"echo":"hi"}`, string(st.Output))
	assert.Equal(t, 4, st.Line)
}

func TestReplayEmptyRun(t *testing.T) {
	log, _, runID := newTestEventLog(t)

	states, err := log.ReplayRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Empty(t, states)
}
