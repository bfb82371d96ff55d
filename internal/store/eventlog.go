package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/reflow-sh/reflow/pkg/schema"
)

// RunEventLog records trace events into the append-only run_events table and
// can rebuild per-operation state by replaying a run's event stream. The
// op_state table is a materialized view of that stream; replay is the source
// of truth when the two disagree.
type RunEventLog struct {
	store Store
}

// NewRunEventLog returns an event log backed by the given store.
func NewRunEventLog(s Store) *RunEventLog {
	return &RunEventLog{store: s}
}

// RecordTrace appends one trace event to the run's event log. The full event
// is stored as the payload; op-level events also set the op_id column so they
// can be queried without unmarshaling.
func (l *RunEventLog) RecordTrace(ctx context.Context, runID string, ev schema.TraceEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal trace event: %w", err)
	}
	return l.store.AppendEvent(ctx, &RunEvent{
		RunID:     runID,
		OpID:      ev.OpID,
		Type:      ev.Type,
		Payload:   payload,
		Timestamp: ev.Timestamp,
	})
}

// RecordRunEvent appends a run-level lifecycle event (run_started,
// run_completed, run_failed) with an arbitrary JSON payload.
func (l *RunEventLog) RecordRunEvent(ctx context.Context, runID, eventType string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		raw = b
	}
	return l.store.AppendEvent(ctx, &RunEvent{
		RunID:     runID,
		Type:      eventType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	})
}

// ReplayRun reads the run's full event stream and rebuilds the state of every
// operation from it. The stream must be contiguous; a gap in sequence numbers
// means events were lost and the replayed state cannot be trusted.
func (l *RunEventLog) ReplayRun(ctx context.Context, runID string) (map[int]*OpState, error) {
	events, err := l.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, err
	}

	for i, ev := range events {
		expected := int64(i + 1)
		if ev.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, ev.Sequence)
		}
	}

	states := make(map[int]*OpState)
	for _, ev := range events {
		switch ev.Type {
		case schema.TraceOpStarted, schema.TraceOpCompleted, schema.TraceOpFailed:
		default:
			continue
		}

		var trace schema.TraceEvent
		if len(ev.Payload) > 0 {
			if err := json.Unmarshal(ev.Payload, &trace); err != nil {
				return nil, fmt.Errorf("unmarshal event %d: %w", ev.Sequence, err)
			}
		}

		st, ok := states[ev.OpID]
		if !ok {
			st = &OpState{RunID: runID, OpID: ev.OpID}
			states[ev.OpID] = st
		}
		if trace.OpType != "" {
			st.OpType = trace.OpType
		}
		if trace.Line > 0 {
			st.Line = trace.Line
		}

		switch ev.Type {
		case schema.TraceOpStarted:
			st.Status = schema.OpStatusRunning
			t := ev.Timestamp
			st.StartedAt = &t
		case schema.TraceOpCompleted:
			st.Status = schema.OpStatusCompleted
			st.DurationMs = trace.DurationMs
			t := ev.Timestamp
			st.CompletedAt = &t
			if trace.Payload != nil {
				if out, err := json.Marshal(trace.Payload); err == nil {
					st.Output = out
				}
			}
		case schema.TraceOpFailed:
			st.Status = schema.OpStatusFailed
			st.DurationMs = trace.DurationMs
			t := ev.Timestamp
			st.CompletedAt = &t
			if trace.Payload != nil {
				if msg, err := json.Marshal(trace.Payload); err == nil {
					st.Error = msg
				}
			}
		}
	}
	return states, nil
}

// MaterializeOpStates replays the run and upserts the resulting states into
// the op_state table, repairing the materialized view after a crash.
func (l *RunEventLog) MaterializeOpStates(ctx context.Context, runID string) error {
	states, err := l.ReplayRun(ctx, runID)
	if err != nil {
		return err
	}
	for _, st := range states {
		if err := l.store.UpsertOpState(ctx, st); err != nil {
			return fmt.Errorf("upsert op %d: %w", st.OpID, err)
		}
	}
	return nil
}
