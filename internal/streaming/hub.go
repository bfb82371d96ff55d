package streaming

import (
	"context"

	"github.com/reflow-sh/reflow/pkg/schema"
)

// RunEvent is a real-time event emitted while a flow run executes. Trace
// carries the full trace entry for op and line events; run-level lifecycle
// events set Payload instead.
type RunEvent struct {
	FlowID    string             `json:"flow_id,omitempty"`
	RunID     string             `json:"run_id"`
	OpID      int                `json:"op_id,omitempty"`
	EventType string             `json:"event_type"`
	Trace     *schema.TraceEvent `json:"trace,omitempty"`
	Payload   any                `json:"payload,omitempty"`
}

// Filter specifies which run events a subscriber wants to receive. Zero-value
// fields match everything.
type Filter struct {
	FlowID     string   `json:"flow_id,omitempty"`
	RunID      string   `json:"run_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// Hub provides pub/sub for live run events.
type Hub interface {
	Publish(ctx context.Context, event RunEvent) error
	Subscribe(ctx context.Context, filter Filter) (<-chan RunEvent, func(), error)
}
