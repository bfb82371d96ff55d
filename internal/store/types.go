package store

import (
	"encoding/json"
	"time"

	"github.com/reflow-sh/reflow/pkg/schema"
)

// Flow is the persisted representation of a registered flow script.
type Flow struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Source     string    `json:"source"`
	TriggerTag string    `json:"trigger_tag"`
	Cron       string    `json:"cron,omitempty"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Run is one persisted execution of a flow.
type Run struct {
	ID          string           `json:"id"`
	FlowID      string           `json:"flow_id"`
	Status      schema.RunStatus `json:"status"`
	Payload     map[string]any   `json:"payload,omitempty"`
	Result      json.RawMessage  `json:"result,omitempty"`
	Error       json.RawMessage  `json:"error,omitempty"`
	TotalMs     int64            `json:"total_ms,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// RunEvent is an immutable entry in the run event log. The event types are
// the trace event types plus the run-level lifecycle events.
type RunEvent struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	OpID      int             `json:"op_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// OpState is the materialized view of one operation's state within a run.
type OpState struct {
	RunID       string          `json:"run_id"`
	OpID        int             `json:"op_id"`
	OpType      string          `json:"op_type,omitempty"`
	Status      schema.OpStatus `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
	Line        int             `json:"line,omitempty"`
	DurationMs  int64           `json:"duration_ms,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// InjectionAudit is an immutable record of one injected credential. Only the
// masked form of the value is ever persisted.
type InjectionAudit struct {
	ID             int64     `json:"id"`
	FlowID         string    `json:"flow_id"`
	RunID          string    `json:"run_id,omitempty"`
	OpID           int       `json:"op_id"`
	OpType         string    `json:"op_type"`
	CredentialType string    `json:"credential_type"`
	Masked         string    `json:"masked"`
	Source         string    `json:"source"` // "user" or "system"
	Timestamp      time.Time `json:"timestamp"`
}

// Secret is an encrypted key-value entry.
type Secret struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"-"` // encrypted, never serialized
	CreatedAt time.Time `json:"created_at"`
}

// ScheduledJob is a cron-triggered flow execution.
type ScheduledJob struct {
	ID             string          `json:"id"`
	FlowID         string          `json:"flow_id"`
	CronExpression string          `json:"cron_expression"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Enabled        bool            `json:"enabled"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus  string          `json:"last_run_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// --- Filter and update types ---

// FlowFilter specifies criteria for listing flows.
type FlowFilter struct {
	TriggerTag string `json:"trigger_tag,omitempty"`
	Enabled    *bool  `json:"enabled,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

// FlowUpdate specifies mutable fields of a flow.
type FlowUpdate struct {
	Name       *string `json:"name,omitempty"`
	Source     *string `json:"source,omitempty"`
	TriggerTag *string `json:"trigger_tag,omitempty"`
	Cron       *string `json:"cron,omitempty"`
	Enabled    *bool   `json:"enabled,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	FlowID string            `json:"flow_id,omitempty"`
	Status *schema.RunStatus `json:"status,omitempty"`
	Since  *time.Time        `json:"since,omitempty"`
	Limit  int               `json:"limit,omitempty"`
	Offset int               `json:"offset,omitempty"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	Status      *schema.RunStatus `json:"status,omitempty"`
	Result      json.RawMessage   `json:"result,omitempty"`
	Error       json.RawMessage   `json:"error,omitempty"`
	TotalMs     *int64            `json:"total_ms,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// EventFilter specifies criteria for listing run events.
type EventFilter struct {
	RunID     string     `json:"run_id,omitempty"`
	OpID      *int       `json:"op_id,omitempty"`
	EventType string     `json:"event_type,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// AuditFilter specifies criteria for listing injection audit records.
type AuditFilter struct {
	FlowID         string `json:"flow_id,omitempty"`
	RunID          string `json:"run_id,omitempty"`
	CredentialType string `json:"credential_type,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	FlowID  string `json:"flow_id,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}
