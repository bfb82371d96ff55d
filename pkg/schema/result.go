package schema

import "time"

// Trace event types emitted during a run.
const (
	TraceCallStarted   = "call_started"
	TraceCallCompleted = "call_completed"
	TraceLine          = "line"
	TraceOpStarted     = "op_started"
	TraceOpCompleted   = "op_completed"
	TraceOpFailed      = "op_failed"
)

// Run-level event types recorded in the persistent event log, alongside the
// op-level trace event types above.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
)

// RunStatus is the lifecycle state of a persisted run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// OpStatus is the lifecycle state of one operation within a run.
type OpStatus string

const (
	OpStatusPending   OpStatus = "pending"
	OpStatusRunning   OpStatus = "running"
	OpStatusCompleted OpStatus = "completed"
	OpStatusFailed    OpStatus = "failed"
)

// TraceEvent is one entry in a run's ordered trace log.
type TraceEvent struct {
	Type        string         `json:"type"`
	Line        int            `json:"line,omitempty"`
	StmtKind    string         `json:"stmt_kind,omitempty"`
	Method      string         `json:"method,omitempty"`
	CallSiteKey string         `json:"call_site_key,omitempty"`
	OpID        int            `json:"op_id,omitempty"`
	OpType      string         `json:"op_type,omitempty"`
	DurationMs  int64          `json:"duration_ms,omitempty"`
	Args        []any          `json:"args,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// ExecutionSummary aggregates what happened during a run.
type ExecutionSummary struct {
	Trace       []TraceEvent  `json:"trace"`
	OpDurations map[int]int64 `json:"op_durations,omitempty"` // op ID -> ms
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	TotalMs     int64         `json:"total_ms"`
}

// ExecutionResult is the immutable outcome of one flow run.
type ExecutionResult struct {
	Success bool              `json:"success"`
	Error   *FlowError        `json:"error,omitempty"`
	Data    any               `json:"data,omitempty"`
	Summary *ExecutionSummary `json:"summary,omitempty"`
}

// TriggerInfo is the literal trigger tag declared by a flow class, plus the
// embedded schedule expression for schedule-type triggers.
type TriggerInfo struct {
	Tag  string `json:"tag"`
	Cron string `json:"cron,omitempty"`
}

// IsSchedule reports whether the trigger is schedule-based.
func (t TriggerInfo) IsSchedule() bool { return t.Cron != "" }
