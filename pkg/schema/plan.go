package schema

// StepKind partitions an execution plan.
type StepKind string

const (
	StepSetup        StepKind = "setup"
	StepControlFlow  StepKind = "control_flow"
	StepOperation    StepKind = "operation"
	StepFinalization StepKind = "finalization"
)

// MiniStepKind is the phase of one operation inside a plan step.
type MiniStepKind string

const (
	MiniStepInstantiate MiniStepKind = "instantiate"
	MiniStepExecute     MiniStepKind = "execute"
)

// ExecutionPlan is a read-only projection over operation spans and scope
// structure, describing anticipated execution. It is built once per script
// snapshot and is stale after any further rewrite.
type ExecutionPlan struct {
	Steps []PlanStep `json:"steps"`
}

// PlanStep is one ordered region of the plan.
type PlanStep struct {
	Kind      StepKind   `json:"kind"`
	Label     string     `json:"label"`
	StartLine int        `json:"start_line"`
	EndLine   int        `json:"end_line"`
	ScopeKind string     `json:"scope_kind,omitempty"` // loop/conditional/block for control-flow groups
	MiniSteps []MiniStep `json:"mini_steps,omitempty"`
}

// MiniStep is the instantiate or execute phase of one operation instance.
type MiniStep struct {
	Kind   MiniStepKind `json:"kind"`
	OpID   int          `json:"op_id"`
	OpType string       `json:"op_type"`
	Line   int          `json:"line"`
	// LineEstimated is set when the execute line could not be located by a
	// tree walk and fell back to an offset estimate.
	LineEstimated bool `json:"line_estimated,omitempty"`
}
