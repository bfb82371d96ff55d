package expressions

import (
	"encoding/json"
	"sync"

	"github.com/reflow-sh/reflow/pkg/schema"
)

// ScopeBuilder constructs RunScopes with proper variable isolation.
// It enforces:
//   - Operation outputs are immutable after completion (frozen on insert).
//   - Append-only: new outputs are added as each operation completes.
//   - Loop variables (item, index) are scoped per iteration.
//   - Parallel branch outputs are isolated from sibling branches until merged,
//     matching the isolation of Promise.all elements.
type ScopeBuilder struct {
	mu      sync.RWMutex
	ops     map[string]any // op key -> frozen output (deep-copied on insert)
	payload map[string]any // trigger payload (immutable after init)
	flow    map[string]any // flow metadata (immutable after init)
	trigger map[string]any // trigger info (immutable after init)

	// loop holds the current loop iteration variables.
	// nil when not inside a loop.
	loop *LoopVars
}

// LoopVars holds the scoped variables for a single loop iteration.
type LoopVars struct {
	Item  any // current iteration value
	Index int // current iteration index
}

// NewScopeBuilder creates a ScopeBuilder initialized with run-level data.
// payload, flow, and trigger are deep-copied to prevent external mutation.
func NewScopeBuilder(payload, flow, trigger map[string]any) *ScopeBuilder {
	return &ScopeBuilder{
		ops:     make(map[string]any),
		payload: deepCopyMap(payload),
		flow:    deepCopyMap(flow),
		trigger: deepCopyMap(trigger),
	}
}

// AddOpOutput registers a completed operation's output under the given key.
// The output is frozen (deep-copied) at the time of insertion. Subsequent
// calls with the same key are rejected, outputs are immutable after completion.
func (sb *ScopeBuilder) AddOpOutput(key string, output any) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if _, exists := sb.ops[key]; exists {
		return schema.NewErrorf(schema.ErrCodeInterpolation,
			"operation %q output already registered; outputs are immutable after completion", key)
	}

	sb.ops[key] = deepCopyAny(output)
	return nil
}

// Build creates a RunScope snapshot. The returned scope is safe for concurrent
// use (operation outputs are copied). If loop vars are set, they are included
// under the "loop" namespace.
func (sb *ScopeBuilder) Build() *RunScope {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	scope := &RunScope{
		Ops:     deepCopyMap(sb.ops),
		Payload: sb.payload, // already frozen at init
		Flow:    sb.flow,    // already frozen at init
		Trigger: sb.trigger, // already frozen at init
	}

	if sb.loop != nil {
		scope.Loop = &LoopScope{
			Item:  deepCopyAny(sb.loop.Item),
			Index: sb.loop.Index,
		}
	}

	return scope
}

// WithLoopVars returns a child ScopeBuilder with loop-scoped variables.
// The child shares the same ops/payload/flow/trigger but has its own loop
// vars. This ensures loop vars are scoped to the iteration.
func (sb *ScopeBuilder) WithLoopVars(item any, index int) *ScopeBuilder {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	return &ScopeBuilder{
		ops:     sb.ops,     // shared (append-only, safe)
		payload: sb.payload, // shared (immutable)
		flow:    sb.flow,    // shared (immutable)
		trigger: sb.trigger, // shared (immutable)
		loop: &LoopVars{
			Item:  deepCopyAny(item),
			Index: index,
		},
	}
}

// ForParallelBranch returns a child ScopeBuilder for one Promise.all element.
// The child gets a snapshot of current operation outputs but has its own
// isolated output map. Branch-local completions do NOT leak to siblings.
func (sb *ScopeBuilder) ForParallelBranch() *ScopeBuilder {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	return &ScopeBuilder{
		ops:     deepCopyMap(sb.ops), // isolated copy
		payload: sb.payload,          // shared (immutable)
		flow:    sb.flow,             // shared (immutable)
		trigger: sb.trigger,          // shared (immutable)
	}
}

// MergeBranchOutputs merges completed operation outputs from a parallel branch
// back into the parent scope. Only new keys are added; existing ones are
// preserved (immutability rule).
func (sb *ScopeBuilder) MergeBranchOutputs(branch *ScopeBuilder) {
	branch.mu.RLock()
	branchOps := branch.ops
	branch.mu.RUnlock()

	sb.mu.Lock()
	defer sb.mu.Unlock()

	for key, output := range branchOps {
		if _, exists := sb.ops[key]; !exists {
			sb.ops[key] = deepCopyAny(output)
		}
	}
}

// OpOutputs returns a read-only copy of the current operation outputs.
func (sb *ScopeBuilder) OpOutputs() map[string]any {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return deepCopyMap(sb.ops)
}

// --- Deep copy utilities ---

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value.
// Handles maps, slices, and primitives (which are inherently immutable).
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		// Primitives (string, float64, bool, nil, int, int64) are value types.
		return v
	}
}
