package validation

import (
	"github.com/reflow-sh/reflow/internal/script"
	"github.com/reflow-sh/reflow/pkg/schema"
)

// Validator checks flow scripts for correctness before rewrite and execution.
// Payload validation uses JSON Schema Draft 2020-12 derived from the flow's
// declared payload interface.
type Validator interface {
	ValidateScript(fs *script.FlowScript) *schema.ValidationResult
	ValidatePayload(fs *script.FlowScript, payload map[string]any) error
}

// OpLookup answers whether an operation type name is available.
// Satisfied by ops.Registry.
type OpLookup interface {
	Has(name string) bool
}
