package validation

import (
	"fmt"

	"github.com/reflow-sh/reflow/internal/script"
	"github.com/reflow-sh/reflow/pkg/schema"
)

// validateSemantic performs semantic analysis on the parsed script.
// Checks: operation types registered, results of .action() calls awaited,
// duplicate operation bindings, self-referential parameters.
func validateSemantic(fs *script.FlowScript, lookup OpLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	seen := make(map[string]int)
	for _, inst := range fs.Instances() {
		path := fmt.Sprintf("op[%d]", inst.ID)

		if lookup != nil && !lookup.Has(inst.TypeName) {
			result.AddErrorAt(path+".type", schema.ErrCodeOperation,
				fmt.Sprintf("operation type %q not registered", inst.TypeName),
				inst.Span.StartLine)
		}

		if inst.HasActionCall && !inst.Awaited {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("result of %s.action() on line %d is not awaited; the call may not finish before the run ends",
					inst.TypeName, inst.Span.StartLine))
		}

		if prev, dup := seen[inst.Name]; dup {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("binding %q shadows the operation declared on line %d", inst.Name, prev))
		} else {
			seen[inst.Name] = inst.Span.StartLine
		}

		for _, dep := range inst.Dependencies {
			if dep.FromID == inst.ID {
				result.AddErrorAt(path, schema.ErrCodeValidation,
					fmt.Sprintf("operation %q consumes its own result", inst.Name),
					inst.Span.StartLine)
			}
		}
	}

	return result
}
