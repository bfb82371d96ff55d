package validation

import (
	"github.com/reflow-sh/reflow/internal/script"
	"github.com/reflow-sh/reflow/pkg/schema"
)

// FlowValidator orchestrates the three-stage validation pipeline:
// 1. Structural (class shape, entry method, trigger tag)
// 2. Semantic (operation types, awaited calls, duplicate bindings)
// 3. Dependencies (cycles between operation results)
type FlowValidator struct {
	payload *PayloadValidator
	ops     OpLookup
}

// NewFlowValidator creates a FlowValidator.
// lookup may be nil to skip operation existence checks.
func NewFlowValidator(lookup OpLookup) *FlowValidator {
	return &FlowValidator{
		payload: NewPayloadValidator(),
		ops:     lookup,
	}
}

// Validate parses the source and runs the full pipeline. A parse failure
// short-circuits with a single structural error.
func (fv *FlowValidator) Validate(source string) *schema.ValidationResult {
	fs, err := script.NewFlowScript(source)
	if err != nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeParse, err.Error())
		return r
	}
	return fv.ValidateScript(fs)
}

// ValidateScript runs the full pipeline on an already-parsed script.
// Structural errors short-circuit: semantic and dependency stages are skipped.
func (fv *FlowValidator) ValidateScript(fs *script.FlowScript) *schema.ValidationResult {
	if fs == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "flow script is nil")
		return r
	}

	result := validateStructural(fs)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(fs, fv.ops))

	if result.Valid() {
		result.Merge(validateDependencies(fs.Instances()))
	}

	return result
}

// ValidateDefinition satisfies the error-returning form used by callers that
// only need pass/fail.
func (fv *FlowValidator) ValidateDefinition(fs *script.FlowScript) error {
	return fv.ValidateScript(fs).ToError()
}

// ValidatePayload delegates to the underlying PayloadValidator.
func (fv *FlowValidator) ValidatePayload(fs *script.FlowScript, payload map[string]any) error {
	return fv.payload.ValidateFor(fs, payload)
}

// validateStructural checks the script's skeleton: one exported flow class
// with a trigger type parameter and an async entry method.
func validateStructural(fs *script.FlowScript) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	cls := fs.Module().Class()
	if cls == nil {
		result.AddError("/", schema.ErrCodeValidation, "flow script declares no class")
		return result
	}

	if !cls.Exported {
		result.AddError("class", schema.ErrCodeValidation,
			"flow class "+cls.Name+" must be exported")
	}
	if cls.SuperClass != script.FlowBaseClass {
		result.AddError("class", schema.ErrCodeValidation,
			"flow class must extend "+script.FlowBaseClass)
	}

	if _, err := fs.TriggerKind(); err != nil {
		result.AddError("class.trigger", schema.ErrCodeValidation, err.Error())
	}

	entry := fs.Module().Method(script.EntryMethod)
	if entry == nil {
		result.AddError("class", schema.ErrCodeValidation,
			"flow class declares no "+script.EntryMethod+" method")
		return result
	}
	if !entry.Async {
		result.AddError("class."+script.EntryMethod, schema.ErrCodeValidation,
			script.EntryMethod+" must be declared async")
	}
	if len(entry.Params) > 1 {
		result.AddError("class."+script.EntryMethod, schema.ErrCodeValidation,
			script.EntryMethod+" takes at most one payload parameter")
	}

	return result
}
