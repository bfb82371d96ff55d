package expressions

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/reflow-sh/reflow/pkg/schema"
)

// ExprEngine evaluates "expr:"-prefixed operation parameters with
// expr-lang/expr. The run scope keys (payload, flow, trigger, op_<id>) appear
// as top-level variables in the expression. Programs are compiled once per
// expression text and reused; the cache is safe for concurrent runs.
type ExprEngine struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

func NewExprEngine() *ExprEngine {
	return &ExprEngine{programs: make(map[string]*vm.Program)}
}

func (e *ExprEngine) Name() string { return "expr" }

// Evaluate runs the expression against the scope data. Compile failures come
// back as validation errors so a bad parameter surfaces before any operation
// effect; runtime failures are execution errors.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}

	prg, err := e.program(expression, data)
	if err != nil {
		return nil, err
	}

	out, err := vm.Run(prg, nonNilScope(data))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

// program returns the compiled form of the expression, compiling and caching
// it on first sight. Compilation uses the scope data to type the environment
// but allows undefined variables: op outputs referenced before the op has run
// resolve to nil rather than failing the compile.
func (e *ExprEngine) program(expression string, data map[string]any) (*vm.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.programs[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression,
		expr.Env(nonNilScope(data)),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.programs[expression] = prg
	return prg, nil
}

func nonNilScope(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	return data
}

var _ Engine = (*ExprEngine)(nil)
