package expressions

import (
	"context"
	"strings"

	"github.com/reflow-sh/reflow/internal/secrets"
)

// Expression prefixes recognized in string parameter values.
const (
	prefixExpr = "expr:"
	prefixCEL  = "cel:"
	prefixJQ   = "jq:"
)

// Evaluator resolves dynamic operation parameters against the accumulated
// run scope. String params carrying an engine prefix (expr:, cel:, jq:) are
// evaluated with that engine; strings containing ${{...}} references are
// interpolated; everything else passes through untouched.
type Evaluator struct {
	expr   *ExprEngine
	cel    *CELEngine
	jq     *GoJQEngine
	scope  *ScopeBuilder
	interp *Interpolator
}

// NewEvaluator creates an Evaluator for a single run. payload, flow, and
// trigger seed the immutable portion of the scope; vault may be nil when no
// secret resolution is needed.
func NewEvaluator(payload, flow, trigger map[string]any, vault secrets.Vault) (*Evaluator, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}

	return &Evaluator{
		expr:   NewExprEngine(),
		cel:    celEngine,
		jq:     NewGoJQEngine(),
		scope:  NewScopeBuilder(payload, flow, trigger),
		interp: NewInterpolator(vault),
	}, nil
}

// RecordOpOutput freezes a completed operation's output into the run scope
// under its op_<id> key, making it addressable from later expressions.
func (ev *Evaluator) RecordOpOutput(opID int, output any) error {
	return ev.scope.AddOpOutput(OpKey(opID), output)
}

// ResolveParams resolves every dynamic value in the params map. The input is
// not mutated; a resolved copy is returned. Nested maps and slices are
// resolved recursively.
func (ev *Evaluator) ResolveParams(ctx context.Context, params map[string]any) (map[string]any, error) {
	if len(params) == 0 {
		return params, nil
	}

	scope := ev.scope.Build()
	data := scope.Data()

	out := make(map[string]any, len(params))
	for k, v := range params {
		resolved, err := ev.resolveValue(ctx, v, scope, data)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

// resolveValue resolves a single parameter value.
func (ev *Evaluator) resolveValue(ctx context.Context, v any, scope *RunScope, data map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return ev.resolveString(ctx, val, scope, data)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, nested := range val {
			resolved, err := ev.resolveValue(ctx, nested, scope, data)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, nested := range val {
			resolved, err := ev.resolveValue(ctx, nested, scope, data)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveString dispatches a string value to the matching engine, falls back
// to interpolation, or passes it through unchanged.
func (ev *Evaluator) resolveString(ctx context.Context, s string, scope *RunScope, data map[string]any) (any, error) {
	switch {
	case strings.HasPrefix(s, prefixExpr):
		return ev.expr.Evaluate(ctx, strings.TrimSpace(strings.TrimPrefix(s, prefixExpr)), data)
	case strings.HasPrefix(s, prefixCEL):
		return ev.cel.Evaluate(ctx, strings.TrimSpace(strings.TrimPrefix(s, prefixCEL)), data)
	case strings.HasPrefix(s, prefixJQ):
		return ev.jq.EvaluateNormalized(ctx, strings.TrimSpace(strings.TrimPrefix(s, prefixJQ)), data)
	case HasInterpolation(s):
		return ev.interp.ResolveString(ctx, s, scope)
	default:
		return s, nil
	}
}
