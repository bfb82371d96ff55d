package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/reflow-sh/reflow/internal/secrets"
	"github.com/reflow-sh/reflow/pkg/schema"
)

// RunScope holds all data available for variable resolution during a run.
type RunScope struct {
	Ops     map[string]any // op key (op_<id>) -> output
	Payload map[string]any // trigger payload fields
	Flow    map[string]any // flow metadata (flow_name, run_id)
	Trigger map[string]any // trigger info (tag, cron)
	Loop    *LoopScope     // loop iteration variables (nil when not in a loop)
}

// LoopScope holds scoped variables for a single loop iteration.
type LoopScope struct {
	Item  any // current item value
	Index int // current iteration index (0-based)
}

// Data flattens the scope into the environment map consumed by the
// expression engines. Secrets are deliberately absent; they resolve only
// through ${{secrets.*}} interpolation.
func (s *RunScope) Data() map[string]any {
	data := map[string]any{
		"ops":     s.Ops,
		"payload": s.Payload,
		"flow":    s.Flow,
		"trigger": s.Trigger,
	}
	if s.Loop != nil {
		data["loop"] = map[string]any{
			"item":  s.Loop.Item,
			"index": s.Loop.Index,
		}
	}
	return data
}

// Interpolator resolves ${{...}} references in operation params.
// Two-pass: first resolves non-secret variables, second resolves secrets.
type Interpolator struct {
	vault secrets.Vault
}

// NewInterpolator creates a new Interpolator with an optional Vault for secret resolution.
func NewInterpolator(vault secrets.Vault) *Interpolator {
	return &Interpolator{vault: vault}
}

// Resolve performs two-pass interpolation on raw JSON params.
// Pass 1: resolves ops.*, payload.*, flow.*, trigger.* references.
// Pass 2: resolves secrets.* references via the Vault.
// Returns the interpolated JSON bytes.
func (interp *Interpolator) Resolve(ctx context.Context, raw json.RawMessage, scope *RunScope) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}

	resolved, err := interp.ResolveString(ctx, string(raw), scope)
	if err != nil {
		return nil, err
	}

	return json.RawMessage(resolved), nil
}

// ResolveString performs two-pass interpolation on a plain string value.
func (interp *Interpolator) ResolveString(ctx context.Context, s string, scope *RunScope) (string, error) {
	// Pass 1: non-secret variables.
	resolved, err := interp.resolvePass(ctx, s, scope, false)
	if err != nil {
		return "", err
	}

	// Pass 2: secrets only.
	return interp.resolvePass(ctx, resolved, scope, true)
}

// resolvePass scans for ${{...}} tokens and resolves them.
// If secretPass is false, it resolves everything except secrets.* and leaves secrets untouched.
// If secretPass is true, it only resolves secrets.* references.
func (interp *Interpolator) resolvePass(ctx context.Context, input string, scope *RunScope, secretPass bool) (string, error) {
	var result strings.Builder
	result.Grow(len(input))

	i := 0
	for i < len(input) {
		// Look for ${{ marker.
		idx := strings.Index(input[i:], "${{")
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}

		// Write everything before the marker.
		result.WriteString(input[i : i+idx])
		start := i + idx + 3 // skip "${{".

		// Find the closing }}.
		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeInterpolation, "unclosed ${{ expression")
		}
		end += start

		expr := strings.TrimSpace(input[start:end])

		// Reject recursive interpolation: no nested ${{ inside the expression.
		if strings.Contains(expr, "${{") {
			return "", schema.NewError(schema.ErrCodeInterpolation,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}

		if expr == "" {
			return "", schema.NewError(schema.ErrCodeInterpolation, "empty variable reference: ${{  }}")
		}

		isSecret := strings.HasPrefix(expr, "secrets.")

		if secretPass && !isSecret {
			// Pass 2 but not a secret, write back the original token unchanged.
			result.WriteString(input[i+idx : end+2])
			i = end + 2
			continue
		}
		if !secretPass && isSecret {
			// Pass 1 but it's a secret, write back the original token unchanged.
			result.WriteString(input[i+idx : end+2])
			i = end + 2
			continue
		}

		val, err := interp.resolveExpr(ctx, expr, scope)
		if err != nil {
			return "", err
		}

		// Embed the resolved value into the surrounding text.
		result.WriteString(marshalInline(val))

		i = end + 2 // skip "}}".
	}

	return result.String(), nil
}

// resolveExpr resolves a single expression path like "ops.op_3.output.url".
func (interp *Interpolator) resolveExpr(ctx context.Context, expr string, scope *RunScope) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	namespace := parts[0]

	switch namespace {
	case "ops":
		return interp.resolveOps(expr, scope)
	case "payload":
		return interp.resolvePayload(expr, scope)
	case "flow":
		return interp.resolveFlow(expr, scope)
	case "trigger":
		return interp.resolveTrigger(expr, scope)
	case "secrets":
		return interp.resolveSecret(ctx, expr)
	case "loop":
		return interp.resolveLoop(expr, scope)
	default:
		available := []string{"ops", "payload", "flow", "trigger", "secrets", "loop"}
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"unknown namespace %q in ${{%s}}; available: %s", namespace, expr, strings.Join(available, ", ")).
			WithDetails(map[string]any{"expression": expr, "available_namespaces": available})
	}
}

// resolveOps resolves ops.<key>.output[.<field>...] references.
func (interp *Interpolator) resolveOps(expr string, scope *RunScope) (any, error) {
	// Expected: ops.<key>.output or ops.<key>.output.<field>...
	parts := strings.SplitN(expr, ".", 4) // [ops, key, output, rest...]
	if len(parts) < 3 {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid operation reference %q: expected ops.<key>.output[.<field>]", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	opKey := parts[1]
	if parts[2] != "output" {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid operation reference %q: only 'output' property is supported (got %q)", expr, parts[2]).
			WithDetails(map[string]any{"expression": expr})
	}

	if scope.Ops == nil {
		return nil, interp.missingVarErr(expr, "operation", opKey, scope)
	}

	output, ok := scope.Ops[opKey]
	if !ok {
		return nil, interp.missingVarErr(expr, "operation", opKey, scope)
	}

	// ops.<key>.output, return the whole output.
	if len(parts) == 3 {
		return output, nil
	}

	// ops.<key>.output.<field>[.<subfield>...]
	return interp.traversePath(output, parts[3], expr)
}

// resolvePayload resolves payload.<field> references.
func (interp *Interpolator) resolvePayload(expr string, scope *RunScope) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	if len(parts) < 2 || parts[1] == "" {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid payload reference %q: expected payload.<field>", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	fieldPath := parts[1]
	return interp.resolveFromMap(scope.Payload, fieldPath, expr, "payload")
}

// resolveFlow resolves flow.<field> references.
func (interp *Interpolator) resolveFlow(expr string, scope *RunScope) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	if len(parts) < 2 || parts[1] == "" {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid flow reference %q: expected flow.<field>", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	fieldPath := parts[1]
	return interp.resolveFromMap(scope.Flow, fieldPath, expr, "flow")
}

// resolveTrigger resolves trigger.<field> references.
func (interp *Interpolator) resolveTrigger(expr string, scope *RunScope) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	if len(parts) < 2 || parts[1] == "" {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid trigger reference %q: expected trigger.<field>", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	fieldPath := parts[1]
	return interp.resolveFromMap(scope.Trigger, fieldPath, expr, "trigger")
}

// resolveSecret resolves secrets.<key> via the Vault.
func (interp *Interpolator) resolveSecret(ctx context.Context, expr string) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	if len(parts) < 2 || parts[1] == "" {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid secret reference %q: expected secrets.<KEY>", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	key := parts[1]

	if interp.vault == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"cannot resolve secret %q: no vault configured", key).
			WithDetails(map[string]any{"expression": expr})
	}

	val, err := interp.vault.Resolve(ctx, key)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"failed to resolve secret %q: %s", key, err.Error()).
			WithDetails(map[string]any{"expression": expr}).WithCause(err)
	}

	return string(val), nil
}

// resolveLoop resolves loop.item and loop.index references.
func (interp *Interpolator) resolveLoop(expr string, scope *RunScope) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	if len(parts) < 2 || parts[1] == "" {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid loop reference %q: expected loop.item or loop.index", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	if scope.Loop == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"loop variable %q referenced outside of a loop context", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	field := parts[1]
	switch {
	case field == "item":
		return scope.Loop.Item, nil
	case field == "index":
		return scope.Loop.Index, nil
	case strings.HasPrefix(field, "item."):
		// Support nested field access on loop.item: loop.item.name
		subpath := strings.TrimPrefix(field, "item.")
		return interp.traversePath(scope.Loop.Item, subpath, expr)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"unknown loop field %q in ${{%s}}; available: item, index", field, expr).
			WithDetails(map[string]any{"expression": expr, "available_fields": []string{"item", "index"}})
	}
}

// resolveFromMap resolves a dot-delimited field path from a map.
func (interp *Interpolator) resolveFromMap(data map[string]any, fieldPath, expr, namespace string) (any, error) {
	if data == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"cannot resolve %q: %s scope is empty", expr, namespace).
			WithDetails(map[string]any{"expression": expr})
	}

	// Try direct key lookup first (supports keys with dots).
	if val, ok := data[fieldPath]; ok {
		return val, nil
	}

	// Traverse by splitting on dots.
	return interp.traversePath(data, fieldPath, expr)
}

// traversePath navigates into nested maps using a dot-delimited path.
func (interp *Interpolator) traversePath(root any, path, expr string) (any, error) {
	segments := strings.Split(path, ".")
	current := root

	for i, seg := range segments {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"empty segment in path %q at position %d", expr, i).
				WithDetails(map[string]any{"expression": expr})
		}

		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				availableKeys := mapKeys(v)
				return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
					"field %q not found in %q; available: [%s]", seg, expr, strings.Join(availableKeys, ", ")).
					WithDetails(map[string]any{"expression": expr, "available_fields": availableKeys})
			}
			current = val
		default:
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"cannot traverse into non-object at %q in %q (type: %T)", seg, expr, current).
				WithDetails(map[string]any{"expression": expr})
		}
	}

	return current, nil
}

// missingVarErr builds an error for missing operation references with available keys listed.
func (interp *Interpolator) missingVarErr(expr, kind, id string, scope *RunScope) *schema.FlowError {
	available := mapKeys(scope.Ops)
	return schema.NewErrorf(schema.ErrCodeInterpolation,
		"%s %q not found in ${{%s}}; available operations: [%s]", kind, id, expr, strings.Join(available, ", ")).
		WithDetails(map[string]any{"expression": expr, "available_operations": available})
}

// marshalInline converts a resolved value into its inline representation.
// Strings are embedded as-is so references inside larger strings concatenate
// naturally. Complex types (maps, slices) are JSON-encoded inline.
func marshalInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// mapKeys returns sorted keys from a map[string]any.
func mapKeys(m map[string]any) []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Simple insertion sort for small slices.
	for i := 1; i < len(keys); i++ {
		key := keys[i]
		j := i - 1
		for j >= 0 && keys[j] > key {
			keys[j+1] = keys[j]
			j--
		}
		keys[j+1] = key
	}
	return keys
}

// HasInterpolation checks if a string contains any ${{...}} references.
func HasInterpolation(s string) bool {
	return strings.Contains(s, "${{")
}

// DetectCircularRefs checks for circular references between operation
// parameters. A cycle occurs when instance A's params reference instance B's
// output and B's params reference A's. Instances can be referenced by their
// bound variable name or by their op_<id> key.
func DetectCircularRefs(instances []*schema.OperationInstance) error {
	// Map every addressable key to a canonical instance key.
	canonical := make(map[string]string, len(instances)*2)
	for _, inst := range instances {
		key := OpKey(inst.ID)
		canonical[key] = key
		if inst.Name != "" {
			canonical[inst.Name] = key
		}
	}

	// Build a dependency graph from ${{ops.<key>.output}} references in params.
	refs := make(map[string]map[string]bool)
	for _, inst := range instances {
		deps := make(map[string]bool)
		for _, p := range inst.Parameters {
			for ref := range extractOpRefs(p.Value) {
				if target, ok := canonical[ref]; ok {
					deps[target] = true
				}
			}
		}
		if len(deps) > 0 {
			refs[OpKey(inst.ID)] = deps
		}
	}

	// Detect cycles using DFS.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(refs))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for dep := range refs[id] {
			switch color[dep] {
			case gray:
				return schema.NewErrorf(schema.ErrCodeInterpolation,
					"circular variable reference detected: %s -> %s", id, dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for id := range refs {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}

	return nil
}

// OpKey returns the scope key under which an operation instance's output is
// registered.
func OpKey(id int) string {
	return fmt.Sprintf("op_%d", id)
}

// extractOpRefs finds all operation keys referenced via ${{ops.<key>.output...}} in a string.
func extractOpRefs(s string) map[string]bool {
	refs := make(map[string]bool)
	for {
		idx := strings.Index(s, "${{ops.")
		if idx == -1 {
			break
		}
		// Skip past "${{ops."
		rest := s[idx+len("${{ops."):]
		dotIdx := strings.IndexByte(rest, '.')
		closeIdx := strings.Index(rest, "}}")
		if closeIdx == -1 {
			break
		}
		var opKey string
		if dotIdx != -1 && dotIdx < closeIdx {
			opKey = rest[:dotIdx]
		} else {
			opKey = rest[:closeIdx]
		}
		opKey = strings.TrimSpace(opKey)
		if opKey != "" {
			refs[opKey] = true
		}
		s = rest[closeIdx+2:]
	}
	return refs
}
