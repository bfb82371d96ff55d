package runner

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/reflow-sh/reflow/internal/script"
)

// Runtime values are plain Go data: nil, bool, float64, string,
// map[string]any, plus the reference, callable, and instance kinds below.

// hostFunc is a native function exposed to flow code.
type hostFunc func(args []any) (any, error)

// arrayValue gives arrays reference semantics: mutation through one binding
// is visible through every other.
type arrayValue struct {
	elems []any
}

func newArray(elems ...any) *arrayValue {
	return &arrayValue{elems: elems}
}

// classValue is the evaluated flow class declaration.
type classValue struct {
	decl *script.ClassDecl
}

// flowInstance is one instantiated flow object, the `this` of its methods.
type flowInstance struct {
	class  *classValue
	fields map[string]any
}

// boundMethod is a flow method bound to its instance.
type boundMethod struct {
	inst *flowInstance
	meth *script.MethodDecl
}

// arrowValue is an arrow function closed over its defining environment.
// Arrows capture `this` lexically.
type arrowValue struct {
	fn   *script.ArrowFunc
	env  *environment
	this any
}

// opValue is an instantiated operation awaiting its .action() call.
type opValue struct {
	id       int
	typeName string
	params   map[string]any
}

// promiseValue marks a value produced by an async callable. Awaiting
// unwraps it; everything else passes it through untouched.
type promiseValue struct {
	val any
}

// environment is one lexical frame of the interpreted flow.
type environment struct {
	vars   map[string]any
	parent *environment
}

func newEnvironment(parent *environment) *environment {
	return &environment{vars: make(map[string]any), parent: parent}
}

func (e *environment) define(name string, v any) {
	e.vars[name] = v
}

func (e *environment) lookup(name string) (any, bool) {
	for env := e; env != nil; env = env.parent {
		if v, ok := env.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func (e *environment) assign(name string, v any) bool {
	for env := e; env != nil; env = env.parent {
		if _, ok := env.vars[name]; ok {
			env.vars[name] = v
			return true
		}
	}
	return false
}

// Control-flow signals travel as errors through the block executor.

type returnSignal struct{ val any }

func (returnSignal) Error() string { return "return outside function" }

type breakSignal struct{}

func (breakSignal) Error() string { return "break outside loop" }

type continueSignal struct{}

func (continueSignal) Error() string { return "continue outside loop" }

// thrownValue is a flow-level throw: catchable by the flow's own try/catch.
// origin carries the structured error when the throw came from operation
// dispatch rather than user code.
type thrownValue struct {
	val    any
	origin error
}

func (t thrownValue) Error() string {
	return fmt.Sprintf("uncaught: %s", stringify(t.val))
}

// truthy implements flow-script boolean coercion.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case string:
		return x != ""
	default:
		return true
	}
}

// stringify renders a value the way string coercion does.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return "undefined"
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return formatNumber(x)
	case string:
		return x
	case *arrayValue:
		parts := make([]string, len(x.elems))
		for i, el := range x.elems {
			parts[i] = stringify(el)
		}
		return strings.Join(parts, ",")
	case map[string]any:
		if msg, ok := x["message"].(string); ok {
			if name, ok := x["name"].(string); ok {
				return name + ": " + msg
			}
		}
		return "[object Object]"
	case *opValue:
		return fmt.Sprintf("[operation %s]", x.typeName)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// formatNumber renders integers without a trailing ".0".
func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// toNumber implements numeric coercion for arithmetic and comparisons.
func toNumber(v any) float64 {
	switch x := v.(type) {
	case nil:
		return 0
	case bool:
		if x {
			return 1
		}
		return 0
	case float64:
		return x
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

// looseEquals implements `==`; strictEquals implements `===`.
func strictEquals(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	switch x := a.(type) {
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	}
	// Reference identity for objects, arrays, and callables.
	return fmt.Sprintf("%p", a) == fmt.Sprintf("%p", b) && a != nil && b != nil
}

func looseEquals(a, b any) bool {
	if strictEquals(a, b) {
		return true
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return toNumber(a) == toNumber(b)
}

// newErrorObject builds the flow-visible shape of a thrown Error.
func newErrorObject(name, message string) map[string]any {
	return map[string]any{"name": name, "message": message}
}
