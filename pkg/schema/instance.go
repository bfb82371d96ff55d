package schema

// NodeKind distinguishes a plain service call from a composite workflow call.
type NodeKind string

const (
	NodeKindService  NodeKind = "service"
	NodeKindWorkflow NodeKind = "workflow"
)

// ParamKind classifies the syntactic shape of a parameter value.
type ParamKind string

const (
	ParamString   ParamKind = "string"
	ParamNumber   ParamKind = "number"
	ParamBoolean  ParamKind = "boolean"
	ParamVariable ParamKind = "variable"
	ParamExpr     ParamKind = "expression"
	ParamObject   ParamKind = "object"
	ParamArray    ParamKind = "array"
	ParamEnv      ParamKind = "env"
)

// ParamProvenance records how a parameter reached the instantiation.
// It governs whether a rewrite must preserve a spread or may flatten the
// parameter into a named property.
type ParamProvenance string

const (
	// ProvenanceNamed is a plain `name: value` property.
	ProvenanceNamed ParamProvenance = "named"
	// ProvenanceObjectSpread is a `...obj` element inside the argument object.
	ProvenanceObjectSpread ParamProvenance = "object_spread"
	// ProvenanceEntireArgument marks a variable standing in for the whole
	// first call argument (`new X(params)`); rewrites must spread it.
	ProvenanceEntireArgument ParamProvenance = "entire_argument"
)

// Span is an inclusive source region. Lines and columns are 1-based.
type Span struct {
	StartLine int `json:"start_line"`
	StartCol  int `json:"start_col"`
	EndLine   int `json:"end_line"`
	EndCol    int `json:"end_col"`
}

// Contains reports whether line falls inside the span.
func (s Span) Contains(line int) bool {
	return line >= s.StartLine && line <= s.EndLine
}

// Lines returns the number of source lines the span covers.
func (s Span) Lines() int {
	return s.EndLine - s.StartLine + 1
}

// Parameter is one parameter of an operation instantiation.
type Parameter struct {
	Name       string          `json:"name"`
	Value      string          `json:"value"` // raw source text of the value
	Kind       ParamKind       `json:"kind"`
	Provenance ParamProvenance `json:"provenance"`
}

// OperationInstance is one instantiation+invocation of a callable operation
// inside a flow script. Instances are rebuilt from scratch on every parse;
// the ID is derived from syntactic position and is stable for identical text.
type OperationInstance struct {
	ID            int              `json:"id"`
	Name          string           `json:"name"`      // bound variable name, or synthesized
	TypeName      string           `json:"type_name"` // declared operation class name
	Kind          NodeKind         `json:"kind"`
	Span          Span             `json:"span"`
	Parameters    []Parameter      `json:"parameters"`
	Awaited       bool             `json:"awaited"`
	HasActionCall bool             `json:"has_action_call"`
	Dependencies  []DependencyEdge `json:"dependencies,omitempty"`
}

// DependencyEdge is a visualization-only link from this instance to another
// instance whose result it consumes.
type DependencyEdge struct {
	FromID   int    `json:"from_id"`
	Variable string `json:"variable"`
}

// Parameter returns the named parameter, or nil.
func (oi *OperationInstance) Parameter(name string) *Parameter {
	for i := range oi.Parameters {
		if oi.Parameters[i].Name == name {
			return &oi.Parameters[i]
		}
	}
	return nil
}
