package instrument

import (
	"strings"

	"github.com/reflow-sh/reflow/internal/script"
	"github.com/reflow-sh/reflow/pkg/schema"
)

// InjectSelfCapture inserts `const __self = this;` as the first statement of
// every method body. The pass is idempotent: a body whose first statement
// already declares the capture is left untouched, so re-running
// instrumentation never stacks duplicate bindings.
func (in *Instrumenter) InjectSelfCapture() error {
	cls := in.fs.Module().Class()
	if cls == nil {
		return schema.NewError(schema.ErrCodeParse, "script declares no flow class")
	}

	type insertion struct {
		atLine int
		indent int
	}
	var plan []insertion
	for _, meth := range cls.Methods {
		if meth.Body == nil {
			continue
		}
		body := meth.Body.Span()
		if body.StartLine == body.EndLine {
			// Single-line bodies have no line to insert before the
			// closing brace; nothing inside them rebinds `this` anyway.
			continue
		}
		if hasSelfCapture(meth.Body) {
			continue
		}
		plan = append(plan, insertion{
			atLine: body.StartLine + 1,
			indent: meth.Span().StartCol - 1 + 2,
		})
	}
	if len(plan) == 0 {
		return nil
	}

	// Insert bottom-up so earlier insertion points stay valid.
	for i := len(plan) - 1; i >= 0; i-- {
		ins := plan[i]
		line := strings.Repeat(" ", ins.indent) + "const " + SelfRef + " = this;"
		in.fs.InjectLines([]string{line}, ins.atLine)
		in.spliceOrigin(ins.atLine, 0, 1, 0)
	}
	return in.fs.Reparse()
}

func hasSelfCapture(body *script.BlockStmt) bool {
	if len(body.Stmts) == 0 {
		return false
	}
	decl, ok := body.Stmts[0].(*script.VarDecl)
	if !ok {
		return false
	}
	for _, n := range decl.Pat.Names() {
		if n == SelfRef {
			return true
		}
	}
	return false
}
