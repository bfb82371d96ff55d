package instrument

import (
	"fmt"
	"strings"

	"github.com/reflow-sh/reflow/internal/script"
	"github.com/reflow-sh/reflow/pkg/schema"
)

// InjectLineLogging adds one trace marker per top-level statement of the
// entry method, recording the line the statement had before instrumentation
// shifted the text. Must run after call logging: the marker positions are
// computed against the already-shifted tree while the recorded lines come
// from the origin map.
func (in *Instrumenter) InjectLineLogging() error {
	handle := in.fs.Module().Method(script.EntryMethod)
	if handle == nil || handle.Body == nil {
		return schema.NewErrorf(schema.ErrCodeParse, "flow class declares no %s method", script.EntryMethod)
	}

	type marker struct {
		atLine int // inserted before this line
		indent int
		orig   int
		kind   string
	}
	var markers []marker

	// Consecutive statements sharing an origin line are one rewritten call
	// block; it gets a single marker after its last statement.
	stmts := handle.Body.Stmts
	for i := 0; i < len(stmts); {
		orig := in.originAt(stmts[i].Span().StartLine)
		if orig == 0 {
			i++
			continue
		}
		j := i
		for j+1 < len(stmts) && in.originAt(stmts[j+1].Span().StartLine) == orig {
			j++
		}
		last := stmts[j]
		kind := groupKind(stmts[i : j+1])
		m := marker{
			indent: last.Span().StartCol - 1,
			orig:   orig,
			kind:   kind,
		}
		if exitsEarly(kind) {
			m.atLine = firstOwnStatement(stmts[i : j+1]).Span().StartLine
		} else {
			m.atLine = last.Span().EndLine + 1
		}
		markers = append(markers, m)
		i = j + 1
	}
	if len(markers) == 0 {
		return nil
	}

	for i := len(markers) - 1; i >= 0; i-- {
		m := markers[i]
		line := strings.Repeat(" ", m.indent) +
			fmt.Sprintf("%s.logger?.logLine(%d, '%s');", SelfRef, m.orig, m.kind)
		in.fs.InjectLines([]string{line}, m.atLine)
		in.spliceOrigin(m.atLine, 0, 1, 0)
	}
	return in.fs.Reparse()
}

// exitsEarly reports statement kinds whose marker must precede them, since
// text after them never runs.
func exitsEarly(kind string) bool {
	switch kind {
	case "return", "throw", "break", "continue":
		return true
	}
	return false
}

// firstOwnStatement picks the statement an early-exit marker goes before: the
// exit itself, skipping any wrapper prologue the group starts with.
func firstOwnStatement(group []script.Stmt) script.Stmt {
	for _, st := range group {
		if stmtKind(st) == groupKind(group) && !isArtifact(st) {
			return st
		}
	}
	return group[len(group)-1]
}

// groupKind derives the traced kind for a statement group. A rewritten call
// block reports the kind of its reconstructed statement; a block with no
// reconstruction was a bare expression call.
func groupKind(group []script.Stmt) string {
	for i := len(group) - 1; i >= 0; i-- {
		if !isArtifact(group[i]) {
			return stmtKind(group[i])
		}
	}
	return "expression"
}

// isArtifact reports statements this package injected itself: wrapper-local
// declarations and logger calls. They never receive line markers.
func isArtifact(st script.Stmt) bool {
	switch s := st.(type) {
	case *script.VarDecl:
		names := s.Pat.Names()
		if len(names) == 0 {
			return false
		}
		for _, n := range names {
			if !strings.HasPrefix(n, "__") {
				return false
			}
		}
		return true
	case *script.ExprStmt:
		return isLoggerCall(s.X)
	}
	return false
}

func isLoggerCall(e script.Expr) bool {
	call, ok := e.(*script.CallExpr)
	if !ok {
		return false
	}
	mem, ok := call.Callee.(*script.MemberExpr)
	if !ok {
		return false
	}
	inner, ok := mem.X.(*script.MemberExpr)
	if !ok || inner.Prop != "logger" {
		return false
	}
	id, ok := inner.X.(*script.Ident)
	return ok && id.Name == SelfRef
}

func stmtKind(st script.Stmt) string {
	switch st.(type) {
	case *script.VarDecl:
		return "declaration"
	case *script.ExprStmt:
		return "expression"
	case *script.ReturnStmt:
		return "return"
	case *script.IfStmt:
		return "conditional"
	case *script.ForOfStmt, *script.ForStmt, *script.WhileStmt:
		return "loop"
	case *script.TryStmt:
		return "try"
	case *script.ThrowStmt:
		return "throw"
	case *script.BlockStmt:
		return "block"
	case *script.BreakStmt:
		return "break"
	case *script.ContinueStmt:
		return "continue"
	}
	return "statement"
}
