package script

import (
	"strings"
	"sync"

	"github.com/reflow-sh/reflow/pkg/schema"
)

// FlowScript owns the current source text, its syntax tree, its lexical
// scope graph, and the derived operation-instance set. Rewrite passes mutate
// the text and must call Reparse before further structural queries are
// trusted; no internal locking is provided, callers serialize mutation of a
// single instance.
type FlowScript struct {
	mu        sync.Mutex
	source    string
	module    *Module
	scopes    *ScopeGraph
	instances []*schema.OperationInstance

	// instrumented guards the runner's inject-at-most-once discipline.
	instrumented bool
}

// NewFlowScript parses source and returns a ready FlowScript.
func NewFlowScript(source string) (*FlowScript, error) {
	fs := &FlowScript{source: source}
	if err := fs.Reparse(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Source returns the current text.
func (fs *FlowScript) Source() string { return fs.source }

// Module returns the current syntax tree.
func (fs *FlowScript) Module() *Module { return fs.module }

// Scopes returns the current lexical scope graph.
func (fs *FlowScript) Scopes() *ScopeGraph { return fs.scopes }

// Instances returns the current operation-instance set.
func (fs *FlowScript) Instances() []*schema.OperationInstance { return fs.instances }

// Instance returns the operation instance with the given stable ID, or nil.
func (fs *FlowScript) Instance(id int) *schema.OperationInstance {
	for _, inst := range fs.instances {
		if inst.ID == id {
			return inst
		}
	}
	return nil
}

// Reparse rebuilds the tree, scope graph, and instance set from the current
// text. The deterministic-identifier generator is reset inside Parse, so
// identical text always yields identical instance IDs.
func (fs *FlowScript) Reparse() error {
	m, err := Parse(fs.source)
	if err != nil {
		return err
	}
	fs.module = m
	fs.scopes = BuildScopes(m)
	fs.instances = ExtractInstances(fs.source, m)
	return nil
}

// SetSource replaces the text and reparses.
func (fs *FlowScript) SetSource(source string) error {
	fs.source = source
	return fs.Reparse()
}

// Lines returns the source split into lines (without terminators).
func (fs *FlowScript) Lines() []string {
	return strings.Split(fs.source, "\n")
}

// VariablesVisibleAtLine answers "what flow variables exist at line n".
func (fs *FlowScript) VariablesVisibleAtLine(line int) []Binding {
	return fs.scopes.VariablesVisibleAtLine(line)
}

// InjectLines inserts lines before the 1-based line atLine. It is a
// low-level text mutation: the caller is responsible for calling Reparse
// before trusting any further spatial query.
func (fs *FlowScript) InjectLines(lines []string, atLine int) {
	src := fs.Lines()
	if atLine < 1 {
		atLine = 1
	}
	if atLine > len(src)+1 {
		atLine = len(src) + 1
	}
	out := make([]string, 0, len(src)+len(lines))
	out = append(out, src[:atLine-1]...)
	out = append(out, lines...)
	out = append(out, src[atLine-1:]...)
	fs.source = strings.Join(out, "\n")
}

// ReassignDeclarationValue replaces the initializer text of the named
// declaration. Like InjectLines, callers must Reparse afterward.
func (fs *FlowScript) ReassignDeclarationValue(name, newText string) error {
	decl := fs.findDeclaration(fs.module, name)
	if decl == nil || decl.Init == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no declaration with initializer for %q", name)
	}
	start, end := decl.Init.Offsets()
	fs.source = fs.source[:start] + newText + fs.source[end:]
	return nil
}

func (fs *FlowScript) findDeclaration(m *Module, name string) *VarDecl {
	var found *VarDecl
	var visitStmt func(Stmt)
	visitBlock := func(b *BlockStmt) {
		if b == nil || found != nil {
			return
		}
		for _, st := range b.Stmts {
			visitStmt(st)
		}
	}
	visitStmt = func(st Stmt) {
		if found != nil {
			return
		}
		switch s := st.(type) {
		case *VarDecl:
			for _, n := range s.Pat.Names() {
				if n == name {
					found = s
					return
				}
			}
		case *BlockStmt:
			visitBlock(s)
		case *IfStmt:
			visitBlock(s.Then)
			if e, ok := s.Else.(*BlockStmt); ok {
				visitBlock(e)
			} else if e, ok := s.Else.(*IfStmt); ok {
				visitStmt(e)
			}
		case *ForOfStmt:
			visitBlock(s.Body)
		case *ForStmt:
			visitBlock(s.Body)
		case *WhileStmt:
			visitBlock(s.Body)
		case *TryStmt:
			visitBlock(s.Block)
			visitBlock(s.Catch)
			visitBlock(s.Finally)
		case *ClassDecl:
			for _, meth := range s.Methods {
				visitBlock(meth.Body)
			}
		}
	}
	for _, st := range m.Stmts {
		visitStmt(st)
	}
	return found
}

// OffsetAt converts a 1-based (line, col) position to a byte offset.
func (fs *FlowScript) OffsetAt(line, col int) int {
	off := indexOfLine(fs.source, line)
	return off + col - 1
}

// SliceSpan returns the exact source text a span covers (inclusive columns).
func (fs *FlowScript) SliceSpan(sp schema.Span) string {
	start := fs.OffsetAt(sp.StartLine, sp.StartCol)
	end := fs.OffsetAt(sp.EndLine, sp.EndCol) + 1
	if start < 0 || end > len(fs.source) || start > end {
		return ""
	}
	return fs.source[start:end]
}

// ReplaceSpan splices replacement text over a span and returns the line
// delta (negative when the replacement has fewer lines than the original).
// The caller tracks deltas across a pass and Reparses when done.
func (fs *FlowScript) ReplaceSpan(sp schema.Span, text string) int {
	start := fs.OffsetAt(sp.StartLine, sp.StartCol)
	end := fs.OffsetAt(sp.EndLine, sp.EndCol) + 1
	if start < 0 || end > len(fs.source) || start > end {
		return 0
	}
	oldLines := strings.Count(fs.source[start:end], "\n")
	newLines := strings.Count(text, "\n")
	fs.source = fs.source[:start] + text + fs.source[end:]
	return newLines - oldLines
}

// MarkInstrumented flips the instrument-once guard; it reports whether the
// script was already instrumented.
func (fs *FlowScript) MarkInstrumented() bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	was := fs.instrumented
	fs.instrumented = true
	return was
}

// Instrumented reports whether instrumentation has been injected.
func (fs *FlowScript) Instrumented() bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.instrumented
}
