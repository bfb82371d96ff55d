package script

import (
	"sort"

	"github.com/reflow-sh/reflow/pkg/schema"
)

// ScopeKind classifies lexical scopes.
type ScopeKind string

const (
	ScopeGlobal      ScopeKind = "global"
	ScopeModule      ScopeKind = "module"
	ScopeFunction    ScopeKind = "function"
	ScopeBlock       ScopeKind = "block"
	ScopeLoop        ScopeKind = "loop"
	ScopeConditional ScopeKind = "conditional"
)

// scope-kind priority for visibility tie-breaking: block > loop > function >
// module > global.
var scopePriority = map[ScopeKind]int{
	ScopeBlock:       5,
	ScopeLoop:        4,
	ScopeConditional: 4,
	ScopeFunction:    3,
	ScopeModule:      2,
	ScopeGlobal:      1,
}

// Binding is one declared name with its precise declaration source span.
type Binding struct {
	Name     string
	Kind     string // const, let, var, param, class, import, interface, catch
	DeclLine int
	DeclCol  int
	Span     schema.Span
}

// Scope is one lexical scope: it knows its enclosing scope, its span, and
// the bindings declared directly inside it.
type Scope struct {
	Kind     ScopeKind
	Span     schema.Span
	Parent   *Scope
	Children []*Scope
	Bindings []Binding
}

func (s *Scope) addChild(kind ScopeKind, span schema.Span) *Scope {
	child := &Scope{Kind: kind, Span: span, Parent: s}
	s.Children = append(s.Children, child)
	return child
}

func (s *Scope) bind(name, kind string, sp schema.Span) {
	s.Bindings = append(s.Bindings, Binding{
		Name: name, Kind: kind,
		DeclLine: sp.StartLine, DeclCol: sp.StartCol,
		Span: sp,
	})
}

func (s *Scope) bindPattern(pat Pattern, kind string) {
	for _, name := range pat.Names() {
		s.bind(name, kind, pat.Span())
	}
}

// ScopeGraph is the lexical scope structure of one parsed module.
type ScopeGraph struct {
	Global *Scope
	Module *Scope
}

// identifiers that exist ambiently and must never be reported as flow
// variables.
var builtinGlobals = map[string]bool{
	"console": true, "Math": true, "JSON": true, "Date": true,
	"Promise": true, "Object": true, "Array": true, "String": true,
	"Number": true, "Boolean": true, "Error": true, "process": true,
	"undefined": true, "null": true, "NaN": true, "Infinity": true,
	"parseInt": true, "parseFloat": true, "isNaN": true, "structuredClone": true,
	"setTimeout": true, "fetch": true,
}

// BuildScopes computes the lexical scope graph for a parsed module.
func BuildScopes(m *Module) *ScopeGraph {
	global := &Scope{Kind: ScopeGlobal, Span: schema.Span{StartLine: 1, StartCol: 1, EndLine: 1 << 30, EndCol: 1 << 30}}
	mod := global.addChild(ScopeModule, m.Span())

	for _, st := range m.Stmts {
		switch d := st.(type) {
		case *ImportDecl:
			for _, n := range d.Names {
				mod.bind(n, "import", d.Span())
			}
		case *InterfaceDecl:
			mod.bind(d.Name, "interface", d.Span())
		case *ClassDecl:
			mod.bind(d.Name, "class", d.Span())
			for _, meth := range d.Methods {
				fn := mod.addChild(ScopeFunction, meth.Span())
				for _, param := range meth.Params {
					fn.bindPattern(param.Pat, "param")
				}
				walkBlockInto(fn, meth.Body)
			}
		default:
			walkStmtScopes(mod, st)
		}
	}
	return &ScopeGraph{Global: global, Module: mod}
}

// walkBlockInto records a block's statements directly into scope (the block
// braces belong to the owning construct, not a fresh block scope).
func walkBlockInto(scope *Scope, block *BlockStmt) {
	if block == nil {
		return
	}
	for _, st := range block.Stmts {
		walkStmtScopes(scope, st)
	}
}

func walkStmtScopes(scope *Scope, st Stmt) {
	switch s := st.(type) {
	case *VarDecl:
		scope.bindPattern(s.Pat, s.Kind)
		walkExprScopes(scope, s.Init)

	case *ExprStmt:
		walkExprScopes(scope, s.X)

	case *ReturnStmt:
		walkExprScopes(scope, s.X)

	case *ThrowStmt:
		walkExprScopes(scope, s.X)

	case *BlockStmt:
		child := scope.addChild(ScopeBlock, s.Span())
		walkBlockInto(child, s)

	case *IfStmt:
		walkExprScopes(scope, s.Test)
		then := scope.addChild(ScopeConditional, s.Then.Span())
		walkBlockInto(then, s.Then)
		switch e := s.Else.(type) {
		case *BlockStmt:
			els := scope.addChild(ScopeConditional, e.Span())
			walkBlockInto(els, e)
		case *IfStmt:
			walkStmtScopes(scope, e)
		}

	case *ForOfStmt:
		walkExprScopes(scope, s.Iterable)
		loop := scope.addChild(ScopeLoop, s.Span())
		loop.bindPattern(s.Pat, s.DeclKind)
		walkBlockInto(loop, s.Body)

	case *ForStmt:
		loop := scope.addChild(ScopeLoop, s.Span())
		if s.Init != nil {
			walkStmtScopes(loop, s.Init)
		}
		walkExprScopes(loop, s.Test)
		walkExprScopes(loop, s.Post)
		walkBlockInto(loop, s.Body)

	case *WhileStmt:
		walkExprScopes(scope, s.Test)
		loop := scope.addChild(ScopeLoop, s.Span())
		walkBlockInto(loop, s.Body)

	case *TryStmt:
		tryScope := scope.addChild(ScopeBlock, s.Block.Span())
		walkBlockInto(tryScope, s.Block)
		if s.Catch != nil {
			catchScope := scope.addChild(ScopeBlock, s.Catch.Span())
			if s.CatchParam != "" {
				catchScope.bind(s.CatchParam, "catch", s.Catch.Span())
			}
			walkBlockInto(catchScope, s.Catch)
		}
		if s.Finally != nil {
			fin := scope.addChild(ScopeBlock, s.Finally.Span())
			walkBlockInto(fin, s.Finally)
		}
	}
}

// walkExprScopes descends into expressions that open new scopes (arrow
// function bodies).
func walkExprScopes(scope *Scope, x Expr) {
	switch e := x.(type) {
	case nil:
	case *ArrowFunc:
		fn := scope.addChild(ScopeFunction, e.Span())
		for _, p := range e.Params {
			fn.bindPattern(p, "param")
		}
		if e.Body != nil {
			walkBlockInto(fn, e.Body)
		} else {
			walkExprScopes(fn, e.ExprBody)
		}
	case *ParenExpr:
		walkExprScopes(scope, e.X)
	case *AwaitExpr:
		walkExprScopes(scope, e.X)
	case *UnaryExpr:
		walkExprScopes(scope, e.X)
	case *BinaryExpr:
		walkExprScopes(scope, e.L)
		walkExprScopes(scope, e.R)
	case *CondExpr:
		walkExprScopes(scope, e.Test)
		walkExprScopes(scope, e.Then)
		walkExprScopes(scope, e.Else)
	case *AssignExpr:
		walkExprScopes(scope, e.Target)
		walkExprScopes(scope, e.Value)
	case *CallExpr:
		walkExprScopes(scope, e.Callee)
		for _, a := range e.Args {
			walkExprScopes(scope, a)
		}
	case *NewExpr:
		for _, a := range e.Args {
			walkExprScopes(scope, a)
		}
	case *MemberExpr:
		walkExprScopes(scope, e.X)
	case *IndexExpr:
		walkExprScopes(scope, e.X)
		walkExprScopes(scope, e.Index)
	case *ObjectLit:
		for _, p := range e.Props {
			walkExprScopes(scope, p.Value)
		}
	case *ArrayLit:
		for _, el := range e.Elems {
			walkExprScopes(scope, el)
		}
	case *SpreadExpr:
		walkExprScopes(scope, e.X)
	}
}

// ScopesContaining returns every scope whose span contains the line,
// excluding the synthetic global scope.
func (g *ScopeGraph) ScopesContaining(line int) []*Scope {
	var out []*Scope
	var visit func(s *Scope)
	visit = func(s *Scope) {
		if s.Kind != ScopeGlobal && s.Span.Contains(line) {
			out = append(out, s)
		}
		for _, c := range s.Children {
			visit(c)
		}
	}
	visit(g.Global)
	return out
}

// ControlScopes returns every loop/conditional/block scope in the graph, in
// source order. Used by the execution planner.
func (g *ScopeGraph) ControlScopes() []*Scope {
	var out []*Scope
	var visit func(s *Scope)
	visit = func(s *Scope) {
		switch s.Kind {
		case ScopeLoop, ScopeConditional, ScopeBlock:
			out = append(out, s)
		}
		for _, c := range s.Children {
			visit(c)
		}
	}
	visit(g.Global)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Span.StartLine != out[j].Span.StartLine {
			return out[i].Span.StartLine < out[j].Span.StartLine
		}
		return out[i].Span.EndLine > out[j].Span.EndLine
	})
	return out
}

// VariablesVisibleAtLine returns every binding visible at the line: bindings
// of every scope textually containing the line plus each candidate's
// ancestor chain, declared at or before the line, built-ins excluded. When
// the same name is bound more than once, the narrowest containing scope
// wins, then the higher scope-kind priority.
func (g *ScopeGraph) VariablesVisibleAtLine(line int) []Binding {
	candidates := g.ScopesContaining(line)

	sort.SliceStable(candidates, func(i, j int) bool {
		si := spanSize(candidates[i].Span)
		sj := spanSize(candidates[j].Span)
		if si != sj {
			return si < sj
		}
		return scopePriority[candidates[i].Kind] > scopePriority[candidates[j].Kind]
	})

	seen := make(map[string]bool)
	var out []Binding
	for _, cand := range candidates {
		for s := cand; s != nil; s = s.Parent {
			for _, b := range s.Bindings {
				if b.DeclLine > line || builtinGlobals[b.Name] || seen[b.Name] {
					continue
				}
				seen[b.Name] = true
				out = append(out, b)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DeclLine != out[j].DeclLine {
			return out[i].DeclLine < out[j].DeclLine
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func spanSize(s schema.Span) int {
	return (s.EndLine-s.StartLine)*1000 + (s.EndCol - s.StartCol)
}
