// Package plan derives an ordered execution plan from a flow script: a
// read-only projection over operation spans and scope structure describing
// anticipated execution. Plans are informational; the runner never consumes
// them. A plan is built once per script snapshot and is stale after any
// further rewrite.
package plan

import (
	"fmt"
	"sort"

	"github.com/reflow-sh/reflow/internal/script"
	"github.com/reflow-sh/reflow/pkg/schema"
)

// Build partitions the script into a setup region before the first operation
// instance, a finalization region after the last, and, in between, one
// control-flow group per loop/conditional/block scope containing instances
// plus one standalone operation block per instance outside any such scope.
func Build(fs *script.FlowScript) (*schema.ExecutionPlan, error) {
	instances := fs.Instances()
	lineCount := len(fs.Lines())

	if len(instances) == 0 {
		return &schema.ExecutionPlan{Steps: []schema.PlanStep{{
			Kind:      schema.StepSetup,
			Label:     "setup",
			StartLine: 1,
			EndLine:   lineCount,
		}}}, nil
	}

	sorted := make([]*schema.OperationInstance, len(instances))
	copy(sorted, instances)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Span.StartLine < sorted[j].Span.StartLine
	})

	// Assign each instance to the narrowest control scope containing it.
	controls := fs.Scopes().ControlScopes()
	groups := make(map[*script.Scope][]*schema.OperationInstance)
	var standalone []*schema.OperationInstance
	for _, inst := range sorted {
		if s := narrowestControl(controls, inst.Span.StartLine); s != nil {
			groups[s] = append(groups[s], inst)
		} else {
			standalone = append(standalone, inst)
		}
	}

	var steps []schema.PlanStep

	first := sorted[0].Span.StartLine
	if first > 1 {
		steps = append(steps, schema.PlanStep{
			Kind:      schema.StepSetup,
			Label:     "setup",
			StartLine: 1,
			EndLine:   first - 1,
		})
	}

	for _, scope := range controls {
		members, ok := groups[scope]
		if !ok {
			continue
		}
		step := schema.PlanStep{
			Kind:      schema.StepControlFlow,
			Label:     fmt.Sprintf("%s group (%d operations)", scope.Kind, len(members)),
			StartLine: scope.Span.StartLine,
			EndLine:   scope.Span.EndLine,
			ScopeKind: string(scope.Kind),
		}
		for _, inst := range members {
			step.MiniSteps = append(step.MiniSteps, miniStepsFor(fs, inst)...)
		}
		steps = append(steps, step)
	}

	for _, inst := range standalone {
		steps = append(steps, schema.PlanStep{
			Kind:      schema.StepOperation,
			Label:     inst.TypeName,
			StartLine: inst.Span.StartLine,
			EndLine:   inst.Span.EndLine,
			MiniSteps: miniStepsFor(fs, inst),
		})
	}

	last := sorted[len(sorted)-1].Span.EndLine
	if last < lineCount {
		steps = append(steps, schema.PlanStep{
			Kind:      schema.StepFinalization,
			Label:     "finalization",
			StartLine: last + 1,
			EndLine:   lineCount,
		})
	}

	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].StartLine < steps[j].StartLine
	})
	return &schema.ExecutionPlan{Steps: steps}, nil
}

// narrowestControl returns the smallest control scope whose span contains the
// line, or nil.
func narrowestControl(controls []*script.Scope, line int) *script.Scope {
	var best *script.Scope
	for _, s := range controls {
		if !s.Span.Contains(line) {
			continue
		}
		if best == nil || scopeLines(s) < scopeLines(best) {
			best = s
		}
	}
	return best
}

func scopeLines(s *script.Scope) int {
	return s.Span.EndLine - s.Span.StartLine
}

// miniStepsFor builds the instantiate/execute pair for one instance. The
// execute line is located by walking the tree for the `.action()` call on the
// instantiation; when none is found the instance's end line stands in as an
// estimate.
func miniStepsFor(fs *script.FlowScript, inst *schema.OperationInstance) []schema.MiniStep {
	execLine, found := actionCallLine(fs.Module(), inst.ID)
	if !found {
		execLine = inst.Span.EndLine
	}
	return []schema.MiniStep{
		{
			Kind:   schema.MiniStepInstantiate,
			OpID:   inst.ID,
			OpType: inst.TypeName,
			Line:   inst.Span.StartLine,
		},
		{
			Kind:          schema.MiniStepExecute,
			OpID:          inst.ID,
			OpType:        inst.TypeName,
			Line:          execLine,
			LineEstimated: !found,
		},
	}
}

// actionCallLine walks the module for `new X(...).action()` over the
// instantiation with the given stable ID and returns the call's line.
func actionCallLine(m *script.Module, id int) (int, bool) {
	line, found := 0, false
	var visitExpr func(e script.Expr)
	var visitStmt func(st script.Stmt)

	visitExpr = func(e script.Expr) {
		if found || e == nil {
			return
		}
		switch x := e.(type) {
		case *script.CallExpr:
			if mem, ok := x.Callee.(*script.MemberExpr); ok && mem.Prop == "action" {
				target := mem.X
				if par, ok := target.(*script.ParenExpr); ok {
					target = par.X
				}
				if ne, ok := target.(*script.NewExpr); ok && ne.ID == id {
					line, found = x.Span().EndLine, true
					return
				}
			}
			visitExpr(x.Callee)
			for _, a := range x.Args {
				visitExpr(a)
			}
		case *script.NewExpr:
			for _, a := range x.Args {
				visitExpr(a)
			}
		case *script.MemberExpr:
			visitExpr(x.X)
		case *script.IndexExpr:
			visitExpr(x.X)
			visitExpr(x.Index)
		case *script.AwaitExpr:
			visitExpr(x.X)
		case *script.ParenExpr:
			visitExpr(x.X)
		case *script.UnaryExpr:
			visitExpr(x.X)
		case *script.BinaryExpr:
			visitExpr(x.L)
			visitExpr(x.R)
		case *script.CondExpr:
			visitExpr(x.Test)
			visitExpr(x.Then)
			visitExpr(x.Else)
		case *script.AssignExpr:
			visitExpr(x.Target)
			visitExpr(x.Value)
		case *script.ObjectLit:
			for _, p := range x.Props {
				visitExpr(p.Value)
			}
		case *script.ArrayLit:
			for _, el := range x.Elems {
				visitExpr(el)
			}
		case *script.SpreadExpr:
			visitExpr(x.X)
		case *script.ArrowFunc:
			if x.Body != nil {
				visitStmt(x.Body)
			} else {
				visitExpr(x.ExprBody)
			}
		}
	}
	visitStmt = func(st script.Stmt) {
		if found || st == nil {
			return
		}
		switch s := st.(type) {
		case *script.VarDecl:
			visitExpr(s.Init)
		case *script.ExprStmt:
			visitExpr(s.X)
		case *script.ReturnStmt:
			visitExpr(s.X)
		case *script.ThrowStmt:
			visitExpr(s.X)
		case *script.BlockStmt:
			if s == nil {
				return
			}
			for _, inner := range s.Stmts {
				visitStmt(inner)
			}
		case *script.IfStmt:
			visitExpr(s.Test)
			visitStmt(s.Then)
			visitStmt(s.Else)
		case *script.ForOfStmt:
			visitExpr(s.Iterable)
			visitStmt(s.Body)
		case *script.ForStmt:
			visitStmt(s.Init)
			visitExpr(s.Test)
			visitExpr(s.Post)
			visitStmt(s.Body)
		case *script.WhileStmt:
			visitExpr(s.Test)
			visitStmt(s.Body)
		case *script.TryStmt:
			visitStmt(s.Block)
			visitStmt(s.Catch)
			visitStmt(s.Finally)
		case *script.ClassDecl:
			for _, meth := range s.Methods {
				visitStmt(meth.Body)
			}
		}
	}
	for _, st := range m.Stmts {
		visitStmt(st)
	}
	return line, found
}
