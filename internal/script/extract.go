package script

import (
	"fmt"
	"sort"
	"strings"

	"github.com/reflow-sh/reflow/pkg/schema"
)

// ExtractInstances walks the tree for every `new <Type>({...}).action()`
// shaped construct and produces the operation-instance set shared by every
// downstream pass. Instances are rebuilt from scratch on each parse; IDs come
// from the position-keyed generator so identical text yields identical IDs.
func ExtractInstances(src string, m *Module) []*schema.OperationInstance {
	ex := &extractor{src: src}
	for _, st := range m.Stmts {
		if c, ok := st.(*ClassDecl); ok {
			for _, meth := range c.Methods {
				ex.walkBlock(meth.Body)
			}
		}
	}
	sort.SliceStable(ex.instances, func(i, j int) bool {
		return ex.instances[i].ID < ex.instances[j].ID
	})
	ex.linkDependencies()
	return ex.instances
}

type extractor struct {
	src       string
	instances []*schema.OperationInstance
}

func (ex *extractor) walkBlock(b *BlockStmt) {
	if b == nil {
		return
	}
	for _, st := range b.Stmts {
		ex.walkStmt(st)
	}
}

func (ex *extractor) walkStmt(st Stmt) {
	switch s := st.(type) {
	case *VarDecl:
		ex.walkExpr(s.Init, exprCtx{boundName: patternName(s.Pat)})
	case *ExprStmt:
		ex.walkExpr(s.X, exprCtx{})
	case *ReturnStmt:
		ex.walkExpr(s.X, exprCtx{})
	case *ThrowStmt:
		ex.walkExpr(s.X, exprCtx{})
	case *BlockStmt:
		ex.walkBlock(s)
	case *IfStmt:
		ex.walkExpr(s.Test, exprCtx{})
		ex.walkBlock(s.Then)
		switch e := s.Else.(type) {
		case *BlockStmt:
			ex.walkBlock(e)
		case *IfStmt:
			ex.walkStmt(e)
		}
	case *ForOfStmt:
		ex.walkExpr(s.Iterable, exprCtx{})
		ex.walkBlock(s.Body)
	case *ForStmt:
		if s.Init != nil {
			ex.walkStmt(s.Init)
		}
		ex.walkExpr(s.Test, exprCtx{})
		ex.walkExpr(s.Post, exprCtx{})
		ex.walkBlock(s.Body)
	case *WhileStmt:
		ex.walkExpr(s.Test, exprCtx{})
		ex.walkBlock(s.Body)
	case *TryStmt:
		ex.walkBlock(s.Block)
		ex.walkBlock(s.Catch)
		ex.walkBlock(s.Finally)
	}
}

// exprCtx carries what the walker knows about the surrounding statement.
type exprCtx struct {
	boundName string
	awaited   bool
}

func (ex *extractor) walkExpr(x Expr, ctx exprCtx) {
	switch e := x.(type) {
	case nil:
	case *AwaitExpr:
		ctx.awaited = true
		ex.walkExpr(e.X, ctx)
	case *ParenExpr:
		ex.walkExpr(e.X, ctx)
	case *CallExpr:
		// `new X({...}).action()` shape: the call's callee is a member
		// access named action whose base is the instantiation.
		if mem, ok := e.Callee.(*MemberExpr); ok && mem.Prop == "action" {
			if ne, ok2 := mem.X.(*NewExpr); ok2 {
				ex.record(ne, ctx, true)
				for _, a := range e.Args {
					ex.walkExpr(a, exprCtx{})
				}
				return
			}
		}
		ex.walkExpr(e.Callee, exprCtx{})
		for _, a := range e.Args {
			ex.walkExpr(a, exprCtx{awaited: ctx.awaited})
		}
	case *NewExpr:
		ex.record(e, ctx, false)
	case *AssignExpr:
		if id, ok := e.Target.(*Ident); ok {
			ctx.boundName = id.Name
		}
		ex.walkExpr(e.Value, ctx)
	case *UnaryExpr:
		ex.walkExpr(e.X, exprCtx{})
	case *BinaryExpr:
		ex.walkExpr(e.L, exprCtx{})
		ex.walkExpr(e.R, exprCtx{})
	case *CondExpr:
		ex.walkExpr(e.Test, exprCtx{})
		ex.walkExpr(e.Then, ctx)
		ex.walkExpr(e.Else, ctx)
	case *MemberExpr:
		ex.walkExpr(e.X, ctx)
	case *IndexExpr:
		ex.walkExpr(e.X, exprCtx{})
		ex.walkExpr(e.Index, exprCtx{})
	case *ObjectLit:
		for _, p := range e.Props {
			ex.walkExpr(p.Value, exprCtx{})
		}
	case *ArrayLit:
		for _, el := range e.Elems {
			ex.walkExpr(el, exprCtx{awaited: ctx.awaited})
		}
	case *SpreadExpr:
		ex.walkExpr(e.X, exprCtx{})
	case *ArrowFunc:
		if e.Body != nil {
			ex.walkBlock(e.Body)
		} else {
			ex.walkExpr(e.ExprBody, exprCtx{})
		}
	}
}

// record captures one instantiation, provided the type name is
// operation-shaped. Bare `new Error(...)` and friends are ignored.
func (ex *extractor) record(ne *NewExpr, ctx exprCtx, actionCall bool) {
	for _, a := range ne.Args {
		ex.walkExpr(a, exprCtx{})
	}
	if !isOperationType(ne.TypeName) {
		return
	}

	name := ctx.boundName
	if name == "" {
		name = fmt.Sprintf("%s_%d", lowerFirst(ne.TypeName), ne.ID)
	}

	inst := &schema.OperationInstance{
		ID:            ne.ID,
		Name:          name,
		TypeName:      ne.TypeName,
		Kind:          nodeKindOf(ne.TypeName),
		Span:          ne.Span(),
		Awaited:       ctx.awaited,
		HasActionCall: actionCall,
		Parameters:    ex.extractParams(ne),
	}
	ex.instances = append(ex.instances, inst)
}

func (ex *extractor) extractParams(ne *NewExpr) []schema.Parameter {
	if len(ne.Args) == 0 {
		return nil
	}
	switch arg := ne.Args[0].(type) {
	case *Ident:
		// variable standing in for the whole first argument
		return []schema.Parameter{{
			Name:       arg.Name,
			Value:      arg.Name,
			Kind:       schema.ParamVariable,
			Provenance: schema.ProvenanceEntireArgument,
		}}
	case *ObjectLit:
		params := make([]schema.Parameter, 0, len(arg.Props))
		for _, prop := range arg.Props {
			if prop.Spread {
				params = append(params, schema.Parameter{
					Name:       exprName(prop.Value),
					Value:      RawText(ex.src, prop.Value),
					Kind:       classifyValue(prop.Value),
					Provenance: schema.ProvenanceObjectSpread,
				})
				continue
			}
			params = append(params, schema.Parameter{
				Name:       prop.Key,
				Value:      RawText(ex.src, prop.Value),
				Kind:       classifyValue(prop.Value),
				Provenance: schema.ProvenanceNamed,
			})
		}
		return params
	default:
		return []schema.Parameter{{
			Name:       "",
			Value:      RawText(ex.src, ne.Args[0]),
			Kind:       classifyValue(ne.Args[0]),
			Provenance: schema.ProvenanceEntireArgument,
		}}
	}
}

// linkDependencies builds the visualization-only dependency fragments:
// an edge from instance A to B when one of A's parameter values references
// B's bound result variable.
func (ex *extractor) linkDependencies() {
	byName := make(map[string]*schema.OperationInstance, len(ex.instances))
	for _, inst := range ex.instances {
		byName[inst.Name] = inst
	}
	for _, inst := range ex.instances {
		for _, param := range inst.Parameters {
			for name, other := range byName {
				if other.ID == inst.ID || name == "" {
					continue
				}
				if referencesVariable(param.Value, name) {
					inst.Dependencies = append(inst.Dependencies, schema.DependencyEdge{
						FromID:   other.ID,
						Variable: name,
					})
				}
			}
		}
		sort.Slice(inst.Dependencies, func(i, j int) bool {
			return inst.Dependencies[i].FromID < inst.Dependencies[j].FromID
		})
	}
}

// referencesVariable reports whether the raw value text mentions name as a
// standalone identifier.
func referencesVariable(value, name string) bool {
	idx := 0
	for {
		i := strings.Index(value[idx:], name)
		if i < 0 {
			return false
		}
		i += idx
		before := byte(0)
		if i > 0 {
			before = value[i-1]
		}
		after := byte(0)
		if i+len(name) < len(value) {
			after = value[i+len(name)]
		}
		if !isIdentPart(before) && before != '.' && !isIdentPart(after) {
			return true
		}
		idx = i + len(name)
	}
}

// operation class naming conventions: service and workflow suffixes.
var operationSuffixes = []string{"Bubble", "Operation", "Workflow", "Agent"}

func isOperationType(typeName string) bool {
	for _, suf := range operationSuffixes {
		if strings.HasSuffix(typeName, suf) && typeName != suf {
			return true
		}
	}
	return false
}

func nodeKindOf(typeName string) schema.NodeKind {
	if strings.HasSuffix(typeName, "Workflow") {
		return schema.NodeKindWorkflow
	}
	return schema.NodeKindService
}

func classifyValue(x Expr) schema.ParamKind {
	switch e := x.(type) {
	case *StringLit, *TemplateLit:
		return schema.ParamString
	case *NumberLit:
		return schema.ParamNumber
	case *BoolLit:
		return schema.ParamBoolean
	case *Ident:
		return schema.ParamVariable
	case *ObjectLit:
		return schema.ParamObject
	case *ArrayLit:
		return schema.ParamArray
	case *MemberExpr:
		if isEnvAccess(e) {
			return schema.ParamEnv
		}
		return schema.ParamExpr
	case *IndexExpr:
		if m, ok := e.X.(*MemberExpr); ok && isEnvAccess(m) {
			return schema.ParamEnv
		}
		return schema.ParamExpr
	default:
		return schema.ParamExpr
	}
}

func isEnvAccess(m *MemberExpr) bool {
	if id, ok := m.X.(*Ident); ok && id.Name == "process" && m.Prop == "env" {
		return true
	}
	if inner, ok := m.X.(*MemberExpr); ok {
		if id, ok2 := inner.X.(*Ident); ok2 && id.Name == "process" && inner.Prop == "env" {
			return true
		}
	}
	return false
}

func patternName(p Pattern) string {
	if ip, ok := p.(*IdentPat); ok {
		return ip.Name
	}
	return ""
}

func exprName(x Expr) string {
	if id, ok := x.(*Ident); ok {
		return id.Name
	}
	return ""
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
