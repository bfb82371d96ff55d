package instrument

import (
	"fmt"
	"sort"
	"strings"

	"github.com/reflow-sh/reflow/internal/script"
	"github.com/reflow-sh/reflow/pkg/schema"
)

// Statement shapes a traced call can appear in. The wrapper block re-emits
// the surrounding shape after the call completes so the rewritten text stays
// behaviorally identical.
const (
	shapeExpr = iota
	shapeDecl
	shapeReturn
	shapeAssign
)

type callSite struct {
	method  string // flow method being invoked
	key     string // deterministic call-site key, method_ordinal
	call    *script.CallExpr
	awaited bool

	stmt  script.Stmt // containing statement; nil for parallel elements
	shape int

	declKind string // const/let for shapeDecl
	declPat  string // raw pattern text for shapeDecl
	target   string // raw target text for shapeAssign
	assignOp string

	parallel bool
	elem     script.Expr // the array element to wrap when parallel
}

// InjectCallLogging wraps every recognized invocation of a flow method with
// trace emission: a start-time capture, an arguments capture, call-start and
// call-complete logger calls, and a call-site push/pop pair around the
// original call (await preserved). Elements of a Promise.all array are
// wrapped individually in async IIFEs so the parallel shape survives.
func (in *Instrumenter) InjectCallLogging() error {
	cls := in.fs.Module().Class()
	if cls == nil {
		return schema.NewError(schema.ErrCodeParse, "script declares no flow class")
	}
	methods := make(map[string]bool, len(cls.Methods))
	for _, m := range cls.Methods {
		methods[m.Name] = true
	}

	src := in.fs.Source()
	ordinals := make(map[string]int)
	var sites []*callSite
	for _, m := range cls.Methods {
		if m.Body == nil {
			continue
		}
		collectCallSites(src, m.Body, methods, ordinals, &sites)
	}
	if len(sites) == 0 {
		return nil
	}

	// Ascending by line; same-line sites descending by column so earlier
	// columns keep their offsets until replaced.
	sort.SliceStable(sites, func(i, j int) bool {
		a, b := siteSpan(sites[i]), siteSpan(sites[j])
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		return a.StartCol > b.StartCol
	})

	delta := 0
	for _, site := range sites {
		sp := siteSpan(site)
		shifted := sp
		shifted.StartLine += delta
		shifted.EndLine += delta

		var text string
		if site.parallel {
			text = renderParallelElement(src, site)
		} else {
			text = renderCallBlock(src, site, sp.StartCol-1)
		}
		attr := in.originAt(shifted.StartLine)
		d := in.fs.ReplaceSpan(shifted, text)
		in.spliceOrigin(shifted.StartLine, shifted.EndLine-shifted.StartLine+1,
			shifted.EndLine-shifted.StartLine+1+d, attr)
		delta += d
	}
	return in.fs.Reparse()
}

func siteSpan(s *callSite) schema.Span {
	if s.parallel {
		return s.elem.Span()
	}
	return s.stmt.Span()
}

// collectCallSites walks a block recursively recording call sites in source
// order, so ordinals are stable across runs of the same text.
func collectCallSites(src string, b *script.BlockStmt, methods map[string]bool, ordinals map[string]int, out *[]*callSite) {
	if b == nil {
		return
	}
	var walkStmt func(st script.Stmt)
	record := func(site *callSite) {
		ordinals[site.method]++
		site.key = fmt.Sprintf("%s_%d", site.method, ordinals[site.method])
		*out = append(*out, site)
	}
	recordParallel := func(arr *script.ArrayLit) {
		for _, elem := range arr.Elems {
			inner, awaited := unwrapAwait(elem)
			call, name, ok := flowCall(inner, methods)
			if !ok {
				continue
			}
			record(&callSite{
				method:   name,
				call:     call,
				awaited:  awaited,
				parallel: true,
				elem:     elem,
			})
		}
	}
	walkStmt = func(st script.Stmt) {
		switch s := st.(type) {
		case *script.ExprStmt:
			inner, awaited := unwrapAwait(s.X)
			if arr, ok := promiseAllArray(inner); ok {
				recordParallel(arr)
				return
			}
			if asg, ok := s.X.(*script.AssignExpr); ok {
				inner, awaited := unwrapAwait(asg.Value)
				if arr, ok := promiseAllArray(inner); ok {
					recordParallel(arr)
					return
				}
				if call, name, ok := flowCall(inner, methods); ok {
					record(&callSite{
						method:   name,
						call:     call,
						awaited:  awaited,
						stmt:     st,
						shape:    shapeAssign,
						target:   script.RawText(src, asg.Target),
						assignOp: asg.Op,
					})
				}
				return
			}
			if call, name, ok := flowCall(inner, methods); ok {
				record(&callSite{
					method:  name,
					call:    call,
					awaited: awaited,
					stmt:    st,
					shape:   shapeExpr,
				})
			}
		case *script.VarDecl:
			if s.Init == nil {
				return
			}
			inner, awaited := unwrapAwait(s.Init)
			if arr, ok := promiseAllArray(inner); ok {
				recordParallel(arr)
				return
			}
			if call, name, ok := flowCall(inner, methods); ok {
				record(&callSite{
					method:   name,
					call:     call,
					awaited:  awaited,
					stmt:     st,
					shape:    shapeDecl,
					declKind: s.Kind,
					declPat:  script.RawText(src, s.Pat),
				})
			}
		case *script.ReturnStmt:
			if s.X == nil {
				return
			}
			inner, awaited := unwrapAwait(s.X)
			if call, name, ok := flowCall(inner, methods); ok {
				record(&callSite{
					method:  name,
					call:    call,
					awaited: awaited,
					stmt:    st,
					shape:   shapeReturn,
				})
			}
		case *script.BlockStmt:
			for _, inner := range s.Stmts {
				walkStmt(inner)
			}
		case *script.IfStmt:
			walkBlocks(walkStmt, s.Then)
			if s.Else != nil {
				walkStmt(s.Else)
			}
		case *script.ForOfStmt:
			walkBlocks(walkStmt, s.Body)
		case *script.ForStmt:
			walkBlocks(walkStmt, s.Body)
		case *script.WhileStmt:
			walkBlocks(walkStmt, s.Body)
		case *script.TryStmt:
			walkBlocks(walkStmt, s.Block, s.Catch, s.Finally)
		}
	}
	for _, st := range b.Stmts {
		walkStmt(st)
	}
}

func walkBlocks(walk func(script.Stmt), blocks ...*script.BlockStmt) {
	for _, b := range blocks {
		if b == nil {
			continue
		}
		for _, st := range b.Stmts {
			walk(st)
		}
	}
}

func unwrapAwait(e script.Expr) (script.Expr, bool) {
	if aw, ok := e.(*script.AwaitExpr); ok {
		return aw.X, true
	}
	return e, false
}

// flowCall matches `this.name(...)` and `__self.name(...)` where name is a
// declared flow method.
func flowCall(e script.Expr, methods map[string]bool) (*script.CallExpr, string, bool) {
	call, ok := e.(*script.CallExpr)
	if !ok {
		return nil, "", false
	}
	mem, ok := call.Callee.(*script.MemberExpr)
	if !ok || !methods[mem.Prop] {
		return nil, "", false
	}
	switch x := mem.X.(type) {
	case *script.ThisExpr:
		return call, mem.Prop, true
	case *script.Ident:
		if x.Name == SelfRef {
			return call, mem.Prop, true
		}
	}
	return nil, "", false
}

func promiseAllArray(e script.Expr) (*script.ArrayLit, bool) {
	call, ok := e.(*script.CallExpr)
	if !ok {
		return nil, false
	}
	mem, ok := call.Callee.(*script.MemberExpr)
	if !ok || mem.Prop != "all" {
		return nil, false
	}
	id, ok := mem.X.(*script.Ident)
	if !ok || id.Name != "Promise" || len(call.Args) != 1 {
		return nil, false
	}
	arr, ok := call.Args[0].(*script.ArrayLit)
	return arr, ok
}

// traceLines renders the shared wrapper prologue and epilogue around the
// original call text. src is the pass-start source; raw slices are taken
// before any replacement shifts offsets.
func (s *callSite) traceLines(src string) []string {
	rawCall := script.RawText(src, s.call)
	var args []string
	for _, a := range s.call.Args {
		args = append(args, script.RawText(src, a))
	}
	await := ""
	if s.awaited || s.parallel {
		await = "await "
	}
	k := s.key
	return []string{
		fmt.Sprintf("const __t_%s = Date.now();", k),
		fmt.Sprintf("const __args_%s = [%s];", k, strings.Join(args, ", ")),
		fmt.Sprintf("%s.logger?.logCallStart('%s', __args_%s, '%s');", SelfRef, s.method, k, k),
		fmt.Sprintf("%s.logger?.pushCallSite('%s');", SelfRef, k),
		fmt.Sprintf("const __r_%s = %s%s;", k, await, rawCall),
		fmt.Sprintf("%s.logger?.popCallSite();", SelfRef),
		fmt.Sprintf("%s.logger?.logCallComplete('%s', __r_%s, Date.now() - __t_%s, '%s');", SelfRef, s.method, k, k, k),
	}
}

// renderCallBlock replaces a whole statement. The first line lands on the
// statement's original start column, the rest are indented to match.
func renderCallBlock(src string, s *callSite, indent int) string {
	lines := s.traceLines(src)
	switch s.shape {
	case shapeDecl:
		lines = append(lines, fmt.Sprintf("%s %s = __r_%s;", s.declKind, s.declPat, s.key))
	case shapeReturn:
		lines = append(lines, fmt.Sprintf("return __r_%s;", s.key))
	case shapeAssign:
		lines = append(lines, fmt.Sprintf("%s %s __r_%s;", s.target, s.assignOp, s.key))
	}
	ind := strings.Repeat(" ", indent)
	return strings.Join(lines, "\n"+ind)
}

// renderParallelElement wraps one Promise.all element in a single-line async
// IIFE so the array keeps its element count and the element keeps its line.
func renderParallelElement(src string, s *callSite) string {
	lines := s.traceLines(src)
	lines = append(lines, fmt.Sprintf("return __r_%s;", s.key))
	return "(async () => { " + strings.Join(lines, " ") + " })()"
}
