package runner

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/reflow-sh/reflow/internal/expressions"
	"github.com/reflow-sh/reflow/internal/ops"
	"github.com/reflow-sh/reflow/internal/script"
	"github.com/reflow-sh/reflow/pkg/schema"
)

// interp is a tree-walking evaluator over the final rewritten flow text.
// Execution is single-threaded and await-sequenced; the only suspension
// points are operation dispatches. The global frame carries no `process`
// binding, so environment access that survives the scrub still fails.
type interp struct {
	ctx       context.Context
	registry  *ops.Registry
	trace     *traceLogger
	log       *slog.Logger
	eval      *expressions.Evaluator
	moduleEnv *environment
}

func newInterp(ctx context.Context, registry *ops.Registry, trace *traceLogger, log *slog.Logger, eval *expressions.Evaluator) *interp {
	return &interp{ctx: ctx, registry: registry, trace: trace, log: log, eval: eval}
}

// runModule evaluates the module, instantiates the exported flow class, and
// invokes its entry method with the trigger payload.
func (ip *interp) runModule(m *script.Module, payload map[string]any) (any, error) {
	env := newEnvironment(nil)
	installGlobals(env, ip)
	ip.moduleEnv = env

	for _, st := range m.Stmts {
		switch s := st.(type) {
		case *script.ImportDecl, *script.InterfaceDecl:
			// Type-level declarations have no runtime effect.
		case *script.ClassDecl:
			env.define(s.Name, &classValue{decl: s})
		default:
			if err := ip.execStmt(env, st); err != nil {
				return nil, err
			}
		}
	}

	cls := m.Class()
	if cls == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "module exports no flow class")
	}
	handle := m.Method(script.EntryMethod)
	if handle == nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"flow class %s exposes no %s method", cls.Name, script.EntryMethod)
	}

	inst := &flowInstance{
		class: &classValue{decl: cls},
		fields: map[string]any{
			"logger":   ip.loggerObject(),
			"metadata": map[string]any{"flowName": cls.Name},
		},
	}
	args := []any{mapToValue(payload)}
	out, err := ip.callMethod(inst, handle, args)
	if err != nil {
		return nil, err
	}
	return unwrapPromise(out), nil
}

// loggerObject is the host object the instrumented text drives.
func (ip *interp) loggerObject() map[string]any {
	return map[string]any{
		"logCallStart": hostFunc(func(args []any) (any, error) {
			method, _ := argAt(args, 0).(string)
			var callArgs []any
			if arr, ok := argAt(args, 1).(*arrayValue); ok {
				callArgs = sanitizeTraceArgs(arr.elems)
			}
			key, _ := argAt(args, 2).(string)
			ip.trace.callStarted(method, callArgs, key)
			return nil, nil
		}),
		"logCallComplete": hostFunc(func(args []any) (any, error) {
			method, _ := argAt(args, 0).(string)
			dur := int64(toNumber(argAt(args, 2)))
			key, _ := argAt(args, 3).(string)
			ip.trace.callCompleted(method, dur, key)
			return nil, nil
		}),
		"pushCallSite": hostFunc(func(args []any) (any, error) {
			key, _ := argAt(args, 0).(string)
			ip.trace.pushCallSite(key)
			return nil, nil
		}),
		"popCallSite": hostFunc(func(args []any) (any, error) {
			ip.trace.popCallSite()
			return nil, nil
		}),
		"logLine": hostFunc(func(args []any) (any, error) {
			line := int(toNumber(argAt(args, 0)))
			kind, _ := argAt(args, 1).(string)
			ip.trace.line(line, kind)
			return nil, nil
		}),
	}
}

func argAt(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

// --- statements ---

func (ip *interp) execBlock(env *environment, b *script.BlockStmt) error {
	if b == nil {
		return nil
	}
	for _, st := range b.Stmts {
		if err := ip.execStmt(env, st); err != nil {
			return err
		}
	}
	return nil
}

func (ip *interp) execStmt(env *environment, st script.Stmt) error {
	if err := ip.ctx.Err(); err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution, "run cancelled: %v", err)
	}
	switch s := st.(type) {
	case *script.VarDecl:
		var val any
		if s.Init != nil {
			v, err := ip.evalExpr(env, s.Init)
			if err != nil {
				return err
			}
			val = v
		}
		return ip.bindPattern(env, s.Pat, val)

	case *script.ExprStmt:
		_, err := ip.evalExpr(env, s.X)
		return err

	case *script.ReturnStmt:
		var val any
		if s.X != nil {
			v, err := ip.evalExpr(env, s.X)
			if err != nil {
				return err
			}
			val = v
		}
		return returnSignal{val: val}

	case *script.IfStmt:
		test, err := ip.evalExpr(env, s.Test)
		if err != nil {
			return err
		}
		if truthy(test) {
			return ip.execBlock(newEnvironment(env), s.Then)
		}
		switch e := s.Else.(type) {
		case nil:
			return nil
		case *script.BlockStmt:
			return ip.execBlock(newEnvironment(env), e)
		default:
			return ip.execStmt(env, e)
		}

	case *script.ForOfStmt:
		iter, err := ip.evalExpr(env, s.Iterable)
		if err != nil {
			return err
		}
		for _, el := range iterate(iter) {
			loopEnv := newEnvironment(env)
			if err := ip.bindPattern(loopEnv, s.Pat, el); err != nil {
				return err
			}
			if err := ip.execBlock(loopEnv, s.Body); err != nil {
				if isBreak(err) {
					break
				}
				if isContinue(err) {
					continue
				}
				return err
			}
		}
		return nil

	case *script.ForStmt:
		loopEnv := newEnvironment(env)
		if s.Init != nil {
			if err := ip.execStmt(loopEnv, s.Init); err != nil {
				return err
			}
		}
		for {
			if s.Test != nil {
				test, err := ip.evalExpr(loopEnv, s.Test)
				if err != nil {
					return err
				}
				if !truthy(test) {
					break
				}
			}
			if err := ip.execBlock(newEnvironment(loopEnv), s.Body); err != nil {
				if isBreak(err) {
					break
				}
				if !isContinue(err) {
					return err
				}
			}
			if s.Post != nil {
				if _, err := ip.evalExpr(loopEnv, s.Post); err != nil {
					return err
				}
			}
		}
		return nil

	case *script.WhileStmt:
		for {
			test, err := ip.evalExpr(env, s.Test)
			if err != nil {
				return err
			}
			if !truthy(test) {
				return nil
			}
			if err := ip.execBlock(newEnvironment(env), s.Body); err != nil {
				if isBreak(err) {
					return nil
				}
				if !isContinue(err) {
					return err
				}
			}
		}

	case *script.TryStmt:
		err := ip.execBlock(newEnvironment(env), s.Block)
		if t, ok := err.(thrownValue); ok && s.Catch != nil {
			catchEnv := newEnvironment(env)
			if s.CatchParam != "" {
				catchEnv.define(s.CatchParam, t.val)
			}
			err = ip.execBlock(catchEnv, s.Catch)
		}
		if s.Finally != nil {
			if ferr := ip.execBlock(newEnvironment(env), s.Finally); ferr != nil {
				return ferr
			}
		}
		return err

	case *script.ThrowStmt:
		val, err := ip.evalExpr(env, s.X)
		if err != nil {
			return err
		}
		return thrownValue{val: val}

	case *script.BlockStmt:
		return ip.execBlock(newEnvironment(env), s)

	case *script.BreakStmt:
		return breakSignal{}

	case *script.ContinueStmt:
		return continueSignal{}

	case *script.ClassDecl:
		env.define(s.Name, &classValue{decl: s})
		return nil

	case *script.ImportDecl, *script.InterfaceDecl:
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeExecution, "unsupported statement at line %d", st.Span().StartLine)
}

func isBreak(err error) bool    { _, ok := err.(breakSignal); return ok }
func isContinue(err error) bool { _, ok := err.(continueSignal); return ok }

func iterate(v any) []any {
	switch x := v.(type) {
	case *arrayValue:
		return x.elems
	case string:
		out := make([]any, 0, len(x))
		for _, r := range x {
			out = append(out, string(r))
		}
		return out
	case nil:
		return nil
	default:
		return []any{x}
	}
}

// bindPattern declares a pattern's names against a value.
func (ip *interp) bindPattern(env *environment, pat script.Pattern, val any) error {
	switch p := pat.(type) {
	case *script.IdentPat:
		env.define(p.Name, val)
		return nil
	case *script.ObjectPat:
		obj, _ := unwrapPromise(val).(map[string]any)
		taken := make(map[string]bool, len(p.Props))
		for _, prop := range p.Props {
			var v any
			if obj != nil {
				v = obj[prop.Key]
			}
			taken[prop.Key] = true
			if v == nil && prop.Default != nil {
				dv, err := ip.evalExpr(env, prop.Default)
				if err != nil {
					return err
				}
				v = dv
			}
			env.define(prop.Alias, v)
		}
		if p.Rest != "" {
			rest := make(map[string]any)
			for k, v := range obj {
				if !taken[k] {
					rest[k] = v
				}
			}
			env.define(p.Rest, rest)
		}
		return nil
	case *script.ArrayPat:
		var elems []any
		if arr, ok := unwrapPromise(val).(*arrayValue); ok {
			elems = arr.elems
		}
		for i, name := range p.Elems {
			if name == "" {
				continue
			}
			var v any
			if i < len(elems) {
				v = elems[i]
			}
			env.define(name, v)
		}
		return nil
	}
	return schema.NewError(schema.ErrCodeExecution, "unsupported binding pattern")
}

// --- functions ---

// callMethod executes a flow method with `this` bound to its instance.
func (ip *interp) callMethod(inst *flowInstance, meth *script.MethodDecl, args []any) (any, error) {
	env := newEnvironment(ip.moduleEnv)
	env.define("this", inst)
	if err := ip.bindParams(env, meth.Params, args); err != nil {
		return nil, err
	}
	err := ip.execBlock(env, meth.Body)
	var out any
	if ret, ok := err.(returnSignal); ok {
		out, err = ret.val, nil
	}
	if err != nil {
		return nil, err
	}
	if meth.Async {
		return promiseValue{val: out}, nil
	}
	return out, nil
}

func (ip *interp) bindParams(env *environment, params []script.ParamDecl, args []any) error {
	for i, p := range params {
		var v any
		if i < len(args) {
			v = args[i]
		}
		if v == nil && p.Default != nil {
			dv, err := ip.evalExpr(env, p.Default)
			if err != nil {
				return err
			}
			v = dv
		}
		if err := ip.bindPattern(env, p.Pat, v); err != nil {
			return err
		}
	}
	return nil
}

// call dispatches any callable value.
func (ip *interp) call(fn any, args []any) (any, error) {
	switch f := fn.(type) {
	case hostFunc:
		return f(args)
	case *boundMethod:
		return ip.callMethod(f.inst, f.meth, args)
	case *arrowValue:
		env := newEnvironment(f.env)
		if err := ip.bindArrowParams(env, f.fn.Params, args); err != nil {
			return nil, err
		}
		var out any
		var err error
		if f.fn.Body != nil {
			err = ip.execBlock(env, f.fn.Body)
			if ret, ok := err.(returnSignal); ok {
				out, err = ret.val, nil
			}
		} else {
			out, err = ip.evalExpr(env, f.fn.ExprBody)
		}
		if err != nil {
			return nil, err
		}
		if f.fn.Async {
			return promiseValue{val: out}, nil
		}
		return out, nil
	case nil:
		return nil, thrownValue{val: newErrorObject("TypeError", "value is not a function")}
	}
	return nil, thrownValue{val: newErrorObject("TypeError", "value is not a function")}
}

func (ip *interp) bindArrowParams(env *environment, params []script.Pattern, args []any) error {
	for i, p := range params {
		var v any
		if i < len(args) {
			v = args[i]
		}
		if err := ip.bindPattern(env, p, v); err != nil {
			return err
		}
	}
	return nil
}

func unwrapPromise(v any) any {
	if p, ok := v.(promiseValue); ok {
		return p.val
	}
	return v
}

// --- expressions ---

func (ip *interp) evalExpr(env *environment, e script.Expr) (any, error) {
	switch x := e.(type) {
	case *script.Ident:
		if v, ok := env.lookup(x.Name); ok {
			return v, nil
		}
		return nil, thrownValue{val: newErrorObject("ReferenceError", x.Name+" is not defined")}

	case *script.StringLit:
		return x.Value, nil

	case *script.TemplateLit:
		return ip.evalTemplate(env, x.Raw)

	case *script.NumberLit:
		f, err := strconv.ParseFloat(x.Raw, 64)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "bad number literal %q", x.Raw)
		}
		return f, nil

	case *script.BoolLit:
		return x.Value, nil

	case *script.NullLit:
		return nil, nil

	case *script.ThisExpr:
		v, _ := env.lookup("this")
		return v, nil

	case *script.ObjectLit:
		obj := make(map[string]any, len(x.Props))
		for _, p := range x.Props {
			if p.Spread {
				v, err := ip.evalExpr(env, p.Value)
				if err != nil {
					return nil, err
				}
				if m, ok := unwrapPromise(v).(map[string]any); ok {
					for k, mv := range m {
						obj[k] = mv
					}
				}
				continue
			}
			v, err := ip.evalExpr(env, p.Value)
			if err != nil {
				return nil, err
			}
			obj[p.Key] = v
		}
		return obj, nil

	case *script.ArrayLit:
		arr := make([]any, 0, len(x.Elems))
		for _, el := range x.Elems {
			if sp, ok := el.(*script.SpreadExpr); ok {
				v, err := ip.evalExpr(env, sp.X)
				if err != nil {
					return nil, err
				}
				if inner, ok := unwrapPromise(v).(*arrayValue); ok {
					arr = append(arr, inner.elems...)
				}
				continue
			}
			v, err := ip.evalExpr(env, el)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return newArray(arr...), nil

	case *script.MemberExpr:
		obj, err := ip.evalExpr(env, x.X)
		if err != nil {
			return nil, err
		}
		obj = unwrapPromise(obj)
		if obj == nil {
			if x.Optional {
				return nil, nil
			}
			return nil, thrownValue{val: newErrorObject("TypeError",
				"cannot read properties of undefined (reading '"+x.Prop+"')")}
		}
		return ip.member(obj, x.Prop), nil

	case *script.IndexExpr:
		obj, err := ip.evalExpr(env, x.X)
		if err != nil {
			return nil, err
		}
		idx, err := ip.evalExpr(env, x.Index)
		if err != nil {
			return nil, err
		}
		return indexValue(unwrapPromise(obj), idx), nil

	case *script.CallExpr:
		return ip.evalCall(env, x)

	case *script.NewExpr:
		return ip.evalNew(env, x)

	case *script.ArrowFunc:
		return &arrowValue{fn: x, env: env}, nil

	case *script.UnaryExpr:
		return ip.evalUnary(env, x)

	case *script.BinaryExpr:
		return ip.evalBinary(env, x)

	case *script.CondExpr:
		test, err := ip.evalExpr(env, x.Test)
		if err != nil {
			return nil, err
		}
		if truthy(test) {
			return ip.evalExpr(env, x.Then)
		}
		return ip.evalExpr(env, x.Else)

	case *script.AssignExpr:
		return ip.evalAssign(env, x)

	case *script.AwaitExpr:
		v, err := ip.evalExpr(env, x.X)
		if err != nil {
			return nil, err
		}
		return unwrapPromise(v), nil

	case *script.ParenExpr:
		return ip.evalExpr(env, x.X)

	case *script.SpreadExpr:
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"spread outside literal at line %d", x.Span().StartLine)
	}
	return nil, schema.NewErrorf(schema.ErrCodeExecution,
		"unsupported expression at line %d", e.Span().StartLine)
}

// evalCall evaluates a call, binding `this` when the callee is a member
// access on a flow instance.
func (ip *interp) evalCall(env *environment, call *script.CallExpr) (any, error) {
	var fn any
	if mem, ok := call.Callee.(*script.MemberExpr); ok {
		obj, err := ip.evalExpr(env, mem.X)
		if err != nil {
			return nil, err
		}
		obj = unwrapPromise(obj)
		if obj == nil {
			if mem.Optional || call.Optional {
				return nil, nil
			}
			return nil, thrownValue{val: newErrorObject("TypeError",
				"cannot read properties of undefined (reading '"+mem.Prop+"')")}
		}
		fn = ip.member(obj, mem.Prop)
	} else {
		v, err := ip.evalExpr(env, call.Callee)
		if err != nil {
			return nil, err
		}
		fn = unwrapPromise(v)
	}
	if fn == nil && call.Optional {
		return nil, nil
	}

	args := make([]any, 0, len(call.Args))
	for _, a := range call.Args {
		if sp, ok := a.(*script.SpreadExpr); ok {
			v, err := ip.evalExpr(env, sp.X)
			if err != nil {
				return nil, err
			}
			if inner, ok := unwrapPromise(v).(*arrayValue); ok {
				args = append(args, inner.elems...)
			}
			continue
		}
		v, err := ip.evalExpr(env, a)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return ip.call(fn, args)
}

// evalNew handles operation instantiation plus the small set of built-in
// constructors flows use.
func (ip *interp) evalNew(env *environment, ne *script.NewExpr) (any, error) {
	switch ne.TypeName {
	case "Error", "TypeError", "RangeError":
		msg := ""
		if len(ne.Args) > 0 {
			v, err := ip.evalExpr(env, ne.Args[0])
			if err != nil {
				return nil, err
			}
			msg = stringify(v)
		}
		return newErrorObject(ne.TypeName, msg), nil
	case "Date":
		return dateObject(time.Now()), nil
	}

	if ip.registry.Has(ne.TypeName) {
		params := make(map[string]any)
		for _, a := range ne.Args {
			v, err := ip.evalExpr(env, a)
			if err != nil {
				return nil, err
			}
			if m, ok := unwrapPromise(v).(map[string]any); ok {
				for k, mv := range m {
					params[k] = mv
				}
			}
		}
		return &opValue{id: ne.ID, typeName: ne.TypeName, params: params}, nil
	}

	ferr := schema.NewErrorf(schema.ErrCodeOperation, "unknown operation type").
		WithOperation(ne.ID, ne.TypeName)
	return nil, thrownValue{
		val:    newErrorObject("OperationError", ferr.Error()),
		origin: ferr,
	}
}

// member resolves property access per receiver kind.
func (ip *interp) member(obj any, prop string) any {
	switch x := obj.(type) {
	case *flowInstance:
		if v, ok := x.fields[prop]; ok {
			return v
		}
		for _, m := range x.class.decl.Methods {
			if m.Name == prop {
				return &boundMethod{inst: x, meth: m}
			}
		}
		return nil
	case *opValue:
		if prop == "action" {
			return hostFunc(func([]any) (any, error) {
				return ip.executeOperation(x)
			})
		}
		return nil
	case map[string]any:
		return x[prop]
	case *arrayValue:
		return arrayMember(ip, x, prop)
	case string:
		return stringMember(x, prop)
	case float64:
		return numberMember(x, prop)
	}
	return nil
}

// executeOperation dispatches one .action() call through the registry,
// emitting op-level trace events and recording duration.
func (ip *interp) executeOperation(op *opValue) (any, error) {
	impl, err := ip.registry.Get(op.typeName)
	if err != nil {
		ferr := schema.NewErrorf(schema.ErrCodeOperation, "operation not registered").
			WithOperation(op.id, op.typeName)
		return nil, thrownValue{val: newErrorObject("OperationError", ferr.Error()), origin: ferr}
	}

	params := make(map[string]any, len(op.params))
	for k, v := range op.params {
		params[k] = v
	}
	creds := make(map[schema.CredentialType]string)
	if raw, ok := params["credentials"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				creds[schema.CredentialType(k)] = s
			}
		}
	}
	delete(params, "credentials")

	// Dynamic params resolve against the run scope before validation, so
	// expression failures surface as catchable errors at the call site.
	if ip.eval != nil {
		resolved, err := ip.eval.ResolveParams(ip.ctx, params)
		if err != nil {
			ferr := asFlowError(err, schema.ErrCodeInterpolation).
				WithOperation(op.id, op.typeName).
				WithPhase(schema.PhaseValidation)
			ip.trace.opFailed(op.id, op.typeName, 0)
			return nil, thrownValue{val: newErrorObject("InterpolationError", ferr.Error()), origin: ferr}
		}
		params = resolved
	}

	if err := impl.Validate(params); err != nil {
		ferr := schema.NewErrorf(schema.ErrCodeValidation, "parameter validation failed: %v", err).
			WithOperation(op.id, op.typeName).
			WithPhase(schema.PhaseValidation)
		ip.trace.opFailed(op.id, op.typeName, 0)
		return nil, thrownValue{val: newErrorObject("ValidationError", ferr.Error()), origin: ferr}
	}

	ip.trace.opStarted(op.id, op.typeName)
	ip.log.Debug("operation started", "op_id", op.id, "op_type", op.typeName)
	start := time.Now()
	out, err := impl.Execute(ip.ctx, ops.OperationInput{Params: params, Credentials: creds})
	durMs := time.Since(start).Milliseconds()
	if err != nil {
		ferr := schema.NewErrorf(schema.ErrCodeExecution, "operation failed: %v", err).
			WithOperation(op.id, op.typeName).
			WithPhase(schema.PhaseExecution)
		ip.trace.opFailed(op.id, op.typeName, durMs)
		ip.log.Error("operation failed", "op_id", op.id, "op_type", op.typeName, "error", err)
		return nil, thrownValue{val: newErrorObject("ExecutionError", ferr.Error()), origin: ferr}
	}
	ip.trace.opCompleted(op.id, op.typeName, durMs)
	var data any
	if out != nil {
		data = mapToValue(out.Data)
		if ip.eval != nil {
			// The run scope is append-only; re-executions of the same call
			// site (loops) keep the first recorded output.
			if rerr := ip.eval.RecordOpOutput(op.id, out.Data); rerr != nil {
				ip.log.Debug("op output not re-recorded", "op_id", op.id)
			}
		}
	}
	return promiseValue{val: data}, nil
}

func (ip *interp) evalUnary(env *environment, u *script.UnaryExpr) (any, error) {
	if u.Op == "++" || u.Op == "--" {
		return ip.evalIncDec(env, u)
	}
	v, err := ip.evalExpr(env, u.X)
	if err != nil {
		// `typeof missing` must not throw on unresolved identifiers.
		if t, ok := err.(thrownValue); ok && u.Op == "typeof" {
			if m, _ := t.val.(map[string]any); m != nil && m["name"] == "ReferenceError" {
				return "undefined", nil
			}
		}
		return nil, err
	}
	v = unwrapPromise(v)
	switch u.Op {
	case "!":
		return !truthy(v), nil
	case "-":
		return -toNumber(v), nil
	case "+":
		return toNumber(v), nil
	case "typeof":
		return typeOf(v), nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeExecution, "unsupported unary operator %q", u.Op)
}

func (ip *interp) evalIncDec(env *environment, u *script.UnaryExpr) (any, error) {
	id, ok := u.X.(*script.Ident)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"unsupported %s target at line %d", u.Op, u.Span().StartLine)
	}
	cur, _ := env.lookup(id.Name)
	n := toNumber(cur)
	next := n + 1
	if u.Op == "--" {
		next = n - 1
	}
	env.assign(id.Name, next)
	if u.Postfix {
		return n, nil
	}
	return next, nil
}

func (ip *interp) evalBinary(env *environment, b *script.BinaryExpr) (any, error) {
	switch b.Op {
	case "&&":
		l, err := ip.evalExpr(env, b.L)
		if err != nil {
			return nil, err
		}
		if !truthy(l) {
			return l, nil
		}
		return ip.evalExpr(env, b.R)
	case "||":
		l, err := ip.evalExpr(env, b.L)
		if err != nil {
			return nil, err
		}
		if truthy(l) {
			return l, nil
		}
		return ip.evalExpr(env, b.R)
	case "??":
		l, err := ip.evalExpr(env, b.L)
		if err != nil {
			return nil, err
		}
		if l != nil {
			return l, nil
		}
		return ip.evalExpr(env, b.R)
	}

	l, err := ip.evalExpr(env, b.L)
	if err != nil {
		return nil, err
	}
	r, err := ip.evalExpr(env, b.R)
	if err != nil {
		return nil, err
	}
	l, r = unwrapPromise(l), unwrapPromise(r)

	switch b.Op {
	case "+":
		if ls, ok := l.(string); ok {
			return ls + stringify(r), nil
		}
		if rs, ok := r.(string); ok {
			return stringify(l) + rs, nil
		}
		return toNumber(l) + toNumber(r), nil
	case "-":
		return toNumber(l) - toNumber(r), nil
	case "*":
		return toNumber(l) * toNumber(r), nil
	case "/":
		return toNumber(l) / toNumber(r), nil
	case "%":
		rn := toNumber(r)
		if rn == 0 {
			return toNumber(l), nil
		}
		return float64(int64(toNumber(l)) % int64(rn)), nil
	case "<":
		return compare(l, r) < 0, nil
	case ">":
		return compare(l, r) > 0, nil
	case "<=":
		return compare(l, r) <= 0, nil
	case ">=":
		return compare(l, r) >= 0, nil
	case "===":
		return strictEquals(l, r), nil
	case "!==":
		return !strictEquals(l, r), nil
	case "==":
		return looseEquals(l, r), nil
	case "!=":
		return !looseEquals(l, r), nil
	case "in":
		if m, ok := r.(map[string]any); ok {
			_, present := m[stringify(l)]
			return present, nil
		}
		return false, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeExecution, "unsupported binary operator %q", b.Op)
}

func compare(l, r any) int {
	if ls, ok := l.(string); ok {
		if rs, ok := r.(string); ok {
			return strings.Compare(ls, rs)
		}
	}
	ln, rn := toNumber(l), toNumber(r)
	switch {
	case ln < rn:
		return -1
	case ln > rn:
		return 1
	default:
		return 0
	}
}

func (ip *interp) evalAssign(env *environment, a *script.AssignExpr) (any, error) {
	val, err := ip.evalExpr(env, a.Value)
	if err != nil {
		return nil, err
	}
	if a.Op != "=" {
		cur, err := ip.evalExpr(env, a.Target)
		if err != nil {
			return nil, err
		}
		switch a.Op {
		case "+=":
			if cs, ok := cur.(string); ok {
				val = cs + stringify(val)
			} else {
				val = toNumber(cur) + toNumber(val)
			}
		case "-=":
			val = toNumber(cur) - toNumber(val)
		case "*=":
			val = toNumber(cur) * toNumber(val)
		case "/=":
			val = toNumber(cur) / toNumber(val)
		case "??=":
			if cur != nil {
				return cur, nil
			}
		case "||=":
			if truthy(cur) {
				return cur, nil
			}
		case "&&=":
			if !truthy(cur) {
				return cur, nil
			}
		default:
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "unsupported assignment operator %q", a.Op)
		}
	}

	switch t := a.Target.(type) {
	case *script.Ident:
		if !env.assign(t.Name, val) {
			env.define(t.Name, val)
		}
		return val, nil
	case *script.MemberExpr:
		obj, err := ip.evalExpr(env, t.X)
		if err != nil {
			return nil, err
		}
		if m, ok := unwrapPromise(obj).(map[string]any); ok {
			m[t.Prop] = val
			return val, nil
		}
		if inst, ok := unwrapPromise(obj).(*flowInstance); ok {
			inst.fields[t.Prop] = val
			return val, nil
		}
		return nil, thrownValue{val: newErrorObject("TypeError", "cannot set property "+t.Prop)}
	case *script.IndexExpr:
		obj, err := ip.evalExpr(env, t.X)
		if err != nil {
			return nil, err
		}
		idx, err := ip.evalExpr(env, t.Index)
		if err != nil {
			return nil, err
		}
		switch c := unwrapPromise(obj).(type) {
		case map[string]any:
			c[stringify(idx)] = val
			return val, nil
		case *arrayValue:
			i := int(toNumber(idx))
			if i >= 0 && i < len(c.elems) {
				c.elems[i] = val
			}
			return val, nil
		}
		return nil, thrownValue{val: newErrorObject("TypeError", "cannot set indexed property")}
	}
	return nil, schema.NewErrorf(schema.ErrCodeExecution,
		"unsupported assignment target at line %d", a.Span().StartLine)
}

func indexValue(obj, idx any) any {
	switch c := obj.(type) {
	case *arrayValue:
		i := int(toNumber(idx))
		if i >= 0 && i < len(c.elems) {
			return c.elems[i]
		}
		return nil
	case map[string]any:
		return c[stringify(idx)]
	case string:
		i := int(toNumber(idx))
		if i >= 0 && i < len(c) {
			return string(c[i])
		}
		return nil
	}
	return nil
}

func typeOf(v any) string {
	switch v.(type) {
	case nil:
		return "undefined"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case hostFunc, *boundMethod, *arrowValue:
		return "function"
	default:
		return "object"
	}
}

// evalTemplate interpolates a backtick literal. Raw includes the backticks.
func (ip *interp) evalTemplate(env *environment, raw string) (any, error) {
	if len(raw) < 2 {
		return "", nil
	}
	body := raw[1 : len(raw)-1]
	var sb strings.Builder
	for i := 0; i < len(body); {
		ch := body[i]
		if ch == '\\' && i+1 < len(body) {
			switch body[i+1] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			default:
				sb.WriteByte(body[i+1])
			}
			i += 2
			continue
		}
		if ch == '$' && i+1 < len(body) && body[i+1] == '{' {
			end := matchBrace(body, i+2)
			if end < 0 {
				return nil, schema.NewError(schema.ErrCodeExecution, "unterminated template interpolation")
			}
			expr, err := script.ParseExpr(body[i+2 : end])
			if err != nil {
				return nil, err
			}
			v, err := ip.evalExpr(env, expr)
			if err != nil {
				return nil, err
			}
			sb.WriteString(stringify(unwrapPromise(v)))
			i = end + 1
			continue
		}
		sb.WriteByte(ch)
		i++
	}
	return sb.String(), nil
}

// matchBrace finds the `}` closing an interpolation opened just before
// start, skipping nested braces and quoted regions.
func matchBrace(s string, start int) int {
	depth := 1
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		case '\'', '"', '`':
			quote := s[i]
			for i++; i < len(s); i++ {
				if s[i] == '\\' {
					i++
					continue
				}
				if s[i] == quote {
					break
				}
			}
		}
	}
	return -1
}
