package script

import (
	"github.com/reflow-sh/reflow/pkg/schema"
)

// idGen hands out deterministic, position-ordered identifiers for operation
// instantiations. A fresh generator is threaded into every parse so that
// identical text always yields identical IDs for the same syntactic position
// (never package-level state).
type idGen struct {
	next int
}

func (g *idGen) Next() int {
	g.next++
	return g.next
}

type parser struct {
	src  string
	toks []Token // comment tokens filtered out
	i    int
	gen  *idGen
}

// Parse parses a complete flow script into a Module.
func Parse(src string) (*Module, error) {
	all, err := Tokenize(src)
	if err != nil {
		return nil, err
	}
	toks := make([]Token, 0, len(all))
	for _, t := range all {
		if t.Kind != TokComment {
			toks = append(toks, t)
		}
	}
	p := &parser{src: src, toks: toks, gen: &idGen{}}
	return p.parseModule()
}

// ParseExpr parses a standalone expression, e.g. a parameter value that a
// scan needs to inspect structurally.
func ParseExpr(src string) (Expr, error) {
	all, err := Tokenize(src)
	if err != nil {
		return nil, err
	}
	toks := make([]Token, 0, len(all))
	for _, t := range all {
		if t.Kind != TokComment {
			toks = append(toks, t)
		}
	}
	p := &parser{src: src, toks: toks, gen: &idGen{}}
	x, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, p.errorf("unexpected trailing token %q", p.cur().Text)
	}
	return x, nil
}

// --- token plumbing ---

func (p *parser) cur() Token  { return p.toks[p.i] }
func (p *parser) at(n int) Token {
	if p.i+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i+n]
}
func (p *parser) done() bool { return p.cur().Kind == TokEOF }

func (p *parser) advance() Token {
	t := p.cur()
	if p.i < len(p.toks)-1 {
		p.i++
	}
	return t
}

func (p *parser) accept(text string) bool {
	if p.cur().Is(text) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) acceptIdent(name string) bool {
	if p.cur().IsIdent(name) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expect(text string) error {
	if !p.accept(text) {
		return p.errorf("expected %q, got %q", text, p.cur().Text)
	}
	return nil
}

func (p *parser) expectIdent() (Token, error) {
	t := p.cur()
	if t.Kind != TokIdent {
		return Token{}, p.errorf("expected identifier, got %q", t.Text)
	}
	p.advance()
	return t, nil
}

func (p *parser) errorf(format string, args ...any) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeParse, "line %d: "+format,
		append([]any{p.cur().Line}, args...)...)
}

// tokenEnd computes the end position of a token (inclusive span semantics:
// EndCol is the column of the last character).
func tokenEnd(t Token) (line, col, off int) {
	line, col = t.Line, t.Col
	for i := 0; i < len(t.Text); i++ {
		if t.Text[i] == '\n' {
			line++
			col = 1
		} else if i > 0 {
			col++
		}
	}
	return line, col, t.Offset + len(t.Text)
}

// spanFrom builds a span from the token at index startIdx to the last
// consumed token.
func (p *parser) spanFrom(startIdx int) span {
	start := p.toks[startIdx]
	endIdx := p.i - 1
	if endIdx < startIdx {
		endIdx = startIdx
	}
	end := p.toks[endIdx]
	el, ec, eo := tokenEnd(end)
	return span{
		S:        schema.Span{StartLine: start.Line, StartCol: start.Col, EndLine: el, EndCol: ec},
		StartOff: start.Offset,
		EndOff:   eo,
	}
}

// --- module level ---

func (p *parser) parseModule() (*Module, error) {
	start := p.i
	var stmts []Stmt
	for !p.done() {
		// stray semicolons between declarations
		if p.accept(";") {
			continue
		}
		st, err := p.parseTopLevel()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, st)
	}
	m := &Module{span: p.spanFrom(start), Stmts: stmts}
	return m, nil
}

func (p *parser) parseTopLevel() (Stmt, error) {
	t := p.cur()
	switch {
	case t.IsIdent("import"):
		return p.parseImport()
	case t.IsIdent("interface"):
		return p.parseInterface()
	case t.IsIdent("type"):
		return p.parseTypeAlias()
	case t.IsIdent("export"), t.IsIdent("class"):
		return p.parseClass()
	default:
		// top-level statements outside the class (rare, but legal)
		return p.parseStatement()
	}
}

func (p *parser) parseImport() (Stmt, error) {
	start := p.i
	p.advance() // import
	var names []string
	if p.accept("{") {
		for !p.cur().Is("}") && !p.done() {
			t, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			names = append(names, t.Text)
			if !p.accept(",") {
				break
			}
		}
		if err := p.expect("}"); err != nil {
			return nil, err
		}
	} else if p.cur().Kind == TokIdent {
		names = append(names, p.advance().Text)
	}
	var from string
	if p.acceptIdent("from") {
		if p.cur().Kind != TokString {
			return nil, p.errorf("expected module path string")
		}
		from = p.advance().Value
	}
	p.accept(";")
	return &ImportDecl{span: p.spanFrom(start), Names: names, From: from}, nil
}

func (p *parser) parseInterface() (Stmt, error) {
	start := p.i
	p.advance() // interface
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if p.acceptIdent("extends") {
		if _, err := p.expectIdent(); err != nil {
			return nil, err
		}
	}
	members, err := p.parseTypeMembers()
	if err != nil {
		return nil, err
	}
	return &InterfaceDecl{span: p.spanFrom(start), Name: name.Text, Members: members}, nil
}

func (p *parser) parseTypeAlias() (Stmt, error) {
	start := p.i
	p.advance() // type
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expect("="); err != nil {
		return nil, err
	}
	ref, err := p.parseTypeRef()
	if err != nil {
		return nil, err
	}
	p.accept(";")
	return &InterfaceDecl{span: p.spanFrom(start), Name: name.Text, Members: ref.Members}, nil
}

func (p *parser) parseTypeMembers() ([]TypeMember, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	var members []TypeMember
	for !p.cur().Is("}") && !p.done() {
		var key string
		switch p.cur().Kind {
		case TokIdent:
			key = p.advance().Text
		case TokString:
			key = p.advance().Value
		default:
			return nil, p.errorf("expected type member name, got %q", p.cur().Text)
		}
		optional := p.accept("?")
		if err := p.expect(":"); err != nil {
			return nil, err
		}
		ref, err := p.parseTypeRef()
		if err != nil {
			return nil, err
		}
		members = append(members, TypeMember{Name: key, Optional: optional, Type: ref})
		if !p.accept(";") && !p.accept(",") {
			break
		}
	}
	if err := p.expect("}"); err != nil {
		return nil, err
	}
	return members, nil
}

// parseTypeRef parses a structural type reference. Generic arguments and
// union tails are consumed; only the head shape is modeled.
func (p *parser) parseTypeRef() (*TypeRef, error) {
	var ref *TypeRef
	switch {
	case p.cur().Is("{"):
		members, err := p.parseTypeMembers()
		if err != nil {
			return nil, err
		}
		ref = &TypeRef{Members: members}
	case p.cur().Kind == TokIdent:
		name := p.advance().Text
		ref = &TypeRef{Name: name}
		if p.cur().Is("<") {
			if err := p.skipGenericArgs(); err != nil {
				return nil, err
			}
		}
	case p.cur().Kind == TokString:
		// string-literal type; model as string
		p.advance()
		ref = &TypeRef{Name: "string"}
	case p.accept("("):
		inner, err := p.parseTypeRef()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		ref = inner
	default:
		return nil, p.errorf("expected type, got %q", p.cur().Text)
	}
	for p.cur().Is("[") && p.at(1).Is("]") {
		p.advance()
		p.advance()
		ref = &TypeRef{Name: "array", Elem: ref}
	}
	// unions: keep the first alternative only
	for p.accept("|") {
		if _, err := p.parseTypeRef(); err != nil {
			return nil, err
		}
	}
	return ref, nil
}

func (p *parser) skipGenericArgs() error {
	if err := p.expect("<"); err != nil {
		return err
	}
	depth := 1
	for depth > 0 && !p.done() {
		t := p.advance()
		switch {
		case t.Is("<"):
			depth++
		case t.Is(">"):
			depth--
		}
	}
	if depth > 0 {
		return p.errorf("unterminated generic argument list")
	}
	return nil
}

// --- class ---

func (p *parser) parseClass() (Stmt, error) {
	start := p.i
	exported := p.acceptIdent("export")
	if !p.acceptIdent("class") {
		return nil, p.errorf("expected class declaration")
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	var super string
	var superArg Expr
	if p.acceptIdent("extends") {
		st, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		super = st.Text
		if p.cur().Is("<") {
			superArg, err = p.parseSuperTypeArg()
			if err != nil {
				return nil, err
			}
		}
	}
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	var methods []*MethodDecl
	for !p.cur().Is("}") && !p.done() {
		if p.accept(";") {
			continue
		}
		m, err := p.parseMethod()
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	if err := p.expect("}"); err != nil {
		return nil, err
	}
	return &ClassDecl{
		span:         p.spanFrom(start),
		Name:         name.Text,
		Exported:     exported,
		SuperClass:   super,
		SuperTypeArg: superArg,
		Methods:      methods,
	}, nil
}

// parseSuperTypeArg reads the trigger-typed generic parameter of the flow
// base class: either a string-literal tag or a type-literal object such as
// `{ type: 'schedule/cron'; cron: '0 9 * * 1' }`. The object form is
// materialized as an ObjectLit with string values so TriggerKind can inspect
// it like any other expression.
func (p *parser) parseSuperTypeArg() (Expr, error) {
	if err := p.expect("<"); err != nil {
		return nil, err
	}
	var arg Expr
	start := p.i
	switch {
	case p.cur().Kind == TokString:
		t := p.advance()
		arg = &StringLit{span: p.spanFrom(start), Value: t.Value, Raw: t.Text}
	case p.cur().Is("{"):
		p.advance()
		obj := &ObjectLit{}
		for !p.cur().Is("}") && !p.done() {
			key, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			if err := p.expect(":"); err != nil {
				return nil, err
			}
			if p.cur().Kind != TokString {
				return nil, p.errorf("trigger type members must be string literals")
			}
			vt := p.advance()
			vs := p.spanFrom(p.i - 1)
			obj.Props = append(obj.Props, &ObjectProp{
				span:  vs,
				Key:   key.Text,
				Value: &StringLit{span: vs, Value: vt.Value, Raw: vt.Text},
			})
			if !p.accept(";") && !p.accept(",") {
				break
			}
		}
		if err := p.expect("}"); err != nil {
			return nil, err
		}
		obj.span = p.spanFrom(start)
		arg = obj
	default:
		return nil, p.errorf("expected trigger tag in supertype parameter")
	}
	if err := p.expect(">"); err != nil {
		return nil, err
	}
	return arg, nil
}

func (p *parser) parseMethod() (*MethodDecl, error) {
	start := p.i
	async := p.acceptIdent("async")
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	params, err := p.parseParams()
	if err != nil {
		return nil, err
	}
	if p.accept(":") {
		if _, err := p.parseTypeRef(); err != nil {
			return nil, err
		}
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &MethodDecl{span: p.spanFrom(start), Name: name.Text, Async: async, Params: params, Body: body}, nil
}

func (p *parser) parseParams() ([]ParamDecl, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	var params []ParamDecl
	for !p.cur().Is(")") && !p.done() {
		pat, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		var ref *TypeRef
		if p.accept("?") {
			// optional marker on the parameter itself
		}
		if p.accept(":") {
			ref, err = p.parseTypeRef()
			if err != nil {
				return nil, err
			}
		}
		var def Expr
		if p.accept("=") {
			def, err = p.parseAssign()
			if err != nil {
				return nil, err
			}
		}
		params = append(params, ParamDecl{Pat: pat, Type: ref, Default: def})
		if !p.accept(",") {
			break
		}
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	return params, nil
}

// --- statements ---

func (p *parser) parseBlock() (*BlockStmt, error) {
	start := p.i
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	var stmts []Stmt
	for !p.cur().Is("}") && !p.done() {
		if p.accept(";") {
			continue
		}
		st, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, st)
	}
	if err := p.expect("}"); err != nil {
		return nil, err
	}
	return &BlockStmt{span: p.spanFrom(start), Stmts: stmts}, nil
}

func (p *parser) parseStatement() (Stmt, error) {
	t := p.cur()
	switch {
	case t.IsIdent("const") || t.IsIdent("let") || t.IsIdent("var"):
		return p.parseVarDecl()
	case t.IsIdent("if"):
		return p.parseIf()
	case t.IsIdent("for"):
		return p.parseFor()
	case t.IsIdent("while"):
		return p.parseWhile()
	case t.IsIdent("try"):
		return p.parseTry()
	case t.IsIdent("throw"):
		return p.parseThrow()
	case t.IsIdent("return"):
		return p.parseReturn()
	case t.IsIdent("break"):
		start := p.i
		p.advance()
		p.accept(";")
		return &BreakStmt{span: p.spanFrom(start)}, nil
	case t.IsIdent("continue"):
		start := p.i
		p.advance()
		p.accept(";")
		return &ContinueStmt{span: p.spanFrom(start)}, nil
	case t.Is("{"):
		return p.parseBlock()
	default:
		start := p.i
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		p.accept(";")
		return &ExprStmt{span: p.spanFrom(start), X: x}, nil
	}
}

func (p *parser) parseVarDecl() (Stmt, error) {
	start := p.i
	kind := p.advance().Text
	pat, err := p.parsePattern()
	if err != nil {
		return nil, err
	}
	if p.accept(":") {
		if _, err := p.parseTypeRef(); err != nil {
			return nil, err
		}
	}
	var init Expr
	if p.accept("=") {
		init, err = p.parseAssign()
		if err != nil {
			return nil, err
		}
	}
	p.accept(";")
	return &VarDecl{span: p.spanFrom(start), Kind: kind, Pat: pat, Init: init}, nil
}

func (p *parser) parsePattern() (Pattern, error) {
	start := p.i
	switch {
	case p.cur().Kind == TokIdent && !IsKeyword(p.cur().Text):
		t := p.advance()
		return &IdentPat{span: p.spanFrom(start), Name: t.Text}, nil
	case p.cur().Is("{"):
		p.advance()
		pat := &ObjectPat{}
		for !p.cur().Is("}") && !p.done() {
			if p.accept("...") {
				t, err := p.expectIdent()
				if err != nil {
					return nil, err
				}
				pat.Rest = t.Text
			} else {
				key, err := p.expectIdent()
				if err != nil {
					return nil, err
				}
				prop := ObjectPatProp{Key: key.Text, Alias: key.Text}
				if p.accept(":") {
					alias, err := p.expectIdent()
					if err != nil {
						return nil, err
					}
					prop.Alias = alias.Text
				}
				if p.accept("=") {
					def, err := p.parseAssign()
					if err != nil {
						return nil, err
					}
					prop.Default = def
				}
				pat.Props = append(pat.Props, prop)
			}
			if !p.accept(",") {
				break
			}
		}
		if err := p.expect("}"); err != nil {
			return nil, err
		}
		pat.span = p.spanFrom(start)
		return pat, nil
	case p.cur().Is("["):
		p.advance()
		pat := &ArrayPat{}
		for !p.cur().Is("]") && !p.done() {
			if p.cur().Is(",") {
				pat.Elems = append(pat.Elems, "")
				p.advance()
				continue
			}
			t, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			pat.Elems = append(pat.Elems, t.Text)
			if !p.accept(",") {
				break
			}
		}
		if err := p.expect("]"); err != nil {
			return nil, err
		}
		pat.span = p.spanFrom(start)
		return pat, nil
	default:
		return nil, p.errorf("expected binding pattern, got %q", p.cur().Text)
	}
}

func (p *parser) parseIf() (Stmt, error) {
	start := p.i
	p.advance() // if
	if err := p.expect("("); err != nil {
		return nil, err
	}
	test, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	var els Stmt
	if p.acceptIdent("else") {
		if p.cur().IsIdent("if") {
			els, err = p.parseIf()
		} else {
			els, err = p.parseBlock()
		}
		if err != nil {
			return nil, err
		}
	}
	return &IfStmt{span: p.spanFrom(start), Test: test, Then: then, Else: els}, nil
}

func (p *parser) parseFor() (Stmt, error) {
	start := p.i
	p.advance() // for
	if err := p.expect("("); err != nil {
		return nil, err
	}

	// for-of: `for (const pat of iterable)`
	if p.cur().IsIdent("const") || p.cur().IsIdent("let") {
		mark := p.i
		kind := p.advance().Text
		pat, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		if p.acceptIdent("of") {
			iter, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			body, err := p.parseBlock()
			if err != nil {
				return nil, err
			}
			return &ForOfStmt{span: p.spanFrom(start), DeclKind: kind, Pat: pat, Iterable: iter, Body: body}, nil
		}
		p.i = mark // classic for with a declaration init
	}

	var init Stmt
	if !p.cur().Is(";") {
		st, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		init = st
	} else {
		p.advance()
	}
	var test Expr
	if !p.cur().Is(";") {
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		test = x
	}
	if err := p.expect(";"); err != nil {
		return nil, err
	}
	var post Expr
	if !p.cur().Is(")") {
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		post = x
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &ForStmt{span: p.spanFrom(start), Init: init, Test: test, Post: post, Body: body}, nil
}

func (p *parser) parseWhile() (Stmt, error) {
	start := p.i
	p.advance() // while
	if err := p.expect("("); err != nil {
		return nil, err
	}
	test, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &WhileStmt{span: p.spanFrom(start), Test: test, Body: body}, nil
}

func (p *parser) parseTry() (Stmt, error) {
	start := p.i
	p.advance() // try
	block, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	st := &TryStmt{Block: block}
	if p.acceptIdent("catch") {
		if p.accept("(") {
			t, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			st.CatchParam = t.Text
			// `catch (e: any)` annotation
			if p.accept(":") {
				if _, err := p.parseTypeRef(); err != nil {
					return nil, err
				}
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
		}
		st.Catch, err = p.parseBlock()
		if err != nil {
			return nil, err
		}
	}
	if p.acceptIdent("finally") {
		st.Finally, err = p.parseBlock()
		if err != nil {
			return nil, err
		}
	}
	if st.Catch == nil && st.Finally == nil {
		return nil, p.errorf("try statement requires catch or finally")
	}
	st.span = p.spanFrom(start)
	return st, nil
}

func (p *parser) parseThrow() (Stmt, error) {
	start := p.i
	p.advance() // throw
	x, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.accept(";")
	return &ThrowStmt{span: p.spanFrom(start), X: x}, nil
}

func (p *parser) parseReturn() (Stmt, error) {
	start := p.i
	p.advance() // return
	var x Expr
	if !p.cur().Is(";") && !p.cur().Is("}") && p.cur().Line == p.toks[start].Line {
		var err error
		x, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	p.accept(";")
	return &ReturnStmt{span: p.spanFrom(start), X: x}, nil
}

// --- expressions ---

func (p *parser) parseExpr() (Expr, error) {
	return p.parseAssign()
}

func (p *parser) parseAssign() (Expr, error) {
	start := p.i
	left, err := p.parseCond()
	if err != nil {
		return nil, err
	}
	op := p.cur().Text
	switch op {
	case "=", "+=", "-=", "*=", "/=", "%=", "&&=", "||=", "??=":
		if p.cur().Kind != TokPunct {
			return left, nil
		}
		p.advance()
		right, err := p.parseAssign()
		if err != nil {
			return nil, err
		}
		return &AssignExpr{span: p.spanFrom(start), Op: op, Target: left, Value: right}, nil
	}
	return left, nil
}

func (p *parser) parseCond() (Expr, error) {
	start := p.i
	test, err := p.parseBinary(0)
	if err != nil {
		return nil, err
	}
	if p.cur().Is("?") && !p.at(1).Is(".") {
		p.advance()
		then, err := p.parseAssign()
		if err != nil {
			return nil, err
		}
		if err := p.expect(":"); err != nil {
			return nil, err
		}
		els, err := p.parseAssign()
		if err != nil {
			return nil, err
		}
		return &CondExpr{span: p.spanFrom(start), Test: test, Then: then, Else: els}, nil
	}
	return test, nil
}

var binaryPrec = map[string]int{
	"??": 1, "||": 2, "&&": 3,
	"==": 4, "!=": 4, "===": 4, "!==": 4,
	"<": 5, ">": 5, "<=": 5, ">=": 5, "in": 5,
	"+": 6, "-": 6,
	"*": 7, "/": 7, "%": 7,
}

func (p *parser) binaryOp() (string, int, bool) {
	t := p.cur()
	var op string
	if t.Kind == TokPunct {
		op = t.Text
	} else if t.IsIdent("in") {
		op = "in"
	} else {
		return "", 0, false
	}
	prec, ok := binaryPrec[op]
	return op, prec, ok
}

func (p *parser) parseBinary(minPrec int) (Expr, error) {
	start := p.i
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, prec, ok := p.binaryOp()
		if !ok || prec < minPrec {
			return left, nil
		}
		p.advance()
		right, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{span: p.spanFrom(start), Op: op, L: left, R: right}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	start := p.i
	t := p.cur()
	switch {
	case t.IsIdent("await"):
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &AwaitExpr{span: p.spanFrom(start), X: x}, nil
	case t.IsIdent("typeof"):
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{span: p.spanFrom(start), Op: "typeof", X: x}, nil
	case t.Is("!") || t.Is("-") || t.Is("+"):
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{span: p.spanFrom(start), Op: t.Text, X: x}, nil
	case t.Is("++") || t.Is("--"):
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{span: p.spanFrom(start), Op: t.Text, X: x}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Expr, error) {
	start := p.i
	x, err := p.parseCallChain()
	if err != nil {
		return nil, err
	}
	if p.cur().Is("++") || p.cur().Is("--") {
		op := p.advance().Text
		return &UnaryExpr{span: p.spanFrom(start), Op: op, X: x, Postfix: true}, nil
	}
	return x, nil
}

// parseCallChain parses a primary expression followed by any sequence of
// member accesses, index accesses, and calls.
func (p *parser) parseCallChain() (Expr, error) {
	start := p.i
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.cur().Is("."):
			p.advance()
			t, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			x = &MemberExpr{span: p.spanFrom(start), X: x, Prop: t.Text}
		case p.cur().Is("?."):
			p.advance()
			if p.cur().Is("(") {
				args, err := p.parseArgs()
				if err != nil {
					return nil, err
				}
				x = &CallExpr{span: p.spanFrom(start), Callee: x, Args: args, Optional: true}
				continue
			}
			t, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			x = &MemberExpr{span: p.spanFrom(start), X: x, Prop: t.Text, Optional: true}
		case p.cur().Is("["):
			p.advance()
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			x = &IndexExpr{span: p.spanFrom(start), X: x, Index: idx}
		case p.cur().Is("("):
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			x = &CallExpr{span: p.spanFrom(start), Callee: x, Args: args}
		case p.cur().Is("!"):
			// TS non-null assertion; only when not followed by an operand
			nt := p.at(1)
			if nt.Is(".") || nt.Is("(") || nt.Is("[") || nt.Is(";") || nt.Is(",") || nt.Is(")") || nt.Is("}") {
				p.advance()
				continue
			}
			return x, nil
		default:
			return x, nil
		}
	}
}

func (p *parser) parseArgs() ([]Expr, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	var args []Expr
	for !p.cur().Is(")") && !p.done() {
		start := p.i
		if p.accept("...") {
			x, err := p.parseAssign()
			if err != nil {
				return nil, err
			}
			args = append(args, &SpreadExpr{span: p.spanFrom(start), X: x})
		} else {
			x, err := p.parseAssign()
			if err != nil {
				return nil, err
			}
			args = append(args, x)
		}
		if !p.accept(",") {
			break
		}
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	start := p.i
	t := p.cur()

	switch {
	case t.IsIdent("new"):
		p.advance()
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if p.cur().Is("<") {
			if err := p.skipGenericArgs(); err != nil {
				return nil, err
			}
		}
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		return &NewExpr{span: p.spanFrom(start), ID: p.gen.Next(), TypeName: name.Text, Args: args}, nil

	case t.IsIdent("async"):
		// async arrow: `async (a, b) => ...` or `async x => ...`
		if p.at(1).Is("(") || (p.at(1).Kind == TokIdent && p.at(2).Is("=>")) {
			p.advance()
			return p.parseArrow(start, true)
		}
		p.advance()
		return &Ident{span: p.spanFrom(start), Name: t.Text}, nil

	case t.IsIdent("this"):
		p.advance()
		return &ThisExpr{span: p.spanFrom(start)}, nil

	case t.IsIdent("true"), t.IsIdent("false"):
		p.advance()
		return &BoolLit{span: p.spanFrom(start), Value: t.Text == "true"}, nil

	case t.IsIdent("null"), t.IsIdent("undefined"):
		p.advance()
		return &NullLit{span: p.spanFrom(start), Raw: t.Text}, nil

	case t.Kind == TokIdent && !IsKeyword(t.Text):
		// plain ident, or single-param arrow `x => ...`
		if p.at(1).Is("=>") {
			return p.parseArrow(start, false)
		}
		p.advance()
		return &Ident{span: p.spanFrom(start), Name: t.Text}, nil

	case t.Kind == TokString:
		p.advance()
		return &StringLit{span: p.spanFrom(start), Value: t.Value, Raw: t.Text}, nil

	case t.Kind == TokTemplate:
		p.advance()
		return &TemplateLit{span: p.spanFrom(start), Raw: t.Text}, nil

	case t.Kind == TokNumber:
		p.advance()
		return &NumberLit{span: p.spanFrom(start), Raw: t.Text}, nil

	case t.Is("("):
		if p.isArrowAhead() {
			return p.parseArrow(start, false)
		}
		p.advance()
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return &ParenExpr{span: p.spanFrom(start), X: x}, nil

	case t.Is("["):
		p.advance()
		arr := &ArrayLit{}
		for !p.cur().Is("]") && !p.done() {
			es := p.i
			if p.accept("...") {
				x, err := p.parseAssign()
				if err != nil {
					return nil, err
				}
				arr.Elems = append(arr.Elems, &SpreadExpr{span: p.spanFrom(es), X: x})
			} else {
				x, err := p.parseAssign()
				if err != nil {
					return nil, err
				}
				arr.Elems = append(arr.Elems, x)
			}
			if !p.accept(",") {
				break
			}
		}
		if err := p.expect("]"); err != nil {
			return nil, err
		}
		arr.span = p.spanFrom(start)
		return arr, nil

	case t.Is("{"):
		return p.parseObjectLit()

	default:
		return nil, p.errorf("unexpected token %q", t.Text)
	}
}

// isArrowAhead looks past a balanced paren group for `=>`.
func (p *parser) isArrowAhead() bool {
	depth := 0
	for j := p.i; j < len(p.toks); j++ {
		t := p.toks[j]
		switch {
		case t.Is("("):
			depth++
		case t.Is(")"):
			depth--
			if depth == 0 {
				// allow a return-type annotation between ) and =>
				k := j + 1
				if k < len(p.toks) && p.toks[k].Is(":") {
					for k < len(p.toks) && !p.toks[k].Is("=>") && !p.toks[k].Is("{") && !p.toks[k].Is(";") {
						k++
					}
				}
				return k < len(p.toks) && p.toks[k].Is("=>")
			}
		case t.Kind == TokEOF:
			return false
		}
	}
	return false
}

func (p *parser) parseArrow(start int, async bool) (Expr, error) {
	var params []Pattern
	if p.cur().Is("(") {
		decls, err := p.parseParams()
		if err != nil {
			return nil, err
		}
		for _, d := range decls {
			params = append(params, d.Pat)
		}
		if p.accept(":") {
			if _, err := p.parseTypeRef(); err != nil {
				return nil, err
			}
		}
	} else {
		pat, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		params = append(params, pat)
	}
	if err := p.expect("=>"); err != nil {
		return nil, err
	}
	fn := &ArrowFunc{Async: async, Params: params}
	if p.cur().Is("{") {
		body, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		fn.Body = body
	} else {
		x, err := p.parseAssign()
		if err != nil {
			return nil, err
		}
		fn.ExprBody = x
	}
	fn.span = p.spanFrom(start)
	return fn, nil
}

func (p *parser) parseObjectLit() (Expr, error) {
	start := p.i
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	obj := &ObjectLit{}
	for !p.cur().Is("}") && !p.done() {
		ps := p.i
		if p.accept("...") {
			x, err := p.parseAssign()
			if err != nil {
				return nil, err
			}
			obj.Props = append(obj.Props, &ObjectProp{span: p.spanFrom(ps), Spread: true, Value: x})
		} else {
			var key string
			switch p.cur().Kind {
			case TokIdent:
				key = p.advance().Text
			case TokString:
				key = p.advance().Value
			case TokNumber:
				key = p.advance().Text
			default:
				return nil, p.errorf("expected property name, got %q", p.cur().Text)
			}
			if p.accept(":") {
				v, err := p.parseAssign()
				if err != nil {
					return nil, err
				}
				obj.Props = append(obj.Props, &ObjectProp{span: p.spanFrom(ps), Key: key, Value: v})
			} else {
				// shorthand { name }
				vs := p.spanFrom(ps)
				obj.Props = append(obj.Props, &ObjectProp{
					span: vs, Key: key, Shorthand: true,
					Value: &Ident{span: vs, Name: key},
				})
			}
		}
		if !p.accept(",") {
			break
		}
	}
	if err := p.expect("}"); err != nil {
		return nil, err
	}
	obj.span = p.spanFrom(start)
	return obj, nil
}

// RawText returns the exact source slice a node covers.
func RawText(src string, n Node) string {
	s, e := n.Offsets()
	if s < 0 || e > len(src) || s > e {
		return ""
	}
	return src[s:e]
}

// indexOfLine returns the byte offset of the start of the 1-based line.
func indexOfLine(src string, line int) int {
	if line <= 1 {
		return 0
	}
	cur := 1
	for i := 0; i < len(src); i++ {
		if src[i] == '\n' {
			cur++
			if cur == line {
				return i + 1
			}
		}
	}
	return len(src)
}
