package script

import "github.com/reflow-sh/reflow/pkg/schema"

// The syntax tree is a closed variant set: one Go type per node kind the
// pipeline consumes. Every node carries its inclusive source span plus byte
// offsets so rewrite passes can slice raw text exactly.

// Node is implemented by every syntax-tree node.
type Node interface {
	Span() schema.Span
	Offsets() (start, end int)
}

// Expr is implemented by expression nodes.
type Expr interface {
	Node
	exprNode()
}

// Stmt is implemented by statement nodes.
type Stmt interface {
	Node
	stmtNode()
}

// Pattern is a binding target: an identifier or a destructuring shape.
type Pattern interface {
	Node
	patNode()
	// Names returns every identifier the pattern binds, in source order.
	Names() []string
}

type span struct {
	S        schema.Span
	StartOff int
	EndOff   int
}

func (s span) Span() schema.Span   { return s.S }
func (s span) Offsets() (int, int) { return s.StartOff, s.EndOff }

// --- Expressions ---

type Ident struct {
	span
	Name string
}

type StringLit struct {
	span
	Value string
	Raw   string
}

type TemplateLit struct {
	span
	Raw string
}

type NumberLit struct {
	span
	Raw string
}

type BoolLit struct {
	span
	Value bool
}

type NullLit struct {
	span
	Raw string // "null" or "undefined"
}

type ThisExpr struct {
	span
}

type ObjectProp struct {
	span
	Key       string
	Value     Expr
	Shorthand bool
	Spread    bool // `...expr` element; Value holds the spread target
}

type ObjectLit struct {
	span
	Props []*ObjectProp
}

type ArrayLit struct {
	span
	Elems []Expr
}

type SpreadExpr struct {
	span
	X Expr
}

type MemberExpr struct {
	span
	X        Expr
	Prop     string
	Optional bool // ?.
}

type IndexExpr struct {
	span
	X     Expr
	Index Expr
}

type CallExpr struct {
	span
	Callee   Expr
	Args     []Expr
	Optional bool // ?.( )
}

// NewExpr is an operation instantiation. ID is assigned by the deterministic
// position-keyed generator threaded through each parse.
type NewExpr struct {
	span
	ID       int
	TypeName string
	Args     []Expr
}

type ArrowFunc struct {
	span
	Async    bool
	Params   []Pattern
	Body     *BlockStmt // nil when ExprBody is set
	ExprBody Expr
}

type UnaryExpr struct {
	span
	Op      string
	X       Expr
	Postfix bool
}

type BinaryExpr struct {
	span
	Op string
	L  Expr
	R  Expr
}

type CondExpr struct {
	span
	Test Expr
	Then Expr
	Else Expr
}

type AssignExpr struct {
	span
	Op     string // =, +=, ...
	Target Expr
	Value  Expr
}

type AwaitExpr struct {
	span
	X Expr
}

type ParenExpr struct {
	span
	X Expr
}

func (*Ident) exprNode()       {}
func (*StringLit) exprNode()   {}
func (*TemplateLit) exprNode() {}
func (*NumberLit) exprNode()   {}
func (*BoolLit) exprNode()     {}
func (*NullLit) exprNode()     {}
func (*ThisExpr) exprNode()    {}
func (*ObjectLit) exprNode()   {}
func (*ArrayLit) exprNode()    {}
func (*SpreadExpr) exprNode()  {}
func (*MemberExpr) exprNode()  {}
func (*IndexExpr) exprNode()   {}
func (*CallExpr) exprNode()    {}
func (*NewExpr) exprNode()     {}
func (*ArrowFunc) exprNode()   {}
func (*UnaryExpr) exprNode()   {}
func (*BinaryExpr) exprNode()  {}
func (*CondExpr) exprNode()    {}
func (*AssignExpr) exprNode()  {}
func (*AwaitExpr) exprNode()   {}
func (*ParenExpr) exprNode()   {}

// --- Patterns ---

type IdentPat struct {
	span
	Name string
}

type ObjectPatProp struct {
	Key     string
	Alias   string // binding name; equals Key unless renamed
	Default Expr
}

type ObjectPat struct {
	span
	Props []ObjectPatProp
	Rest  string // ...rest binding, "" if absent
}

type ArrayPat struct {
	span
	Elems []string // element binding names; "" for holes
}

func (*IdentPat) patNode()  {}
func (*ObjectPat) patNode() {}
func (*ArrayPat) patNode()  {}

func (p *IdentPat) Names() []string { return []string{p.Name} }

func (p *ObjectPat) Names() []string {
	names := make([]string, 0, len(p.Props)+1)
	for _, pr := range p.Props {
		names = append(names, pr.Alias)
	}
	if p.Rest != "" {
		names = append(names, p.Rest)
	}
	return names
}

func (p *ArrayPat) Names() []string {
	var names []string
	for _, n := range p.Elems {
		if n != "" {
			names = append(names, n)
		}
	}
	return names
}

// --- Statements ---

type VarDecl struct {
	span
	Kind string // const, let, var
	Pat  Pattern
	Init Expr
}

type ExprStmt struct {
	span
	X Expr
}

type ReturnStmt struct {
	span
	X Expr // nil for bare return
}

type IfStmt struct {
	span
	Test Expr
	Then *BlockStmt
	Else Stmt // *BlockStmt or *IfStmt, nil if absent
}

type ForOfStmt struct {
	span
	DeclKind string // const, let
	Pat      Pattern
	Iterable Expr
	Body     *BlockStmt
}

type ForStmt struct {
	span
	Init Stmt // *VarDecl or *ExprStmt, may be nil
	Test Expr
	Post Expr
	Body *BlockStmt
}

type WhileStmt struct {
	span
	Test Expr
	Body *BlockStmt
}

type TryStmt struct {
	span
	Block      *BlockStmt
	CatchParam string
	Catch      *BlockStmt
	Finally    *BlockStmt
}

type ThrowStmt struct {
	span
	X Expr
}

type BlockStmt struct {
	span
	Stmts []Stmt
}

type BreakStmt struct {
	span
}

type ContinueStmt struct {
	span
}

func (*VarDecl) stmtNode()      {}
func (*ExprStmt) stmtNode()     {}
func (*ReturnStmt) stmtNode()   {}
func (*IfStmt) stmtNode()       {}
func (*ForOfStmt) stmtNode()    {}
func (*ForStmt) stmtNode()      {}
func (*WhileStmt) stmtNode()    {}
func (*TryStmt) stmtNode()      {}
func (*ThrowStmt) stmtNode()    {}
func (*BlockStmt) stmtNode()    {}
func (*BreakStmt) stmtNode()    {}
func (*ContinueStmt) stmtNode() {}

// --- Declarations ---

type ImportDecl struct {
	span
	Names []string
	From  string
}

func (*ImportDecl) stmtNode() {}

// TypeMember is one property of an interface or inline type literal.
type TypeMember struct {
	Name     string
	Optional bool
	Type     *TypeRef
}

// TypeRef is a structural type reference: a named type, a primitive, an
// array, or an inline object literal type.
type TypeRef struct {
	Name    string // "string", "number", "boolean", a named type, or "" for literals
	Elem    *TypeRef
	Members []TypeMember // non-nil for inline object types
}

type InterfaceDecl struct {
	span
	Name    string
	Members []TypeMember
}

func (*InterfaceDecl) stmtNode() {}

// ParamDecl is one declared method parameter.
type ParamDecl struct {
	Pat     Pattern
	Type    *TypeRef
	Default Expr
}

type MethodDecl struct {
	span
	Name   string
	Async  bool
	Params []ParamDecl
	Body   *BlockStmt
}

// ClassDecl is the flow class. SuperTypeArg is the trigger-typed generic
// parameter of the declared supertype: a string literal tag or an object
// literal carrying a tag plus schedule expression.
type ClassDecl struct {
	span
	Name         string
	Exported     bool
	SuperClass   string
	SuperTypeArg Expr
	Methods      []*MethodDecl
}

func (*ClassDecl) stmtNode() {}

// Module is the parsed flow script file.
type Module struct {
	span
	Stmts []Stmt
}

// Class returns the first class declaration in the module, or nil.
func (m *Module) Class() *ClassDecl {
	for _, s := range m.Stmts {
		if c, ok := s.(*ClassDecl); ok {
			return c
		}
	}
	return nil
}

// Method returns the named method of the module's class, or nil.
func (m *Module) Method(name string) *MethodDecl {
	c := m.Class()
	if c == nil {
		return nil
	}
	for _, meth := range c.Methods {
		if meth.Name == name {
			return meth
		}
	}
	return nil
}
