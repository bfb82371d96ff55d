package script

import "fmt"

// TokenKind classifies lexer output.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokIdent
	TokNumber
	TokString   // single- or double-quoted
	TokTemplate // backtick literal, raw text including interpolations
	TokPunct
	TokComment // retained so rewrite passes can skip comment regions
)

// Token is one lexical unit of a flow script. Text is the raw source slice;
// for TokString, Value holds the decoded string contents.
type Token struct {
	Kind   TokenKind
	Text   string
	Value  string
	Line   int // 1-based
	Col    int // 1-based
	Offset int // byte offset into the source
}

func (t Token) String() string {
	return fmt.Sprintf("%d:%d %q", t.Line, t.Col, t.Text)
}

// Is reports whether the token is a punctuator with the given text.
func (t Token) Is(text string) bool {
	return t.Kind == TokPunct && t.Text == text
}

// IsIdent reports whether the token is the given identifier or keyword.
func (t Token) IsIdent(name string) bool {
	return t.Kind == TokIdent && t.Text == name
}

// keywords the parser treats specially. Everything else lexes as TokIdent.
var keywords = map[string]bool{
	"const": true, "let": true, "var": true, "function": true,
	"class": true, "extends": true, "interface": true, "type": true,
	"export": true, "import": true, "from": true, "new": true,
	"return": true, "if": true, "else": true, "for": true, "of": true,
	"while": true, "do": true, "try": true, "catch": true, "finally": true,
	"throw": true, "break": true, "continue": true, "await": true,
	"async": true, "true": true, "false": true, "null": true,
	"undefined": true, "this": true, "typeof": true, "in": true,
	"switch": true, "case": true, "default": true,
}

// IsKeyword reports whether the identifier text is a reserved word.
func IsKeyword(text string) bool { return keywords[text] }
