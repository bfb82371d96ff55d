package script

import (
	"strings"

	"github.com/reflow-sh/reflow/pkg/schema"
)

// Lexer tokenizes flow-script source. It is shared by the parser and by the
// runner's environment scrubber, which needs token boundaries to leave
// string and comment literals untouched.
type Lexer struct {
	src  string
	pos  int
	line int
	col  int
}

// NewLexer creates a lexer over src.
func NewLexer(src string) *Lexer {
	return &Lexer{src: src, line: 1, col: 1}
}

// Tokenize lexes the whole input. Comments are included in the stream (the
// parser skips them); callers that only need code tokens can filter on Kind.
func Tokenize(src string) ([]Token, error) {
	lx := NewLexer(src)
	var toks []Token
	for {
		tok, err := lx.Next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.Kind == TokEOF {
			return toks, nil
		}
	}
}

func (lx *Lexer) peek() byte {
	if lx.pos >= len(lx.src) {
		return 0
	}
	return lx.src[lx.pos]
}

func (lx *Lexer) peekAt(n int) byte {
	if lx.pos+n >= len(lx.src) {
		return 0
	}
	return lx.src[lx.pos+n]
}

func (lx *Lexer) advance() byte {
	ch := lx.src[lx.pos]
	lx.pos++
	if ch == '\n' {
		lx.line++
		lx.col = 1
	} else {
		lx.col++
	}
	return ch
}

func (lx *Lexer) errorf(format string, args ...any) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeParse, "line %d: "+format,
		append([]any{lx.line}, args...)...)
}

// Next returns the next token.
func (lx *Lexer) Next() (Token, error) {
	for lx.pos < len(lx.src) {
		ch := lx.peek()
		if ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n' {
			lx.advance()
			continue
		}
		break
	}

	start, line, col := lx.pos, lx.line, lx.col
	if lx.pos >= len(lx.src) {
		return Token{Kind: TokEOF, Line: line, Col: col, Offset: start}, nil
	}

	ch := lx.peek()

	switch {
	case ch == '/' && lx.peekAt(1) == '/':
		for lx.pos < len(lx.src) && lx.peek() != '\n' {
			lx.advance()
		}
		return Token{Kind: TokComment, Text: lx.src[start:lx.pos], Line: line, Col: col, Offset: start}, nil

	case ch == '/' && lx.peekAt(1) == '*':
		lx.advance()
		lx.advance()
		for lx.pos < len(lx.src) {
			if lx.peek() == '*' && lx.peekAt(1) == '/' {
				lx.advance()
				lx.advance()
				return Token{Kind: TokComment, Text: lx.src[start:lx.pos], Line: line, Col: col, Offset: start}, nil
			}
			lx.advance()
		}
		return Token{}, lx.errorf("unterminated block comment")

	case ch == '\'' || ch == '"':
		return lx.lexString(ch, start, line, col)

	case ch == '`':
		return lx.lexTemplate(start, line, col)

	case isDigit(ch) || (ch == '.' && isDigit(lx.peekAt(1))):
		for lx.pos < len(lx.src) && (isDigit(lx.peek()) || lx.peek() == '.' || lx.peek() == '_' ||
			lx.peek() == 'x' || lx.peek() == 'e' || lx.peek() == 'E' ||
			(lx.peek() >= 'a' && lx.peek() <= 'f') || (lx.peek() >= 'A' && lx.peek() <= 'F')) {
			lx.advance()
		}
		return Token{Kind: TokNumber, Text: lx.src[start:lx.pos], Line: line, Col: col, Offset: start}, nil

	case isIdentStart(ch):
		for lx.pos < len(lx.src) && isIdentPart(lx.peek()) {
			lx.advance()
		}
		return Token{Kind: TokIdent, Text: lx.src[start:lx.pos], Line: line, Col: col, Offset: start}, nil

	default:
		return lx.lexPunct(start, line, col)
	}
}

func (lx *Lexer) lexString(quote byte, start, line, col int) (Token, error) {
	lx.advance() // opening quote
	var val strings.Builder
	for lx.pos < len(lx.src) {
		ch := lx.peek()
		if ch == '\n' {
			return Token{}, lx.errorf("unterminated string literal")
		}
		if ch == '\\' {
			lx.advance()
			if lx.pos >= len(lx.src) {
				return Token{}, lx.errorf("unterminated string literal")
			}
			esc := lx.advance()
			switch esc {
			case 'n':
				val.WriteByte('\n')
			case 't':
				val.WriteByte('\t')
			case 'r':
				val.WriteByte('\r')
			default:
				val.WriteByte(esc)
			}
			continue
		}
		if ch == quote {
			lx.advance()
			return Token{Kind: TokString, Text: lx.src[start:lx.pos], Value: val.String(),
				Line: line, Col: col, Offset: start}, nil
		}
		val.WriteByte(lx.advance())
	}
	return Token{}, lx.errorf("unterminated string literal")
}

// lexTemplate consumes a backtick literal including `${...}` interpolations,
// tracking brace depth so nested object literals inside interpolations do
// not terminate the scan early.
func (lx *Lexer) lexTemplate(start, line, col int) (Token, error) {
	lx.advance() // opening backtick
	for lx.pos < len(lx.src) {
		ch := lx.peek()
		if ch == '\\' {
			lx.advance()
			if lx.pos < len(lx.src) {
				lx.advance()
			}
			continue
		}
		if ch == '`' {
			lx.advance()
			return Token{Kind: TokTemplate, Text: lx.src[start:lx.pos], Line: line, Col: col, Offset: start}, nil
		}
		if ch == '$' && lx.peekAt(1) == '{' {
			lx.advance()
			lx.advance()
			depth := 1
			for lx.pos < len(lx.src) && depth > 0 {
				c := lx.peek()
				switch c {
				case '{':
					depth++
				case '}':
					depth--
				case '\'', '"':
					if _, err := lx.lexString(c, lx.pos, lx.line, lx.col); err != nil {
						return Token{}, err
					}
					continue
				}
				lx.advance()
			}
			continue
		}
		lx.advance()
	}
	return Token{}, lx.errorf("unterminated template literal")
}

// multi-byte punctuators, longest first.
var puncts = []string{
	"===", "!==", "...", "**=", "&&=", "||=", "??=",
	"=>", "==", "!=", "<=", ">=", "&&", "||", "??", "?.",
	"+=", "-=", "*=", "/=", "%=", "++", "--", "**",
}

func (lx *Lexer) lexPunct(start, line, col int) (Token, error) {
	rest := lx.src[lx.pos:]
	for _, p := range puncts {
		if strings.HasPrefix(rest, p) {
			for range p {
				lx.advance()
			}
			return Token{Kind: TokPunct, Text: p, Line: line, Col: col, Offset: start}, nil
		}
	}
	ch := lx.advance()
	if strings.IndexByte("(){}[];,:.?!<>+-*/%=&|^~", ch) < 0 {
		return Token{}, lx.errorf("unexpected character %q", string(ch))
	}
	return Token{Kind: TokPunct, Text: string(ch), Line: line, Col: col, Offset: start}, nil
}

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }

func isIdentStart(ch byte) bool {
	return ch == '_' || ch == '$' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool { return isIdentStart(ch) || isDigit(ch) }
