package runner

import (
	"github.com/reflow-sh/reflow/internal/script"
)

// envStubExpr replaces every environment-store access in executed text. It
// throws on any use, including property reads chained after the access.
const envStubExpr = `(() => { throw new Error('SECURITY VIOLATION: process.env access is not allowed in flows'); })()`

// ScrubSensitiveEnv rewrites every syntactic access to the host environment
// store to a throwing stub. The scan is token-level, so occurrences inside
// string, template, and comment literals are naturally untouched: they lex as
// single literal tokens, never as an identifier pair.
//
// Matched forms: `process.env`, `process["env"]`, `process['env']`, and
// optional-chained `process?.env`.
func ScrubSensitiveEnv(src string) (string, error) {
	toks, err := script.Tokenize(src)
	if err != nil {
		return "", err
	}

	type hit struct{ start, end int } // byte offsets, end exclusive
	var hits []hit
	for i := 0; i < len(toks); i++ {
		if !toks[i].IsIdent("process") {
			continue
		}
		j := nextCode(toks, i+1)
		if j < 0 {
			continue
		}
		switch {
		case toks[j].Is(".") || toks[j].Is("?."):
			k := nextCode(toks, j+1)
			if k >= 0 && toks[k].IsIdent("env") {
				hits = append(hits, hit{toks[i].Offset, tokenEndOff(toks[k])})
			}
		case toks[j].Is("["):
			k := nextCode(toks, j+1)
			if k < 0 || toks[k].Kind != script.TokString || toks[k].Value != "env" {
				continue
			}
			l := nextCode(toks, k+1)
			if l >= 0 && toks[l].Is("]") {
				hits = append(hits, hit{toks[i].Offset, tokenEndOff(toks[l])})
			}
		}
	}
	if len(hits) == 0 {
		return src, nil
	}

	out := src
	for i := len(hits) - 1; i >= 0; i-- {
		out = out[:hits[i].start] + envStubExpr + out[hits[i].end:]
	}
	return out, nil
}

// nextCode returns the index of the next non-comment token at or after i, or
// -1 at end of input.
func nextCode(toks []script.Token, i int) int {
	for ; i < len(toks); i++ {
		if toks[i].Kind == script.TokComment {
			continue
		}
		if toks[i].Kind == script.TokEOF {
			return -1
		}
		return i
	}
	return -1
}

func tokenEndOff(t script.Token) int {
	return t.Offset + len(t.Text)
}
