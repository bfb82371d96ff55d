// Package instrument rewrites flow-script method bodies so every run is
// observable: a stable self-reference is captured for nested closures, every
// invocation of a flow method is wrapped with start/complete trace emission,
// and every top-level statement of the entry method gets a line marker.
package instrument

import (
	"github.com/reflow-sh/reflow/internal/script"
)

// SelfRef is the uniquely named local binding that captures the enclosing
// instance at the top of each method body. Trace calls injected inside
// arrow functions and callbacks reach shared logger state through it.
const SelfRef = "__self"

// Instrumenter applies the three injection passes to one flow script. It
// tracks, per current text line, the original line it derives from, so the
// line-marker pass can record pre-instrumentation positions after the
// call-logging pass has shifted everything.
type Instrumenter struct {
	fs     *script.FlowScript
	origin []int // 1-based per current line; 0 marks injected lines
}

// New creates an Instrumenter over fs. The text as given is treated as the
// original coordinate system.
func New(fs *script.FlowScript) *Instrumenter {
	n := len(fs.Lines())
	origin := make([]int, n+1) // index 0 unused
	for i := 1; i <= n; i++ {
		origin[i] = i
	}
	return &Instrumenter{fs: fs, origin: origin}
}

// InjectAll runs the full instrumentation sequence. Call logging must run
// before line logging: it changes line counts that the line markers'
// positions must already reflect.
func (in *Instrumenter) InjectAll() error {
	if err := in.InjectSelfCapture(); err != nil {
		return err
	}
	if err := in.InjectCallLogging(); err != nil {
		return err
	}
	return in.InjectLineLogging()
}

// originAt returns the original line for a current line, 0 for injected
// lines or lines out of range.
func (in *Instrumenter) originAt(line int) int {
	if line < 1 || line >= len(in.origin) {
		return 0
	}
	return in.origin[line]
}

// spliceOrigin records a rewrite that replaced `removed` lines starting at
// `at` with `added` lines, all attributed to origin line `attr` (0 for pure
// insertions of synthetic text).
func (in *Instrumenter) spliceOrigin(at, removed, added, attr int) {
	if at < 1 {
		at = 1
	}
	if at > len(in.origin) {
		at = len(in.origin)
	}
	cut := at + removed
	if cut > len(in.origin) {
		cut = len(in.origin)
	}
	tail := make([]int, 0, len(in.origin))
	tail = append(tail, in.origin[cut:]...)
	in.origin = in.origin[:at]
	for i := 0; i < added; i++ {
		in.origin = append(in.origin, attr)
	}
	in.origin = append(in.origin, tail...)
}
