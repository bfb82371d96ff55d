package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scopeFixture = `export class F extends Flow<'webhook/http'> {
  async handle(payload) {
    const outer = 1;
    if (payload.flag) {
      const inner = 2;
      return inner;
    }
    for (const item of payload.items) {
      let count = item.n;
    }
    return outer;
  }
}
`

func bindingNames(bs []Binding) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.Name
	}
	return out
}

func TestVariablesVisibleAtLine(t *testing.T) {
	fs := mustFlowScript(t, scopeFixture)

	// Inside the if block: payload, outer, inner; not item or count.
	names := bindingNames(fs.VariablesVisibleAtLine(6))
	assert.Contains(t, names, "payload")
	assert.Contains(t, names, "outer")
	assert.Contains(t, names, "inner")
	assert.NotContains(t, names, "item")
	assert.NotContains(t, names, "count")

	// After the if block: inner is out of scope.
	names = bindingNames(fs.VariablesVisibleAtLine(11))
	assert.Contains(t, names, "outer")
	assert.NotContains(t, names, "inner")
}

func TestVariablesVisibleBeforeDeclaration(t *testing.T) {
	fs := mustFlowScript(t, scopeFixture)

	// Line 3 is the declaration line of outer; line 2 precedes it.
	names := bindingNames(fs.VariablesVisibleAtLine(2))
	assert.NotContains(t, names, "outer")
	assert.Contains(t, names, "payload")
}

func TestLoopBindings(t *testing.T) {
	fs := mustFlowScript(t, scopeFixture)

	names := bindingNames(fs.VariablesVisibleAtLine(9))
	assert.Contains(t, names, "item")
	assert.Contains(t, names, "count")
	assert.Contains(t, names, "outer")
}

func TestControlScopes(t *testing.T) {
	fs := mustFlowScript(t, scopeFixture)

	scopes := fs.Scopes().ControlScopes()
	require.NotEmpty(t, scopes)

	var kinds []ScopeKind
	for _, s := range scopes {
		kinds = append(kinds, s.Kind)
	}
	assert.Contains(t, kinds, ScopeConditional)
	assert.Contains(t, kinds, ScopeLoop)

	// Source order.
	for i := 1; i < len(scopes); i++ {
		assert.LessOrEqual(t, scopes[i-1].Span.StartLine, scopes[i].Span.StartLine)
	}
}

func TestScopesContaining(t *testing.T) {
	fs := mustFlowScript(t, scopeFixture)

	inIf := fs.Scopes().ScopesContaining(5)
	var sawConditional bool
	for _, s := range inIf {
		if s.Kind == ScopeConditional {
			sawConditional = true
		}
	}
	assert.True(t, sawConditional)
}

func TestBindingDeclarationPositions(t *testing.T) {
	fs := mustFlowScript(t, scopeFixture)

	for _, b := range fs.VariablesVisibleAtLine(6) {
		if b.Name == "outer" {
			assert.Equal(t, 3, b.DeclLine)
			assert.Equal(t, "const", b.Kind)
			return
		}
	}
	t.Fatal("binding outer not found")
}
