package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflow-sh/reflow/pkg/schema"
)

func TestNewExprEngine(t *testing.T) {
	e := NewExprEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "expr", e.Name())
}

// --- Basic evaluation ---

func TestExpr_Literals(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), "42", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 42, out)

	out, err = e.Evaluate(context.Background(), `"hello"`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	out, err = e.Evaluate(context.Background(), "true", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExpr_Arithmetic(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"a": 10, "b": 3}

	t.Run("addition", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "a + b", data)
		require.NoError(t, err)
		assert.Equal(t, 13, out)
	})

	t.Run("multiplication", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "a * b", data)
		require.NoError(t, err)
		assert.Equal(t, 30, out)
	})

	t.Run("modulo", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "a % b", data)
		require.NoError(t, err)
		assert.Equal(t, 1, out)
	})
}

func TestExpr_NestedScopeAccess(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{
		"ops": map[string]any{
			"op_1": map[string]any{
				"output": map[string]any{
					"status": 200,
					"body":   "ok",
				},
			},
		},
	}

	out, err := e.Evaluate(context.Background(), `ops.op_1.output.status == 200`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExpr_ArrayOperations(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{
		"items": []any{1, 2, 3, 4, 5},
	}

	t.Run("filter", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "filter(items, # > 2)", data)
		require.NoError(t, err)
		assert.Equal(t, []any{3, 4, 5}, out)
	})

	t.Run("map", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "map(items, # * 2)", data)
		require.NoError(t, err)
		assert.Equal(t, []any{2, 4, 6, 8, 10}, out)
	})

	t.Run("any", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "any(items, # > 4)", data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("sum", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "sum(items)", data)
		require.NoError(t, err)
		assert.Equal(t, 15, out)
	})
}

func TestExpr_NilCoalescing(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"payload": map[string]any{}}

	out, err := e.Evaluate(context.Background(), `payload.channel ?? "#general"`, data)
	require.NoError(t, err)
	assert.Equal(t, "#general", out)
}

func TestExpr_UndefinedVariableAllowed(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), "missing == nil", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

// --- Error cases ---

func TestExpr_EmptyExpression(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "", map[string]any{})
	require.Error(t, err)

	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)
}

func TestExpr_CompileError(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "1 +* 2", map[string]any{})
	require.Error(t, err)

	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)
	assert.Contains(t, flowErr.Details, "expression")
}

// --- Caching ---

func TestExpr_CacheReuse(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"n": 1}

	_, err := e.Evaluate(context.Background(), "n + 1", data)
	require.NoError(t, err)

	e.mu.RLock()
	_, cached := e.programs["n + 1"]
	e.mu.RUnlock()
	assert.True(t, cached)
}

func TestExpr_ConcurrentEvaluation(t *testing.T) {
	e := NewExprEngine()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), "n * 2", map[string]any{"n": n})
			assert.NoError(t, err)
			assert.Equal(t, n*2, out)
		}(i)
	}
	wg.Wait()
}
