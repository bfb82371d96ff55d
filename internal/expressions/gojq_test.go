package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflow-sh/reflow/pkg/schema"
)

func TestNewGoJQEngine(t *testing.T) {
	e := NewGoJQEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "jq", e.Name())
}

// --- Basic evaluation ---

func TestJQ_Identity(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{"a": 1.0}

	out, err := e.Evaluate(context.Background(), ".", data)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestJQ_FieldAccess(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{
		"payload": map[string]any{"repo": "reflow"},
	}

	out, err := e.Evaluate(context.Background(), ".payload.repo", data)
	require.NoError(t, err)
	assert.Equal(t, "reflow", out)
}

func TestJQ_Reshape(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{
		"ops": map[string]any{
			"op_1": map[string]any{
				"output": map[string]any{"status": 200.0, "body": "ok"},
			},
		},
	}

	out, err := e.Evaluate(context.Background(),
		`{code: .ops.op_1.output.status, text: .ops.op_1.output.body}`, data)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"code": 200.0, "text": "ok"}, out)
}

func TestJQ_ArrayFilter(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{
		"items": []any{1.0, 2.0, 3.0, 4.0},
	}

	out, err := e.Evaluate(context.Background(), "[.items[] | select(. > 2)]", data)
	require.NoError(t, err)
	assert.Equal(t, []any{3.0, 4.0}, out)
}

// jq iterators can yield multiple outputs; they come back as a slice.
func TestJQ_MultipleOutputs(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{"items": []any{"a", "b"}}

	out, err := e.Evaluate(context.Background(), ".items[]", data)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestJQ_NoOutput(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{"items": []any{}}

	out, err := e.Evaluate(context.Background(), ".items[]", data)
	require.NoError(t, err)
	assert.Nil(t, out)
}

// --- Sandboxing ---

func TestJQ_EnvAccessBlocked(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `$ENV.SECRET_KEY`, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = e.Evaluate(context.Background(), `env.SECRET_KEY`, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

// --- Normalization ---

func TestJQ_EvaluateNormalized(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{
		"count": 5, // int, not float64
		"nested": map[string]any{
			"values": []any{int64(1), int32(2), float32(3)},
		},
	}

	out, err := e.EvaluateNormalized(context.Background(), ".count + 1", data)
	require.NoError(t, err)
	assert.Equal(t, 6.0, out)

	out, err = e.EvaluateNormalized(context.Background(), ".nested.values | add", data)
	require.NoError(t, err)
	assert.Equal(t, 6.0, out)
}

func TestJQ_EvaluateAll(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{"items": []any{"x"}}

	out, err := e.EvaluateAll(context.Background(), ".items[]", data)
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, out)
}

// --- Error cases ---

func TestJQ_EmptyExpression(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), "", map[string]any{})
	require.Error(t, err)

	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)
}

func TestJQ_ParseError(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), ".[", map[string]any{})
	require.Error(t, err)

	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)
}

func TestJQ_RuntimeError(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), ".a + 1", map[string]any{"a": "text"})
	require.Error(t, err)

	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeExecution, flowErr.Code)
}

// --- Caching ---

func TestJQ_ConcurrentEvaluation(t *testing.T) {
	e := NewGoJQEngine()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n float64) {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), ".n * 2", map[string]any{"n": n})
			assert.NoError(t, err)
			assert.Equal(t, n*2, out)
		}(float64(i))
	}
	wg.Wait()
}
