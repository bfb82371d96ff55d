package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflow-sh/reflow/pkg/schema"
)

func TestNewCELEngine(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.Equal(t, "cel", e.Name())
}

// --- Basic evaluation ---

func TestCEL_BooleanConditions(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"payload": map[string]any{
			"status": 200,
			"event":  "push",
		},
	}

	t.Run("comparison", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `payload.status == 200`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("string equality", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `payload.event == "push"`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("logical and", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `payload.status >= 200 && payload.status < 300`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})
}

func TestCEL_OpsNamespace(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"ops": map[string]any{
			"op_2": map[string]any{
				"output": map[string]any{"count": 7},
			},
		},
	}

	out, err := e.Evaluate(context.Background(), `ops.op_2.output.count > 5`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_TriggerAndFlow(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"flow":    map[string]any{"flow_name": "NotifyOnDeploy"},
		"trigger": map[string]any{"tag": "webhook/http"},
	}

	out, err := e.Evaluate(context.Background(),
		`trigger.tag == "webhook/http" && flow.flow_name.startsWith("Notify")`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_LoopVariables(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"loop": map[string]any{"item": "alpha", "index": 0},
	}

	out, err := e.Evaluate(context.Background(), `loop.index == 0 && loop.item == "alpha"`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

// Missing namespace keys default to empty maps instead of erroring at activation.
func TestCEL_MissingKeysDefaultToEmptyMaps(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), `size(ops) == 0`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_TernaryRouting(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"payload": map[string]any{"severity": "high"},
	}

	out, err := e.Evaluate(context.Background(),
		`payload.severity == "high" ? "#incidents" : "#general"`, data)
	require.NoError(t, err)
	assert.Equal(t, "#incidents", out)
}

// --- Error cases ---

func TestCEL_EmptyExpression(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "", map[string]any{})
	require.Error(t, err)

	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)
}

func TestCEL_CompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "payload.status ==", map[string]any{})
	require.Error(t, err)

	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)
}

func TestCEL_UnknownVariableRejected(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	// Only the five declared namespaces exist in the environment.
	_, err = e.Evaluate(context.Background(), `process.env.KEY == "x"`, map[string]any{})
	require.Error(t, err)
}

// --- Caching ---

func TestCEL_ConcurrentEvaluation(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), `payload.ok == true`, map[string]any{
				"payload": map[string]any{"ok": true},
			})
			assert.NoError(t, err)
			assert.Equal(t, true, out)
		}()
	}
	wg.Wait()
}
