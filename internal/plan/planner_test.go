package plan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reflow-sh/reflow/internal/script"
	"github.com/reflow-sh/reflow/pkg/schema"
)

func mustScript(t *testing.T, source string) *script.FlowScript {
	t.Helper()
	fs, err := script.NewFlowScript(source)
	require.NoError(t, err)
	return fs
}

func TestBuildNoInstances(t *testing.T) {
	fs := mustScript(t, `export class EmptyFlow extends Flow<'webhook/http'> {
  async handle(payload) {
    return payload;
  }
}
`)
	p, err := Build(fs)
	require.NoError(t, err)
	require.Len(t, p.Steps, 1)
	require.Equal(t, schema.StepSetup, p.Steps[0].Kind)
	require.Equal(t, 1, p.Steps[0].StartLine)
	require.Equal(t, len(fs.Lines()), p.Steps[0].EndLine)
}

func TestBuildStandaloneOperations(t *testing.T) {
	fs := mustScript(t, `export class TwoOpFlow extends Flow<'webhook/http'> {
  async handle(payload) {
    const a = await new EchoBubble({ message: 'one' }).action();
    const b = await new HttpBubble({ url: 'https://example.com' }).action();
    return { a, b };
  }
}
`)
	p, err := Build(fs)
	require.NoError(t, err)
	require.Len(t, p.Steps, 4)

	require.Equal(t, schema.StepSetup, p.Steps[0].Kind)
	require.Equal(t, 1, p.Steps[0].StartLine)
	require.Equal(t, 2, p.Steps[0].EndLine)

	echo := p.Steps[1]
	require.Equal(t, schema.StepOperation, echo.Kind)
	require.Equal(t, "EchoBubble", echo.Label)
	require.Equal(t, 3, echo.StartLine)
	require.Len(t, echo.MiniSteps, 2)
	require.Equal(t, schema.MiniStepInstantiate, echo.MiniSteps[0].Kind)
	require.Equal(t, 3, echo.MiniSteps[0].Line)
	require.Equal(t, schema.MiniStepExecute, echo.MiniSteps[1].Kind)
	require.Equal(t, 3, echo.MiniSteps[1].Line)
	require.False(t, echo.MiniSteps[1].LineEstimated)

	http := p.Steps[2]
	require.Equal(t, schema.StepOperation, http.Kind)
	require.Equal(t, "HttpBubble", http.Label)
	require.Equal(t, 2, http.MiniSteps[1].OpID)

	fin := p.Steps[3]
	require.Equal(t, schema.StepFinalization, fin.Kind)
	require.Equal(t, 5, fin.StartLine)
	require.Equal(t, len(fs.Lines()), fin.EndLine)
}

func TestBuildControlFlowGroup(t *testing.T) {
	fs := mustScript(t, `export class LoopFlow extends Flow<'webhook/http'> {
  async handle(payload) {
    const results = [];
    for (const item of payload.items) {
      const r = await new EchoBubble({ message: item }).action();
      results.push(r);
    }
    return results;
  }
}
`)
	p, err := Build(fs)
	require.NoError(t, err)

	var group *schema.PlanStep
	for i := range p.Steps {
		if p.Steps[i].Kind == schema.StepControlFlow {
			group = &p.Steps[i]
		}
	}
	require.NotNil(t, group)
	require.Equal(t, "loop", group.ScopeKind)
	require.Equal(t, "loop group (1 operations)", group.Label)
	require.Len(t, group.MiniSteps, 2)
	require.Equal(t, 5, group.MiniSteps[0].Line)
	require.Equal(t, "EchoBubble", group.MiniSteps[0].OpType)

	// no standalone operation step for the grouped instance
	for _, st := range p.Steps {
		require.NotEqual(t, schema.StepOperation, st.Kind)
	}
}

func TestBuildNestedScopesPickNarrowest(t *testing.T) {
	fs := mustScript(t, `export class NestedFlow extends Flow<'webhook/http'> {
  async handle(payload) {
    for (const item of payload.items) {
      if (item.urgent) {
        const r = await new SlackBubble({ channel: '#alerts', message: item.text }).action();
      }
    }
    return null;
  }
}
`)
	p, err := Build(fs)
	require.NoError(t, err)

	var groups []schema.PlanStep
	for _, st := range p.Steps {
		if st.Kind == schema.StepControlFlow {
			groups = append(groups, st)
		}
	}
	require.Len(t, groups, 1)
	require.Equal(t, "conditional", groups[0].ScopeKind)
}

func TestBuildEstimatedExecuteLine(t *testing.T) {
	fs := mustScript(t, `export class LazyFlow extends Flow<'webhook/http'> {
  async handle(payload) {
    const op = new EchoBubble({ message: 'later' });
    return op;
  }
}
`)
	p, err := Build(fs)
	require.NoError(t, err)

	var op *schema.PlanStep
	for i := range p.Steps {
		if p.Steps[i].Kind == schema.StepOperation {
			op = &p.Steps[i]
		}
	}
	require.NotNil(t, op)
	require.True(t, op.MiniSteps[1].LineEstimated)
	require.Equal(t, 3, op.MiniSteps[1].Line)
}

func TestBuildStepsOrderedByStartLine(t *testing.T) {
	fs := mustScript(t, `export class MixedFlow extends Flow<'webhook/http'> {
  async handle(payload) {
    const head = await new EchoBubble({ message: 'head' }).action();
    for (const item of payload.items) {
      await new EchoBubble({ message: item }).action();
    }
    const tail = await new EchoBubble({ message: 'tail' }).action();
    return { head, tail };
  }
}
`)
	p, err := Build(fs)
	require.NoError(t, err)
	for i := 1; i < len(p.Steps); i++ {
		require.LessOrEqual(t, p.Steps[i-1].StartLine, p.Steps[i].StartLine)
	}
}
