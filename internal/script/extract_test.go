package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflow-sh/reflow/pkg/schema"
)

func extract(t *testing.T, src string) []*schema.OperationInstance {
	t.Helper()
	m, err := Parse(src)
	require.NoError(t, err)
	return ExtractInstances(src, m)
}

func TestExtractBasicInstance(t *testing.T) {
	src := `export class F extends Flow<'webhook/http'> {
  async handle(payload) {
    const res = await new SlackBubble({ channel: '#general', retries: 3, verbose: true }).action();
    return res;
  }
}
`
	instances := extract(t, src)
	require.Len(t, instances, 1)

	inst := instances[0]
	assert.Equal(t, "res", inst.Name)
	assert.Equal(t, "SlackBubble", inst.TypeName)
	assert.Equal(t, schema.NodeKindService, inst.Kind)
	assert.True(t, inst.Awaited)
	assert.True(t, inst.HasActionCall)
	assert.Equal(t, 3, inst.Span.StartLine)

	require.Len(t, inst.Parameters, 3)
	assert.Equal(t, "channel", inst.Parameters[0].Name)
	assert.Equal(t, "'#general'", inst.Parameters[0].Value)
	assert.Equal(t, schema.ParamString, inst.Parameters[0].Kind)
	assert.Equal(t, schema.ParamNumber, inst.Parameters[1].Kind)
	assert.Equal(t, schema.ParamBoolean, inst.Parameters[2].Kind)
	for _, p := range inst.Parameters {
		assert.Equal(t, schema.ProvenanceNamed, p.Provenance)
	}
}

func TestExtractUnawaitedAndUnbound(t *testing.T) {
	src := `export class F extends Flow<'webhook/http'> {
  async handle(payload) {
    new EchoBubble({ message: 'fire and forget' }).action();
    return 1;
  }
}
`
	instances := extract(t, src)
	require.Len(t, instances, 1)
	assert.False(t, instances[0].Awaited)
	assert.True(t, instances[0].HasActionCall)
	// Synthesized name from lowered type and ID.
	assert.Contains(t, instances[0].Name, "echoBubble_")
}

func TestExtractInstantiationWithoutAction(t *testing.T) {
	src := `export class F extends Flow<'webhook/http'> {
  async handle(payload) {
    const op = new SlackBubble({ channel: '#x' });
    return op;
  }
}
`
	instances := extract(t, src)
	require.Len(t, instances, 1)
	assert.False(t, instances[0].HasActionCall)
}

func TestExtractIgnoresNonOperationTypes(t *testing.T) {
	src := `export class F extends Flow<'webhook/http'> {
  async handle(payload) {
    const e = new Error('nope');
    const d = new Date();
    const res = await new HttpBubble({ url: 'x' }).action();
    return res;
  }
}
`
	instances := extract(t, src)
	require.Len(t, instances, 1)
	assert.Equal(t, "HttpBubble", instances[0].TypeName)
}

func TestExtractWorkflowKind(t *testing.T) {
	src := `export class F extends Flow<'webhook/http'> {
  async handle(payload) {
    const res = await new SlackWorkflow({ steps: [] }).action();
    return res;
  }
}
`
	instances := extract(t, src)
	require.Len(t, instances, 1)
	assert.Equal(t, schema.NodeKindWorkflow, instances[0].Kind)
}

func TestExtractParamProvenance(t *testing.T) {
	src := `export class F extends Flow<'webhook/http'> {
  async handle(payload) {
    const base = { channel: '#x' };
    const a = await new SlackBubble(base).action();
    const b = await new SlackBubble({ ...base, message: 'hi' }).action();
    return b;
  }
}
`
	instances := extract(t, src)
	require.Len(t, instances, 2)

	require.Len(t, instances[0].Parameters, 1)
	assert.Equal(t, schema.ProvenanceEntireArgument, instances[0].Parameters[0].Provenance)
	assert.Equal(t, "base", instances[0].Parameters[0].Value)

	require.Len(t, instances[1].Parameters, 2)
	assert.Equal(t, schema.ProvenanceObjectSpread, instances[1].Parameters[0].Provenance)
	assert.Equal(t, schema.ProvenanceNamed, instances[1].Parameters[1].Provenance)
}

func TestExtractEnvParamKind(t *testing.T) {
	src := `export class F extends Flow<'webhook/http'> {
  async handle(payload) {
    const res = await new HttpBubble({ token: process.env.API_TOKEN, url: 'x' }).action();
    return res;
  }
}
`
	instances := extract(t, src)
	require.Len(t, instances, 1)
	assert.Equal(t, schema.ParamEnv, instances[0].Parameters[0].Kind)
}

func TestExtractDependencies(t *testing.T) {
	src := `export class F extends Flow<'webhook/http'> {
  async handle(payload) {
    const status = await new HttpBubble({ url: 'https://ci.example.com' }).action();
    const note = await new SlackBubble({ channel: '#x', message: status.body }).action();
    return note;
  }
}
`
	instances := extract(t, src)
	require.Len(t, instances, 2)

	assert.Empty(t, instances[0].Dependencies)
	require.Len(t, instances[1].Dependencies, 1)
	assert.Equal(t, instances[0].ID, instances[1].Dependencies[0].FromID)
	assert.Equal(t, "status", instances[1].Dependencies[0].Variable)
}

func TestExtractNoFalseDependencyOnSubstring(t *testing.T) {
	src := `export class F extends Flow<'webhook/http'> {
  async handle(payload) {
    const s = await new HttpBubble({ url: 'x' }).action();
    const other = await new SlackBubble({ message: 'commas, not refs' }).action();
    return other;
  }
}
`
	instances := extract(t, src)
	require.Len(t, instances, 2)
	assert.Empty(t, instances[1].Dependencies)
}

func TestExtractInsideControlFlow(t *testing.T) {
	src := `export class F extends Flow<'webhook/http'> {
  async handle(payload) {
    if (payload.alert) {
      await new SlackBubble({ channel: '#alerts' }).action();
    }
    for (const item of payload.items) {
      await new EchoBubble({ message: item }).action();
    }
    try {
      await new HttpBubble({ url: 'x' }).action();
    } catch (e) {
      await new SlackBubble({ channel: '#errors' }).action();
    }
    return 1;
  }
}
`
	instances := extract(t, src)
	assert.Len(t, instances, 4)
	for _, inst := range instances {
		assert.True(t, inst.Awaited, "instance %d at line %d", inst.ID, inst.Span.StartLine)
	}
}
