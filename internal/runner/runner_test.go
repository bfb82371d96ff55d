package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflow-sh/reflow/internal/ops"
	"github.com/reflow-sh/reflow/internal/script"
	"github.com/reflow-sh/reflow/pkg/schema"
)

func mustScript(t *testing.T, source string) *script.FlowScript {
	t.Helper()
	fs, err := script.NewFlowScript(source)
	require.NoError(t, err)
	return fs
}

func echoRunner(t *testing.T) *Runner {
	t.Helper()
	reg := ops.NewRegistry(nil)
	require.NoError(t, reg.Register(ops.EchoOperation{}))
	return New(reg, WithEphemeralDir(t.TempDir()))
}

func TestRunEcho(t *testing.T) {
	fs := mustScript(t, `export class EchoFlow extends Flow<'webhook/http'> {
  async handle(payload) {
    const res = await new EchoBubble({ message: payload.text }).action();
    return { echoed: res.message };
  }
}
`)
	result := echoRunner(t).Run(context.Background(), fs, map[string]any{"text": "hello"})
	require.NotNil(t, result)
	require.Nil(t, result.Error)
	require.True(t, result.Success)

	data, ok := result.Data.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "hello", data["echoed"])

	require.NotNil(t, result.Summary)
	require.NotEmpty(t, result.Summary.Trace)
	require.Contains(t, result.Summary.OpDurations, 1)

	var started, completed bool
	for _, ev := range result.Summary.Trace {
		switch ev.Type {
		case schema.TraceOpStarted:
			started = true
			assert.Equal(t, 1, ev.OpID)
			assert.Equal(t, "EchoBubble", ev.OpType)
		case schema.TraceOpCompleted:
			completed = true
		}
	}
	require.True(t, started)
	require.True(t, completed)
}

func TestRunSynthesizesDefaultPayload(t *testing.T) {
	fs := mustScript(t, `export class DefaultFlow extends Flow<'webhook/http'> {
  async handle(payload = { limit: 10, verbose: false }) {
    return { limit: payload.limit, verbose: payload.verbose };
  }
}
`)
	result := echoRunner(t).Run(context.Background(), fs, nil)
	require.True(t, result.Success)

	data := result.Data.(map[string]any)
	require.EqualValues(t, 10, data["limit"])
	require.Equal(t, false, data["verbose"])
}

func TestRunRejectsMismatchedPayload(t *testing.T) {
	fs := mustScript(t, `export class TypedFlow extends Flow<'webhook/http'> {
  async handle(payload: { text: string }) {
    return { ok: true };
  }
}
`)
	result := echoRunner(t).Run(context.Background(), fs, map[string]any{"text": 42})
	require.False(t, result.Success)
	require.NotNil(t, result.Error)
	require.Equal(t, schema.ErrCodeValidation, result.Error.Code)
}

func TestRunUnregisteredOperation(t *testing.T) {
	fs := mustScript(t, `export class MysteryFlow extends Flow<'webhook/http'> {
  async handle(payload) {
    const res = await new MysteryBubble({ q: 1 }).action();
    return res;
  }
}
`)
	result := echoRunner(t).Run(context.Background(), fs, map[string]any{})
	require.False(t, result.Success)
	require.NotNil(t, result.Error)
	require.Contains(t, result.Error.Message, "MysteryBubble")
}

func TestRunFlowThrow(t *testing.T) {
	fs := mustScript(t, `export class AngryFlow extends Flow<'webhook/http'> {
  async handle(payload) {
    throw new Error('boom');
  }
}
`)
	result := echoRunner(t).Run(context.Background(), fs, map[string]any{})
	require.False(t, result.Success)
	require.NotNil(t, result.Error)
	require.Contains(t, result.Error.Message, "boom")
	require.NotNil(t, result.Summary)
}

func TestRunEnvAccessThrows(t *testing.T) {
	fs := mustScript(t, `export class SneakyFlow extends Flow<'webhook/http'> {
  async handle(payload) {
    const key = process.env.API_KEY;
    return { key };
  }
}
`)
	result := echoRunner(t).Run(context.Background(), fs, map[string]any{})
	require.False(t, result.Success)
	require.NotNil(t, result.Error)
	require.Contains(t, result.Error.Message, "SECURITY VIOLATION")
}

func TestRunEmitsLineTrace(t *testing.T) {
	fs := mustScript(t, `export class LineFlow extends Flow<'webhook/http'> {
  async handle(payload) {
    const res = await new EchoBubble({ message: 'x' }).action();
    return res;
  }
}
`)
	result := echoRunner(t).Run(context.Background(), fs, map[string]any{})
	require.True(t, result.Success)

	var kinds []string
	for _, ev := range result.Summary.Trace {
		if ev.Type == schema.TraceLine {
			kinds = append(kinds, ev.StmtKind)
		}
	}
	require.Equal(t, []string{"declaration", "return"}, kinds)
}

func TestRunInstrumentsAtMostOnce(t *testing.T) {
	fs := mustScript(t, `export class TwiceRunFlow extends Flow<'webhook/http'> {
  async handle(payload) {
    const res = await new EchoBubble({ message: 'x' }).action();
    return res;
  }
}
`)
	r := echoRunner(t)
	first := r.Run(context.Background(), fs, map[string]any{})
	require.True(t, first.Success)
	after := fs.Source()

	second := r.Run(context.Background(), fs, map[string]any{})
	require.True(t, second.Success)
	require.Equal(t, after, fs.Source())
}

func TestScrubSensitiveEnv(t *testing.T) {
	cases := []string{
		"const key = process.env.API_KEY;",
		"const key = process['env'].API_KEY;",
		`const key = process["env"].API_KEY;`,
		"const key = process?.env.API_KEY;",
	}
	for _, src := range cases {
		out, err := ScrubSensitiveEnv(src)
		require.NoError(t, err)
		assert.NotContains(t, out, "process.env")
		assert.Contains(t, out, "SECURITY VIOLATION")
	}
}

func TestScrubLeavesLiteralsAlone(t *testing.T) {
	src := "const s = 'process.env.X';\n// process.env.Y in a comment\nconst t = `uses process.env.Z`;\n"
	out, err := ScrubSensitiveEnv(src)
	require.NoError(t, err)
	require.Equal(t, src, out)
}

func TestScrubNoMatchesReturnsInput(t *testing.T) {
	src := "const env = processEnv.thing;"
	out, err := ScrubSensitiveEnv(src)
	require.NoError(t, err)
	require.Equal(t, src, out)
}

func TestWriteEphemeralModule(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "runs")
	path, cleanup, err := writeEphemeralModule(dir, "export class X {}")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, ".flow.ts"))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "export class X {}", string(content))

	gi, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	require.Equal(t, "*\n", string(gi))

	cleanup()
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestWriteEphemeralModuleUniqueNames(t *testing.T) {
	dir := t.TempDir()
	p1, c1, err := writeEphemeralModule(dir, "a")
	require.NoError(t, err)
	defer c1()
	p2, c2, err := writeEphemeralModule(dir, "b")
	require.NoError(t, err)
	defer c2()
	require.NotEqual(t, p1, p2)
}

func TestTextPrefix(t *testing.T) {
	require.Equal(t, "abc", textPrefix("abc", 5))
	require.Equal(t, "abcde...", textPrefix("abcdefgh", 5))
}
