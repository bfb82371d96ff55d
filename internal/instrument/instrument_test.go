package instrument

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/reflow-sh/reflow/internal/script"
)

func mustScript(t *testing.T, source string) *script.FlowScript {
	t.Helper()
	fs, err := script.NewFlowScript(source)
	require.NoError(t, err)
	return fs
}

func instrumentGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

const plainSource = `export class EchoFlow extends Flow<'webhook/http'> {
  async handle(payload) {
    const res = await new EchoBubble({ message: 'hi' }).action();
    return res;
  }
}
`

const flowCallSource = `export class RelayFlow extends Flow<'webhook/http'> {
  async handle(payload) {
    const n = await this.notify(payload.text);
    return n;
  }

  async notify(text) {
    const res = await new EchoBubble({ message: text }).action();
    return res;
  }
}
`

const parallelSource = `export class FanoutFlow extends Flow<'webhook/http'> {
  async handle(payload) {
    const [a, b] = await Promise.all([this.first(payload), this.second(payload)]);
    return { a, b };
  }

  async first(payload) {
    return 1;
  }

  async second(payload) {
    return 2;
  }
}
`

func TestInjectAllPlain(t *testing.T) {
	fs := mustScript(t, plainSource)
	require.NoError(t, New(fs).InjectAll())
	instrumentGoldie(t).Assert(t, "inject_all_plain", []byte(fs.Source()))
}

func TestInjectAllFlowCall(t *testing.T) {
	fs := mustScript(t, flowCallSource)
	require.NoError(t, New(fs).InjectAll())
	instrumentGoldie(t).Assert(t, "inject_all_flow_call", []byte(fs.Source()))
}

func TestInjectAllPromiseAll(t *testing.T) {
	fs := mustScript(t, parallelSource)
	require.NoError(t, New(fs).InjectAll())
	instrumentGoldie(t).Assert(t, "inject_all_promise_all", []byte(fs.Source()))
}

func TestSelfCaptureIdempotent(t *testing.T) {
	fs := mustScript(t, plainSource)
	in := New(fs)
	require.NoError(t, in.InjectSelfCapture())
	once := fs.Source()
	require.Equal(t, 1, strings.Count(once, "const __self = this;"))

	require.NoError(t, in.InjectSelfCapture())
	require.Equal(t, once, fs.Source())
}

func TestSelfCaptureSkipsSingleLineBody(t *testing.T) {
	fs := mustScript(t, `export class TinyFlow extends Flow<'webhook/http'> {
  async handle(payload) {
    return payload;
  }

  version() { return 3; }
}
`)
	require.NoError(t, New(fs).InjectSelfCapture())
	require.Equal(t, 1, strings.Count(fs.Source(), "const __self = this;"))
	require.NotContains(t, fs.Source(), "version() { const __self")
}

func TestCallLoggingNoFlowCallsIsNoop(t *testing.T) {
	fs := mustScript(t, plainSource)
	in := New(fs)
	require.NoError(t, in.InjectSelfCapture())
	before := fs.Source()
	require.NoError(t, in.InjectCallLogging())
	require.Equal(t, before, fs.Source())
}

func TestCallLoggingOrdinalsPerMethod(t *testing.T) {
	fs := mustScript(t, `export class TwiceFlow extends Flow<'webhook/http'> {
  async handle(payload) {
    const a = await this.notify(payload.first);
    const b = await this.notify(payload.second);
    return { a, b };
  }

  async notify(text) {
    const res = await new EchoBubble({ message: text }).action();
    return res;
  }
}
`)
	in := New(fs)
	require.NoError(t, in.InjectSelfCapture())
	require.NoError(t, in.InjectCallLogging())

	src := fs.Source()
	require.Contains(t, src, "pushCallSite('notify_1')")
	require.Contains(t, src, "pushCallSite('notify_2')")
	require.Contains(t, src, "const a = __r_notify_1;")
	require.Contains(t, src, "const b = __r_notify_2;")
	require.Less(t, strings.Index(src, "notify_1"), strings.Index(src, "notify_2"))
}

func TestCallLoggingReturnShape(t *testing.T) {
	fs := mustScript(t, `export class TailFlow extends Flow<'webhook/http'> {
  async handle(payload) {
    return this.finish(payload);
  }

  async finish(payload) {
    const res = await new EchoBubble({ message: 'done' }).action();
    return res;
  }
}
`)
	in := New(fs)
	require.NoError(t, in.InjectSelfCapture())
	require.NoError(t, in.InjectCallLogging())

	src := fs.Source()
	// unawaited call: the wrapper must not introduce an await
	require.Contains(t, src, "const __r_finish_1 = this.finish(payload);")
	require.Contains(t, src, "return __r_finish_1;")
}

func TestCallLoggingIgnoresNonFlowMethods(t *testing.T) {
	fs := mustScript(t, `export class PassFlow extends Flow<'webhook/http'> {
  async handle(payload) {
    const text = payload.text.trim();
    const res = await new EchoBubble({ message: text }).action();
    return res;
  }
}
`)
	in := New(fs)
	require.NoError(t, in.InjectSelfCapture())
	before := fs.Source()
	require.NoError(t, in.InjectCallLogging())
	require.Equal(t, before, fs.Source())
}

func TestLineLoggingEarlyExitPlacement(t *testing.T) {
	fs := mustScript(t, plainSource)
	require.NoError(t, New(fs).InjectAll())

	src := fs.Source()
	marker := strings.Index(src, "logLine(4, 'return')")
	require.Greater(t, marker, -1)
	require.Less(t, marker, strings.Index(src, "return res;"))
}

func TestLineLoggingKinds(t *testing.T) {
	fs := mustScript(t, `export class BranchFlow extends Flow<'webhook/http'> {
  async handle(payload) {
    const items = payload.items;
    if (items.length === 0) {
      return [];
    }
    for (const item of items) {
      console.log(item);
    }
    return items;
  }
}
`)
	require.NoError(t, New(fs).InjectAll())

	src := fs.Source()
	require.Contains(t, src, "logLine(3, 'declaration')")
	require.Contains(t, src, "logLine(4, 'conditional')")
	require.Contains(t, src, "logLine(7, 'loop')")
	require.Contains(t, src, "logLine(10, 'return')")
}

func TestLineLoggingRecordsOriginalLines(t *testing.T) {
	fs := mustScript(t, flowCallSource)
	require.NoError(t, New(fs).InjectAll())

	src := fs.Source()
	// the rewritten call block spans many lines but reports one origin line
	require.Equal(t, 1, strings.Count(src, "logLine(3, 'declaration')"))
	require.Contains(t, src, "logLine(4, 'return')")
	require.NotContains(t, src, "logLine(0,")
}
