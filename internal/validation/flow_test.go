package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflow-sh/reflow/internal/ops"
	"github.com/reflow-sh/reflow/internal/script"
	"github.com/reflow-sh/reflow/pkg/schema"
)

const validFlowSource = `export class DeployNotifier extends Flow<'webhook/http'> {
  async handle(payload: { repo: string; channel?: string }) {
    const res = await new HttpBubble({ url: 'https://api.example.com/status' }).action();
    const note = await new EchoBubble({ message: res.data.status }).action();
    return { ok: true, note: note.data };
  }
}
`

func testRegistry(t *testing.T) *ops.Registry {
	t.Helper()
	reg := ops.NewRegistry(nil)
	require.NoError(t, reg.Register(ops.NewHTTPOperation()))
	require.NoError(t, reg.Register(ops.EchoOperation{}))
	return reg
}

func TestValidateValidFlow(t *testing.T) {
	fv := NewFlowValidator(testRegistry(t))

	result := fv.Validate(validFlowSource)
	assert.True(t, result.Valid(), "errors: %v", result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestValidateParseFailure(t *testing.T) {
	fv := NewFlowValidator(nil)

	result := fv.Validate("export class Broken extends {{{{")
	require.False(t, result.Valid())
	assert.Equal(t, schema.ErrCodeParse, result.Errors[0].Code)
}

func TestValidateStructural(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		wantMsg string
	}{
		{
			name:    "no class",
			source:  `const x = 1;`,
			wantMsg: "declares no class",
		},
		{
			name: "not exported",
			source: `class Hidden extends Flow<'webhook/http'> {
  async handle(payload) { return 1; }
}`,
			wantMsg: "must be exported",
		},
		{
			name: "wrong superclass",
			source: `export class Loose extends Task<'webhook/http'> {
  async handle(payload) { return 1; }
}`,
			wantMsg: "must extend Flow",
		},
		{
			name: "no handle method",
			source: `export class Empty extends Flow<'webhook/http'> {
  async other(payload) { return 1; }
}`,
			wantMsg: "declares no handle method",
		},
		{
			name: "handle not async",
			source: `export class Sync extends Flow<'webhook/http'> {
  handle(payload) { return 1; }
}`,
			wantMsg: "must be declared async",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fv := NewFlowValidator(nil)
			result := fv.Validate(tt.source)
			require.False(t, result.Valid())
			found := false
			for _, e := range result.Errors {
				if strings.Contains(e.Message, tt.wantMsg) {
					found = true
				}
			}
			assert.True(t, found, "expected error containing %q, got %v", tt.wantMsg, result.Errors)
		})
	}
}

func TestValidateUnknownOperationType(t *testing.T) {
	fv := NewFlowValidator(testRegistry(t))

	source := `export class Notifier extends Flow<'webhook/http'> {
  async handle(payload) {
    const res = await new TelegramBubble({ chat: 'dev' }).action();
    return res.data;
  }
}`
	result := fv.Validate(source)
	require.False(t, result.Valid())
	assert.Equal(t, schema.ErrCodeOperation, result.Errors[0].Code)
	assert.Contains(t, result.Errors[0].Message, "TelegramBubble")
	assert.Equal(t, 3, result.Errors[0].Line)
}

func TestValidateNilLookupSkipsOpChecks(t *testing.T) {
	fv := NewFlowValidator(nil)

	source := `export class Notifier extends Flow<'webhook/http'> {
  async handle(payload) {
    const res = await new TelegramBubble({ chat: 'dev' }).action();
    return res.data;
  }
}`
	result := fv.Validate(source)
	assert.True(t, result.Valid(), "errors: %v", result.Errors)
}

func TestValidateUnawaitedActionCall(t *testing.T) {
	fv := NewFlowValidator(testRegistry(t))

	source := `export class FireAndForget extends Flow<'webhook/http'> {
  async handle(payload) {
    new EchoBubble({ message: 'bye' }).action();
    return { ok: true };
  }
}`
	result := fv.Validate(source)
	assert.True(t, result.Valid())
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0].Message, "not awaited")
}

func TestValidateScriptNil(t *testing.T) {
	fv := NewFlowValidator(nil)
	result := fv.ValidateScript(nil)
	require.False(t, result.Valid())
}

func TestValidateDefinitionReturnsError(t *testing.T) {
	fv := NewFlowValidator(testRegistry(t))

	fs, err := script.NewFlowScript(validFlowSource)
	require.NoError(t, err)
	require.NoError(t, fv.ValidateDefinition(fs))

	err = NewFlowValidator(nil).ValidateScript(nil).ToError()
	require.Error(t, err)
	var ferr *schema.FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, schema.ErrCodeValidation, ferr.Code)
}

func TestValidateScheduleTrigger(t *testing.T) {
	fv := NewFlowValidator(testRegistry(t))

	source := `export class Nightly extends Flow<{ type: 'schedule'; cron: '0 2 * * *' }> {
  async handle(payload) {
    return await new EchoBubble({ message: 'tick' }).action();
  }
}`
	result := fv.Validate(source)
	assert.True(t, result.Valid(), "errors: %v", result.Errors)
}

func TestValidateBadCronTrigger(t *testing.T) {
	fv := NewFlowValidator(nil)

	source := `export class Nightly extends Flow<{ type: 'schedule'; cron: 'every tuesday' }> {
  async handle(payload) { return 1; }
}`
	result := fv.Validate(source)
	require.False(t, result.Valid())
}
