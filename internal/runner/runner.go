// Package runner executes the final rewritten text of a flow script: it
// ensures instrumentation is injected at most once, neutralizes environment
// access, materializes the text as an ephemeral module file, evaluates the
// flow, and returns a structured result with the full trace.
package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/reflow-sh/reflow/internal/expressions"
	"github.com/reflow-sh/reflow/internal/instrument"
	"github.com/reflow-sh/reflow/internal/logging"
	"github.com/reflow-sh/reflow/internal/ops"
	"github.com/reflow-sh/reflow/internal/script"
	"github.com/reflow-sh/reflow/internal/secrets"
	"github.com/reflow-sh/reflow/pkg/schema"
)

// Runner executes flow scripts against an operation registry. One Runner
// serves many runs; each run owns its own ephemeral file and trace.
type Runner struct {
	registry *ops.Registry
	log      *slog.Logger
	dir      string
	vault    secrets.Vault
}

// Option configures a Runner.
type Option func(*Runner)

// WithEphemeralDir overrides where run files are materialized.
func WithEphemeralDir(dir string) Option {
	return func(r *Runner) { r.dir = dir }
}

// WithLogger sets the structured logger for run diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithVault enables ${{secrets.*}} resolution in operation parameters.
func WithVault(vault secrets.Vault) Option {
	return func(r *Runner) { r.vault = vault }
}

// New creates a Runner over the given registry.
func New(registry *ops.Registry, opts ...Option) *Runner {
	r := &Runner{
		registry: registry,
		log:      slog.Default(),
		dir:      DefaultEphemeralDir,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one flow. A nil payload is synthesized from the entry
// method's declared defaults; a non-nil payload is validated against the
// derived schema first. The returned result is always structured: rewrite
// and load failures are distinguishable from failures during execution.
func (r *Runner) Run(ctx context.Context, fs *script.FlowScript, payload map[string]any) *schema.ExecutionResult {
	started := time.Now()
	trace := newTraceLogger()
	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	log := logging.LogWith(ctx, r.log)

	fail := func(ferr *schema.FlowError) *schema.ExecutionResult {
		log.Error("run failed", "error", ferr.Error(), "code", ferr.Code)
		return &schema.ExecutionResult{
			Success: false,
			Error:   ferr,
			Summary: trace.summary(started, time.Now()),
		}
	}

	// Instrumentation is injected at most once per FlowScript instance.
	if !fs.MarkInstrumented() {
		if err := instrument.New(fs).InjectAll(); err != nil {
			return fail(asFlowError(err, schema.ErrCodeRewrite))
		}
	}

	if payload == nil {
		synthesized, err := fs.SynthesizePayload()
		if err != nil {
			return fail(asFlowError(err, schema.ErrCodeValidation))
		}
		payload = synthesized
	} else {
		compiled, err := fs.CompilePayloadSchema()
		if err != nil {
			return fail(asFlowError(err, schema.ErrCodeValidation))
		}
		if err := compiled.Validate(toJSONValue(payload)); err != nil {
			return fail(schema.NewErrorf(schema.ErrCodeValidation,
				"trigger payload rejected: %v", err))
		}
	}

	scrubbed, err := ScrubSensitiveEnv(fs.Source())
	if err != nil {
		return fail(asFlowError(err, schema.ErrCodeRewrite))
	}

	path, cleanup, err := writeEphemeralModule(r.dir, scrubbed)
	if err != nil {
		return fail(asFlowError(err, schema.ErrCodeSandbox))
	}
	defer cleanup()
	log.Debug("ephemeral module written", "path", path)

	// A parse failure here is "failed before execution": the rewritten
	// text itself is malformed.
	module, err := script.Parse(scrubbed)
	if err != nil {
		return fail(asFlowError(err, schema.ErrCodeParse).WithDetails(map[string]any{
			"text_prefix": textPrefix(scrubbed, 300),
		}))
	}

	flowName := ""
	if cls := fs.Module().Class(); cls != nil {
		flowName = cls.Name
	}
	trigger, _ := fs.TriggerKind()
	eval, err := expressions.NewEvaluator(
		payload,
		map[string]any{"flow_name": flowName, "run_id": runID},
		map[string]any{"tag": trigger.Tag, "cron": trigger.Cron},
		r.vault,
	)
	if err != nil {
		return fail(asFlowError(err, schema.ErrCodeExecution))
	}

	ip := newInterp(ctx, r.registry, trace, log, eval)
	data, err := ip.runModule(module, payload)
	completed := time.Now()
	if err != nil {
		return &schema.ExecutionResult{
			Success: false,
			Error:   runError(err),
			Summary: trace.summary(started, completed),
		}
	}

	log.Info("run completed", "duration_ms", completed.Sub(started).Milliseconds())
	return &schema.ExecutionResult{
		Success: true,
		Data:    valueToGo(data),
		Summary: trace.summary(started, completed),
	}
}

// runError classifies a failure surfaced by the evaluator.
func runError(err error) *schema.FlowError {
	if t, ok := err.(thrownValue); ok {
		if ferr, ok := t.origin.(*schema.FlowError); ok && ferr != nil {
			return ferr
		}
		return schema.NewErrorf(schema.ErrCodeExecution, "flow threw: %s", stringify(t.val))
	}
	return asFlowError(err, schema.ErrCodeExecution)
}

func asFlowError(err error, fallbackCode string) *schema.FlowError {
	if ferr, ok := err.(*schema.FlowError); ok {
		return ferr
	}
	return schema.NewError(fallbackCode, err.Error()).WithCause(err)
}

// toJSONValue round-trips a payload into the plain decoded-JSON shape the
// schema validator expects.
func toJSONValue(payload map[string]any) any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = normalizeJSON(v)
	}
	return out
}

func normalizeJSON(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, mv := range x {
			out[k] = normalizeJSON(mv)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, el := range x {
			out[i] = normalizeJSON(el)
		}
		return out
	default:
		return v
	}
}
