package ops

import (
	"context"

	"github.com/reflow-sh/reflow/pkg/schema"
)

// EchoOperation returns its own parameters. Used for development flows and
// as the stand-in operation in runner tests.
type EchoOperation struct{}

func (EchoOperation) Name() string          { return "EchoBubble" }
func (EchoOperation) Kind() schema.NodeKind { return schema.NodeKindService }

func (EchoOperation) Validate(params map[string]any) error { return nil }

func (EchoOperation) Execute(_ context.Context, input OperationInput) (*OperationOutput, error) {
	out := make(map[string]any, len(input.Params))
	for k, v := range input.Params {
		if k == "credentials" {
			continue
		}
		out[k] = v
	}
	return &OperationOutput{Data: out}, nil
}

var _ Operation = EchoOperation{}
