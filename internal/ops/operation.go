package ops

import (
	"context"

	"github.com/reflow-sh/reflow/pkg/schema"
)

// Operation is one callable unit representing a single external
// side-effecting call. Concrete provider SDK implementations live outside
// the core; the runner only sees this interface.
type Operation interface {
	// Name is the flow-script class name (e.g. "SlackBubble").
	Name() string
	Kind() schema.NodeKind
	Execute(ctx context.Context, input OperationInput) (*OperationOutput, error)
	Validate(params map[string]any) error
}

// OperationInput is the data provided to an operation at execution time.
// Credentials arrive pre-resolved from the rewritten source; they are never
// logged.
type OperationInput struct {
	Params      map[string]any                   `json:"params"`
	Credentials map[schema.CredentialType]string `json:"-"`
}

// OperationOutput is the result of an operation execution.
type OperationOutput struct {
	Data any `json:"data,omitempty"`
}

// OperationInfo is a summary of a registered operation for listing.
type OperationInfo struct {
	Name        string                  `json:"name"`
	Kind        schema.NodeKind         `json:"kind"`
	Credentials []schema.CredentialType `json:"credentials,omitempty"`
}
