package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeExecution     = "EXECUTION_ERROR"
	ErrCodeOperation     = "OPERATION_ERROR"
	ErrCodeParse         = "PARSE_ERROR"
	ErrCodeRewrite       = "REWRITE_ERROR"
	ErrCodeCredential    = "CREDENTIAL_ERROR"
	ErrCodeSandbox       = "SANDBOX_ERROR"
	ErrCodeStore         = "STORE_ERROR"
	ErrCodeVault         = "VAULT_ERROR"
	ErrCodeInterpolation = "INTERPOLATION_ERROR"
	ErrCodeSchedule      = "SCHEDULE_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
)

// Execution phases recorded in error details.
const (
	PhaseValidation = "validation"
	PhaseExecution  = "execution"
)

// FlowError is the structured error type for all reflow operations.
// When a failure is attributable to a single operation instance, OpID and
// OpType identify it so callers can surface "which call failed" without
// parsing the message.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	OpID    int            `json:"op_id,omitempty"`
	OpType  string         `json:"op_type,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.OpType != "" {
		return fmt.Sprintf("[%s] operation %s#%d: %s", e.Code, e.OpType, e.OpID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithOperation attaches the offending operation's identifier and type.
func (e *FlowError) WithOperation(opID int, opType string) *FlowError {
	e.OpID = opID
	e.OpType = opType
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// WithPhase records the execution phase on the error details.
func (e *FlowError) WithPhase(phase string) *FlowError {
	if e.Details == nil {
		e.Details = make(map[string]any, 1)
	}
	e.Details["phase"] = phase
	return e
}
