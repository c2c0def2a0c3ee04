package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeUnknownStepType     = "UNKNOWN_STEP_TYPE"
	ErrCodeUnknownWorkflowType = "UNKNOWN_WORKFLOW_TYPE"
	ErrCodeMalformedGraph      = "MALFORMED_GRAPH"
	ErrCodeStepFailed          = "STEP_FAILED"
	ErrCodeHookFailed          = "HOOK_FAILED"
	ErrCodeStepLimit           = "STEP_LIMIT_EXCEEDED"
	ErrCodeCancelled           = "CANCELLED"
	ErrCodeTracer              = "TRACER_ERROR"
	ErrCodeStore               = "STORE_ERROR"
	ErrCodeExpression          = "EXPRESSION_ERROR"
	ErrCodeFilter              = "FILTER_ERROR"
)

// FlowError is the structured error type for all stepflow operations.
// StepNo is zero when the error is not tied to a step; step numbers in a
// revision start at 1.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepNo  int            `json:"step_no,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.StepNo != 0 {
		return fmt.Sprintf("[%s] step %d: %s", e.Code, e.StepNo, e.Message)
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

// WithStep attaches a step number to the error.
func (e *FlowError) WithStep(stepNo int) *FlowError {
	e.StepNo = stepNo
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

// AsFlowError returns err as a *FlowError. Errors of other types are wrapped
// under the fallback code, keeping the original as Cause.
func AsFlowError(err error, fallbackCode string) *FlowError {
	if err == nil {
		return nil
	}
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe
	}
	return NewError(fallbackCode, err.Error()).WithCause(err)
}

// HasCode reports whether err is a FlowError carrying the given code.
func HasCode(err error, code string) bool {
	var fe *FlowError
	return errors.As(err, &fe) && fe.Code == code
}
