package schema

import (
	"context"
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeTransientBackend  = "TRANSIENT_BACKEND"
	ErrCodeTooShort          = "TOO_SHORT_RESPONSE"
	ErrCodeOutlineInvalid    = "OUTLINE_INVALID"
	ErrCodeDiagramRender     = "DIAGRAM_RENDER_FAILED"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeExternalRender    = "EXTERNAL_RENDER_FAILED"
	ErrCodeCorruptCheckpoint = "CORRUPT_CHECKPOINT"
	ErrCodeRetryExhausted    = "RETRY_EXHAUSTED"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
	ErrCodeQueueClosed       = "QUEUE_CLOSED"
)

// nonRetryableCodes lists codes that a retry loop must surface immediately.
var nonRetryableCodes = map[string]bool{
	ErrCodeValidation:        true,
	ErrCodeCancelled:         true,
	ErrCodeExternalRender:    true,
	ErrCodeInvalidTransition: true,
	ErrCodeNotFound:          true,
	ErrCodeCircuitOpen:       true,
	ErrCodeQueueClosed:       true,
	ErrCodeRetryExhausted:    true,
}

// PipelineError is the structured error type for all book generation operations.
type PipelineError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Stage   string         `json:"stage,omitempty"`
	Cause   error          `json:"-"`
}

func (e *PipelineError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether a retry loop may attempt the operation again.
func (e *PipelineError) IsRetryable() bool {
	return !nonRetryableCodes[e.Code]
}

// NewError creates a new PipelineError.
func NewError(code, message string) *PipelineError {
	return &PipelineError{Code: code, Message: message}
}

// NewErrorf creates a new PipelineError with a formatted message.
func NewErrorf(code, format string, args ...any) *PipelineError {
	return &PipelineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStage attaches the pipeline stage (e.g. "outline", "chapter-3") to the error.
func (e *PipelineError) WithStage(stage string) *PipelineError {
	e.Stage = stage
	return e
}

// WithCause attaches an underlying cause.
func (e *PipelineError) WithCause(err error) *PipelineError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *PipelineError) WithDetails(details map[string]any) *PipelineError {
	e.Details = details
	return e
}

// HasCode reports whether any PipelineError in err's chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var pe *PipelineError
		if !errors.As(err, &pe) {
			return false
		}
		if pe.Code == code {
			return true
		}
		err = pe.Cause
	}
	return false
}

// IsCancelled reports whether err stems from an observed cancellation flag.
func IsCancelled(err error) bool {
	return HasCode(err, ErrCodeCancelled)
}

// FailureKind is the caller-facing classification of a failed run.
type FailureKind string

const (
	FailureNone                FailureKind = ""
	FailureCancelled           FailureKind = "cancelled"
	FailureFailed              FailureKind = "failed"
	FailureExternalUnavailable FailureKind = "external_unavailable"
)

// Classify maps a pipeline error onto the kind a CLI or server reports.
// Cancelled and failed runs keep their checkpoint and can be resumed.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case IsCancelled(err), errors.Is(err, context.Canceled):
		return FailureCancelled
	case HasCode(err, ErrCodeExternalRender), HasCode(err, ErrCodeCircuitOpen):
		return FailureExternalUnavailable
	default:
		return FailureFailed
	}
}
