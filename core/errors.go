package core

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures. Fatal kinds short-circuit the run;
// recoverable kinds are retried internally and only surface once retries are
// exhausted.
type Kind string

const (
	// KindValidation is a bad input shape. Fatal, no retry.
	KindValidation Kind = "validation"
	// KindConfiguration is a missing or disabled agent/provider config. Fatal.
	KindConfiguration Kind = "configuration"
	// KindProvider is an upstream model call failure.
	KindProvider Kind = "provider"
	// KindContextOverflow means the assembled prompt exceeds the model limit.
	KindContextOverflow Kind = "context_overflow"
	// KindToolExecution is a tool call failure, retryable or terminal.
	KindToolExecution Kind = "tool_execution"
	// KindTimeout means the run deadline was exceeded.
	KindTimeout Kind = "timeout"
	// KindInternal covers unexpected internal failures.
	KindInternal Kind = "internal"
)

// PipelineError carries the failing stage name and classified kind alongside
// the underlying cause. Every error surfaced to a caller is one of these.
type PipelineError struct {
	Stage string
	Kind  Kind
	Err   error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline stage %s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *PipelineError) Unwrap() error { return e.Err }

// NewPipelineError wraps err with stage and kind classification.
func NewPipelineError(stage string, kind Kind, err error) *PipelineError {
	return &PipelineError{Stage: stage, Kind: kind, Err: err}
}

// KindOf extracts the classification from err, or KindInternal when err is
// not a PipelineError.
func KindOf(err error) Kind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// IsKind reports whether err (or any wrapped error) carries the given kind.
func IsKind(err error, kind Kind) bool {
	var pe *PipelineError
	return errors.As(err, &pe) && pe.Kind == kind
}
