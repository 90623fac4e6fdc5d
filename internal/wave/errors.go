package wave

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so the pipeline can decide whether to retry,
// record it against the task, or abort the wave.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindValidation        ErrorKind = "validation_failure"
	KindResourceDenied    ErrorKind = "resource_denied"
	KindParse             ErrorKind = "parse_failure"
	KindExecution         ErrorKind = "execution_failure"
	KindCircuitOpen       ErrorKind = "circuit_open"
	KindStateIncompatible ErrorKind = "state_incompatible"
	KindStateWrite        ErrorKind = "state_write_failure"
	KindStateCorrupt      ErrorKind = "state_corrupt"
	KindDependencyFailed  ErrorKind = "dependency_failed"
	KindCancelled         ErrorKind = "cancelled"
	KindDrift             ErrorKind = "drift"
	KindResourceExhausted ErrorKind = "resource_exhausted"
)

// WaveFatal reports whether an error of this kind aborts the whole wave.
func (k ErrorKind) WaveFatal() bool {
	switch k {
	case KindStateIncompatible, KindStateWrite, KindStateCorrupt, KindResourceExhausted:
		return true
	}
	return false
}

// ErrDrift is returned when a stored result no longer matches the task definition.
var ErrDrift = errors.New("task definition changed since checkpoint")

// Error carries a taxonomy kind through the pipeline.
type Error struct {
	Kind   ErrorKind
	TaskID string
	Err    error
}

// NewError wraps err with a kind. A nil err yields an error with the kind as message.
func NewError(kind ErrorKind, taskID string, err error) *Error {
	return &Error{Kind: kind, TaskID: taskID, Err: err}
}

// Errorf builds an *Error from a format string.
func Errorf(kind ErrorKind, taskID string, format string, args ...any) *Error {
	return &Error{Kind: kind, TaskID: taskID, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.TaskID != "" {
		msg = fmt.Sprintf("%s (task %s)", msg, e.TaskID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the taxonomy kind from err.
// Context deadline errors count as execution failures, cancellation as Cancelled.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	if errors.Is(err, ErrDrift) {
		return KindDrift
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindExecution
}
