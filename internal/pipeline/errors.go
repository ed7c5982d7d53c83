// Package pipeline provides the phase execution boundary for the option
// collector: a small error taxonomy, a structured phase logger with
// deduplication, and enhancement phases that degrade instead of failing.
package pipeline

import "errors"

// AbortError signals expected early termination of the remaining phases
// for the current unit of work (e.g. nothing left to process). It is not
// a failure: the phase runner swallows it without escalation.
type AbortError struct {
	Reason string
}

func (e *AbortError) Error() string {
	return "abort: " + e.Reason
}

// Abort creates an AbortError with the given reason.
func Abort(reason string) *AbortError {
	return &AbortError{Reason: reason}
}

// RecoverableError invalidates the current unit of work (one expiry or
// index); the pipeline continues with the next unit.
type RecoverableError struct {
	Reason string
	Err    error
}

func (e *RecoverableError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *RecoverableError) Unwrap() error {
	return e.Err
}

// Recoverable wraps err as a recoverable phase failure.
func Recoverable(reason string, err error) *RecoverableError {
	return &RecoverableError{Reason: reason, Err: err}
}

// FatalError marks a serious invariant breach. It is still scoped to the
// failing unit but is logged at elevated severity for operator attention.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err as a fatal phase failure.
func Fatal(reason string, err error) *FatalError {
	return &FatalError{Reason: reason, Err: err}
}

// IsAbort returns true if the error chain contains an AbortError.
func IsAbort(err error) bool {
	var ae *AbortError
	return errors.As(err, &ae)
}

// IsRecoverable returns true if the error chain contains a RecoverableError.
func IsRecoverable(err error) bool {
	var re *RecoverableError
	return errors.As(err, &re)
}

// IsFatal returns true if the error chain contains a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsPipelineError returns true if the error is any of the taxonomy kinds.
// Anything else is an unclassified failure and must never be downgraded.
func IsPipelineError(err error) bool {
	return IsAbort(err) || IsRecoverable(err) || IsFatal(err)
}
