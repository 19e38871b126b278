package job

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// StrategyFailure records why one retrieval strategy did not produce a file
type StrategyFailure struct {
	Strategy string
	Err      error
}

// RetrievalError is returned when every retrieval strategy has been exhausted
type RetrievalError struct {
	Ref      string
	Attempts []StrategyFailure
}

func (e *RetrievalError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("retrieve %s: no strategy available", e.Ref)
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Strategy, a.Err))
	}
	return fmt.Sprintf("retrieve %s: all strategies failed (%s)", e.Ref, strings.Join(parts, "; "))
}

// ParseError is returned when a confirmation page lacks a required form field
type ParseError struct {
	Field string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("confirmation page: missing required field %q", e.Field)
}

// TranscodeError is returned when the transcoding engine ran and failed,
// or exited cleanly without producing its output
type TranscodeError struct {
	ExitCode   int
	Diagnostic string
}

// Error reports the exit code only; the engine output is available through
// Diagnostic.
func (e *TranscodeError) Error() string {
	return fmt.Sprintf("transcode failed (exit %d)", e.ExitCode)
}

// TimeoutError is returned when a transcode was killed at its time limit
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transcode killed after %s timeout", e.Timeout)
}

// PreconditionError is returned when a stage runs without the job or artifact it needs
type PreconditionError struct {
	Message string
	Err     error
}

func (e *PreconditionError) Error() string {
	return e.Message
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// NotFound builds the PreconditionError for an unknown job id
func NotFound(id string) error {
	return &PreconditionError{Message: fmt.Sprintf("job %s not found", id), Err: ErrNotFound}
}

// ValidationError contains details about a validation failure with suggestions
type ValidationError struct {
	Message    string
	Suggestion string
}

func (e *ValidationError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Preconditionf builds a PreconditionError
func Preconditionf(format string, args ...any) error {
	return &PreconditionError{Message: fmt.Sprintf(format, args...)}
}

// Invalidf builds a ValidationError without a suggestion
func Invalidf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Classify maps an error onto the taxonomy name used in API responses
func Classify(err error) string {
	var (
		retrievalErr    *RetrievalError
		parseErr        *ParseError
		transcodeErr    *TranscodeError
		timeoutErr      *TimeoutError
		preconditionErr *PreconditionError
		validationErr   *ValidationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validationErr):
		return "validation"
	case errors.As(err, &preconditionErr):
		return "precondition"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &transcodeErr):
		return "transcode"
	case errors.As(err, &retrievalErr):
		return "retrieval"
	case errors.As(err, &parseErr):
		return "parse"
	default:
		return "internal"
	}
}

// Diagnostic returns the transcoder diagnostic text carried by err, if any
func Diagnostic(err error) string {
	var transcodeErr *TranscodeError
	if errors.As(err, &transcodeErr) {
		return transcodeErr.Diagnostic
	}
	return ""
}

// IsRetryable reports whether the operation that produced err may be tried
// again unchanged. Transcode failures and caller errors never are.
func IsRetryable(err error) bool {
	var retrievalErr *RetrievalError
	return errors.As(err, &retrievalErr)
}

// IsCallerError reports whether err describes a bad request rather than a
// failed attempt; such errors leave the job's stage untouched
func IsCallerError(err error) bool {
	var (
		preconditionErr *PreconditionError
		validationErr   *ValidationError
	)
	return errors.As(err, &preconditionErr) || errors.As(err, &validationErr)
}
