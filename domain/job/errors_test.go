package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: ""},
		{err: Invalidf("bad"), want: "validation"},
		{err: NotFound("x"), want: "precondition"},
		{err: &TimeoutError{Timeout: time.Second}, want: "timeout"},
		{err: fmt.Errorf("composite: %w", &TranscodeError{ExitCode: 1}), want: "transcode"},
		{err: &RetrievalError{Ref: "r"}, want: "retrieval"},
		{err: &ParseError{Field: "confirm"}, want: "parse"},
		{err: context.Canceled, want: "internal"},
	}

	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestRetrievalError_Error(t *testing.T) {
	err := &RetrievalError{Ref: "drive:abc", Attempts: []StrategyFailure{
		{Strategy: "direct", Err: errors.New("got html")},
		{Strategy: "confirm-form", Err: &ParseError{Field: "confirm"}},
	}}
	msg := err.Error()
	for _, want := range []string{"drive:abc", "direct: got html", `missing required field "confirm"`} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, want containing %q", msg, want)
		}
	}
}

func TestTranscodeError_Error(t *testing.T) {
	err := &TranscodeError{ExitCode: 1, Diagnostic: "frame=1\n  Invalid data found when processing input  \n"}
	if got := err.Error(); got != "transcode failed (exit 1)" {
		t.Errorf("Error() = %q", got)
	}
	if got := Diagnostic(fmt.Errorf("wrap: %w", err)); got != err.Diagnostic {
		t.Errorf("Diagnostic() = %q", got)
	}
}

func TestErrorPredicates(t *testing.T) {
	if !IsRetryable(fmt.Errorf("x: %w", &RetrievalError{})) {
		t.Error("retrieval errors should be retryable")
	}
	if IsRetryable(&TranscodeError{}) || IsRetryable(&TimeoutError{}) || IsRetryable(Invalidf("x")) {
		t.Error("transcode, timeout and validation errors should not be retryable")
	}
	if !IsCallerError(Preconditionf("x")) || !IsCallerError(Invalidf("x")) {
		t.Error("precondition and validation errors are caller errors")
	}
	if IsCallerError(&TranscodeError{}) {
		t.Error("transcode errors are not caller errors")
	}
	if !errors.Is(NotFound("x"), ErrNotFound) {
		t.Error("NotFound should wrap ErrNotFound")
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Message: "bad", Suggestion: "fix it"}
	if got := err.Error(); got != "bad (fix it)" {
		t.Errorf("Error() = %q", got)
	}
}
