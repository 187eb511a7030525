package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"fatal precondition", &FatalPreconditionError{Primaries: 3}, "VAL001"},
		{"wrapped fatal precondition", fmt.Errorf("pipeline: %w", &FatalPreconditionError{}), "VAL001"},
		{"upload aborted", fmt.Errorf("%w: disk full", ErrUploadAborted), "UPL001"},
		{"incomplete upload", fmt.Errorf("%w: a.json is missing chunk 2", ErrIncompleteUpload), "UPL002"},
		{"limiter busy", ErrTooManyPipelines, "UPL003"},
		{"not found", notFound("submission", 7), "SUB001"},
		{"illegal transition", fmt.Errorf("%w: new -> accepted", ErrIllegalTransition), "SUB002"},
		{"canceled context", context.Canceled, "UPL005"},
		{"different submitters", invalidInput("submissions 1 and 2 belong to different submitters"), "MRG001"},
		{"malformed token", invalidInput("malformed upload token %q", "abc"), "UPL007"},
		{"chunk too large", invalidInput("chunk of 10 bytes exceeds limit of 5"), "FILE002"},
		{"other input error", invalidInput("submitter is required"), "SUB003"},
		{"duplicate key text", errors.New("ERROR: duplicate key value violates unique constraint"), "DB001"},
		{"unknown error returns default", errors.New("some random internal error"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if tt.err != nil && got.Message == "" {
				t.Error("MapError() message is empty")
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	result := FormatUserError(ErrTooManyPipelines)

	expected := "The system is busy processing other submissions (Code: UPL003). Please wait a moment and finalize again"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is not user facing", nil, false},
		{"known error is user facing", ErrUploadAborted, true},
		{"unknown error is not user facing", errors.New("random internal error xyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := fmt.Errorf("submission 9: %w", ErrNotFound)
		userErr := NewUserError(techErr)

		if userErr.Error() != "Submission not found" {
			t.Errorf("Error() = %q, want user message", userErr.Error())
		}
		if !errors.Is(userErr, ErrNotFound) {
			t.Error("Unwrap() should expose the original error")
		}
	})
}
