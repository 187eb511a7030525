package core

// error_messages.go maps errors to messages with a support code.
//
// Codes by category:
//
//	SUB001-SUB099   submission lookup and workflow
//	UPL001-UPL099   chunked upload and finalize
//	VAL001-VAL099   batch validation
//	MRG001-MRG099   merge reconciliation
//	FILE001-FILE099 submission file content
//	DB001-DB099     storage
//	RATE001         request throttling
//	ERR000          anything else; check the logs for the original error
//
// Typed errors (sentinels, *FatalPreconditionError) are matched first with
// errors.Is/As. Storage and driver errors only surface as text, so they are
// matched by case-insensitive substring; the first pattern wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorKind struct {
	match func(error) bool
	msg   UserMessage
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

var errorKinds = []errorKind{
	{
		match: IsFatalPrecondition,
		msg: UserMessage{
			Message: "No bridge in the submission is designated NBIS length",
			Action:  "Set BG01 to Y and give a positive BG02 on at least one bridge, then upload again",
			Code:    "VAL001",
		},
	},
	{
		match: is(ErrUploadAborted),
		msg: UserMessage{
			Message: "The upload was interrupted and discarded",
			Action:  "Restart the upload from the first chunk",
			Code:    "UPL001",
		},
	},
	{
		match: is(ErrIncompleteUpload),
		msg: UserMessage{
			Message: "Some chunks of the upload are missing",
			Action:  "Resend the missing chunks before finalizing",
			Code:    "UPL002",
		},
	},
	{
		match: is(ErrTooManyPipelines),
		msg: UserMessage{
			Message: "The system is busy processing other submissions",
			Action:  "Please wait a moment and finalize again",
			Code:    "UPL003",
		},
	},
	{
		match: is(ErrDuplicateToken),
		msg: UserMessage{
			Message: "This upload was already finalized",
			Action:  "Use the existing submission or start a new upload",
			Code:    "UPL004",
		},
	},
	{
		match: is(ErrIllegalTransition),
		msg: UserMessage{
			Message: "The submission cannot make that workflow step from its current status",
			Action:  "Reload the submission to see its current status",
			Code:    "SUB002",
		},
	},
	{
		match: is(ErrNotFound),
		msg: UserMessage{
			Message: "Submission not found",
			Action:  "Check the submission number",
			Code:    "SUB001",
		},
	},
	{
		match: is(ErrTransient),
		msg: UserMessage{
			Message: "The database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB003",
		},
	},
	{
		match: is(context.Canceled),
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL005",
		},
	},
	{
		match: is(context.DeadlineExceeded),
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try again later or split the submission into smaller files",
			Code:    "UPL006",
		},
	},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns are checked in order after errorKinds.
var errorPatterns = []errorPattern{
	{
		pattern: "different submitters",
		msg: UserMessage{
			Message: "Submissions from different submitters cannot be merged",
			Action:  "Pick a target submission from the same submitter",
			Code:    "MRG001",
		},
	},
	{
		pattern: "merge target",
		msg: UserMessage{
			Message: "The merge target is already closed",
			Action:  "Pick an open target submission",
			Code:    "MRG002",
		},
	},
	{
		pattern: "validate merged target",
		msg: UserMessage{
			Message: "The merged submission failed validation and the merge was rolled back",
			Action:  "Review the report of both submissions",
			Code:    "MRG003",
		},
	},
	{
		pattern: "decode submission",
		msg: UserMessage{
			Message: "The submission file is not valid bridge JSON",
			Action:  "Upload an array of bridges or an object with a \"bridges\" array",
			Code:    "FILE001",
		},
	},
	{
		pattern: "exceeds limit",
		msg: UserMessage{
			Message: "A chunk exceeds the maximum chunk size",
			Action:  "Send smaller chunks",
			Code:    "FILE002",
		},
	},
	{
		pattern: "limit is",
		msg: UserMessage{
			Message: "The file exceeds the maximum file size",
			Action:  "Split the submission into several files",
			Code:    "FILE003",
		},
	},
	{
		pattern: "upload token",
		msg: UserMessage{
			Message: "The upload token is missing or malformed",
			Action:  "Start a new upload",
			Code:    "UPL007",
		},
	},
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this identity already exists",
			Action:  "Review the duplicates section of the report",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB002",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "The database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB003",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

var inputMessage = UserMessage{
	Message: "The request is invalid",
	Action:  "Correct the request and try again",
	Code:    "SUB003",
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error to a user-facing message. Unknown input
// errors fall back to SUB003, everything else to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, k := range errorKinds {
		if k.match(err) {
			return k.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	if errors.Is(err, ErrInvalidInput) {
		return inputMessage
	}
	return defaultMessage
}

// FormatUserError returns "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
