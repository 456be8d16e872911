// Package errors provides structured error types for nixupdate.
//
// Every per-package failure the updater can hit is tagged with a [Code] so the
// orchestrator can decide whether it is a skip, a backoff-advancing "no update"
// or a recorded failure without string matching.
//
// # Error Codes
//
// Codes are grouped by the stage that produces them:
//   - classification: UNSUPPORTED_SOURCE, NO_SOURCE_INFO
//   - upstream fetch: NETWORK_ERROR, RATE_LIMITED, NOT_FOUND
//   - rewrite: ATTR_NOT_FOUND, SYNTAX_ERROR, PATCH_NOT_FOUND
//   - verification: UNEXPECTED_BUILD_SUCCESS, HASH_NOT_EXTRACTED, BUILD_FAILED
//   - resources: WORKSPACE_ERROR, STORE_ERROR, EVAL_ERROR
//
// # Usage
//
//	err := errors.New(errors.ErrCodeAttrNotFound, "attribute %q not found", name)
//	if errors.Is(err, errors.ErrCodeAttrNotFound) {
//	    // try the next candidate attribute
//	}
//
//	err := errors.Wrap(errors.ErrCodeWorkspace, origErr, "create worktree for %s", attr)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

const (
	// Input validation errors
	ErrCodeInvalidInput    Code = "INVALID_INPUT"
	ErrCodeInvalidAttrPath Code = "INVALID_ATTR_PATH"
	ErrCodeInvalidPolicy   Code = "INVALID_POLICY"
	ErrCodeInvalidPath     Code = "INVALID_PATH"

	// Source classification
	ErrCodeUnsupportedSource Code = "UNSUPPORTED_SOURCE"
	ErrCodeNoSourceInfo      Code = "NO_SOURCE_INFO"
	ErrCodeNoRelease         Code = "NO_ACCEPTABLE_RELEASE"

	// Upstream fetch errors
	ErrCodeNotFound    Code = "NOT_FOUND"
	ErrCodeNetwork     Code = "NETWORK_ERROR"
	ErrCodeRateLimited Code = "RATE_LIMITED"

	// Source rewrite errors
	ErrCodeAttrNotFound  Code = "ATTR_NOT_FOUND"
	ErrCodeSyntax        Code = "SYNTAX_ERROR"
	ErrCodePatchNotFound Code = "PATCH_NOT_FOUND"

	// Build verification errors
	ErrCodeUnexpectedSuccess Code = "UNEXPECTED_BUILD_SUCCESS"
	ErrCodeHashNotExtracted  Code = "HASH_NOT_EXTRACTED"
	ErrCodeBuildFailed       Code = "BUILD_FAILED"

	// Resource errors
	ErrCodeWorkspace Code = "WORKSPACE_ERROR"
	ErrCodeStore     Code = "STORE_ERROR"
	ErrCodeEval      Code = "EVAL_ERROR"

	// Internal errors
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code,
// so an outer code does not hide an inner one.
func Is(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// GetCode extracts the outermost error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// IsTransient reports whether err belongs to the upstream-fetch class of
// failures. Those never fail a package; they only advance its backoff.
func IsTransient(err error) bool {
	return Is(err, ErrCodeNetwork) || Is(err, ErrCodeRateLimited) || Is(err, ErrCodeNotFound) || Is(err, ErrCodeNoRelease)
}

// IsClassification reports whether err means the package has no usable
// upstream and should be skipped with a reason.
func IsClassification(err error) bool {
	return Is(err, ErrCodeUnsupportedSource) || Is(err, ErrCodeNoSourceInfo)
}
