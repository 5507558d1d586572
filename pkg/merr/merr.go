// Package merr defines the error taxonomy shared by the promotion pipeline.
// Every error that crosses a package boundary carries a Code so that the API
// layer and the worker can decide between "tell the user", "retry later" and
// "give up and dead-letter" without string matching.
package merr

import (
	"errors"
	"fmt"
)

// Code represents a stable error category that callers can switch on.
type Code string

const (
	CodeUnknown            Code = "unknown"
	CodeInvalidKey         Code = "invalid_key"
	CodeInvalidMetadata    Code = "invalid_metadata"
	CodeInvalidContentType Code = "invalid_content_type"
	CodeTooLarge           Code = "too_large"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvalidTransition  Code = "invalid_transition"
	CodeStorage            Code = "storage"
	CodeQueue              Code = "queue"
	CodeBuild              Code = "build"
	CodeBuildFatal         Code = "build_fatal"
)

// Error carries a Code, the operation that failed and the underlying error.
type Error struct {
	Code Code
	Op   string
	err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.err == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// New wraps an error with the provided code. If err is nil a nil is returned.
func New(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, err: err}
}

// Errorf builds a coded error from a format string.
func Errorf(code Code, op string, format string, args ...any) error {
	return &Error{Code: code, Op: op, err: fmt.Errorf(format, args...)}
}

// CodeOf returns the code of the outermost *Error in the chain, or
// CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode helps callers compare codes without type assertions.
func IsCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// IsValidation reports whether err is user-fixable input.
func IsValidation(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidKey, CodeInvalidMetadata, CodeInvalidContentType, CodeTooLarge:
		return true
	}
	return false
}

// IsRetryable reports whether the operation may succeed if attempted again.
// Unknown errors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case CodeStorage, CodeQueue, CodeBuild, CodeUnknown, CodeConflict:
		return true
	}
	return false
}

// Shorthands used across the pipeline.

func Storage(op string, err error) error { return New(CodeStorage, op, err) }
func Queue(op string, err error) error   { return New(CodeQueue, op, err) }
func Build(op string, err error) error   { return New(CodeBuild, op, err) }
func Fatal(op string, err error) error   { return New(CodeBuildFatal, op, err) }
