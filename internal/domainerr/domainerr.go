// Package domainerr provides coded errors that services return to callers.
// Stores return sentinel facts from the repository package; services
// translate them into these codes so the transport layer can map a code to
// a status without knowing about storage.
package domainerr

import (
	"errors"
	"fmt"
)

// Code classifies a failure for the caller.
type Code string

const (
	CodeValidation             Code = "validation_error"
	CodeNotFound               Code = "not_found"
	CodeNotFoundOrUnauthorized Code = "not_found_or_unauthorized"
	CodeAlreadyMember          Code = "already_member"
	CodeNotMember              Code = "not_member"
	CodeClubFull               Code = "club_full"
	CodeStoreUnavailable       Code = "store_unavailable"
	CodeUnauthorized           Code = "unauthorized"
	CodeForbidden              Code = "forbidden"
	CodeInternal               Code = "internal_error"
)

// Retryable reports whether the caller may retry the same request later.
// Business-rule conflicts are retryable only after re-reading state, which
// is the caller's decision; only store outages are retryable as-is.
func (c Code) Retryable() bool {
	return c == CodeStoreUnavailable
}

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether any error in err's chain carries code.
func HasCode(err error, code Code) bool {
	var de *Error
	for err != nil {
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// CodeOf returns the outermost code in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
