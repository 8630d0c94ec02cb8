package host

import (
	"errors"
	"fmt"
)

// Code classifies a failed host call.
type Code int

const (
	CodeInternal Code = iota + 1
	CodeInvalidSlot
	CodeTypeMismatch
	CodeInvalidMethod
	CodeInvalidClass
	CodeInvalidField
	CodeInvalidObject
	CodeInvalidThread
	CodeNoMoreFrames
	CodeNotFound
)

var codeNames = map[Code]string{
	CodeInternal:      "INTERNAL",
	CodeInvalidSlot:   "INVALID_SLOT",
	CodeTypeMismatch:  "TYPE_MISMATCH",
	CodeInvalidMethod: "INVALID_METHODID",
	CodeInvalidClass:  "INVALID_CLASS",
	CodeInvalidField:  "INVALID_FIELDID",
	CodeInvalidObject: "INVALID_OBJECT",
	CodeInvalidThread: "INVALID_THREAD",
	CodeNoMoreFrames:  "NO_MORE_FRAMES",
	CodeNotFound:      "NOT_FOUND",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("CODE(%d)", int(c))
}

// Sentinels for errors.Is comparisons against *Error.
var (
	ErrInvalidSlot   = &Error{Code: CodeInvalidSlot}
	ErrTypeMismatch  = &Error{Code: CodeTypeMismatch}
	ErrInvalidMethod = &Error{Code: CodeInvalidMethod}
	ErrInvalidClass  = &Error{Code: CodeInvalidClass}
	ErrInvalidField  = &Error{Code: CodeInvalidField}
	ErrInvalidObject = &Error{Code: CodeInvalidObject}
	ErrInvalidThread = &Error{Code: CodeInvalidThread}
	ErrNoMoreFrames  = &Error{Code: CodeNoMoreFrames}
	ErrNotFound      = &Error{Code: CodeNotFound}
)

// Error is a failed host call: the primitive that failed and why.
type Error struct {
	Op     string
	Code   Code
	Detail string
}

// NewError builds an *Error for op.
func NewError(op string, code Code, format string, args ...any) *Error {
	return &Error{Op: op, Code: code, Detail: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Code)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf extracts the code of a host error, CodeInternal for anything else.
func CodeOf(err error) Code {
	var he *Error
	if errors.As(err, &he) {
		return he.Code
	}
	return CodeInternal
}

// OpOf extracts the failed operation name, "" if err is not a host error.
func OpOf(err error) string {
	var he *Error
	if errors.As(err, &he) {
		return he.Op
	}
	return ""
}

// IsAbsent reports the expected "no live value in this slot" condition.
func IsAbsent(err error) bool {
	return errors.Is(err, ErrInvalidSlot)
}
