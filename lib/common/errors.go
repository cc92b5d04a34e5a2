package common

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

// ErrCode classifies the errors returned by the fragment pipeline.
type ErrCode uint64

const (
	CodeInternal              ErrCode = iota // 0: unclassified error
	CodeTagMismatch                          // 1: header tag belongs to another protocol version
	CodeAuthFailed                           // 2: identity digest does not match the claimed identity
	CodeSchemaFieldNotFound                  // 3: configured field path is absent from the schema
	CodeFragmentCountExceeded                // 4: message needs more fragments than the header can count
	CodeUnknownVersion                       // 5: no configured version matches the header tag
	CodeDecode                               // 6: a fragment could not be decoded
	CodeInvalidConfig                        // 7: configuration is unusable
)

func (c ErrCode) String() string {
	switch c {
	case CodeTagMismatch:
		return "TagMismatch"
	case CodeAuthFailed:
		return "AuthFailed"
	case CodeSchemaFieldNotFound:
		return "SchemaFieldNotFound"
	case CodeFragmentCountExceeded:
		return "FragmentCountExceeded"
	case CodeUnknownVersion:
		return "UnknownVersion"
	case CodeDecode:
		return "DecodeError"
	case CodeInvalidConfig:
		return "InvalidConfig"
	default:
		return "Internal"
	}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps an ErrCode, a message and an optional cause.
// Two errors are considered equal by errors.Is if their codes match,
// so the sentinel values below can be used to test for a class of error.
type Error struct {
	Code ErrCode // The error class
	Msg  string  // Human-readable details
	Err  error   // The underlying cause (may be nil)
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Err == nil:
		return fmt.Sprintf("dfrag (code %s)", e.Code)
	case e.Err == nil:
		return fmt.Sprintf("dfrag (code %s): %s", e.Code, e.Msg)
	case e.Msg == "":
		return fmt.Sprintf("dfrag (code %s): %v", e.Code, e.Err)
	default:
		return fmt.Sprintf("dfrag (code %s): %s: %v", e.Code, e.Msg, e.Err)
	}
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrCode, format string, args ...any) *Error {
	return &Error{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// WrapError creates a new Error with the given code carrying err as its cause.
func WrapError(code ErrCode, err error, format string, args ...any) *Error {
	return &Error{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
		Err:  err,
	}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) ErrCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// --------------------------------------------------------------------------
// Sentinels (for use with errors.Is)
// --------------------------------------------------------------------------

var (
	ErrTagMismatch           = &Error{Code: CodeTagMismatch}
	ErrAuthFailed            = &Error{Code: CodeAuthFailed}
	ErrSchemaFieldNotFound   = &Error{Code: CodeSchemaFieldNotFound}
	ErrFragmentCountExceeded = &Error{Code: CodeFragmentCountExceeded}
	ErrUnknownVersion        = &Error{Code: CodeUnknownVersion}
	ErrDecode                = &Error{Code: CodeDecode}
	ErrInvalidConfig         = &Error{Code: CodeInvalidConfig}
)
