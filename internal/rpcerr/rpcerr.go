// Package rpcerr defines the closed set of error kinds handlers and
// components raise, and their mapping onto RPC error codes and CLI exit
// codes.
package rpcerr

import "fmt"

// Kind is one of the error kinds exposed to RPC and CLI callers.
type Kind string

const (
	InvalidParams       Kind = "InvalidParams"
	MethodNotFound      Kind = "MethodNotFound"
	SessionGone         Kind = "SessionGone"
	TargetGone          Kind = "TargetGone"
	Timeout             Kind = "Timeout"
	ProtocolError       Kind = "ProtocolError"
	ElementNotFound     Kind = "ElementNotFound"
	ElementNotVisible   Kind = "ElementNotVisible"
	OptionNotFound      Kind = "OptionNotFound"
	RefExpired          Kind = "RefExpired"
	RefInvalid          Kind = "RefInvalid"
	SessionLaunchFailed Kind = "SessionLaunchFailed"
	StorageUnavailable  Kind = "StorageUnavailable"
	Internal            Kind = "Internal"
)

// code is the JSON-RPC error code for each kind, following
// original_source's error_codes module where it defines an equivalent and
// extending it for kinds spec.md adds beyond the original wire protocol.
var code = map[Kind]int{
	InvalidParams:       -32602,
	MethodNotFound:      -32601,
	SessionGone:         -32000,
	TargetGone:          -32001,
	Timeout:             -32002,
	ProtocolError:       -32603,
	ElementNotFound:     -32003,
	ElementNotVisible:   -32004,
	OptionNotFound:      -32005,
	RefExpired:          -32006,
	RefInvalid:          -32007,
	SessionLaunchFailed: -32008,
	StorageUnavailable:  -32009,
	Internal:            -32603,
}

// exitCode is the CLI process exit code for each kind.
var exitCode = map[Kind]int{
	InvalidParams:       2,
	MethodNotFound:      2,
	SessionGone:         3,
	TargetGone:          3,
	Timeout:             4,
	ProtocolError:       1,
	ElementNotFound:     1,
	ElementNotVisible:   1,
	OptionNotFound:      1,
	RefExpired:          5,
	RefInvalid:          5,
	SessionLaunchFailed: 1,
	StorageUnavailable:  1,
	Internal:            1,
}

// Error is a typed error carrying an RPC-visible kind and message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Code returns the error kind's RPC error code.
func (e *Error) Code() int { return code[e.Kind] }

// ExitCode returns the error kind's CLI exit code.
func (e *Error) ExitCode() int { return exitCode[e.Kind] }

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind, attaching cause for %w-style
// unwrapping while keeping the kind's message distinct.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// As extracts an *Error from err, returning (nil, false) if err is not one.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}

// CodeOf returns the RPC error code for err, defaulting to Internal's code
// when err is not a *Error.
func CodeOf(err error) int {
	if e, ok := As(err); ok {
		return e.Code()
	}
	return code[Internal]
}

// ExitCodeOf returns the CLI exit code for err, defaulting to 1 when err is
// not a *Error.
func ExitCodeOf(err error) int {
	if e, ok := As(err); ok {
		return e.ExitCode()
	}
	return 1
}
