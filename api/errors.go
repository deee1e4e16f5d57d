// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-db.

package api

import (
	"fmt"

	"github.com/pkg/errors"
)

// Common errors used across the library.
//
// Expected, recoverable failures (duplicate key, missing key, rejected
// creator) are reported as boolean false and never use these values.
var (
	// ErrContextDisposed is returned when work is posted to a disposed context.
	ErrContextDisposed = errors.New("context is disposed")

	// ErrInvalidArgument marks a nil or otherwise unusable argument. It is a
	// programmer error and is raised with panic.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrWaitOnOwnContext is raised when an action is waited for from the
	// worker thread that has to run it.
	ErrWaitOnOwnContext = errors.New("wait on action from its own context would deadlock")

	// ErrRegistryDisposed is raised when a closed subscription registry is used.
	ErrRegistryDisposed = errors.New("subscription registry is disposed")

	// ErrNotSuspendable is returned by Suspend/Resume on a plain context.
	ErrNotSuspendable = errors.New("context is not suspendable")

	ErrKeyTooLong      = errors.New("key exceeds maximum size")
	ErrActionCancelled = errors.New("action cancelled")
	ErrNotFound        = errors.New("resource not found")
)

// ErrorCode classifies the errors returned across package boundaries.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeUnknown
	ErrCodeInvalidArgument
	ErrCodeDisposed
	ErrCodeNotFound
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeInvalidArgument:
		return "invalid_argument"
	case ErrCodeDisposed:
		return "disposed"
	case ErrCodeNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Unwrap exposes the sentinel the error was built from.
func (e *Error) Unwrap() error { return e.cause }

// Wrap builds a structured error that still matches cause with errors.Is.
func Wrap(cause error, code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message + ": " + cause.Error(),
		cause:   cause,
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf returns the code of the first structured error in err's chain,
// ErrCodeOK for nil and ErrCodeUnknown otherwise.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeUnknown
}

// PanicError carries a value recovered from user code run by a context worker.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	if err, ok := p.Value.(error); ok {
		return "panic: " + err.Error()
	}
	return fmt.Sprintf("panic: %v", p.Value)
}

// Unwrap returns the recovered value when it was an error.
func (p *PanicError) Unwrap() error {
	err, _ := p.Value.(error)
	return err
}

// Must panics with a stack-annotated ErrInvalidArgument when cond is false.
func Must(cond bool, what string) {
	if !cond {
		panic(errors.Wrap(ErrInvalidArgument, what))
	}
}
