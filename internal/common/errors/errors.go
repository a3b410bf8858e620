// Package errors provides the error taxonomy used across the ads core.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for retry and propagation decisions.
type Kind string

const (
	// KindConfig marks missing credentials or a disabled agent. The agent is
	// not invocable; surfaced via adapter status, never retried.
	KindConfig Kind = "config"
	// KindTransport marks subprocess spawn errors, HTTP timeouts and socket
	// drops. Retried at the coordinator layer.
	KindTransport Kind = "transport"
	// KindSchema marks agent output that lacks a valid structured payload.
	// Retried; after exhaustion the task is FAILED.
	KindSchema Kind = "schema"
	// KindCancelled marks a user interrupt or outer timeout. Never retried.
	KindCancelled Kind = "cancelled"
	// KindVerification marks a failed machine check. Non-fatal, recorded in
	// the verification report.
	KindVerification Kind = "verification"
	// KindSupervisor marks an invalid or absent verdict after the
	// machine-readable-only retry. Halts the coordination loop gracefully.
	KindSupervisor Kind = "supervisor"
	// KindFatal marks database migration failures and malformed schemas on
	// load. The process should exit.
	KindFatal Kind = "fatal"
)

// AppError carries a Kind alongside the message and wrapped cause.
type AppError struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError with an arbitrary kind.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Wrap creates an AppError wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

// Config creates a config error (missing credentials, disabled agent).
func Config(message string) *AppError {
	return &AppError{Kind: KindConfig, Message: message}
}

// Transport creates a transport error wrapping the underlying cause.
func Transport(message string, err error) *AppError {
	return &AppError{Kind: KindTransport, Message: message, Err: err}
}

// Schema creates a schema error for unparseable structured output.
func Schema(message string) *AppError {
	return &AppError{Kind: KindSchema, Message: message}
}

// Cancelled creates a cancellation error.
func Cancelled(message string) *AppError {
	return &AppError{Kind: KindCancelled, Message: message}
}

// Supervisor creates a supervisor error (invalid verdict).
func Supervisor(message string) *AppError {
	return &AppError{Kind: KindSupervisor, Message: message}
}

// Fatal creates a fatal error wrapping the underlying cause.
func Fatal(message string, err error) *AppError {
	return &AppError{Kind: KindFatal, Message: message, Err: err}
}

// KindOf reports the Kind of err. Context cancellation and deadline errors
// are classified as cancelled even when they were never wrapped.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var app *AppError
	if errors.As(err, &app) {
		return app.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindTransport
}

// IsCancelled reports whether err is a cancellation in any representation.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}

// IsRetryable reports whether the coordinator may retry after err.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindSchema:
		return true
	default:
		return false
	}
}
