// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

// Package errs defines the error taxonomy shared across the orchestration
// core. Every error surfaced by a supervisor, queue, broker, or recovery
// component carries one of the kinds below so callers can react to the
// class of failure without string matching.
//
// Errors compose with the standard library: wrap with %w, test with
// errors.Is against the kind sentinels, and unwrap with errors.As to reach
// the *Error carrying the operation name.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error per the orchestration error taxonomy.
type Kind int

const (
	// KindInternal is an invariant violation or unexpected state.
	KindInternal Kind = iota

	// KindInit is a bad initialization or config-ordering error.
	KindInit

	// KindCommunication is a message routing or delivery failure.
	KindCommunication

	// KindTask is an execution or routing failure scoped to one task.
	KindTask

	// KindResource is a capacity-exceeded rejection (backpressure).
	KindResource

	// KindNotFound is a lookup of an unknown id.
	KindNotFound
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindCommunication:
		return "communication"
	case KindTask:
		return "task"
	case KindResource:
		return "resource"
	case KindNotFound:
		return "not_found"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Kind sentinels for errors.Is checks. An *Error matches the sentinel of
// its own kind, so callers never need to construct an *Error to compare.
var (
	ErrInit          = errors.New("init error")
	ErrCommunication = errors.New("communication error")
	ErrTask          = errors.New("task error")
	ErrResource      = errors.New("resource error")
	ErrNotFound      = errors.New("not found")
	ErrInternal      = errors.New("internal error")
)

// Error is a classified error with the operation that produced it.
type Error struct {
	// Kind is the taxonomy class.
	Kind Kind

	// Op is the operation that failed, e.g. "supervisor.SubmitTask".
	Op string

	// Err is the underlying cause, may be nil.
	Err error

	// Msg is an optional human-readable detail.
	Msg string
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
// This makes errors.Is(err, errs.ErrResource) work on any wrapped *Error.
func (e *Error) Is(target error) bool {
	return target == sentinel(e.Kind)
}

func sentinel(k Kind) error {
	switch k {
	case KindInit:
		return ErrInit
	case KindCommunication:
		return ErrCommunication
	case KindTask:
		return ErrTask
	case KindResource:
		return ErrResource
	case KindNotFound:
		return ErrNotFound
	default:
		return ErrInternal
	}
}

// New creates a classified error with a formatted message.
func New(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. Returns nil if err is nil.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
