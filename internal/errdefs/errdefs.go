// Package errdefs defines the error taxonomy shared across the processing
// engine. Every fault that crosses a phase boundary is classified into one
// of four kinds, which determines whether it is retried, degraded, isolated
// to a single item, or fatal to the session.
package errdefs

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the handling class of an error.
type Kind string

const (
	// KindTransient marks timeouts and network faults. Retried with backoff.
	KindTransient Kind = "transient"

	// KindContentUnavailable marks items with nothing to process. Not
	// retried; routes straight to degradation.
	KindContentUnavailable Kind = "content_unavailable"

	// KindPersistence marks storage write faults. Isolated to one item;
	// the batch continues.
	KindPersistence Kind = "persistence"

	// KindInfrastructure marks faults outside any single item (resource
	// snapshot failed, session could not be created). Fatal to the session.
	KindInfrastructure Kind = "infrastructure"
)

// Error is a classified error. It wraps an optional cause and carries the
// taxonomy kind used by the retry and degradation layers.
type Error struct {
	ErrKind Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		if e.Message != "" {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Kind returns the taxonomy kind.
func (e *Error) Kind() Kind {
	return e.ErrKind
}

// Transient creates a transient error.
func Transient(format string, args ...any) error {
	return &Error{ErrKind: KindTransient, Message: fmt.Sprintf(format, args...)}
}

// WrapTransient wraps err as transient.
func WrapTransient(err error, message string) error {
	return &Error{ErrKind: KindTransient, Message: message, Err: err}
}

// ContentUnavailable creates a content-unavailable error.
func ContentUnavailable(format string, args ...any) error {
	return &Error{ErrKind: KindContentUnavailable, Message: fmt.Sprintf(format, args...)}
}

// Persistence creates a persistence error.
func Persistence(format string, args ...any) error {
	return &Error{ErrKind: KindPersistence, Message: fmt.Sprintf(format, args...)}
}

// WrapPersistence wraps err as a persistence error.
func WrapPersistence(err error, message string) error {
	return &Error{ErrKind: KindPersistence, Message: message, Err: err}
}

// Infrastructure creates an infrastructure error.
func Infrastructure(format string, args ...any) error {
	return &Error{ErrKind: KindInfrastructure, Message: fmt.Sprintf(format, args...)}
}

// WrapInfrastructure wraps err as an infrastructure error.
func WrapInfrastructure(err error, message string) error {
	return &Error{ErrKind: KindInfrastructure, Message: message, Err: err}
}

// KindOf returns the kind of err. Unclassified errors are examined with
// Classify; a nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.ErrKind
	}
	return classifyForeign(err)
}

// IsTransient reports whether err is classified transient.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsContentUnavailable reports whether err is classified content-unavailable.
func IsContentUnavailable(err error) bool {
	return KindOf(err) == KindContentUnavailable
}

// IsPersistence reports whether err is classified as a persistence fault.
func IsPersistence(err error) bool {
	return KindOf(err) == KindPersistence
}

// IsInfrastructure reports whether err is classified as infrastructure.
func IsInfrastructure(err error) bool {
	return KindOf(err) == KindInfrastructure
}

// IsRetryable reports whether the retry layer should re-invoke the
// operation. Only transient errors are retried; everything else either
// routes to degradation, stays isolated to its item, or aborts the session.
func IsRetryable(err error) bool {
	return IsTransient(err)
}

// Classify wraps a foreign error with its inferred kind so downstream
// layers can branch on it. Already-classified errors pass through.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{ErrKind: classifyForeign(err), Err: err}
}

// classifyForeign infers a kind from well-known error shapes. An operation
// failure with no explicit classification gets its retries before the item
// degrades, so the default is transient. Cancellation is the one exception:
// it means the session is shutting down, not that the item is flaky.
func classifyForeign(err error) Kind {
	if errors.Is(err, context.Canceled) {
		return KindInfrastructure
	}
	return KindTransient
}

// FromHTTPStatus maps an HTTP response status from an external collaborator
// to a classified error. 5xx and 429 are transient; 404 and 422 mean the
// source has nothing usable for this item.
func FromHTTPStatus(status int, format string, args ...any) error {
	msg := fmt.Sprintf("%s: status %d", fmt.Sprintf(format, args...), status)
	if status == 404 || status == 410 || status == 422 {
		return &Error{ErrKind: KindContentUnavailable, Message: msg}
	}
	return &Error{ErrKind: KindTransient, Message: msg}
}

// IsRetryableMessage applies the retriable-fault heuristics to a raw error
// string from an SDK that does not expose structured status codes.
func IsRetryableMessage(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	if strings.Contains(errStr, "status 500") ||
		strings.Contains(errStr, "status 502") ||
		strings.Contains(errStr, "status 503") ||
		strings.Contains(errStr, "status 504") {
		return true
	}
	if strings.Contains(errStr, "status 429") ||
		strings.Contains(errStr, "rate limit") {
		return true
	}
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") {
		return true
	}
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "EOF") {
		return true
	}
	return false
}
