// Package errors defines the error taxonomy shared by the fetcher, embedding,
// and processing packages, so each layer can classify a failure once and let
// callers decide retry policy without re-parsing error strings.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies which of the handful of failure classes an error belongs to.
type Kind string

const (
	KindTransientNetwork Kind = "transient_network"
	KindRateLimited      Kind = "rate_limited"
	KindClientRequest    Kind = "client_request"
	KindValidation       Kind = "validation"
	KindVectorStore      Kind = "vector_store"
	KindFatalConfig      Kind = "fatal_config"
)

// Error is the common wrapper every package in this module returns for
// classifiable failures. Plain errors from the standard library or third
// party clients are still valid returns; Error exists for the cases where the
// caller needs to decide whether to retry.
type Error struct {
	Kind       Kind
	Msg        string
	Err        error
	retryAfter time.Duration
	hasRetry   bool
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller's combinator should attempt the
// operation again.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransientNetwork, KindRateLimited:
		return true
	default:
		return false
	}
}

// RetryAfter returns an explicit wait duration extracted from the upstream
// response (e.g. a "retry after N seconds" hint), when one is known.
func (e *Error) RetryAfter() (time.Duration, bool) {
	return e.retryAfter, e.hasRetry
}

func New(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// WithRetryAfter attaches an explicit retry-after hint to a rate-limit error.
func WithRetryAfter(kind Kind, msg string, err error, after time.Duration) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err, retryAfter: after, hasRetry: true}
}

// Is lets callers do errors.Is(err, &Error{Kind: KindRateLimited})-style
// checks via a small sentinel comparison on Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, and reports ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
