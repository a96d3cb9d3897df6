// Package recovery wraps operations with error classification, backoff
// retries, tier downgrades, and checkpoint-based resume.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure into the closed error taxonomy.
type Kind string

const (
	// KindTransient covers network hiccups and timeouts; retry with backoff.
	KindTransient Kind = "transient"
	// KindRateLimited covers throttling; retry with longer backoff.
	KindRateLimited Kind = "rate_limited"
	// KindResourceExhausted triggers the downgrade chain, not a plain retry.
	KindResourceExhausted Kind = "resource_exhausted"
	// KindPermission is fatal; surfaced immediately.
	KindPermission Kind = "permission"
	// KindInvalidInput is fatal; surfaced immediately.
	KindInvalidInput Kind = "invalid_input"
	// KindNotFound is fatal by default, retryable only if configured.
	KindNotFound Kind = "not_found"
	// KindQuota is fatal by default, retryable only if configured.
	KindQuota Kind = "quota"
	// KindUnknown is retried conservatively and logged for taxonomy review.
	KindUnknown Kind = "unknown"
)

// Error is a classified failure. Wrap causes with Wrap so classification
// survives error chains.
type Error struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap attaches a taxonomy kind to an error.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Wrapf attaches a taxonomy kind to a formatted error.
func Wrapf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Classify maps an error to its taxonomy kind. Typed errors win; untyped
// errors fall back to message heuristics, and anything unrecognized is
// KindUnknown.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	// Results that crossed a serialization boundary keep their kind as a
	// message prefix, so the kind tokens themselves are matched too.
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "rate_limited", "rate limit", "too many requests", "429"):
		return KindRateLimited
	case containsAny(msg, "resource_exhausted", "out of memory", "resource exhausted", "overloaded", "capacity"):
		return KindResourceExhausted
	case containsAny(msg, "permission", "forbidden", "unauthorized", "access denied"):
		return KindPermission
	case containsAny(msg, "invalid_input", "invalid input", "invalid argument", "malformed", "bad request"):
		return KindInvalidInput
	case containsAny(msg, "not_found", "not found", "no such"):
		return KindNotFound
	case containsAny(msg, "quota"):
		return KindQuota
	case containsAny(msg, "timeout", "timed out", "deadline", "connection", "network", "unavailable", "temporar"):
		return KindTransient
	default:
		return KindUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// DefaultRetryable is the default retryable set: permission and invalid
// input are never retried, not-found and quota only when explicitly
// configured.
func DefaultRetryable() map[Kind]bool {
	return map[Kind]bool{
		KindTransient:         true,
		KindRateLimited:       true,
		KindResourceExhausted: true, // handled via downgrade, not plain retry
		KindUnknown:           true,
	}
}
