package market

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can branch on it without matching
// error strings.
type Kind string

const (
	// KindNotFound means the provider or symbol is unknown upstream.
	KindNotFound Kind = "not_found"
	// KindUnavailable means a transient network or upstream failure.
	KindUnavailable Kind = "unavailable"
	// KindUnsupported means the capability is not offered, or a dependent
	// credential/configuration is missing.
	KindUnsupported Kind = "unsupported"
	// KindInternal is any unclassified failure; it always wraps the cause.
	KindInternal Kind = "internal"
)

// Error is the classified error surfaced by the fetch layers.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound reports an unknown provider or symbol.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Detail: fmt.Sprintf(format, args...)}
}

// Unavailable reports a transient upstream failure.
func Unavailable(err error, format string, args ...any) *Error {
	return &Error{Kind: KindUnavailable, Detail: fmt.Sprintf(format, args...), Err: err}
}

// Unsupported reports a missing capability or configuration.
func Unsupported(format string, args ...any) *Error {
	return &Error{Kind: KindUnsupported, Detail: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure, keeping the cause for diagnostics.
func Internal(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Detail: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the classification of err, defaulting to KindInternal for
// errors that did not come through this package.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is classified as not-found.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }
