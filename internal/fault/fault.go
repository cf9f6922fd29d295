// File path: internal/fault/fault.go
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for propagation decisions.
type Kind string

const (
	// KindNotFound marks a missing site, session, profile or preference.
	KindNotFound Kind = "not_found"
	// KindTransient marks a retryable upstream failure such as a timeout or
	// rate limit.
	KindTransient Kind = "provider_transient"
	// KindFatal marks a non-retryable upstream failure such as an
	// authentication or malformed-input rejection.
	KindFatal Kind = "provider_fatal"
	// KindValidation marks bad caller input.
	KindValidation Kind = "validation"
)

// Error carries a kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return fmt.Sprintf("%s: %v", e.Msg, e.Err)
		}
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a kinded error with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the kind of err, or an empty Kind when it carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsValidation reports whether err is a caller-input error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// PartialFailure records an operation that completed with some items failed.
// It is informational: callers inspect it, they do not treat it as a hard
// failure.
type PartialFailure struct {
	Failed  int
	Reasons []string
}

func (p *PartialFailure) Error() string {
	if len(p.Reasons) == 0 {
		return fmt.Sprintf("%d items failed", p.Failed)
	}
	return fmt.Sprintf("%d items failed: %s", p.Failed, strings.Join(p.Reasons, "; "))
}

// Add records one failed item with its reason.
func (p *PartialFailure) Add(reason string) {
	p.Failed++
	p.Reasons = append(p.Reasons, reason)
}

// Empty reports whether no failures were recorded.
func (p *PartialFailure) Empty() bool { return p == nil || p.Failed == 0 }
