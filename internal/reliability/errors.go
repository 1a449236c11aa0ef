package reliability

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the closed set of failure categories surfaced by the chat core.
type Kind string

const (
	KindUnknown              Kind = ""
	KindSessionNotFound      Kind = "session_not_found"
	KindConversationNotFound Kind = "conversation_not_found"
	KindStorageUnavailable   Kind = "storage_unavailable"
	KindAuthFailure          Kind = "auth_failure"
	KindProviderRateLimited  Kind = "provider_rate_limited"
	KindProviderUnavailable  Kind = "provider_unavailable"
	KindGenerationFailed     Kind = "generation_failed"
	KindValidationFailed     Kind = "validation_failed"
)

func (k Kind) String() string {
	if k == KindUnknown {
		return "unknown"
	}
	return string(k)
}

// Error is a classified failure. Op names the step that failed.
type Error struct {
	Kind    Kind
	Op      string
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Timeout {
		msg += " (timeout)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New classifies err under kind. Deadline errors are flagged as timeouts.
func New(kind Kind, op string, err error) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Timeout: errors.Is(err, context.DeadlineExceeded),
		Err:     err,
	}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsTimeout reports whether err was classified as a timeout.
func IsTimeout(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Timeout
	}
	return false
}

// IsClassified reports whether err already carries a Kind.
func IsClassified(err error) bool {
	return KindOf(err) != KindUnknown
}
