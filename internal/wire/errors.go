package wire

import (
	"errors"
	"fmt"
)

// Kind classifies the errors a session or dispatcher can surface, per the
// error kinds enumerated for the transport.
type Kind string

const (
	ProtocolLimit    Kind = "ProtocolLimit"
	FrameTruncated   Kind = "FrameTruncated"
	Unauthorized     Kind = "Unauthorized"
	UnknownMember    Kind = "UnknownMember"
	UnknownTarget    Kind = "UnknownTarget"
	ArityMismatch    Kind = "ArityMismatch"
	InvocationFailed Kind = "InvocationFailed"
	Timeout          Kind = "Timeout"
	SessionClosed    Kind = "SessionClosed"
	Congestion       Kind = "Congestion"
)

// Error is the typed error carried by this module. It wraps an underlying
// cause (if any) so callers can still use errors.Is/As against it.
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

// NewError builds an *Error with the given kind and formatted message.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error with the given kind, message, and cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
