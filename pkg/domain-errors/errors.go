// Package domainerrors defines the coded error type services return and
// transports translate. Stores return sentinel errors (pkg/platform/sentinel);
// services wrap them into coded errors here so handlers never inspect
// infrastructure failures directly.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error class with a stable HTTP mapping.
type Code string

const (
	// CodeInvalidInput covers malformed requests: bad channel, missing target,
	// an unresolvable approval id inside a reply.
	CodeInvalidInput Code = "invalid_input"
	// CodeUnparsable covers reply text that does not match the decision
	// grammar. Kept distinct from CodeInvalidInput so the reason string
	// ("empty reply", "payload required") survives to the caller verbatim.
	CodeUnparsable Code = "unparsable_reply"
	// CodeUnauthorized covers missing or unknown credentials.
	CodeUnauthorized Code = "unauthorized"
	// CodeNotFound covers unknown ids and ids owned by a different client.
	// Ownership failures deliberately use this code, never a forbidden
	// variant, so existence does not leak across clients.
	CodeNotFound Code = "not_found"
	// CodeConflict means a decision hit a non-pending approval: the
	// at-most-once guarantee rejecting every attempt after the first.
	CodeConflict Code = "conflict"
	// CodeExpired means a decision arrived past the approval's deadline.
	CodeExpired Code = "expired"
	// CodeInternal is the fallback for infrastructure failures.
	CodeInternal Code = "internal"
)

// Error carries a code, a human-readable message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a coded error without a cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf extracts the message from err; empty when err is not coded.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}

// ToHTTPStatus maps a code to its HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput, CodeUnparsable:
		return http.StatusUnprocessableEntity
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
