// Package apperr classifies errors into the kinds the HTTP layer maps to status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for handling purposes.
type Kind int

const (
	// KindStorage covers object store and record store transport or auth failures.
	KindStorage Kind = iota
	// KindValidation covers missing fields, empty filter sets and empty updates.
	KindValidation
	// KindNotFound means no record matched the id or filters.
	KindNotFound
	// KindUpstream covers third-party API failures.
	KindUpstream
	// KindRateLimited means the client exhausted its request budget.
	KindRateLimited
	// KindConflict means the request clashes with an earlier one.
	KindConflict
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindStorage:
		return "storage"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream"
	case KindRateLimited:
		return "rate_limited"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Status maps a Kind to its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// GenericMessage is what clients see for storage and upstream failures.
const GenericMessage = "internal server error"

// Error is a classified error.
type Error struct {
	Kind      Kind
	Message   string
	Operation string
	Err       error
}

// Error implements the error interface
func (e *Error) Error() string {
	switch {
	case e.Operation != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Message
	}
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a KindValidation error carrying a client-facing message.
func Validation(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

// Validationf is Validation with formatting.
func Validationf(format string, args ...any) error {
	return Validation(fmt.Sprintf(format, args...))
}

// NotFound returns a KindNotFound error carrying a client-facing message.
func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Conflict returns a KindConflict error carrying a client-facing message.
func Conflict(msg string) error {
	return &Error{Kind: KindConflict, Message: msg}
}

// Storage wraps a storage failure of op.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindStorage, Operation: op, Err: err}
}

// Upstream wraps a third-party failure of op.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindUpstream, Operation: op, Err: err}
}

// KindOf returns the Kind of err. Unclassified errors are storage failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// PublicMessage returns the message safe to show a client.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) || e.Kind.Status() >= http.StatusInternalServerError {
		return GenericMessage
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.String()
}
