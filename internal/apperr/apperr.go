package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure so callers can map it to an HTTP status and
// decide whether the provider should retry.
type Kind int

const (
	KindValidation Kind = iota // bad client input, 400, never retried
	KindConfig                 // missing credentials/secrets, 500, operator-fixable
	KindSignature              // webhook authenticity failure, 400, no mutation
	KindTransient              // upstream provider error/timeout, retryable
	KindNotFound
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Config(message string) *Error {
	return &Error{Kind: KindConfig, Message: message}
}

func Signature(message string, err error) *Error {
	return &Error{Kind: KindSignature, Message: message, Err: err}
}

func Transient(message string, err error) *Error {
	return &Error{Kind: KindTransient, Message: message, Err: err}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// KindOf returns the Kind of err, or KindTransient for unclassified errors:
// an unknown failure in the reconciliation path must never be acknowledged
// as processed, so the provider keeps redelivering.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// StatusCode maps a Kind to the HTTP status the handlers respond with.
func StatusCode(err error) int {
	switch KindOf(err) {
	case KindValidation, KindSignature:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
