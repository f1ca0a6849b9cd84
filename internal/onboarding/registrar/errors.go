package registrar

import (
	"errors"
	"fmt"
)

// Kind classifies a failed registration call.
type Kind string

const (
	KindTimeout            Kind = "timeout"
	KindConnection         Kind = "connection_error"
	KindUnexpectedResponse Kind = "unexpected_response"
)

// Error is a classified registration failure.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Underlying error
	retryable  bool
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("registrar [%s]: %s: %v", e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("registrar [%s]: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Underlying }

// IsRetryable reports whether another attempt may succeed.
func (e *Error) IsRetryable() bool { return e.retryable }

func newTimeout(err error) *Error {
	return &Error{Kind: KindTimeout, Message: "request timed out", Underlying: err, retryable: true}
}

func newConnection(err error) *Error {
	return &Error{Kind: KindConnection, Message: "could not reach registration service", Underlying: err, retryable: true}
}

// 5xx and 429 are worth another attempt; any other bad response is final.
func newUnexpected(status int, msg string) *Error {
	return &Error{
		Kind:       KindUnexpectedResponse,
		StatusCode: status,
		Message:    msg,
		retryable:  status >= 500 || status == 429,
	}
}

// KindOf returns the classification of err, or "" if it is not a registrar error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
