package transport

import (
	"errors"
	"fmt"
)

// Kind classifies a failed fetch after retries are exhausted.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindRateLimited Kind = "rate_limited"
	KindServerError Kind = "server_error"
	KindClientError Kind = "client_error"
)

var (
	// ErrBudgetExhausted is returned when the per-report call budget for a
	// host is spent. No request is sent.
	ErrBudgetExhausted = errors.New("call budget exhausted")

	// ErrCircuitOpen is returned without a request while a host's breaker is open.
	ErrCircuitOpen = errors.New("circuit open")
)

// Error is the only error Fetch returns. Attempts counts requests actually
// sent, so it can be zero for budget or breaker rejections.
type Error struct {
	Kind       Kind
	Host       string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s after %d attempt(s)", e.Host, e.Kind, e.Attempts)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could succeed.
func (e *Error) Retryable() bool {
	if errors.Is(e.Err, ErrBudgetExhausted) || errors.Is(e.Err, ErrCircuitOpen) {
		return false
	}
	return e.Kind != KindClientError
}

// KindOf returns the kind of a transport error, or "" for other errors.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// StatusOf returns the HTTP status carried by a transport error, or 0.
func StatusOf(err error) int {
	var te *Error
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}

// AttemptsOf returns how many requests a failed fetch sent.
func AttemptsOf(err error) int {
	var te *Error
	if errors.As(err, &te) {
		return te.Attempts
	}
	return 0
}

// IsNotFound reports a 404 from the provider.
func IsNotFound(err error) bool {
	return StatusOf(err) == 404
}
