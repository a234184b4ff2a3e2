package stream

import (
	"errors"
	"fmt"
	"net/http"
)

// Error classes of a failed completion stream. Every *Error matches ErrStreamFailed, and
// additionally matches ErrRateLimited or ErrQuotaExhausted when the upstream status says so.
var (
	ErrStreamFailed   = errors.New("completion stream failed")
	ErrRateLimited    = errors.New("rate limited")
	ErrQuotaExhausted = errors.New("quota exhausted")

	// ErrBufferOverflow is returned by Parser.Feed when a single line outgrows the buffer limit.
	ErrBufferOverflow = errors.New("stream buffer overflow")
)

// Error describes a terminal failure of one completion stream attempt.
type Error struct {
	// Status is the HTTP status of the response, zero when no response was received.
	Status int
	// Message is the upstream error message, if the error payload carried one.
	Message string

	class error
	err   error
}

// NewError builds a stream error classified by the HTTP status. A zero status or any status
// other than 429 and 402 yields the generic class.
func NewError(status int, message string, err error) *Error {
	return &Error{
		Status:  status,
		Message: message,
		class:   Classify(status),
		err:     err,
	}
}

// Classify maps an HTTP status to its error class.
func Classify(status int) error {
	switch status {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusPaymentRequired:
		return ErrQuotaExhausted
	default:
		return ErrStreamFailed
	}
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Status != 0:
		return fmt.Sprintf("%s: %s (status %d)", e.class, e.Message, e.Status)
	case e.Status != 0:
		return fmt.Sprintf("%s with status %d", e.class, e.Status)
	case e.err != nil:
		return fmt.Sprintf("%s: %v", e.class, e.err)
	default:
		return e.class.Error()
	}
}

func (e *Error) Unwrap() []error {
	errs := []error{e.class}
	if e.class != ErrStreamFailed {
		errs = append(errs, ErrStreamFailed)
	}
	if e.err != nil {
		errs = append(errs, e.err)
	}
	return errs
}
