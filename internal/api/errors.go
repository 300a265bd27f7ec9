package api

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"finboard/internal/log"
)

var (
	// ErrTransport covers failures before an HTTP response was received.
	ErrTransport = errors.New("transport error")
	// ErrTimeout is returned when a single request exceeds its deadline.
	ErrTimeout = errors.New("request timed out")
	// ErrMalformedResponse is returned when a body cannot be decoded.
	ErrMalformedResponse = errors.New("malformed response")
)

// StatusError is a non-2xx response, or a 2xx envelope with success=false.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Retryable reports whether err is a transient failure. Client errors (4xx
// other than 429) and malformed bodies are never retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrTimeout)
}

// Kind names the error class for logs.
func Kind(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return log.ErrorTypeTimeout
	case errors.Is(err, ErrTransport):
		return log.ErrorTypeNetwork
	case errors.Is(err, ErrMalformedResponse):
		return log.ErrorTypeMalformed
	case errors.As(err, &se):
		return log.ErrorTypeStatus
	default:
		return log.ErrorTypeInternal
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
