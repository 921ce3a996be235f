package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/rotisserie/eris"
)

var (
	ErrRateLimited        = eris.New("rate limited")
	ErrServiceUnavailable = eris.New("service unavailable")
	ErrLayerNotFound      = eris.New("layer not available")
	ErrServerError        = eris.New("server error")
	ErrUnexpectedStatus   = eris.New("unexpected status code")
	ErrCircuitOpen        = eris.New("circuit breaker open")
	ErrNoHTTPClient       = eris.New("http client not configured")
	ErrInvalidConfig      = eris.New("invalid backoff configuration")
)

// StatusError is a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %d", e.Err, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func newStatusError(code int) *StatusError {
	var base error
	switch {
	case code == http.StatusTooManyRequests:
		base = ErrRateLimited
	case code == http.StatusServiceUnavailable:
		base = ErrServiceUnavailable
	case code == http.StatusNotFound:
		base = ErrLayerNotFound
	case code >= 500:
		base = ErrServerError
	default:
		base = ErrUnexpectedStatus
	}
	return &StatusError{StatusCode: code, Err: base}
}

// IsTransientHTTPStatus reports whether a status is worth retrying.
func IsTransientHTTPStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsTransient reports whether err is a retryable failure: a transient status
// or a network timeout.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return IsTransientHTTPStatus(se.StatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
