package translate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrorKind classifies backend failures uniformly across adapters
type ErrorKind string

const (
	ErrorAuth              ErrorKind = "auth"
	ErrorRateLimited       ErrorKind = "rate_limited"
	ErrorTimeout           ErrorKind = "timeout"
	ErrorMalformedResponse ErrorKind = "malformed_response"
	ErrorUnavailable       ErrorKind = "unavailable"
)

// Sentinels for errors.Is against a *BackendError
var (
	ErrAuth              = errors.New("backend authentication failed")
	ErrRateLimited       = errors.New("backend rate limited")
	ErrTimeout           = errors.New("backend timed out")
	ErrMalformedResponse = errors.New("backend returned a malformed response")
	ErrUnavailable       = errors.New("backend unavailable")
)

var sentinels = map[ErrorKind]error{
	ErrorAuth:              ErrAuth,
	ErrorRateLimited:       ErrRateLimited,
	ErrorTimeout:           ErrTimeout,
	ErrorMalformedResponse: ErrMalformedResponse,
	ErrorUnavailable:       ErrUnavailable,
}

// BackendError is the error returned by every adapter call
type BackendError struct {
	Kind       ErrorKind
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *BackendError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind
func (e *BackendError) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// Retryable reports whether a retry may succeed
func (e *BackendError) Retryable() bool {
	switch e.Kind {
	case ErrorRateLimited, ErrorTimeout, ErrorUnavailable:
		return true
	}
	return false
}

func newError(kind ErrorKind, format string, args ...any) *BackendError {
	return &BackendError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func malformed(format string, args ...any) *BackendError {
	return newError(ErrorMalformedResponse, format, args...)
}

// Classify maps any error to an ErrorKind. Unknown errors are unavailable.
func Classify(err error) ErrorKind {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	return ErrorUnavailable
}

// statusError classifies a non-2xx HTTP response
func statusError(resp *http.Response, body []byte) *BackendError {
	kind := ErrorUnavailable
	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		kind = ErrorAuth
	case code == http.StatusTooManyRequests:
		kind = ErrorRateLimited
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		kind = ErrorTimeout
	case code >= 500:
		kind = ErrorUnavailable
	case code >= 400:
		// The backend rejected the exchange itself; retrying cannot help
		kind = ErrorMalformedResponse
	}
	retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
	return &BackendError{
		Kind:       kind,
		Status:     resp.StatusCode,
		RetryAfter: retryAfter,
		Err:        fmt.Errorf("http %d: %s", resp.StatusCode, snippet(body)),
	}
}

// transportError classifies a failure to complete the HTTP exchange
func transportError(err error) *BackendError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &BackendError{Kind: ErrorTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &BackendError{Kind: ErrorTimeout, Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &BackendError{Kind: ErrorTimeout, Err: err}
	}
	return &BackendError{Kind: ErrorUnavailable, Err: err}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		return s[:300] + "..."
	}
	return s
}
