package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Error describes a failed request with enough context to log and triage it.
type Error struct {
	Method string
	URL    string

	// StatusCode is 0 when the request failed before a response arrived.
	StatusCode int

	// RequestID is the correlation id taken from the response (or request)
	// header configured in RequestIDConfig.
	RequestID string

	// RetryAfter is parsed from the Retry-After header when present.
	RetryAfter time.Duration

	// RawBody holds a bounded copy of the response body for non-2xx
	// responses.
	RawBody []byte

	// Cause is the underlying transport, context or decode error.
	Cause error

	// Retryable reports whether the configured retry policy considers this
	// failure safe to retry.
	Retryable bool
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if m := strings.TrimSpace(e.Method); m != "" {
		b.WriteString(strings.ToUpper(m))
		b.WriteByte(' ')
	}
	if u := strings.TrimSpace(e.URL); u != "" {
		b.WriteString(u)
		b.WriteString(": ")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, "http %d", e.StatusCode)
		if t := http.StatusText(e.StatusCode); t != "" {
			b.WriteByte(' ')
			b.WriteString(t)
		}
	} else {
		b.WriteString("request failed")
	}
	if e.RequestID != "" {
		b.WriteString(" request_id=")
		b.WriteString(e.RequestID)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// AsError extracts an *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var he *Error
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// IsHTTPStatus reports whether err is an *Error with the given status code.
func IsHTTPStatus(err error, code int) bool {
	he, ok := AsError(err)
	return ok && he.StatusCode == code
}

// IsRetryable reports whether err is an *Error flagged as retryable.
func IsRetryable(err error) bool {
	he, ok := AsError(err)
	return ok && he.Retryable
}
