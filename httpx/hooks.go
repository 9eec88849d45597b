package httpx

import (
	"context"
	"net/http"
	"time"
)

// RateLimiter throttles outgoing requests. Wait blocks until the next
// request may proceed or ctx is done. It is consulted once per attempt,
// retries included.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// BeforeHook runs before every attempt. Returning an error fails the call.
type BeforeHook func(req *http.Request, attempt int) error

// AfterHook runs after every attempt, including failed ones.
type AfterHook func(req *http.Request, resp *http.Response, err error, dur time.Duration, attempt int)

// RoundTripperFunc adapts a function to an http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
