package stream

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/a87b01c14/zq-platform-sub001/auth"
	"github.com/a87b01c14/zq-platform-sub001/httpx"
)

type Option func(*Client) error

// WithSession supplies the token store consulted for the Authorization
// header. Without one, requests go out unauthenticated.
func WithSession(s auth.Session) Option {
	return func(c *Client) error {
		c.session = s
		return nil
	}
}

// WithRefresher enables refresh-and-retry on 401 responses.
func WithRefresher(r *auth.Refresher) Option {
	return func(c *Client) error {
		c.refresher = r
		return nil
	}
}

// WithNotifier sets the sink for user-facing failure messages.
func WithNotifier(n Notifier) Option {
	return func(c *Client) error {
		if n != nil {
			c.notifier = n
		}
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithLocale sets the provider for the Accept-Language header.
func WithLocale(locale func() string) Option {
	return func(c *Client) error {
		c.locale = locale
		return nil
	}
}

// WithTimeout sets the default per-call deadline. Zero leaves streams
// unbounded.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

// WithAuthRetries caps how many refresh-and-retry rounds a single call may
// perform after a 401. The default is 1; repeated 401s after a successful
// refresh fail instead of looping.
func WithAuthRetries(n int) Option {
	return func(c *Client) error {
		if n >= 0 {
			c.authRetries = n
		}
		return nil
	}
}

// WithRetry enables transparent transport retries (backoff, Retry-After)
// for idempotent calls. Without it every status reaches this layer after a
// single attempt. Retried statuses are consumed by the transport, so a
// retryable 5xx only surfaces here once the policy is exhausted.
func WithRetry(cfg httpx.RetryConfig) Option {
	return func(c *Client) error {
		c.retry = &cfg
		return nil
	}
}

// WithTransport overrides the underlying RoundTripper (tests, proxies).
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) error {
		c.transport = rt
		return nil
	}
}

// WithUserAgent sets the User-Agent for outgoing requests.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

type CallOption func(*callConfig)

type callConfig struct {
	header  http.Header
	timeout time.Duration
	noAuth  bool
}

// WithCallHeader adds a header to this call only.
func WithCallHeader(key, value string) CallOption {
	return func(c *callConfig) {
		if c.header == nil {
			c.header = make(http.Header)
		}
		c.header.Set(key, value)
	}
}

// WithCallTimeout bounds this call, including stream consumption.
func WithCallTimeout(d time.Duration) CallOption {
	return func(c *callConfig) { c.timeout = d }
}

// WithoutAuth skips the Authorization header and refresh-on-401 for this
// call (login and refresh endpoints themselves).
func WithoutAuth() CallOption {
	return func(c *callConfig) { c.noAuth = true }
}
