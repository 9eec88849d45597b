package httpx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultMaxErrorBodyBytes bounds how much of a failed response body is
// captured into Error.RawBody.
const DefaultMaxErrorBodyBytes int64 = 64 << 10

// Config configures a Client. Zero values fall back to sane defaults.
type Config struct {
	// BaseURL is optional. When set, relative paths are resolved against it
	// and its own path acts as a prefix.
	BaseURL string

	// Timeout bounds a whole call including retries. The earlier of this
	// and the request context deadline wins.
	Timeout time.Duration

	// Transport is the underlying RoundTripper. Nil means DefaultTransport.
	Transport http.RoundTripper

	// DefaultHeaders are applied to every request; caller headers win.
	DefaultHeaders http.Header

	// UserAgent is set when a request carries none.
	UserAgent string

	Retry RetryConfig

	// MaxErrorBodyBytes limits Error.RawBody. Zero means the default.
	MaxErrorBodyBytes int64

	RequestID RequestIDConfig
}

// DefaultConfig returns the baseline used by New.
func DefaultConfig() Config {
	return Config{
		Timeout:           30 * time.Second,
		DefaultHeaders:    make(http.Header),
		Retry:             DefaultRetryConfig(),
		MaxErrorBodyBytes: DefaultMaxErrorBodyBytes,
		RequestID:         DefaultRequestIDConfig(),
	}
}

// Client wraps *http.Client with request building, retries and error
// classification.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL

	timeout        time.Duration
	defaultHeaders http.Header
	userAgent      string

	retry      RetryConfig
	maxErrBody int64
	requestID  RequestIDConfig

	rateLimiter RateLimiter
	before      []BeforeHook
	after       []AfterHook
}

// New constructs a Client from DefaultConfig plus options.
func New(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		if o != nil {
			o.apply(&cfg)
		}
	}
	return NewWithConfig(cfg)
}

func NewWithConfig(cfg Config) (*Client, error) {
	var bu *url.URL
	if s := strings.TrimSpace(cfg.BaseURL); s != "" {
		u, err := url.Parse(s)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, &url.Error{Op: "parse", URL: cfg.BaseURL, Err: errors.New("base url must be absolute")}
		}
		// A trailing slash makes ResolveReference treat the path as a prefix.
		if u.Path != "" && !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		bu = u
	}

	rt := cfg.Transport
	if rt == nil {
		rt = DefaultTransport()
	}

	maxErrBody := cfg.MaxErrorBodyBytes
	if maxErrBody == 0 {
		maxErrBody = DefaultMaxErrorBodyBytes
	}

	hdr := make(http.Header)
	for k, vv := range cfg.DefaultHeaders {
		for _, v := range vv {
			hdr.Add(k, v)
		}
	}

	c := &Client{
		httpClient:     &http.Client{Transport: rt},
		baseURL:        bu,
		timeout:        cfg.Timeout,
		defaultHeaders: hdr,
		userAgent:      cfg.UserAgent,
		retry:          cfg.Retry,
		maxErrBody:     maxErrBody,
		requestID:      cfg.RequestID,
	}
	if c.requestID.New == nil && c.requestID.Header != "" {
		c.requestID.New = DefaultRequestID
	}
	if c.retry.Backoff == nil {
		c.retry.Backoff = DefaultBackoff()
	}
	return c, nil
}

// WithRateLimiter installs a client-wide rate limiter consulted before
// every attempt. Call during initialization.
func (c *Client) WithRateLimiter(rl RateLimiter) *Client {
	c.rateLimiter = rl
	return c
}

// WithHooks registers hooks executed around every attempt.
func (c *Client) WithHooks(before []BeforeHook, after []AfterHook) *Client {
	c.before = append(c.before, before...)
	c.after = append(c.after, after...)
	return c
}

func (c *Client) resolveURL(path string, q url.Values) (*url.URL, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty url/path")
	}
	u, err := url.Parse(p)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() {
		if c.baseURL == nil {
			return nil, errors.New("relative path requires BaseURL")
		}
		// Strip a leading slash so a BaseURL path prefix survives resolution.
		if strings.HasPrefix(u.Path, "/") {
			u2 := *u
			u2.Path = strings.TrimPrefix(u2.Path, "/")
			u = &u2
		}
		u = c.baseURL.ResolveReference(u)
	}
	if q != nil {
		qq := u.Query()
		for k, vv := range q {
			for _, v := range vv {
				qq.Add(k, v)
			}
		}
		u2 := *u
		u2.RawQuery = qq.Encode()
		u = &u2
	}
	return u, nil
}

func earliestDeadline(base context.Context, timeouts ...time.Duration) (time.Time, bool) {
	now := time.Now()
	var earliest time.Time
	for _, d := range timeouts {
		if d <= 0 {
			continue
		}
		if dd := now.Add(d); earliest.IsZero() || dd.Before(earliest) {
			earliest = dd
		}
	}
	if dl, ok := base.Deadline(); ok {
		if earliest.IsZero() || dl.Before(earliest) {
			earliest = dl
		}
	}
	if earliest.IsZero() {
		return time.Time{}, false
	}
	return earliest, true
}

func withEarlierDeadline(ctx context.Context, deadline time.Time) (context.Context, context.CancelFunc) {
	if deadline.IsZero() {
		return ctx, func() {}
	}
	if existing, ok := ctx.Deadline(); ok && !existing.After(deadline) {
		return ctx, func() {}
	}
	return context.WithDeadline(ctx, deadline)
}

// Do executes the request with retries and mirrors net/http semantics:
// transport errors are returned as error, non-2xx responses as resp with
// nil error.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.do(req, false)
}

// DoStatus executes the request with retries and converts non-2xx
// responses into *Error, reading a bounded copy of the body.
func (c *Client) DoStatus(req *http.Request) (*http.Response, error) {
	return c.do(req, true)
}

func (c *Client) do(req *http.Request, statusAsError bool) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	ctx := req.Context()
	// The deadline context must outlive this call: the caller may still be
	// reading the body. It is released when the body is closed.
	release := context.CancelFunc(func() {})
	if dl, ok := earliestDeadline(ctx, c.timeout, requestTimeout(ctx)); ok {
		ctx, release = withEarlierDeadline(ctx, dl)
	}
	req = req.Clone(ctx)

	maxAttempts := c.retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	startAll := time.Now()

	var lastResp *http.Response
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			release()
			return nil, ctx.Err()
		}
		if c.retry.MaxElapsed > 0 && time.Since(startAll) > c.retry.MaxElapsed {
			// The time budget must not turn into a nil error when nothing
			// was attempted yet.
			if lastResp == nil && lastErr == nil {
				lastErr = context.DeadlineExceeded
			}
			break
		}

		if attempt > 1 && req.Body != nil && req.Body != http.NoBody {
			if req.GetBody == nil {
				release()
				return nil, errors.New("httpx: request body is not replayable (missing req.GetBody)")
			}
			b, err := req.GetBody()
			if err != nil {
				release()
				return nil, err
			}
			req.Body = b
		}

		if c.rateLimiter != nil {
			if err := c.rateLimiter.Wait(ctx); err != nil {
				release()
				return nil, err
			}
		}
		for _, h := range c.before {
			if h == nil {
				continue
			}
			if err := h(req, attempt); err != nil {
				release()
				return nil, err
			}
		}

		t0 := time.Now()
		resp, err := c.httpClient.Do(req)
		dur := time.Since(t0)

		for _, h := range c.after {
			if h != nil {
				h(req, resp, err, dur, attempt)
			}
		}

		if err == nil && resp != nil {
			if resp.StatusCode < 400 {
				return wrapBody(resp, release), nil
			}
			if !statusAsError && !c.retry.canRetryStatus(resp.StatusCode) {
				return wrapBody(resp, release), nil
			}
		}

		lastResp = resp
		lastErr = err

		retry := attempt < maxAttempts && c.retry.canRetryMethod(req.Method)
		if retry {
			switch {
			case err != nil:
				retry = shouldRetryNetErr(err)
			case resp != nil:
				retry = c.retry.canRetryStatus(resp.StatusCode)
			default:
				retry = false
			}
		}
		if retry && req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
			retry = false
		}
		if !retry {
			break
		}

		// Drain so the connection can be reused, but keep a bounded copy:
		// if the time budget trips before the next attempt this response is
		// still the one handed back, and its body must be readable.
		if resp != nil && resp.Body != nil {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, c.maxErrBody))
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
			_ = resp.Body.Close()
			resp.Body = io.NopCloser(bytes.NewReader(raw))
		}

		wait := c.retry.Backoff.Next(attempt)
		if c.retry.RespectRetryAfter && resp != nil &&
			(resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) {
			if ra, ok := parseRetryAfter(resp, time.Now()); ok {
				wait = ra
				if c.retry.MaxRetryAfter > 0 && wait > c.retry.MaxRetryAfter {
					wait = c.retry.MaxRetryAfter
				}
			}
		}
		if err := sleep(ctx, wait); err != nil {
			release()
			return nil, err
		}
	}

	if !statusAsError {
		if lastResp != nil {
			return wrapBody(lastResp, release), lastErr
		}
		release()
		return nil, lastErr
	}
	if lastErr != nil {
		if lastResp != nil && lastResp.Body != nil {
			_ = lastResp.Body.Close()
		}
		release()
		return nil, &Error{
			Method:    req.Method,
			URL:       req.URL.String(),
			RequestID: strings.TrimSpace(req.Header.Get(c.requestID.Header)),
			Cause:     lastErr,
			Retryable: c.retry.canRetryMethod(req.Method) && shouldRetryNetErr(lastErr),
		}
	}
	if lastResp != nil {
		retryable := c.retry.canRetryMethod(req.Method) && c.retry.canRetryStatus(lastResp.StatusCode)
		// responseToError buffers the body, so the deadline context is done.
		defer release()
		return responseToError(req, lastResp, c.requestID.Header, c.maxErrBody, retryable)
	}
	release()
	return nil, errors.New("request failed")
}

// bodyWithCancel ties the lifetime of the per-request deadline context to
// the response body, so streaming reads keep working after Do returns.
type bodyWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *bodyWithCancel) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func wrapBody(resp *http.Response, cancel context.CancelFunc) *http.Response {
	if resp.Body == nil {
		cancel()
		return resp
	}
	resp.Body = &bodyWithCancel{ReadCloser: resp.Body, cancel: cancel}
	return resp
}

func responseToError(req *http.Request, resp *http.Response, requestIDHeader string, maxErrBody int64, retryable bool) (*http.Response, error) {
	if resp.Body != nil {
		defer resp.Body.Close()
	}

	var raw []byte
	if resp.Body != nil && maxErrBody != 0 {
		raw, _ = io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
	}
	// Keep the captured bytes readable without holding the socket open.
	resp.Body = io.NopCloser(bytes.NewReader(raw))

	rid := ""
	if requestIDHeader != "" {
		rid = strings.TrimSpace(resp.Header.Get(requestIDHeader))
		if rid == "" {
			rid = strings.TrimSpace(req.Header.Get(requestIDHeader))
		}
	}
	ra, _ := parseRetryAfter(resp, time.Now())

	return resp, &Error{
		Method:     req.Method,
		URL:        req.URL.String(),
		StatusCode: resp.StatusCode,
		RequestID:  rid,
		RetryAfter: ra,
		RawBody:    raw,
		Retryable:  retryable,
		Cause:      errors.New(http.StatusText(resp.StatusCode)),
	}
}
