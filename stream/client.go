package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/a87b01c14/zq-platform-sub001/auth"
	"github.com/a87b01c14/zq-platform-sub001/httpx"
)

// Client issues authenticated JSON and streaming calls against one API
// base URL. It refreshes credentials and retries on 401, classifies
// failures and reports user-facing messages through the Notifier.
type Client struct {
	tr *httpx.Client

	session   auth.Session
	refresher *auth.Refresher
	notifier  Notifier
	logger    *slog.Logger
	locale    func() string

	timeout     time.Duration
	authRetries int
	retry       *httpx.RetryConfig

	transport http.RoundTripper
	userAgent string
}

// New builds a Client for the given base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		notifier:    nopNotifier{},
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		authRetries: 1,
	}
	for _, o := range opts {
		if o == nil {
			continue
		}
		if err := o(c); err != nil {
			return nil, err
		}
	}

	// Deadlines are owned by this layer: the transport client gets no
	// timeout of its own, so streams can outlive any fixed window. Retries
	// default off so every status lands here exactly once; WithRetry opts
	// idempotent calls back into the transport's policy.
	retry := httpx.RetryConfig{MaxAttempts: 1}
	if c.retry != nil {
		retry = *c.retry
	}
	hopts := []httpx.Option{
		httpx.WithBaseURL(baseURL),
		httpx.WithTimeout(0),
		httpx.WithRetry(retry),
	}
	if c.transport != nil {
		hopts = append(hopts, httpx.WithTransport(c.transport))
	}
	if c.userAgent != "" {
		hopts = append(hopts, httpx.WithUserAgent(c.userAgent))
	}
	tr, err := httpx.New(hopts...)
	if err != nil {
		return nil, err
	}
	c.tr = tr
	return c, nil
}

// Open performs the request and hands back the response as a Stream. The
// caller must Close it. Open is the pull-shaped sibling of Go.
func (c *Client) Open(ctx context.Context, method, path string, body any, opts ...CallOption) (Stream, error) {
	cc := c.callConfig(opts)
	ctx, release := callContext(ctx, cc.timeout)
	resp, err := c.send(ctx, method, path, body, cc, "text/event-stream")
	if err != nil {
		release()
		return nil, err
	}
	return newReader(resp.Body, c.logger, release), nil
}

// Go runs the call in the background and feeds h from a single goroutine.
// The returned function aborts the call; after it is invoked no callback
// fires. It is safe to call more than once.
func (c *Client) Go(ctx context.Context, method, path string, body any, h Handler, opts ...CallOption) func() {
	ctx, cn := newCanceller(ctx)
	go c.pump(ctx, cn, method, path, body, h, opts)
	return cn.Cancel
}

// DoJSON performs the request and decodes a JSON response into dst. A nil
// dst discards the body.
func (c *Client) DoJSON(ctx context.Context, method, path string, body, dst any, opts ...CallOption) error {
	cc := c.callConfig(opts)
	ctx, release := callContext(ctx, cc.timeout)
	defer release()

	resp, err := c.send(ctx, method, path, body, cc, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if dst == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return &Error{Kind: KindParse, Message: "failed to decode response", Cause: err}
	}
	return nil
}

func (c *Client) pump(ctx context.Context, cn *canceller, method, path string, body any, h Handler, opts []CallOption) {
	s, err := c.Open(ctx, method, path, body, opts...)
	if err != nil {
		c.deliver(cn, h, err)
		return
	}
	defer s.Close()

	for {
		ev, err := s.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.deliver(cn, h, err)
			}
			return
		}
		if cn.Cancelled() {
			return
		}
		switch ev.Kind {
		case EventData:
			if h.OnData != nil {
				h.OnData(ev.Data)
			}
		case EventDone:
			if h.OnComplete != nil {
				h.OnComplete()
			}
			return
		}
	}
}

// deliver routes a failure to OnError unless the call was aborted.
// Intentional cancellation stays silent.
func (c *Client) deliver(cn *canceller, h Handler, err error) {
	if cn.Cancelled() || IsKind(err, KindCanceled) {
		return
	}
	if h.OnError != nil {
		h.OnError(err)
	}
}

// send issues the request, refreshing credentials and retrying on 401 up
// to the configured budget, and returns a 2xx response with a body.
func (c *Client) send(ctx context.Context, method, path string, body any, cc callConfig, accept string) (*http.Response, error) {
	maxRetries := c.authRetries
	if c.refresher == nil || cc.noAuth {
		maxRetries = 0
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, classifyTransport(err)
		}

		resp, err := c.issue(ctx, method, path, body, cc, accept)
		if err != nil {
			return nil, classifyTransport(err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt < maxRetries {
			drainClose(resp.Body)
			if _, err := c.refresher.Token(ctx); err != nil {
				return nil, c.refreshFailure(err)
			}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, c.statusFailure(resp, attempt)
		}
		if resp.ContentLength == 0 {
			_ = resp.Body.Close()
			c.logger.Warn("empty response body", "method", method, "path", path)
			return nil, &Error{Kind: KindEmptyBody, HTTPStatus: resp.StatusCode, Message: "empty response body"}
		}
		return resp, nil
	}
}

func (c *Client) issue(ctx context.Context, method, path string, body any, cc callConfig, accept string) (*http.Response, error) {
	opts := []httpx.RequestOption{httpx.WithHeader("Accept", accept)}
	if body != nil {
		opts = append(opts, httpx.WithJSON(body))
	}
	if c.locale != nil {
		if lang := c.locale(); lang != "" {
			opts = append(opts, httpx.WithHeader("Accept-Language", lang))
		}
	}
	if !cc.noAuth && c.session != nil {
		if tok := c.session.AccessToken(); tok != "" {
			opts = append(opts, httpx.WithBearerToken(tok))
		}
	}
	if cc.header != nil {
		opts = append(opts, httpx.WithHeaders(cc.header))
	}

	req, err := c.tr.NewRequest(ctx, method, path, opts...)
	if err != nil {
		return nil, err
	}
	return c.tr.Do(req)
}

// statusFailure converts a non-2xx response into a *Error, notifying the
// user with the bucketed message.
func (c *Client) statusFailure(resp *http.Response, attempt int) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, httpx.DefaultMaxErrorBodyBytes))
	_ = resp.Body.Close()

	kind := KindHTTP
	if resp.StatusCode == http.StatusUnauthorized {
		// A 401 that survived the refresh budget means the new credentials
		// were rejected too.
		kind = KindAuth
		if attempt > 0 {
			kind = KindAuthExpired
		}
	}

	msg := friendlyMessage(resp.StatusCode, serverMessage(raw))
	c.logger.Warn("request failed",
		"status", resp.StatusCode,
		"url", resp.Request.URL.String(),
		"message", msg,
	)
	c.notifier.Notify(msg)
	return &Error{Kind: kind, HTTPStatus: resp.StatusCode, Message: msg, Raw: raw}
}

// refreshFailure classifies a failed token refresh. Context errors stay
// silent so an aborted caller does not surface a spurious auth toast.
func (c *Client) refreshFailure(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return classifyTransport(err)
	}
	kind := KindAuthExpired
	if errors.Is(err, auth.ErrMissingRefreshToken) {
		kind = KindMissingRefresh
	}
	msg := friendlyMessage(http.StatusUnauthorized, "")
	c.logger.Warn("token refresh failed", "err", err)
	c.notifier.Notify(msg)
	return &Error{Kind: kind, HTTPStatus: http.StatusUnauthorized, Message: msg, Cause: err}
}

func (c *Client) callConfig(opts []CallOption) callConfig {
	cc := callConfig{timeout: c.timeout}
	for _, o := range opts {
		if o != nil {
			o(&cc)
		}
	}
	return cc
}

func callContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func drainClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	_ = body.Close()
}
