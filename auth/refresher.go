package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ErrMissingRefreshToken is returned when a refresh is needed but the
// session holds no refresh token. The session is flagged for
// re-authentication before this is returned.
var ErrMissingRefreshToken = errors.New("auth: no refresh token available")

// TokenPair is the result of the refresh endpoint. RefreshToken is empty
// when the server does not rotate it.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// RefreshFunc calls the refresh endpoint with the stored refresh token.
type RefreshFunc func(ctx context.Context, refreshToken string) (TokenPair, error)

// ReauthMode selects what happens when the session cannot be refreshed.
type ReauthMode int

const (
	// ReauthModal flags the session as login-expired and leaves the caller
	// to surface a blocking re-login prompt.
	ReauthModal ReauthMode = iota
	// ReauthLogout invokes the logout callback immediately.
	ReauthLogout
)

type refreshResult struct {
	token string
	err   error
}

// Refresher serializes token refresh into a single flight per instance.
//
// The first caller that needs a fresh token owns the flight; callers
// arriving while it is outstanding are queued and notified in FIFO order
// with the flight's outcome. At most one refresh request is outstanding at
// any time.
type Refresher struct {
	session Session
	refresh RefreshFunc

	mode    ReauthMode
	logout  func(context.Context)
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	inflight bool
	waiters  []func(refreshResult)
}

type RefresherOption func(*Refresher)

func WithReauthMode(mode ReauthMode) RefresherOption {
	return func(r *Refresher) { r.mode = mode }
}

// WithLogout sets the callback invoked for ReauthLogout.
func WithLogout(fn func(context.Context)) RefresherOption {
	return func(r *Refresher) { r.logout = fn }
}

// WithRefreshTimeout bounds a single refresh call. Zero disables the bound.
func WithRefreshTimeout(d time.Duration) RefresherOption {
	return func(r *Refresher) { r.timeout = d }
}

func WithLogger(logger *slog.Logger) RefresherOption {
	return func(r *Refresher) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRefresher(session Session, refresh RefreshFunc, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		session: session,
		refresh: refresh,
		timeout: 15 * time.Second,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Token returns a freshly refreshed access token.
//
// When no refresh is in flight the calling goroutine starts one; otherwise
// it joins the waiter queue and receives the shared outcome. Waiting
// respects ctx, but the flight itself is detached from any single caller's
// cancellation so one aborted request cannot fail everyone else's retry.
func (r *Refresher) Token(ctx context.Context) (string, error) {
	ch := make(chan refreshResult, 1)
	if !r.begin(func(res refreshResult) { ch <- res }) {
		select {
		case res := <-ch:
			return res.token, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	token, err := r.runRefresh(ctx)
	r.finish(refreshResult{token: token, err: err})
	return token, err
}

// begin registers the waiter and reports whether the caller owns the
// flight. The owner must call finish exactly once.
func (r *Refresher) begin(waiter func(refreshResult)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight {
		r.waiters = append(r.waiters, waiter)
		return false
	}
	r.inflight = true
	return true
}

// finish resets the flight and notifies queued waiters in enqueue order.
func (r *Refresher) finish(res refreshResult) {
	r.mu.Lock()
	waiters := r.waiters
	r.waiters = nil
	r.inflight = false
	r.mu.Unlock()

	for _, w := range waiters {
		w(res)
	}
}

func (r *Refresher) waiterCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

func (r *Refresher) runRefresh(ctx context.Context) (string, error) {
	refreshToken := r.session.RefreshToken()
	if refreshToken == "" {
		r.reauth(ctx)
		return "", ErrMissingRefreshToken
	}

	callCtx := context.WithoutCancel(ctx)
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, r.timeout)
		defer cancel()
	}

	pair, err := r.refresh(callCtx, refreshToken)
	if err != nil {
		r.logger.Warn("token refresh failed", "err", err)
		r.reauth(ctx)
		return "", fmt.Errorf("auth: refresh failed: %w", err)
	}

	r.session.SetAccessToken(pair.AccessToken)
	if pair.RefreshToken != "" {
		r.session.SetRefreshToken(pair.RefreshToken)
	}
	r.logger.Info("access token refreshed")
	return pair.AccessToken, nil
}

func (r *Refresher) reauth(ctx context.Context) {
	r.session.SetAccessToken("")
	switch r.mode {
	case ReauthLogout:
		if r.logout != nil {
			r.logout(context.WithoutCancel(ctx))
		}
	default:
		r.session.SetLoginExpired(true)
	}
}
