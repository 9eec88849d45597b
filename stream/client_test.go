package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/a87b01c14/zq-platform-sub001/auth"
	"github.com/a87b01c14/zq-platform-sub001/httpx"
)

// recorder collects handler callbacks and signals when a call reached a
// terminal state (complete or error).
type recorder struct {
	mu       sync.Mutex
	data     []string
	errs     []error
	complete int

	terminal chan struct{}
	once     sync.Once
}

func newRecorder() *recorder {
	return &recorder{terminal: make(chan struct{})}
}

func (r *recorder) handler() Handler {
	return Handler{
		OnData: func(d json.RawMessage) {
			r.mu.Lock()
			r.data = append(r.data, string(d))
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
			r.once.Do(func() { close(r.terminal) })
		},
		OnComplete: func() {
			r.mu.Lock()
			r.complete++
			r.mu.Unlock()
			r.once.Do(func() { close(r.terminal) })
		},
	}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.terminal:
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal callback")
	}
}

func (r *recorder) snapshot() (data []string, errs []error, complete int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.data...), append([]error(nil), r.errs...), r.complete
}

func writeFrames(t *testing.T, w http.ResponseWriter, lines ...string) {
	t.Helper()
	fl, ok := w.(http.Flusher)
	if !ok {
		t.Fatal("response writer is not a flusher")
	}
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return
		}
		fl.Flush()
	}
}

func newTestClient(t *testing.T, srvURL string, opts ...Option) *Client {
	t.Helper()
	c, err := New(srvURL, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestGo_ChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt != "hi" {
			t.Errorf("bad request body: %v %+v", err, req)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrames(t, w,
			`data: {"token":"He"}`,
			`data: {"token":"llo"}`,
			`data: [DONE]`,
		)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	rec := newRecorder()
	c.Go(context.Background(), http.MethodPost, "/api/chat", map[string]string{"prompt": "hi"}, rec.handler())
	rec.wait(t)

	data, errs, complete := rec.snapshot()
	if len(errs) != 0 {
		t.Fatalf("errs=%v", errs)
	}
	if complete != 1 {
		t.Fatalf("complete=%d", complete)
	}
	if len(data) != 2 || data[0] != `{"token":"He"}` || data[1] != `{"token":"llo"}` {
		t.Fatalf("data=%v", data)
	}
}

func TestGo_SkipsMalformedFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFrames(t, w,
			`data: {"n":1}`,
			`data: {not json`,
			`data: {"n":2}`,
			`data: [DONE]`,
		)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	rec := newRecorder()
	c.Go(context.Background(), http.MethodGet, "/feed", nil, rec.handler())
	rec.wait(t)

	data, errs, complete := rec.snapshot()
	if len(errs) != 0 || complete != 1 {
		t.Fatalf("errs=%v complete=%d", errs, complete)
	}
	if len(data) != 2 || data[0] != `{"n":1}` || data[1] != `{"n":2}` {
		t.Fatalf("data=%v", data)
	}
}

func TestGo_EOFWithoutSentinelCompletes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFrames(t, w, `data: {"n":1}`)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	rec := newRecorder()
	c.Go(context.Background(), http.MethodGet, "/feed", nil, rec.handler())
	rec.wait(t)

	data, errs, complete := rec.snapshot()
	if len(errs) != 0 || complete != 1 || len(data) != 1 {
		t.Fatalf("data=%v errs=%v complete=%d", data, errs, complete)
	}
}

func TestGo_CancelIsSilent(t *testing.T) {
	started := make(chan struct{})
	released := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFrames(t, w, `data: {"n":1}`)
		close(started)
		<-r.Context().Done()
		close(released)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	rec := newRecorder()
	cancel := c.Go(context.Background(), http.MethodGet, "/feed", nil, rec.handler())

	<-started
	cancel()
	cancel() // second call is a no-op

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the abort")
	}
	// Give any stray callback a chance to fire before asserting silence.
	time.Sleep(100 * time.Millisecond)

	_, errs, complete := rec.snapshot()
	if len(errs) != 0 || complete != 0 {
		t.Fatalf("abort was not silent: errs=%v complete=%d", errs, complete)
	}
}

func TestGo_TimeoutDeliversSingleError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)

	var notified atomic.Int32
	c := newTestClient(t, srv.URL,
		WithNotifier(NotifierFunc(func(string) { notified.Add(1) })),
	)
	rec := newRecorder()
	c.Go(context.Background(), http.MethodGet, "/slow", nil, rec.handler(),
		WithCallTimeout(50*time.Millisecond))
	rec.wait(t)

	data, errs, complete := rec.snapshot()
	if len(data) != 0 || complete != 0 {
		t.Fatalf("data=%v complete=%d", data, complete)
	}
	if len(errs) != 1 || !IsKind(errs[0], KindTimeout) {
		t.Fatalf("errs=%v", errs)
	}
	// Deadline failures surface through the handler, not as a toast.
	if got := notified.Load(); got != 0 {
		t.Fatalf("notified=%d", got)
	}
}

func TestGo_RefreshRetryOn401(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"message":"token expired"}`)
			return
		}
		writeFrames(t, w, `data: {"ok":true}`, `data: [DONE]`)
	}))
	t.Cleanup(srv.Close)

	sess := auth.NewMemorySession("stale", "refresh-1")
	var refreshed atomic.Int32
	ref := auth.NewRefresher(sess, func(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
		refreshed.Add(1)
		if refreshToken != "refresh-1" {
			t.Errorf("refreshToken=%q", refreshToken)
		}
		return auth.TokenPair{AccessToken: "fresh", RefreshToken: "refresh-2"}, nil
	})

	c := newTestClient(t, srv.URL, WithSession(sess), WithRefresher(ref))
	rec := newRecorder()
	c.Go(context.Background(), http.MethodGet, "/feed", nil, rec.handler())
	rec.wait(t)

	data, errs, complete := rec.snapshot()
	if len(errs) != 0 || complete != 1 || len(data) != 1 {
		t.Fatalf("data=%v errs=%v complete=%d", data, errs, complete)
	}
	if got := refreshed.Load(); got != 1 {
		t.Fatalf("refreshed=%d", got)
	}
	if got := requests.Load(); got != 2 {
		t.Fatalf("requests=%d", got)
	}
	if sess.AccessToken() != "fresh" || sess.RefreshToken() != "refresh-2" {
		t.Fatalf("session=%q/%q", sess.AccessToken(), sess.RefreshToken())
	}
}

func TestGo_RepeatedUnauthorizedStopsAfterBudget(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	sess := auth.NewMemorySession("stale", "refresh-1")
	ref := auth.NewRefresher(sess, func(ctx context.Context, _ string) (auth.TokenPair, error) {
		return auth.TokenPair{AccessToken: "still-bad", RefreshToken: "refresh-2"}, nil
	})

	var toasts []string
	var mu sync.Mutex
	c := newTestClient(t, srv.URL,
		WithSession(sess),
		WithRefresher(ref),
		WithNotifier(NotifierFunc(func(msg string) {
			mu.Lock()
			toasts = append(toasts, msg)
			mu.Unlock()
		})),
	)
	rec := newRecorder()
	c.Go(context.Background(), http.MethodGet, "/feed", nil, rec.handler())
	rec.wait(t)

	_, errs, _ := rec.snapshot()
	if len(errs) != 1 || !IsKind(errs[0], KindAuthExpired) {
		t.Fatalf("errs=%v", errs)
	}
	if got := requests.Load(); got != 2 {
		t.Fatalf("requests=%d", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(toasts) != 1 || toasts[0] != "authentication failed" {
		t.Fatalf("toasts=%v", toasts)
	}
}

func TestGo_ServerErrorNotifies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"message":"db down"}`)
	}))
	t.Cleanup(srv.Close)

	var toast string
	c := newTestClient(t, srv.URL,
		WithNotifier(NotifierFunc(func(msg string) { toast = msg })),
	)
	rec := newRecorder()
	c.Go(context.Background(), http.MethodGet, "/feed", nil, rec.handler())
	rec.wait(t)

	_, errs, _ := rec.snapshot()
	if len(errs) != 1 || !IsKind(errs[0], KindHTTP) {
		t.Fatalf("errs=%v", errs)
	}
	se, _ := AsError(errs[0])
	if se.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("status=%d", se.HTTPStatus)
	}
	if toast != "server error" {
		t.Fatalf("toast=%q", toast)
	}
}

func TestOpen_PullStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("accept=%q", got)
		}
		writeFrames(t, w, `data: {"n":1}`, `data: [DONE]`)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	s, err := c.Open(context.Background(), http.MethodGet, "/feed", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ev, err := s.Recv()
	if err != nil || ev.Kind != EventData || string(ev.Data) != `{"n":1}` {
		t.Fatalf("first=%+v err=%v", ev, err)
	}
	ev, err = s.Recv()
	if err != nil || !ev.Done() {
		t.Fatalf("second=%+v err=%v", ev, err)
	}
	if _, err := s.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("after done: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Recv(); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("after close: %v", err)
	}
}

func TestDoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept-Language"); got != "en-US" {
			t.Errorf("accept-language=%q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":7,"name":"alpha"}`)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL, WithLocale(func() string { return "en-US" }))
	var out struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	if err := c.DoJSON(context.Background(), http.MethodGet, "/item", nil, &out); err != nil {
		t.Fatalf("DoJSON: %v", err)
	}
	if out.ID != 7 || out.Name != "alpha" {
		t.Fatalf("out=%+v", out)
	}
}

func TestDoJSON_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	var out map[string]any
	err := c.DoJSON(context.Background(), http.MethodGet, "/item", nil, &out)
	if !IsKind(err, KindEmptyBody) {
		t.Fatalf("err=%v", err)
	}
}

func TestFriendlyMessageBuckets(t *testing.T) {
	cases := []struct {
		status    int
		serverMsg string
		want      string
	}{
		{http.StatusUnauthorized, "ignored", "authentication failed"},
		{http.StatusForbidden, "ignored", "forbidden"},
		{http.StatusTooManyRequests, "", "rate limited"},
		{http.StatusBadGateway, "ignored", "server error"},
		{http.StatusBadRequest, "validation failed", "validation failed"},
		{http.StatusNotFound, "", "Not Found"},
	}
	for _, tc := range cases {
		if got := friendlyMessage(tc.status, tc.serverMsg); got != tc.want {
			t.Errorf("friendlyMessage(%d, %q)=%q want %q", tc.status, tc.serverMsg, got, tc.want)
		}
	}
}

func TestDoJSON_TransportRetry(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	t.Cleanup(srv.Close)

	var toasts atomic.Int32
	c := newTestClient(t, srv.URL,
		WithRetry(httpx.RetryConfig{
			MaxAttempts: 2,
			Backoff:     httpx.ExponentialBackoff{Base: time.Millisecond, Max: 2 * time.Millisecond},
		}),
		WithNotifier(NotifierFunc(func(string) { toasts.Add(1) })),
	)

	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.DoJSON(context.Background(), http.MethodGet, "/item", nil, &out); err != nil {
		t.Fatalf("DoJSON: %v", err)
	}
	if !out.OK {
		t.Fatalf("out=%+v", out)
	}
	if got := requests.Load(); got != 2 {
		t.Fatalf("requests=%d", got)
	}
	// The retried 503 is consumed by the transport, never toasted.
	if got := toasts.Load(); got != 0 {
		t.Fatalf("toasts=%d", got)
	}
}
