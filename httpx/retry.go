package httpx

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RetryConfig controls automatic retries.
type RetryConfig struct {
	// MaxAttempts counts the initial attempt. Values <= 1 disable retries.
	MaxAttempts int

	// MaxElapsed bounds the total time across attempts and backoff sleeps.
	// Zero means no bound beyond the request context.
	MaxElapsed time.Duration

	// Methods eligible for retries. Empty means the idempotent defaults.
	Methods map[string]bool

	// StatusCodes eligible for retries. Empty means the safe defaults.
	StatusCodes map[int]bool

	// Backoff computes the sleep before the next attempt. Nil means
	// DefaultBackoff().
	Backoff Backoff

	// RespectRetryAfter uses the Retry-After header for 429/503 responses.
	RespectRetryAfter bool

	// MaxRetryAfter caps a server-supplied Retry-After. Zero means no cap.
	MaxRetryAfter time.Duration
}

// DefaultRetryConfig is a conservative policy for idempotent API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		Methods:           defaultRetryMethods(),
		StatusCodes:       defaultRetryStatusCodes(),
		Backoff:           DefaultBackoff(),
		RespectRetryAfter: true,
		MaxRetryAfter:     30 * time.Second,
	}
}

func defaultRetryMethods() map[string]bool {
	return map[string]bool{
		http.MethodGet:     true,
		http.MethodHead:    true,
		http.MethodPut:     true,
		http.MethodDelete:  true,
		http.MethodOptions: true,
	}
}

func defaultRetryStatusCodes() map[int]bool {
	return map[int]bool{
		http.StatusRequestTimeout:      true,
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusBadGateway:          true,
		http.StatusServiceUnavailable:  true,
		http.StatusGatewayTimeout:      true,
	}
}

func (c RetryConfig) canRetryMethod(method string) bool {
	if c.MaxAttempts <= 1 {
		return false
	}
	m := strings.ToUpper(strings.TrimSpace(method))
	if m == "" {
		return false
	}
	methods := c.Methods
	if len(methods) == 0 {
		methods = defaultRetryMethods()
	}
	return methods[m]
}

func (c RetryConfig) canRetryStatus(code int) bool {
	statuses := c.StatusCodes
	if len(statuses) == 0 {
		statuses = defaultRetryStatusCodes()
	}
	return statuses[code]
}

// Backoff computes the sleep before retry attempt+1. attempt starts at 1
// after the first failed request.
type Backoff interface {
	Next(attempt int) time.Duration
}

// ExponentialBackoff doubles the base delay per attempt up to Max, with
// +/- Jitter fraction applied.
type ExponentialBackoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // 0..1
}

func DefaultBackoff() Backoff {
	return ExponentialBackoff{Base: 200 * time.Millisecond, Max: 3 * time.Second, Jitter: 0.2}
}

func (b ExponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	max := b.Max
	if max <= 0 {
		max = 3 * time.Second
	}

	d := base
	for i := 1; i < attempt; i++ {
		if d >= max/2 {
			d = max
			break
		}
		d *= 2
	}
	if d > max {
		d = max
	}

	j := b.Jitter
	if j <= 0 {
		return d
	}
	if j > 1 {
		j = 1
	}
	f := 1 + (jitterFloat64()*2-1)*j
	if f < 0 {
		f = 0
	}
	return time.Duration(float64(d) * f)
}

var (
	jitterMu  sync.Mutex
	jitterRng = rand.New(rand.NewSource(int64(seed64())))
)

func seed64() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err == nil {
		return binary.LittleEndian.Uint64(b[:])
	}
	return uint64(time.Now().UnixNano())
}

func jitterFloat64() float64 {
	jitterMu.Lock()
	defer jitterMu.Unlock()
	return jitterRng.Float64()
}

func shouldRetryNetErr(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

func parseRetryAfter(resp *http.Response, now time.Time) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
