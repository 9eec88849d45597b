package config

import (
	"time"

	"github.com/a87b01c14/zq-platform-sub001/httpx"
	"github.com/a87b01c14/zq-platform-sub001/stream"
)

// ClientConfig is the file-backed configuration for the streaming API
// client.
type ClientConfig struct {
	// BaseURL is the API origin, e.g. "https://api.example.com".
	BaseURL string `mapstructure:"base_url" json:"base_url"`

	// Timeout bounds each non-streaming call. Zero disables the deadline.
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`

	// AuthRetries caps refresh-and-retry rounds after a 401.
	AuthRetries int `mapstructure:"auth_retries" json:"auth_retries"`

	// Retry tunes transparent transport retries for idempotent calls.
	Retry RetryConfig `mapstructure:"retry" json:"retry"`

	// Locale is sent as Accept-Language when set.
	Locale string `mapstructure:"locale" json:"locale"`

	UserAgent string `mapstructure:"user_agent" json:"user_agent"`

	// TokenFile is where the session tokens persist between runs.
	TokenFile string `mapstructure:"token_file" json:"token_file"`
}

// RetryConfig is the file-level shape of the transport retry policy.
// MaxAttempts <= 1 leaves retries off.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" json:"max_attempts"`
	MaxElapsed  time.Duration `mapstructure:"max_elapsed" json:"max_elapsed"`
	BackoffBase time.Duration `mapstructure:"backoff_base" json:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max" json:"backoff_max"`
}

func (r RetryConfig) toTransport() httpx.RetryConfig {
	cfg := httpx.DefaultRetryConfig()
	cfg.MaxAttempts = r.MaxAttempts
	if r.MaxElapsed > 0 {
		cfg.MaxElapsed = r.MaxElapsed
	}
	if r.BackoffBase > 0 || r.BackoffMax > 0 {
		cfg.Backoff = httpx.ExponentialBackoff{Base: r.BackoffBase, Max: r.BackoffMax, Jitter: 0.2}
	}
	return cfg
}

// ClientDefaults returns the defaults applied when the file omits keys.
func ClientDefaults() map[string]any {
	return map[string]any{
		"timeout":      "30s",
		"auth_retries": 1,
	}
}

// Options maps the file values onto client options. BaseURL is passed to
// stream.New separately.
func (c ClientConfig) Options() []stream.Option {
	opts := []stream.Option{
		stream.WithTimeout(c.Timeout),
		stream.WithAuthRetries(c.AuthRetries),
	}
	if c.Locale != "" {
		locale := c.Locale
		opts = append(opts, stream.WithLocale(func() string { return locale }))
	}
	if c.UserAgent != "" {
		opts = append(opts, stream.WithUserAgent(c.UserAgent))
	}
	if c.Retry.MaxAttempts > 1 {
		opts = append(opts, stream.WithRetry(c.Retry.toTransport()))
	}
	return opts
}
