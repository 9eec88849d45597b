package httpx

import "github.com/google/uuid"

// RequestIDFunc generates a correlation id for outgoing requests.
type RequestIDFunc func() string

// RequestIDConfig controls correlation id propagation.
type RequestIDConfig struct {
	// Header carries the request id, e.g. "X-Request-ID". Empty disables
	// injection.
	Header string

	// New generates an id when the header is missing. Nil means
	// DefaultRequestID.
	New RequestIDFunc
}

func DefaultRequestIDConfig() RequestIDConfig {
	return RequestIDConfig{Header: "X-Request-ID", New: DefaultRequestID}
}

// DefaultRequestID returns a random UUID string.
func DefaultRequestID() string { return uuid.NewString() }
