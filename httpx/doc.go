// Package httpx is the HTTP transport layer shared by the platform API
// clients:
// - tuned, reusable transports with production defaults
// - request building against a base URL with default headers
// - retry with exponential backoff + jitter for idempotent calls
// - an error type carrying status, request id, Retry-After and a bounded
//   copy of the response body
// - hook points for logging and metrics without hard dependencies
package httpx
