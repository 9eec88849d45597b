// Package stream is a client for the platform's SSE-flavored streaming
// endpoints (chat/completion streams) with transparent credential refresh:
// - newline-delimited "data: <json>" frames with a "[DONE]" sentinel
// - pull API (Stream.Recv) and callback API (Client.Go) over the same core
// - 401 responses trigger a single-flight token refresh and a bounded retry
// - status-bucketed user-facing messages through a pluggable Notifier
// - cancellation that is idempotent and silent (no callbacks after cancel)
package stream
