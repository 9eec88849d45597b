package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable classification for stream client failures.
type Kind string

const (
	// KindTimeout marks a call that hit its deadline.
	KindTimeout Kind = "timeout"
	// KindCanceled marks an intentional abort; it is never delivered
	// through handler callbacks.
	KindCanceled Kind = "canceled"
	// KindAuth marks a 401 response that could not be retried.
	KindAuth Kind = "auth"
	// KindAuthExpired marks a 401 whose follow-up refresh failed.
	KindAuthExpired Kind = "auth_expired"
	// KindMissingRefresh marks a refresh attempt without a refresh token.
	KindMissingRefresh Kind = "missing_refresh_token"
	// KindHTTP marks any other non-2xx response.
	KindHTTP Kind = "http"
	// KindEmptyBody marks a 2xx response without a body.
	KindEmptyBody Kind = "empty_body"
	// KindParse marks an unreadable frame. Parse failures are recovered
	// per line and never terminate a stream; the kind exists for logging.
	KindParse Kind = "parse"
	// KindNetwork marks transport failures.
	KindNetwork Kind = "network"
)

// Error carries the classification, HTTP context and raw payload of a
// failed call.
type Error struct {
	Kind       Kind
	HTTPStatus int
	Message    string

	// Raw holds the response body when one was read.
	Raw []byte

	Cause error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("stream: %s (http %d)", msg, e.HTTPStatus)
	}
	return "stream: " + msg
}

func (e *Error) Unwrap() error { return e.Cause }

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	se, ok := AsError(err)
	return ok && se.Kind == kind
}

// friendlyMessage buckets a status code into the user-facing text shown
// through the Notifier. Unbucketed statuses surface the server message.
func friendlyMessage(status int, serverMsg string) string {
	switch {
	case status == http.StatusUnauthorized:
		return "authentication failed"
	case status == http.StatusForbidden:
		return "forbidden"
	case status == http.StatusTooManyRequests:
		return "rate limited"
	case status >= 500:
		return "server error"
	}
	if serverMsg != "" {
		return serverMsg
	}
	return http.StatusText(status)
}

// serverMessage extracts a human message from an error response body,
// best-effort: {"message": ...}, {"msg": ...} or {"error": {"message": ...}}.
func serverMessage(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var envelope struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ""
	}
	switch {
	case envelope.Message != "":
		return envelope.Message
	case envelope.Msg != "":
		return envelope.Msg
	default:
		return envelope.Error.Message
	}
}
