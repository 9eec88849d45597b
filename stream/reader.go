package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
)

// reader adapts a response body into a Stream.
//
// One Recv performs at most one pull from the body at a time; the reader is
// not safe for concurrent Recv calls.
type reader struct {
	body    io.ReadCloser
	dec     *lineDecoder
	logger  *slog.Logger
	release context.CancelFunc

	done   bool
	closed bool
}

func newReader(body io.ReadCloser, logger *slog.Logger, release context.CancelFunc) *reader {
	return &reader{
		body:    body,
		dec:     newLineDecoder(body),
		logger:  logger,
		release: release,
	}
}

func (r *reader) Recv() (Event, error) {
	if r.closed {
		return Event{}, ErrStreamClosed
	}
	if r.done {
		return Event{}, io.EOF
	}

	for {
		line, err := r.dec.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// The server closed without a sentinel; still complete.
				r.done = true
				return Event{Kind: EventDone}, nil
			}
			return Event{}, classifyTransport(err)
		}

		payload := framePayload(line)
		if payload == doneSentinel {
			r.done = true
			return Event{Kind: EventDone}, nil
		}
		if !json.Valid([]byte(payload)) {
			// Recover locally: one bad frame must not kill the stream.
			r.logger.Warn("skipping malformed stream frame", "payload", payload)
			continue
		}
		return Event{Kind: EventData, Data: json.RawMessage(payload)}, nil
	}
}

func (r *reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.body.Close()
	if r.release != nil {
		r.release()
	}
	return err
}

func classifyTransport(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: "request timeout", Cause: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCanceled, Message: "request canceled", Cause: err}
	default:
		return &Error{Kind: KindNetwork, Message: "network failure", Cause: err}
	}
}
