package stream

import (
	"encoding/json"
	"errors"
)

type EventKind string

const (
	// EventData carries one decoded frame payload.
	EventData EventKind = "data"
	// EventDone marks logical end-of-stream, from the "[DONE]" sentinel or
	// transport closure.
	EventDone EventKind = "done"
)

// Event is one decoded frame from a stream.
type Event struct {
	Kind EventKind
	Data json.RawMessage
}

func (e Event) Done() bool { return e.Kind == EventDone }

// Stream yields events until io.EOF.
//
// Recv returns the done event exactly once, then io.EOF. Close is
// idempotent and releases the underlying connection.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

var ErrStreamClosed = errors.New("stream: closed")
