package stream

import "encoding/json"

// Handler receives stream events from Client.Go. All callbacks are
// optional and are invoked from a single goroutine per call.
//
// Delivery contract: every failure reaches OnError exactly once, except
// intentional aborts, which reach neither OnError nor OnComplete.
type Handler struct {
	OnData     func(data json.RawMessage)
	OnError    func(err error)
	OnComplete func()
}

// Notifier is the sink for user-facing failure messages (the web client
// shows these as toasts).
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to a Notifier.
type NotifierFunc func(message string)

func (f NotifierFunc) Notify(message string) { f(message) }

type nopNotifier struct{}

func (nopNotifier) Notify(string) {}
