package gateway

import (
	"context"
	"net/http"
)

// EventHandler receives dispatch events. It is called on the connection's read
// goroutine, so slow handlers delay heartbeat acks.
type EventHandler interface {
	HandleEvent(Event)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(Event)

func (f EventHandlerFunc) HandleEvent(evt Event) { f(evt) }

// Dialer opens a transport connection to the gateway.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// Conn is a single transport connection. Run blocks until the connection is
// closed and reports every transport event to handle, finishing with exactly one
// TransportClose. Send and Close may be called from any goroutine; Close must not
// wait for Run to return.
type Conn interface {
	Run(handle func(TransportEvent))
	Send(text string) error
	Close(code int, reason string) error
}

// TransportEventType enumerates transport callbacks.
type TransportEventType int

const (
	TransportOpen TransportEventType = iota
	TransportMessage
	TransportError
	TransportClose
)

// TransportEvent is delivered by Conn.Run.
type TransportEvent struct {
	Type TransportEventType
	Data []byte
	Err  error

	// Close details. Remote is false when the close was requested through Conn.Close.
	Code   int
	Reason string
	Remote bool
}

// ClientOption configures a Client.
type ClientOption func(*Client) error
