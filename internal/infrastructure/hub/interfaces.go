package hub

import (
	"context"
	"errors"
)

var (
	// ErrSinkClosed is returned by Send once a sink has been closed.
	ErrSinkClosed = errors.New("sink is closed")
	// ErrSendTimeout is returned when a sink's buffer stayed full for the
	// whole send timeout. The sink is closed when this happens.
	ErrSendTimeout = errors.New("send timed out on a full buffer")
)

// Sink is the write end of one client connection (SSE, WebSocket, ...).
//
// Send may be called from any goroutine; events sent to the same sink are
// written to the network in call order. Any failure to accept or write an
// event closes the sink, which is the only failure rule the endpoint needs
// to watch for.
type Sink interface {
	Send(ctx context.Context, event *Event) error
	Close() error
	Done() <-chan struct{}
	Transport() string
}
