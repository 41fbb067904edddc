package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"go-realtime-delivery/internal/infrastructure/logger"
)

const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// SinkOptions tunes the per-connection outbound buffer.
type SinkOptions struct {
	// Buffer is the number of events queued before Send starts waiting.
	Buffer int
	// SendTimeout is how long Send waits on a full buffer before giving up
	// on the peer.
	SendTimeout time.Duration
	// WriteTimeout bounds one network write.
	WriteTimeout time.Duration
}

func (o SinkOptions) withDefaults() SinkOptions {
	if o.Buffer <= 0 {
		o.Buffer = 64
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 2 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	return o
}

// outbox is the bounded queue between any number of senders and the single
// goroutine that owns the network stream.
type outbox struct {
	queue       chan *Event
	done        chan struct{}
	closeOnce   sync.Once
	sendTimeout time.Duration

	errMu sync.Mutex
	err   error
}

func newOutbox(opts SinkOptions) *outbox {
	return &outbox{
		queue:       make(chan *Event, opts.Buffer),
		done:        make(chan struct{}),
		sendTimeout: opts.SendTimeout,
	}
}

func (o *outbox) Send(ctx context.Context, event *Event) error {
	select {
	case <-o.done:
		return ErrSinkClosed
	default:
	}

	select {
	case o.queue <- event:
		return nil
	default:
	}

	timer := time.NewTimer(o.sendTimeout)
	defer timer.Stop()

	select {
	case o.queue <- event:
		return nil
	case <-o.done:
		return ErrSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		o.closeWithError(ErrSendTimeout)
		return ErrSendTimeout
	}
}

func (o *outbox) Close() error {
	o.closeWithError(nil)
	return nil
}

func (o *outbox) Done() <-chan struct{} {
	return o.done
}

// Err reports why the sink closed; nil for a normal close.
func (o *outbox) Err() error {
	o.errMu.Lock()
	defer o.errMu.Unlock()
	return o.err
}

func (o *outbox) closeWithError(err error) {
	o.closeOnce.Do(func() {
		o.errMu.Lock()
		o.err = err
		o.errMu.Unlock()
		close(o.done)
	})
}

// SSEConnection is a Sink that writes Server-Sent Events to an HTTP response.
// Serve must run on the request goroutine; it is the only writer.
type SSEConnection struct {
	*outbox

	writer       http.ResponseWriter
	controller   *http.ResponseController
	writeTimeout time.Duration
	logger       logger.Logger
}

var _ Sink = (*SSEConnection)(nil)

// NewSSEConnection returns a sink for w. Nothing is written to w, headers
// included, until Serve runs, so callers can still answer with an error.
func NewSSEConnection(w http.ResponseWriter, opts SinkOptions, log logger.Logger) *SSEConnection {
	opts = opts.withDefaults()
	return &SSEConnection{
		outbox:       newOutbox(opts),
		writer:       w,
		controller:   http.NewResponseController(w),
		writeTimeout: opts.WriteTimeout,
		logger:       log,
	}
}

func (c *SSEConnection) Transport() string {
	return TransportSSE
}

// setupSSEHeaders sets up the proper headers for SSE connection
func (c *SSEConnection) setupSSEHeaders() {
	h := c.writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // For nginx
}

// Serve pumps queued events to the client until ctx ends or the sink
// closes. A write error closes the sink and is returned.
func (c *SSEConnection) Serve(ctx context.Context) error {
	c.setupSSEHeaders()
	c.writer.WriteHeader(http.StatusOK)
	if err := c.controller.Flush(); err != nil {
		c.closeWithError(err)
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return c.Err()
		case event := <-c.queue:
			if err := c.write(event); err != nil {
				c.logger.Warnf("Failed to write event: %v", err)
				c.closeWithError(err)
				return err
			}
		}
	}
}

func (c *SSEConnection) write(event *Event) error {
	frame, err := encodeSSE(event)
	if err != nil {
		// A bad payload is the sender's problem, not the connection's.
		c.logger.Errorf("Dropping event %q: %v", event.Type, err)
		return nil
	}

	if err := c.controller.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil &&
		!errors.Is(err, http.ErrNotSupported) {
		return err
	}
	if _, err := c.writer.Write(frame); err != nil {
		return err
	}
	return c.controller.Flush()
}

// WebSocketConnection is a push-only Sink over a WebSocket. Inbound frames
// are read and discarded so that a client close is noticed.
type WebSocketConnection struct {
	*outbox

	conn         *websocket.Conn
	writeTimeout time.Duration
	logger       logger.Logger
}

var _ Sink = (*WebSocketConnection)(nil)

// NewWebSocketConnection wraps an upgraded connection.
func NewWebSocketConnection(conn *websocket.Conn, opts SinkOptions, log logger.Logger) *WebSocketConnection {
	opts = opts.withDefaults()
	return &WebSocketConnection{
		outbox:       newOutbox(opts),
		conn:         conn,
		writeTimeout: opts.WriteTimeout,
		logger:       log,
	}
}

func (c *WebSocketConnection) Transport() string {
	return TransportWebSocket
}

// Serve runs the write pump on the calling goroutine and the read pump in
// the background. The underlying connection is closed on return.
func (c *WebSocketConnection) Serve(ctx context.Context) error {
	readDone := make(chan struct{})
	go c.readPump(readDone)
	defer func() {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = c.conn.Close()
		<-readDone
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return c.Err()
		case event := <-c.queue:
			if err := c.write(event); err != nil {
				c.logger.Warnf("Failed to write event: %v", err)
				c.closeWithError(err)
				return err
			}
		}
	}
}

func (c *WebSocketConnection) write(event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		c.logger.Errorf("Dropping event %q: %v", event.Type, err)
		return nil
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// readPump handles reading messages from the WebSocket connection
func (c *WebSocketConnection) readPump(done chan<- struct{}) {
	defer close(done)
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.logger.Debugf("WebSocket read error: %v", err)
			}
			c.closeWithError(fmt.Errorf("client closed: %w", err))
			return
		}
	}
}
