package hub

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-realtime-delivery/internal/infrastructure/logger"
)

// lockedRecorder lets the test read the body while Serve is writing it.
type lockedRecorder struct {
	mu  sync.Mutex
	rec *httptest.ResponseRecorder
}

func newLockedRecorder() *lockedRecorder {
	return &lockedRecorder{rec: httptest.NewRecorder()}
}

func (l *lockedRecorder) Header() http.Header { return l.rec.Header() }

func (l *lockedRecorder) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec.Write(b)
}

func (l *lockedRecorder) WriteHeader(code int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rec.WriteHeader(code)
}

func (l *lockedRecorder) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rec.Flush()
}

func (l *lockedRecorder) body() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec.Body.String()
}

func TestSSEConnection_Framing(t *testing.T) {
	w := newLockedRecorder()
	conn := NewSSEConnection(w, SinkOptions{}, logger.NewNopLogger())
	assert.Empty(t, w.Header().Get("Content-Type"), "headers belong to Serve")
	assert.Equal(t, TransportSSE, conn.Transport())

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- conn.Serve(ctx) }()

	require.NoError(t, conn.Send(ctx, ConnectedEvent("c-1")))
	require.NoError(t, conn.Send(ctx, NewMessageEvent("conv-1", map[string]any{"text": "line one\nline two"})))

	want := `data: {"connectionId":"c-1","type":"connected"}` + "\n\n" +
		`data: {"conversationId":"conv-1","text":"line one\nline two","type":"new-message"}` + "\n\n"
	require.Eventually(t, func() bool { return w.body() == want }, time.Second, 5*time.Millisecond, w.body())

	cancel()
	assert.NoError(t, <-served)
	assert.True(t, w.rec.Flushed)
	assert.Equal(t, http.StatusOK, w.rec.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", w.Header().Get("Connection"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))
}

func TestSSEConnection_CloseEndsServe(t *testing.T) {
	w := newLockedRecorder()
	conn := NewSSEConnection(w, SinkOptions{}, logger.NewNopLogger())

	served := make(chan error, 1)
	go func() { served <- conn.Serve(context.Background()) }()

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after Close")
	}
	assert.ErrorIs(t, conn.Send(context.Background(), HeartbeatEvent()), ErrSinkClosed)
}

func TestOutbox_FullBufferTimesOut(t *testing.T) {
	o := newOutbox(SinkOptions{Buffer: 1, SendTimeout: 20 * time.Millisecond})

	require.NoError(t, o.Send(context.Background(), HeartbeatEvent()))
	err := o.Send(context.Background(), HeartbeatEvent())
	assert.ErrorIs(t, err, ErrSendTimeout)

	select {
	case <-o.Done():
	default:
		t.Fatal("a timed out send should close the sink")
	}
	assert.ErrorIs(t, o.Err(), ErrSendTimeout)
	assert.ErrorIs(t, o.Send(context.Background(), HeartbeatEvent()), ErrSinkClosed)
}

func TestOutbox_SendHonoursContext(t *testing.T) {
	o := newOutbox(SinkOptions{Buffer: 1, SendTimeout: time.Minute})
	require.NoError(t, o.Send(context.Background(), HeartbeatEvent()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, o.Send(ctx, HeartbeatEvent()), context.Canceled)

	// A cancelled sender does not condemn the connection.
	select {
	case <-o.Done():
		t.Fatal("sink closed by a cancelled send")
	default:
	}
}

func TestWebSocketConnection_PushesJSONFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	serverDone := make(chan error, 1)
	sinks := make(chan *WebSocketConnection, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			serverDone <- err
			return
		}
		conn := NewWebSocketConnection(ws, SinkOptions{}, logger.NewNopLogger())
		sinks <- conn
		serverDone <- conn.Serve(r.Context())
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	conn := <-sinks
	assert.Equal(t, TransportWebSocket, conn.Transport())
	require.NoError(t, conn.Send(context.Background(), ConnectedEvent("c-7")))

	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	msgType, payload, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)

	var got Event
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, "connected", got.Type)
	assert.Equal(t, "c-7", got.ConnectionID)

	// Closing the client closes the sink.
	require.NoError(t, client.Close())
	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("sink still open after client close")
	}
	<-serverDone
}

func TestEncodeSSE_SingleDataLine(t *testing.T) {
	frame, err := encodeSSE(NewEvent("note", map[string]any{"body": "a\nb\r\nc"}))
	require.NoError(t, err)

	sc := bufio.NewScanner(strings.NewReader(string(frame)))
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "data: {"))
	assert.Equal(t, "", lines[1])
}
