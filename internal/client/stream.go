package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"go-realtime-delivery/internal/infrastructure/hub"
)

// ErrUnauthorized is returned by a dialer when the server rejects the token.
// It is terminal for that attempt only.
var ErrUnauthorized = errors.New("stream rejected: unauthorized")

// Stream is one open event stream.
type Stream interface {
	// Next blocks until the next event arrives or the stream ends.
	Next() (*hub.Event, error)
	Close() error
}

// Dialer opens a new stream. Cancelling ctx tears the stream down.
type Dialer interface {
	Dial(ctx context.Context) (Stream, error)
}

// Decoder reads Server-Sent Events frames. Only the data field is used:
// data lines are joined with "\n", a blank line dispatches, comments and
// other fields are ignored, and payloads that are not JSON are skipped.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode returns the next well-formed event.
func (d *Decoder) Decode() (*hub.Event, error) {
	var data []string
	for {
		line, err := d.r.ReadString('\n')
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if len(data) > 0 {
				var event hub.Event
				payload := strings.Join(data, "\n")
				data = data[:0]
				if jerr := json.Unmarshal([]byte(payload), &event); jerr == nil && event.Type != "" {
					return &event, nil
				}
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}

		if err != nil {
			// Partial frame at end of stream.
			return nil, err
		}
	}
}

// HTTPDialer opens Server-Sent Events streams.
type HTTPDialer struct {
	URL    string
	Token  string
	Client *http.Client
}

func (d *HTTPDialer) Dial(ctx context.Context) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if d.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.Token)
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		_ = resp.Body.Close()
		return nil, ErrUnauthorized
	default:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return &httpStream{body: resp.Body, decoder: NewDecoder(resp.Body)}, nil
}

type httpStream struct {
	body    io.ReadCloser
	decoder *Decoder
}

func (s *httpStream) Next() (*hub.Event, error) { return s.decoder.Decode() }
func (s *httpStream) Close() error              { return s.body.Close() }

// WebSocketDialer opens the push-only WebSocket variant of the stream.
type WebSocketDialer struct {
	URL    string
	Token  string
	Dialer *websocket.Dialer
}

func (d *WebSocketDialer) Dial(ctx context.Context) (Stream, error) {
	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	s := &wsStream{conn: conn, stop: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-s.stop:
		}
	}()
	return s, nil
}

type wsStream struct {
	conn *websocket.Conn
	stop chan struct{}
}

func (s *wsStream) Next() (*hub.Event, error) {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		var event hub.Event
		if json.Unmarshal(payload, &event) == nil && event.Type != "" {
			return &event, nil
		}
	}
}

func (s *wsStream) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	return s.conn.Close()
}
