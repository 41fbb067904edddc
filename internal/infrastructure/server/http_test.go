package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-realtime-delivery/internal/infrastructure/config"
	"go-realtime-delivery/internal/infrastructure/logger"
)

func TestHTTPServer_ServeAndStop(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	srv := NewHTTPServer(handler, config.HTTPConfig{ReadTimeout: 5, IdleTimeout: 5}, logger.NewNopLogger())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(context.Background(), ln) }()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, 5*time.Millisecond)
	resp, err := http.Get("http://" + srv.Addr().String())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, srv.Stop(context.Background()))
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("server did not stop")
	}
}

func TestHTTPServer_StopBeforeStart(t *testing.T) {
	srv := NewHTTPServer(http.NotFoundHandler(), config.HTTPConfig{}, logger.NewNopLogger())
	assert.NoError(t, srv.Stop(context.Background()))
}
