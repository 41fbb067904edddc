package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-realtime-delivery/internal/infrastructure/auth"
	"go-realtime-delivery/internal/infrastructure/hub"
	"go-realtime-delivery/internal/infrastructure/logger"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fixture struct {
	srv       *httptest.Server
	registry  *hub.Registry
	deliverer *hub.Deliverer
	authn     *auth.JWTAuthenticator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewNopLogger()

	registry := hub.NewRegistry(log)
	require.NoError(t, registry.Start(context.Background()))
	authn := auth.NewJWTAuthenticator(testSecret, "test")

	router := gin.New()
	InitSSERouter(log, registry, authn, hub.EndpointConfig{
		Session: hub.SessionConfig{HeartbeatInterval: time.Hour},
	}, router.Group(""))

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		_ = registry.Stop(context.Background())
		srv.Close()
	})
	return &fixture{
		srv:       srv,
		registry:  registry,
		deliverer: hub.NewDeliverer(registry, 4, nil, log),
		authn:     authn,
	}
}

func (f *fixture) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := f.authn.IssueToken(userID, time.Hour)
	require.NoError(t, err)
	return token
}

// readEvent reads one SSE frame and decodes its data line.
func readEvent(t *testing.T, r *bufio.Reader) hub.Event {
	t.Helper()
	var data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			break
		}
		require.True(t, strings.HasPrefix(line, "data: "), "unexpected line %q", line)
		data = strings.TrimPrefix(line, "data: ")
	}
	var e hub.Event
	require.NoError(t, json.Unmarshal([]byte(data), &e))
	return e
}

func TestConnect_StreamsEvents(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token(t, "alice"))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	body := bufio.NewReader(resp.Body)
	connected := readEvent(t, body)
	assert.Equal(t, "connected", connected.Type)
	require.NotEmpty(t, connected.ConnectionID)
	assert.Equal(t, []string{connected.ConnectionID}, f.registry.ConnectionsFor("alice"))

	f.deliverer.DeliverToConversation(context.Background(), "c-1", []string{"alice"},
		hub.NewEvent("new-message", map[string]any{"messageId": "m-1"}))
	msg := readEvent(t, body)
	assert.Equal(t, "new-message", msg.Type)
	assert.Equal(t, "c-1", msg.ConversationID)
	assert.Equal(t, "m-1", msg.Data["messageId"])

	cancel()
	assert.Eventually(t, func() bool { return f.registry.ConnectionCount() == 0 },
		2*time.Second, 10*time.Millisecond, "client disconnect must deregister")
}

func TestConnect_QueryToken(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/events?token=" + f.token(t, "bob"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "connected", readEvent(t, bufio.NewReader(resp.Body)).Type)
	assert.Len(t, f.registry.ConnectionsFor("bob"), 1)
}

func TestConnect_TwoTabsGetDistinctConnections(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, "alice")

	var readers []*bufio.Reader
	var ids []string
	for i := 0; i < 2; i++ {
		resp, err := http.Get(f.srv.URL + "/events?token=" + token)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		r := bufio.NewReader(resp.Body)
		ids = append(ids, readEvent(t, r).ConnectionID)
		readers = append(readers, r)
	}
	assert.NotEqual(t, ids[0], ids[1])

	f.deliverer.DeliverToUser(context.Background(), "alice", hub.NewEvent("ping", nil))
	for _, r := range readers {
		assert.Equal(t, "ping", readEvent(t, r).Type)
	}
}

func TestConnect_Unauthorized(t *testing.T) {
	f := newFixture(t)

	for _, url := range []string{"/events", "/events?token=garbage"} {
		resp, err := http.Get(f.srv.URL + url)
		require.NoError(t, err)
		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		_ = resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "Unauthorized", body["error"])
	}
	assert.Equal(t, 0, f.registry.ConnectionCount())
}

func TestConnect_RegistryStopped(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.Stop(context.Background()))

	resp, err := http.Get(f.srv.URL + "/events?token=" + f.token(t, "alice"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestConnect_ShutdownEndsStream(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/events?token=" + f.token(t, "alice"))
	require.NoError(t, err)
	defer resp.Body.Close()
	r := bufio.NewReader(resp.Body)
	readEvent(t, r)

	require.NoError(t, f.registry.Stop(context.Background()))

	// The server ends the response; the client sees EOF.
	done := make(chan error, 1)
	go func() {
		_, err := r.ReadString('\n')
		done <- err
	}()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after registry stop")
	}
}

func TestConnect_RegistryStopsDuringHandshake(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := logger.NewNopLogger()
	registry := hub.NewRegistry(log)
	require.NoError(t, registry.Start(context.Background()))

	// Shutdown begins after the running check has passed.
	authn := auth.AuthenticatorFunc(func(*http.Request) (string, error) {
		require.NoError(t, registry.Stop(context.Background()))
		return "alice", nil
	})
	router := gin.New()
	InitSSERouter(log, registry, authn, hub.EndpointConfig{
		Session: hub.SessionConfig{HeartbeatInterval: time.Hour},
	}, router.Group(""))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"error":"Service temporarily unavailable"}`, w.Body.String())
	assert.Equal(t, 0, registry.ConnectionCount())
}
