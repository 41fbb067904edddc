package facade

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-realtime-delivery/internal/infrastructure/hub"
	"go-realtime-delivery/internal/infrastructure/logger"
	"go-realtime-delivery/internal/port/inbound"
)

type captureSink struct {
	mu     sync.Mutex
	events []*hub.Event
	done   chan struct{}
}

func newCaptureSink() *captureSink { return &captureSink{done: make(chan struct{})} }

func (s *captureSink) Send(_ context.Context, e *hub.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}
func (s *captureSink) Close() error          { return nil }
func (s *captureSink) Done() <-chan struct{} { return s.done }
func (s *captureSink) Transport() string     { return "capture" }

func (s *captureSink) received() []*hub.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*hub.Event(nil), s.events...)
}

func newService(t *testing.T) (*hub.Registry, *DeliveryApplicationService) {
	t.Helper()
	log := logger.NewNopLogger()
	registry := hub.NewRegistry(log)
	require.NoError(t, registry.Start(context.Background()))
	t.Cleanup(func() { _ = registry.Stop(context.Background()) })
	return registry, NewDeliveryApplicationService(registry, hub.NewDeliverer(registry, 4, nil, log), log)
}

func TestSendUserEvent(t *testing.T) {
	registry, svc := newService(t)
	sink := newCaptureSink()
	registry.Register("alice", sink)

	// A cancelled caller context still delivers.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := svc.SendUserEvent(ctx, inbound.SendUserEventCommand{
		UserID: "alice",
		Type:   "application-updated",
		Data:   map[string]any{"applicationId": "a-1"},
	})
	require.NoError(t, err)

	got := sink.received()
	require.Len(t, got, 1)
	assert.Equal(t, "application-updated", got[0].Type)
	assert.Equal(t, "a-1", got[0].Data["applicationId"])
}

func TestSendUserEvent_Invalid(t *testing.T) {
	_, svc := newService(t)

	tests := []struct {
		name string
		cmd  inbound.SendUserEventCommand
	}{
		{"missing user", inbound.SendUserEventCommand{Type: "x"}},
		{"missing type", inbound.SendUserEventCommand{UserID: "u"}},
		{"reserved field", inbound.SendUserEventCommand{UserID: "u", Type: "x", Data: map[string]any{"type": "y"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, svc.SendUserEvent(context.Background(), tt.cmd), inbound.ErrInvalidCommand)
		})
	}
}

func TestSendConversationMessage(t *testing.T) {
	registry, svc := newService(t)
	u1, u2 := newCaptureSink(), newCaptureSink()
	registry.Register("u1", u1)
	registry.Register("u2", u2)

	err := svc.SendConversationMessage(context.Background(), inbound.SendConversationMessageCommand{
		ConversationID: "c-1",
		Participants:   []string{"u1", "u2", "u3"},
		Data:           map[string]any{"messageId": "m-1"},
	})
	require.NoError(t, err)

	for _, sink := range []*captureSink{u1, u2} {
		got := sink.received()
		require.Len(t, got, 1)
		assert.Equal(t, "new-message", got[0].Type)
		assert.Equal(t, "c-1", got[0].ConversationID)
	}

	err = svc.SendConversationMessage(context.Background(), inbound.SendConversationMessageCommand{
		ConversationID: "c-1",
		Participants:   []string{"u1", ""},
	})
	assert.ErrorIs(t, err, inbound.ErrInvalidCommand)

	err = svc.SendConversationMessage(context.Background(), inbound.SendConversationMessageCommand{
		ConversationID: "c-1",
	})
	assert.ErrorIs(t, err, inbound.ErrInvalidCommand)
}

func TestListConnections(t *testing.T) {
	registry, svc := newService(t)
	id := registry.Register("alice", newCaptureSink())

	views := svc.ListConnections(context.Background())
	require.Len(t, views, 1)
	assert.Equal(t, id, views[0].ID)
	assert.Equal(t, "alice", views[0].UserID)
	assert.Equal(t, "capture", views[0].Transport)
}

func TestSendUserEvent_RejectsStreamEventTypes(t *testing.T) {
	registry, svc := newService(t)
	sink := newCaptureSink()
	registry.Register("alice", sink)

	for _, eventType := range []string{"connected", "heartbeat"} {
		err := svc.SendUserEvent(context.Background(), inbound.SendUserEventCommand{
			UserID: "alice",
			Type:   eventType,
		})
		assert.ErrorIs(t, err, inbound.ErrInvalidCommand, eventType)
	}
	assert.Empty(t, sink.received())
}
