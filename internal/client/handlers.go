package client

import (
	"slices"
	"sync"

	"go-realtime-delivery/internal/infrastructure/hub"
	"go-realtime-delivery/internal/infrastructure/logger"
)

// AnyEvent subscribes a handler to every event type.
const AnyEvent = "*"

// Handler receives events of the type it subscribed to.
type Handler func(event *hub.Event)

// Subscription identifies one Subscribe call.
type Subscription struct {
	eventType string
	id        uint64
}

// HandlerRegistry maps event types to handlers. It belongs to the agent,
// not to a connection, so handlers survive reconnects.
type HandlerRegistry struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string]map[uint64]Handler
	logger   logger.Logger
}

func NewHandlerRegistry(log logger.Logger) *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]map[uint64]Handler),
		logger:   log,
	}
}

// Subscribe adds h for eventType. Subscribing the same function twice
// yields two independent subscriptions.
func (r *HandlerRegistry) Subscribe(eventType string, h Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	set, ok := r.handlers[eventType]
	if !ok {
		set = make(map[uint64]Handler)
		r.handlers[eventType] = set
	}
	set[r.nextID] = h
	return Subscription{eventType: eventType, id: r.nextID}
}

// Unsubscribe removes sub and reports whether it was present.
func (r *HandlerRegistry) Unsubscribe(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.handlers[sub.eventType]
	if !ok {
		return false
	}
	if _, ok := set[sub.id]; !ok {
		return false
	}
	delete(set, sub.id)
	if len(set) == 0 {
		delete(r.handlers, sub.eventType)
	}
	return true
}

// Count returns the number of handlers for eventType.
func (r *HandlerRegistry) Count(eventType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[eventType])
}

// dispatch runs every handler for the event's type, then the AnyEvent
// handlers, each group in subscription order.
func (r *HandlerRegistry) dispatch(event *hub.Event) {
	r.mu.RLock()
	handlers := r.ordered(event.Type)
	if event.Type != AnyEvent {
		handlers = append(handlers, r.ordered(AnyEvent)...)
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		r.invoke(h, event)
	}
}

func (r *HandlerRegistry) ordered(eventType string) []Handler {
	set := r.handlers[eventType]
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, set[id])
	}
	return handlers
}

func (r *HandlerRegistry) invoke(h Handler, event *hub.Event) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Errorf("Handler for %q panicked: %v", event.Type, p)
		}
	}()
	h(event)
}
