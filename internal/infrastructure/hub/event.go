package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// EventType is the "type" discriminator carried by every event.
type EventType string

const (
	EventConnected  EventType = "connected"
	EventHeartbeat  EventType = "heartbeat"
	EventNewMessage EventType = "new-message"
)

const (
	fieldType           = "type"
	fieldConnectionID   = "connectionId"
	fieldConversationID = "conversationId"
)

// Event is a tagged payload pushed to clients. It serializes flat: the
// reserved keys sit next to the application fields in Data, e.g.
//
//	{"type":"new-message","conversationId":"c-1","messageId":"m-9"}
//
// Events carry no sequence number. Clients treat them as hints to re-fetch
// authoritative state.
type Event struct {
	Type           string
	ConnectionID   string
	ConversationID string
	Data           map[string]any
}

// NewEvent creates an application event of the given type.
func NewEvent(eventType string, data map[string]any) *Event {
	return &Event{Type: eventType, Data: data}
}

// ConnectedEvent is the first event on every connection.
func ConnectedEvent(connectionID string) *Event {
	return &Event{Type: string(EventConnected), ConnectionID: connectionID}
}

// HeartbeatEvent is sent on every heartbeat tick.
func HeartbeatEvent() *Event {
	return &Event{Type: string(EventHeartbeat)}
}

// NewMessageEvent announces a chat message in a conversation.
func NewMessageEvent(conversationID string, data map[string]any) *Event {
	return &Event{
		Type:           string(EventNewMessage),
		ConversationID: conversationID,
		Data:           data,
	}
}

// Clone returns a copy whose Data map can be changed independently.
func (e *Event) Clone() *Event {
	c := *e
	if e.Data != nil {
		c.Data = maps.Clone(e.Data)
	}
	return &c
}

// WithConversation returns a copy addressed to conversationID.
func (e *Event) WithConversation(conversationID string) *Event {
	c := e.Clone()
	c.ConversationID = conversationID
	return c
}

// IsReservedType reports whether eventType is emitted only by the stream
// itself and never by applications.
func IsReservedType(eventType string) bool {
	switch EventType(eventType) {
	case EventConnected, EventHeartbeat:
		return true
	}
	return false
}

// Validate checks an application event before it is handed to the delivery
// engine.
func (e *Event) Validate() error {
	if e == nil {
		return errors.New("event cannot be nil")
	}
	if e.Type == "" {
		return errors.New("event type cannot be empty")
	}
	if IsReservedType(e.Type) {
		return fmt.Errorf("event type %q is reserved for the connection itself", e.Type)
	}
	for _, reserved := range []string{fieldType, fieldConnectionID, fieldConversationID} {
		if _, ok := e.Data[reserved]; ok {
			return fmt.Errorf("event data cannot set reserved field %q", reserved)
		}
	}
	if _, err := json.Marshal(e.Data); err != nil {
		return fmt.Errorf("event data must be JSON serializable: %w", err)
	}
	return nil
}

func (e *Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Data)+3)
	for k, v := range e.Data {
		out[k] = v
	}
	out[fieldType] = e.Type
	if e.ConnectionID != "" {
		out[fieldConnectionID] = e.ConnectionID
	}
	if e.ConversationID != "" {
		out[fieldConversationID] = e.ConversationID
	}
	return json.Marshal(out)
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = Event{}
	if v, ok := raw[fieldType].(string); ok {
		e.Type = v
	}
	if v, ok := raw[fieldConnectionID].(string); ok {
		e.ConnectionID = v
	}
	if v, ok := raw[fieldConversationID].(string); ok {
		e.ConversationID = v
	}
	delete(raw, fieldType)
	delete(raw, fieldConnectionID)
	delete(raw, fieldConversationID)
	if len(raw) > 0 {
		e.Data = raw
	}
	return nil
}

// encodeSSE frames an event as a single "data:" line terminated by a blank
// line. json.Marshal escapes newlines, so one data line is always enough.
func encodeSSE(e *Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}
