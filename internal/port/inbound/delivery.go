package inbound

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidCommand wraps validation failures of inbound commands.
var ErrInvalidCommand = errors.New("invalid command")

// SendUserEventCommand pushes one event to every connection of a user.
type SendUserEventCommand struct {
	UserID string         `validate:"required,max=128"`
	Type   string         `validate:"required,max=64"`
	Data   map[string]any `validate:"-"`
}

// SendConversationMessageCommand announces a new chat message to the
// participants of a conversation.
type SendConversationMessageCommand struct {
	ConversationID string         `validate:"required,max=128"`
	Participants   []string       `validate:"required,min=1,max=1000,dive,required,max=128"`
	Data           map[string]any `validate:"-"`
}

// ConnectionView describes one live connection.
type ConnectionView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Transport string    `json:"transport"`
	CreatedAt time.Time `json:"createdAt"`
}

// DeliveryUseCase is the entry point other domains use to push events.
// Delivery outcome is never reported: a nil error only means the command
// was accepted.
type DeliveryUseCase interface {
	SendUserEvent(ctx context.Context, cmd SendUserEventCommand) error
	SendConversationMessage(ctx context.Context, cmd SendConversationMessageCommand) error
	ListConnections(ctx context.Context) []ConnectionView
}
