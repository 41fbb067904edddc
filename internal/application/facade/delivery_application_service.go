package facade

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"go-realtime-delivery/internal/infrastructure/hub"
	"go-realtime-delivery/internal/infrastructure/logger"
	"go-realtime-delivery/internal/port/inbound"
)

type DeliveryApplicationService struct {
	registry  *hub.Registry
	deliverer *hub.Deliverer
	validate  *validator.Validate
	logger    logger.Logger
}

var _ inbound.DeliveryUseCase = (*DeliveryApplicationService)(nil)

func NewDeliveryApplicationService(
	registry *hub.Registry,
	deliverer *hub.Deliverer,
	log logger.Logger,
) *DeliveryApplicationService {
	return &DeliveryApplicationService{
		registry:  registry,
		deliverer: deliverer,
		validate:  validator.New(),
		logger:    log.WithField("component", "delivery-service"),
	}
}

// SendUserEvent validates cmd and delivers it. The caller going away does
// not cut the fan-out short.
func (s *DeliveryApplicationService) SendUserEvent(ctx context.Context, cmd inbound.SendUserEventCommand) error {
	if err := s.validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: %v", inbound.ErrInvalidCommand, err)
	}
	event := hub.NewEvent(cmd.Type, cmd.Data)
	if err := event.Validate(); err != nil {
		return fmt.Errorf("%w: %v", inbound.ErrInvalidCommand, err)
	}

	s.deliverer.DeliverToUser(context.WithoutCancel(ctx), cmd.UserID, event)
	return nil
}

func (s *DeliveryApplicationService) SendConversationMessage(
	ctx context.Context,
	cmd inbound.SendConversationMessageCommand,
) error {
	if err := s.validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: %v", inbound.ErrInvalidCommand, err)
	}
	event := hub.NewEvent(string(hub.EventNewMessage), cmd.Data)
	if err := event.Validate(); err != nil {
		return fmt.Errorf("%w: %v", inbound.ErrInvalidCommand, err)
	}

	s.deliverer.DeliverToConversation(context.WithoutCancel(ctx), cmd.ConversationID, cmd.Participants, event)
	return nil
}

func (s *DeliveryApplicationService) ListConnections(context.Context) []inbound.ConnectionView {
	conns := s.registry.Connections()
	views := make([]inbound.ConnectionView, len(conns))
	for i, conn := range conns {
		views[i] = inbound.ConnectionView{
			ID:        conn.ID,
			UserID:    conn.UserID,
			Transport: conn.Transport,
			CreatedAt: conn.CreatedAt,
		}
	}
	return views
}
