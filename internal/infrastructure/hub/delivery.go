package hub

import (
	"context"

	"golang.org/x/sync/errgroup"

	"go-realtime-delivery/internal/infrastructure/logger"
)

// Deliverer fans events out to live connections. Delivery is best effort
// and fire-and-forget: failures are logged and counted but never returned,
// and a failing sink never blocks the others. Cleaning up a failed
// connection is left to its session, which sees the sink close.
type Deliverer struct {
	registry    *Registry
	concurrency int
	metrics     *Collector
	logger      logger.Logger
}

// NewDeliverer creates a Deliverer over registry. concurrency caps the
// number of sinks written in parallel by one call.
func NewDeliverer(registry *Registry, concurrency int, metrics *Collector, log logger.Logger) *Deliverer {
	if concurrency <= 0 {
		concurrency = 16
	}
	return &Deliverer{
		registry:    registry,
		concurrency: concurrency,
		metrics:     metrics,
		logger:      log.WithField("component", "delivery"),
	}
}

// DeliverToUser sends event once to each of the user's connections. It
// returns after every send has been attempted, so two calls for the same
// user reach each connection in call order.
func (d *Deliverer) DeliverToUser(ctx context.Context, userID string, event *Event) {
	targets := d.registry.targetsFor(userID)
	if len(targets) == 0 {
		d.logger.Debugf("No live connections for user %s, dropping %q", userID, event.Type)
		return
	}
	d.deliver(ctx, targets, event)
}

// DeliverToConversation attaches conversationID to event and delivers it to
// every participant. Participants are not checked against membership, and a
// user listed twice is delivered to once.
func (d *Deliverer) DeliverToConversation(
	ctx context.Context,
	conversationID string,
	participants []string,
	event *Event,
) {
	addressed := event.WithConversation(conversationID)

	seen := make(map[string]struct{}, len(participants))
	users := make([]string, 0, len(participants))
	for _, userID := range participants {
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		users = append(users, userID)
	}

	targets := d.registry.targetsFor(users...)
	d.logger.Debugf(
		"Delivering %q for conversation %s to %d connections of %d participants",
		event.Type, conversationID, len(targets), len(users),
	)
	if len(targets) == 0 {
		return
	}
	d.deliver(ctx, targets, addressed)
}

func (d *Deliverer) deliver(ctx context.Context, targets []Connection, event *Event) {
	var eg errgroup.Group
	eg.SetLimit(d.concurrency)

	for _, target := range targets {
		eg.Go(func() error {
			if err := target.sink.Send(ctx, event); err != nil {
				d.metrics.sendFailed(err)
				d.logger.WithFields(logger.Fields{
					"connection_id": target.ID,
					"user_id":       target.UserID,
				}).Debugf("Failed to deliver %q: %v", event.Type, err)
				return nil
			}
			d.metrics.eventSent(event.Type)
			return nil
		})
	}
	_ = eg.Wait()
}
