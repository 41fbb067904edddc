package hub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"

	"go-realtime-delivery/internal/infrastructure/logger"
)

// Heartbeat periodically sends a heartbeat event through one connection's
// sink. The first failed send stops the timer for good and reports the
// error to onFailure; nothing is retried.
type Heartbeat struct {
	clock     clock.Clock
	interval  time.Duration
	sink      Sink
	onFailure func(error)
	metrics   *Collector
	logger    logger.Logger

	sent     atomic.Int64
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// StartHeartbeat starts the heartbeat loop for sink. onFailure runs on the
// heartbeat goroutine after the loop has exited, so it may call Stop.
func StartHeartbeat(
	clk clock.Clock,
	interval time.Duration,
	sink Sink,
	onFailure func(error),
	metrics *Collector,
	log logger.Logger,
) *Heartbeat {
	h := &Heartbeat{
		clock:     clk,
		interval:  interval,
		sink:      sink,
		onFailure: onFailure,
		metrics:   metrics,
		logger:    log,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

// Stop cancels the timer and waits for the loop to exit. Safe to call more
// than once and from onFailure.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

// Done is closed once the loop has exited.
func (h *Heartbeat) Done() <-chan struct{} {
	return h.done
}

// Sent returns the number of heartbeats the sink accepted.
func (h *Heartbeat) Sent() int64 {
	return h.sent.Load()
}

func (h *Heartbeat) run() {
	err := h.loop()
	close(h.done)
	if err != nil {
		h.metrics.heartbeatFailed()
		h.logger.Infof("Heartbeat stopped: %v", err)
		if h.onFailure != nil {
			h.onFailure(err)
		}
	}
}

func (h *Heartbeat) loop() error {
	timer := h.clock.NewTimer(h.interval)
	defer timer.Stop()

	for {
		select {
		case <-h.stop:
			return nil
		case <-timer.Chan():
			if err := h.beat(); err != nil {
				select {
				case <-h.stop:
					// Send was cut short by Stop, not by the peer.
					return nil
				default:
				}
				return fmt.Errorf("heartbeat send failed: %w", err)
			}
			timer.Reset(h.interval)
		}
	}
}

func (h *Heartbeat) beat() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-h.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := h.sink.Send(ctx, HeartbeatEvent()); err != nil {
		return err
	}
	h.sent.Add(1)
	h.metrics.eventSent(string(EventHeartbeat))
	return nil
}
