// Package client implements the reconnecting consumer of the event stream:
// one live transport per agent, exponential backoff between attempts, and
// event handlers that outlive any single connection.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"go-realtime-delivery/internal/infrastructure/hub"
	"go-realtime-delivery/internal/infrastructure/logger"
)

// Status is the agent's view of its stream.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	// StatusFailed means the retry budget is spent. Only ForceReconnect
	// starts a new attempt.
	StatusFailed Status = "failed"
)

// Config configures an Agent.
type Config struct {
	Dialer Dialer
	// MinBackoff and MaxBackoff bound the delay between attempts.
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// Jitter randomizes each delay within its bounds.
	Jitter bool
	// MaxConsecutiveFailures is the number of failed attempts in a row
	// before the agent gives up. Zero retries forever.
	MaxConsecutiveFailures int
	Clock                  clock.Clock
	Logger                 logger.Logger
}

// Validate checks the config and fills in defaults.
func (c *Config) Validate() error {
	if c.Dialer == nil {
		return errors.New("missing dialer")
	}
	if c.MaxConsecutiveFailures < 0 {
		return errors.New("max consecutive failures cannot be negative")
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxBackoff < c.MinBackoff {
		return errors.New("max backoff is below min backoff")
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
	if c.Logger == nil {
		c.Logger = logger.NewNopLogger()
	}
	return nil
}

// Agent keeps one event stream open, reconnecting with backoff when it
// drops. Every connection gets a fresh identity on the server; nothing
// missed while disconnected is replayed.
type Agent struct {
	cfg      Config
	backoff  func(time.Duration, int) time.Duration
	handlers *HandlerRegistry
	logger   logger.Logger

	force chan struct{}

	mu            sync.Mutex
	status        Status
	connectionID  string
	failures      int
	cancelAttempt context.CancelFunc
	nextObserver  int
	observers     map[int]func(Status)
}

// New creates an agent. It does nothing until Run.
func New(cfg Config) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger.WithField("component", "stream-agent")
	return &Agent{
		cfg:       cfg,
		backoff:   retry.ExpBackoff(cfg.MinBackoff, cfg.MaxBackoff, 2, cfg.Jitter),
		handlers:  NewHandlerRegistry(log),
		logger:    log,
		force:     make(chan struct{}, 1),
		status:    StatusDisconnected,
		observers: make(map[int]func(Status)),
	}, nil
}

// Subscribe registers h for events of eventType.
func (a *Agent) Subscribe(eventType string, h Handler) Subscription {
	return a.handlers.Subscribe(eventType, h)
}

// Unsubscribe removes a subscription; it reports whether one was removed.
func (a *Agent) Unsubscribe(sub Subscription) bool {
	return a.handlers.Unsubscribe(sub)
}

// OnStatus registers fn for status changes and returns a function that
// removes it. fn runs on the agent goroutine.
func (a *Agent) OnStatus(fn func(Status)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextObserver++
	id := a.nextObserver
	a.observers[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.observers, id)
	}
}

func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Connected reports whether the server has confirmed the current stream.
func (a *Agent) Connected() bool {
	return a.Status() == StatusConnected
}

// ConnectionID is the id the server assigned to the current stream, or
// empty when not connected.
func (a *Agent) ConnectionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connectionID
}

// ConsecutiveFailures returns the number of failed attempts since the last
// confirmed connection.
func (a *Agent) ConsecutiveFailures() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failures
}

// ForceReconnect drops the current stream, if any, and reconnects at once,
// skipping any pending backoff and clearing the failure count.
func (a *Agent) ForceReconnect() {
	a.mu.Lock()
	a.failures = 0
	cancel := a.cancelAttempt
	a.mu.Unlock()

	select {
	case a.force <- struct{}{}:
	default:
	}
	if cancel != nil {
		cancel()
	}
}

// Run connects and keeps reconnecting until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	defer a.setStatus(StatusDisconnected)
	a.setStatus(StatusConnecting)

	for {
		established, err := a.attempt(ctx)
		if ctx.Err() != nil {
			return nil
		}

		a.mu.Lock()
		a.connectionID = ""
		if !established {
			a.failures++
		}
		failures := a.failures
		a.mu.Unlock()

		a.logger.Infof("Stream ended (failures: %d): %v", failures, err)

		if limit := a.cfg.MaxConsecutiveFailures; limit > 0 && failures >= limit {
			a.setStatus(StatusFailed)
			a.logger.Warnf("Giving up after %d consecutive failures", failures)
			select {
			case <-ctx.Done():
				return nil
			case <-a.force:
				a.setStatus(StatusReconnecting)
				continue
			}
		}

		a.setStatus(StatusReconnecting)
		if !a.wait(ctx, a.backoff(0, failures)) {
			return nil
		}
	}
}

// wait sleeps for delay unless ForceReconnect or ctx cuts it short. It
// returns false when ctx is done.
func (a *Agent) wait(ctx context.Context, delay time.Duration) bool {
	a.logger.Debugf("Reconnecting in %s", delay)
	timer := a.cfg.Clock.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	case <-a.force:
		return true
	}
}

var errMissingConnectionID = errors.New("connected event carries no connection id")

// attempt dials once and pumps events until the stream ends. established
// is true when the server confirmed the connection.
func (a *Agent) attempt(ctx context.Context) (established bool, err error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.mu.Lock()
	a.cancelAttempt = cancel
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.cancelAttempt = nil
		a.mu.Unlock()
	}()

	stream, err := a.cfg.Dialer.Dial(attemptCtx)
	if err != nil {
		return false, err
	}
	defer stream.Close()

	for {
		event, err := stream.Next()
		if err != nil {
			return established, err
		}

		if event.Type == string(hub.EventConnected) {
			// Only the first connected event on a stream is the handshake.
			if established {
				a.logger.Warnf("Ignoring repeated connected event (connection: %s)", a.ConnectionID())
				continue
			}
			if event.ConnectionID == "" {
				return false, errMissingConnectionID
			}
			established = true
			a.mu.Lock()
			a.connectionID = event.ConnectionID
			a.failures = 0
			a.mu.Unlock()
			a.setStatus(StatusConnected)
			a.logger.Infof("Stream connected (connection: %s)", event.ConnectionID)
		}

		a.handlers.dispatch(event)
	}
}

func (a *Agent) setStatus(s Status) {
	a.mu.Lock()
	if a.status == s {
		a.mu.Unlock()
		return
	}
	a.status = s
	observers := make([]func(Status), 0, len(a.observers))
	for _, fn := range a.observers {
		observers = append(observers, fn)
	}
	a.mu.Unlock()

	for _, fn := range observers {
		fn(s)
	}
}
