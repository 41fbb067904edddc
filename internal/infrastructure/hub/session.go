package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"

	"go-realtime-delivery/internal/infrastructure/logger"
)

// SessionState is the lifecycle of one event stream connection.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateOpen
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionConfig holds the per-connection settings shared by all sessions.
type SessionConfig struct {
	HeartbeatInterval time.Duration
	Clock             clock.Clock
	Metrics           *Collector
}

// Session drives one authenticated connection from Connecting through Open
// to Closed. Close is the single cleanup path for network aborts, write
// failures, heartbeat failures and shutdown; it runs its steps exactly once
// no matter how many of those race.
type Session struct {
	registry *Registry
	userID   string
	sink     Sink
	cfg      SessionConfig
	logger   logger.Logger

	mu        sync.Mutex
	state     SessionState
	id        string
	heartbeat *Heartbeat

	closeOnce sync.Once
	closed    chan struct{}
}

// NewSession creates a session for an already authenticated user.
func NewSession(registry *Registry, userID string, sink Sink, cfg SessionConfig, log logger.Logger) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 25 * time.Second
	}
	return &Session{
		registry: registry,
		userID:   userID,
		sink:     sink,
		cfg:      cfg,
		logger:   log.WithField("user_id", userID),
		state:    StateConnecting,
		closed:   make(chan struct{}),
	}
}

// Open assigns a connection id, queues the connected event while the sink
// is still private, then publishes the connection and starts the heartbeat.
// No delivery can reach the sink ahead of the connected event. Open fails
// with ErrRegistryStopped once the registry has been stopped.
func (s *Session) Open(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return "", fmt.Errorf("session is %s", s.state)
	}
	conn := s.registry.newConnection(s.userID, s.sink)
	s.mu.Unlock()

	if err := s.sink.Send(ctx, ConnectedEvent(conn.ID)); err != nil {
		s.Close(fmt.Sprintf("connected event not accepted: %v", err))
		return "", fmt.Errorf("failed to send connected event: %w", err)
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return "", fmt.Errorf("session is %s", s.state)
	}
	if err := s.registry.admit(conn); err != nil {
		s.mu.Unlock()
		s.Close(err.Error())
		return "", err
	}
	s.id = conn.ID
	s.state = StateOpen
	s.logger = s.logger.WithField("connection_id", conn.ID)
	s.heartbeat = StartHeartbeat(
		s.cfg.Clock,
		s.cfg.HeartbeatInterval,
		s.sink,
		func(err error) { s.Close(err.Error()) },
		s.cfg.Metrics,
		s.logger,
	)
	s.mu.Unlock()

	s.cfg.Metrics.sessionOpened(s.sink.Transport())
	s.logger.Infof("Session open (transport: %s)", s.sink.Transport())
	return conn.ID, nil
}

// Close stops the heartbeat, deregisters the connection and closes the
// sink. Idempotent.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		prev := s.state
		s.state = StateClosed
		hb := s.heartbeat
		id := s.id
		log := s.logger
		s.mu.Unlock()

		if hb != nil {
			hb.Stop()
		}
		if prev != StateConnecting {
			s.registry.Deregister(s.userID, id)
		}
		_ = s.sink.Close()
		close(s.closed)

		log.Infof("Session closed: %s", reason)
	})
}

// Done is closed once Close has finished.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// ID returns the connection id, empty until Open succeeds.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EndpointConfig bundles what a transport endpoint needs to open sessions.
type EndpointConfig struct {
	Session SessionConfig
	Sink    SinkOptions
}
