package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"go-realtime-delivery/internal/infrastructure/logger"
)

// Connection is the registry's record of one live connection.
type Connection struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Transport string    `json:"transport"`
	CreatedAt time.Time `json:"created_at"`

	sink Sink
}

// Sink returns the connection's output sink.
func (c Connection) Sink() Sink {
	return c.sink
}

// Registry maps users to their live connections and connections to sinks.
// It is the only shared mutable state of the delivery layer; every change
// to the user sets and the sink table happens under one lock, so readers
// never see an id in one table and not the other.
//
// The registry is process-local. Users connected to another instance are
// invisible to it.
type Registry struct {
	mu          sync.RWMutex
	users       map[string]map[string]struct{}
	connections map[string]*Connection

	running   bool
	runningMu sync.RWMutex

	clock   clock.Clock
	newID   func() string
	metrics *Collector
	logger  logger.Logger
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithClock sets the clock used for connection timestamps.
func WithClock(clk clock.Clock) RegistryOption {
	return func(r *Registry) { r.clock = clk }
}

// WithIDGenerator replaces uuid-based connection ids.
func WithIDGenerator(newID func() string) RegistryOption {
	return func(r *Registry) { r.newID = newID }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(c *Collector) RegistryOption {
	return func(r *Registry) { r.metrics = c }
}

// NewRegistry creates an empty registry. It must be started before the
// endpoints accept connections.
func NewRegistry(log logger.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		users:       make(map[string]map[string]struct{}),
		connections: make(map[string]*Connection),
		clock:       clock.WallClock,
		newID:       uuid.NewString,
		logger:      log.WithField("component", "registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start marks the registry as accepting connections.
func (r *Registry) Start(ctx context.Context) error {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()

	if r.running {
		return fmt.Errorf("registry is already running")
	}
	r.running = true

	r.logger.Info("Registry started")
	return nil
}

// Stop closes every registered sink and empties the registry. Each
// endpoint session then observes its closed sink and runs its own cleanup,
// which finds nothing left to deregister.
func (r *Registry) Stop(ctx context.Context) error {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()

	if !r.running {
		return nil
	}
	r.running = false

	r.mu.Lock()
	sinks := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		sinks = append(sinks, conn)
	}
	r.users = make(map[string]map[string]struct{})
	r.connections = make(map[string]*Connection)
	r.mu.Unlock()
	r.metrics.setRegistrySize(0, 0)

	for _, conn := range sinks {
		if err := conn.sink.Close(); err != nil {
			r.logger.Errorf("Failed to close connection %s: %v", conn.ID, err)
		}
	}

	r.logger.Infof("Registry stopped, closed %d connections", len(sinks))
	return nil
}

// IsRunning returns true if the registry is accepting connections
func (r *Registry) IsRunning() bool {
	r.runningMu.RLock()
	defer r.runningMu.RUnlock()
	return r.running
}

// ErrRegistryStopped is returned when a connection is admitted after Stop.
var ErrRegistryStopped = errors.New("registry is not running")

// Register stores sink under a fresh connection id and adds the id to the
// user's set. It never fails.
func (r *Registry) Register(userID string, sink Sink) string {
	conn := r.newConnection(userID, sink)
	r.insert(conn)
	return conn.ID
}

// newConnection assigns an id to sink without publishing it, so the owner
// can queue events before any delivery can reach the sink.
func (r *Registry) newConnection(userID string, sink Sink) *Connection {
	return &Connection{
		ID:        r.newID(),
		UserID:    userID,
		Transport: sink.Transport(),
		CreatedAt: r.clock.Now().UTC(),
		sink:      sink,
	}
}

// admit publishes conn unless the registry is stopped. The running check
// and the insert happen under the lock Stop holds, so every admitted sink
// is closed by a later Stop.
func (r *Registry) admit(conn *Connection) error {
	r.runningMu.RLock()
	defer r.runningMu.RUnlock()

	if !r.running {
		return ErrRegistryStopped
	}
	r.insert(conn)
	return nil
}

func (r *Registry) insert(conn *Connection) {
	r.mu.Lock()
	set, ok := r.users[conn.UserID]
	if !ok {
		set = make(map[string]struct{})
		r.users[conn.UserID] = set
	}
	set[conn.ID] = struct{}{}
	r.connections[conn.ID] = conn
	connections, users := len(r.connections), len(r.users)
	r.mu.Unlock()

	r.metrics.setRegistrySize(connections, users)
	r.logger.WithFields(logger.Fields{
		"connection_id": conn.ID,
		"user_id":       conn.UserID,
	}).Debugf("Connection registered (transport: %s)", conn.Transport)
}

// Deregister removes connectionID from the sink table and from the user's
// set, dropping the user entry once empty. Unknown ids, and ids owned by a
// different user, are ignored so cleanup can run more than once.
func (r *Registry) Deregister(userID, connectionID string) {
	r.mu.Lock()
	conn, ok := r.connections[connectionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if conn.UserID != userID {
		r.mu.Unlock()
		r.logger.Warnf(
			"Ignoring deregister of connection %s for user %s, owned by %s",
			connectionID, userID, conn.UserID,
		)
		return
	}
	delete(r.connections, connectionID)
	if set, ok := r.users[userID]; ok {
		delete(set, connectionID)
		if len(set) == 0 {
			delete(r.users, userID)
		}
	} else {
		r.logger.Errorf("Registry inconsistency: connection %s had no user set for %s", connectionID, userID)
	}
	connections, users := len(r.connections), len(r.users)
	r.mu.Unlock()

	r.metrics.setRegistrySize(connections, users)
	r.logger.WithFields(logger.Fields{
		"connection_id": connectionID,
		"user_id":       userID,
	}).Debug("Connection deregistered")
}

// ConnectionsFor returns a sorted snapshot of the user's connection ids.
func (r *Registry) ConnectionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.users[userID]))
	for id := range r.users[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SinkFor looks up the sink registered under connectionID.
func (r *Registry) SinkFor(connectionID string) (Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[connectionID]
	if !ok {
		return nil, false
	}
	return conn.sink, true
}

// Connection returns the record for connectionID.
func (r *Registry) Connection(connectionID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[connectionID]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// Connections returns all live connections, oldest first.
func (r *Registry) Connections() []Connection {
	r.mu.RLock()
	conns := make([]Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, *conn)
	}
	r.mu.RUnlock()

	sort.Slice(conns, func(i, j int) bool {
		if conns[i].CreatedAt.Equal(conns[j].CreatedAt) {
			return conns[i].ID < conns[j].ID
		}
		return conns[i].CreatedAt.Before(conns[j].CreatedAt)
	})
	return conns
}

// targetsFor snapshots the connections of every listed user in one read.
func (r *Registry) targetsFor(userIDs ...string) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var targets []Connection
	for _, userID := range userIDs {
		for id := range r.users[userID] {
			if conn, ok := r.connections[id]; ok {
				targets = append(targets, *conn)
			}
		}
	}
	return targets
}

// ConnectionCount returns the number of live connections
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// UserCount returns the number of users with at least one connection
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
