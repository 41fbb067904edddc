package hub

import (
	"context"
	"sync"
)

// recordingSink is an in-memory Sink that records every send attempt.
type recordingSink struct {
	mu       sync.Mutex
	events   []*Event
	attempts int
	failWith error
	failFrom int // attempts at or after this index fail when failWith is set
	onSend   func(*Event)

	closeOnce sync.Once
	closed    chan struct{}
	closes    int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{closed: make(chan struct{})}
}

// failing returns a sink whose every send fails with err.
func failingSink(err error) *recordingSink {
	s := newRecordingSink()
	s.failWith = err
	return s
}

func (s *recordingSink) failAfter(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFrom = n
	s.failWith = err
}

// Send records event. onSend, when set, runs after the event is recorded
// and outside the lock.
func (s *recordingSink) Send(ctx context.Context, event *Event) error {
	s.mu.Lock()
	idx := s.attempts
	s.attempts++
	if s.failWith != nil && idx >= s.failFrom {
		s.mu.Unlock()
		return s.failWith
	}
	select {
	case <-s.closed:
		s.mu.Unlock()
		return ErrSinkClosed
	default:
	}
	s.events = append(s.events, event)
	hook := s.onSend
	s.mu.Unlock()

	if hook != nil {
		hook(event)
	}
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *recordingSink) Done() <-chan struct{} { return s.closed }
func (s *recordingSink) Transport() string     { return "test" }

func (s *recordingSink) received() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSink) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *recordingSink) typesReceived() []string {
	var types []string
	for _, e := range s.received() {
		types = append(types, e.Type)
	}
	return types
}

// checkInvariant asserts that user sets and the sink table agree.
func (r *Registry) checkInvariant() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var problems []string
	seen := make(map[string]string)
	for userID, set := range r.users {
		if len(set) == 0 {
			problems = append(problems, "empty set left for "+userID)
		}
		for id := range set {
			if owner, dup := seen[id]; dup {
				problems = append(problems, id+" in sets of "+owner+" and "+userID)
			}
			seen[id] = userID
			conn, ok := r.connections[id]
			if !ok || conn.sink == nil {
				problems = append(problems, id+" in set but not in sink table")
			} else if conn.UserID != userID {
				problems = append(problems, id+" owned by "+conn.UserID+" but listed under "+userID)
			}
		}
	}
	for id, conn := range r.connections {
		if _, ok := r.users[conn.UserID][id]; !ok {
			problems = append(problems, id+" in sink table but not in set")
		}
	}
	return problems
}
