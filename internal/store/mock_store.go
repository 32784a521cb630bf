// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject query failures

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	events   map[string]*Event          // keyed by event ID
	members  map[string]map[string]bool // keyed by vehicleID -> userID
	queryErr error
	pingErr  error
	queries  int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		events:  make(map[string]*Event),
		members: make(map[string]map[string]bool),
	}
}

// SetQueryError makes subsequent QueryEvents calls fail with err until cleared with nil.
func (m *MockStore) SetQueryError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryErr = err
}

// SetPingError makes subsequent Ping calls fail with err until cleared with nil.
func (m *MockStore) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// QueryCount returns how many times QueryEvents was called.
func (m *MockStore) QueryCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queries
}

// SaveEvent stores a notification event.
func (m *MockStore) SaveEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return errors.New("event is nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.events[event.ID]; exists {
		return ErrDuplicateEvent
	}

	m.events[event.ID] = copyEvent(event)
	return nil
}

// GetEvent retrieves an event by ID.
func (m *MockStore) GetEvent(ctx context.Context, id string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEvent(e), nil
}

// QueryEvents returns events for audience strictly after since, oldest first.
func (m *MockStore) QueryEvents(ctx context.Context, audience string, since time.Time, limit int) ([]*Event, error) {
	m.mu.Lock()
	m.queries++
	queryErr := m.queryErr
	m.mu.Unlock()

	if queryErr != nil {
		return nil, queryErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Event
	for _, e := range m.events {
		if e.Audience != audience {
			continue
		}
		if !since.IsZero() && !e.OccurredAt.After(since) {
			continue
		}
		result = append(result, copyEvent(e))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].OccurredAt.Equal(result[j].OccurredAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].OccurredAt.Before(result[j].OccurredAt)
	})

	limit = clampLimit(limit)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// AddConversationMember records membership of userID in vehicleID's conversation.
func (m *MockStore) AddConversationMember(ctx context.Context, vehicleID, userID string) error {
	if vehicleID == "" || userID == "" {
		return errors.New("vehicle id and user id are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	users, ok := m.members[vehicleID]
	if !ok {
		users = make(map[string]bool)
		m.members[vehicleID] = users
	}
	users[userID] = true
	return nil
}

// IsConversationMember reports whether userID is a member of vehicleID's conversation.
func (m *MockStore) IsConversationMember(ctx context.Context, vehicleID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.members[vehicleID][userID], nil
}

// Ping returns the injected ping error, if any.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingErr
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// copyEvent returns a deep copy so callers cannot mutate stored state
func copyEvent(e *Event) *Event {
	c := *e
	if e.Payload != nil {
		c.Payload = append([]byte(nil), e.Payload...)
	}
	return &c
}

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)
