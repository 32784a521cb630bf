// ABOUTME: Store interface and data types for carlot-notify persistence
// ABOUTME: Defines the notification Event record and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateEvent is returned when an event with the same ID was already saved
var ErrDuplicateEvent = errors.New("event already exists")

// EventKind identifies the domain event an Event record carries.
// Only persisted kinds are listed here; connection-level kinds never reach the store.
type EventKind string

const (
	KindNewMessage               EventKind = "NEW_MESSAGE"
	KindNewReservation           EventKind = "NEW_RESERVATION"
	KindReservationStatusChanged EventKind = "RESERVATION_STATUS_CHANGED"
)

// IsPersisted reports whether events of this kind are stored for polling catch-up.
func (k EventKind) IsPersisted() bool {
	switch k {
	case KindNewMessage, KindNewReservation, KindReservationStatusChanged:
		return true
	default:
		return false
	}
}

// Event is a stored notification, addressed to one audience.
type Event struct {
	ID         string
	Audience   string // e.g. "admin-broadcast", "conversation:{vehicleId}", "user:{userId}"
	Kind       EventKind
	Payload    []byte // JSON document, kind-specific
	OccurredAt time.Time
}

// Store defines the interface for notification event persistence.
type Store interface {
	// Events
	SaveEvent(ctx context.Context, event *Event) error
	GetEvent(ctx context.Context, id string) (*Event, error)
	// QueryEvents returns events for audience with OccurredAt strictly after since,
	// ordered by OccurredAt ascending. A zero since returns the oldest events.
	QueryEvents(ctx context.Context, audience string, since time.Time, limit int) ([]*Event, error)

	// Conversation membership (who may subscribe to a vehicle's chat)
	AddConversationMember(ctx context.Context, vehicleID, userID string) error
	IsConversationMember(ctx context.Context, vehicleID, userID string) (bool, error)

	// Ping reports whether the backing database is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

// clampLimit applies the default and upper bound used by all event listings.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 500 {
		return 500
	}
	return limit
}
