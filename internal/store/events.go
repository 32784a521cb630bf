// ABOUTME: Notification event persistence for polling catch-up
// ABOUTME: Stores events with nanosecond timestamps and serves ascending since-watermark queries

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SaveEvent persists a notification event to the database.
// OccurredAt is stored as unix nanoseconds so that watermark comparisons never tie
// on sub-second ordering.
func (s *SQLiteStore) SaveEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return errors.New("event is nil")
	}
	if !event.Kind.IsPersisted() {
		return fmt.Errorf("event kind %q is not persisted", event.Kind)
	}

	query := `
		INSERT INTO notification_events (event_id, audience, kind, payload_json, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Audience,
		string(event.Kind),
		string(event.Payload),
		event.OccurredAt.UnixNano(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("inserting event: %w", err)
	}

	s.logger.Debug("saved notification event",
		"event_id", event.ID,
		"audience", event.Audience,
		"kind", event.Kind,
	)
	return nil
}

// GetEvent retrieves a single event by ID
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*Event, error) {
	query := `
		SELECT event_id, audience, kind, payload_json, occurred_at
		FROM notification_events
		WHERE event_id = ?
	`

	event, err := scanEvent(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return event, nil
}

// QueryEvents retrieves events for an audience that occurred strictly after since,
// ordered by occurrence ascending. Ties on occurred_at are broken by event_id.
func (s *SQLiteStore) QueryEvents(ctx context.Context, audience string, since time.Time, limit int) ([]*Event, error) {
	limit = clampLimit(limit)

	// A zero watermark means "from the beginning"; UnixNano on the zero Time is undefined
	sinceNanos := int64(-1)
	if !since.IsZero() {
		sinceNanos = since.UnixNano()
	}

	query := `
		SELECT event_id, audience, kind, payload_json, occurred_at
		FROM notification_events
		WHERE audience = ? AND occurred_at > ?
		ORDER BY occurred_at ASC, event_id ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, audience, sinceNanos, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}

	return events, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	event := &Event{}
	var kind, payload string
	var occurredAt int64

	if err := row.Scan(&event.ID, &event.Audience, &kind, &payload, &occurredAt); err != nil {
		return nil, err
	}

	event.Kind = EventKind(kind)
	event.Payload = []byte(payload)
	event.OccurredAt = time.Unix(0, occurredAt).UTC()
	return event, nil
}

// isUniqueConstraintError checks if an error is a unique constraint violation.
// Both sqlite drivers surface it through the message text.
func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed: UNIQUE"))
}
