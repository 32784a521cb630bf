// ABOUTME: Conversation membership records for vehicle chat threads
// ABOUTME: Tracks which users took part in a vehicle's conversation so they may subscribe to it

package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AddConversationMember records that userID participates in the conversation for vehicleID.
// Adding an existing member is a no-op.
func (s *SQLiteStore) AddConversationMember(ctx context.Context, vehicleID, userID string) error {
	if vehicleID == "" || userID == "" {
		return errors.New("vehicle id and user id are required")
	}

	query := `
		INSERT INTO conversation_members (vehicle_id, user_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (vehicle_id, user_id) DO NOTHING
	`

	if _, err := s.db.ExecContext(ctx, query, vehicleID, userID, time.Now().UTC().UnixNano()); err != nil {
		return fmt.Errorf("inserting conversation member: %w", err)
	}

	s.logger.Debug("added conversation member", "vehicle_id", vehicleID, "user_id", userID)
	return nil
}

// IsConversationMember reports whether userID participates in the conversation for vehicleID.
func (s *SQLiteStore) IsConversationMember(ctx context.Context, vehicleID, userID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM conversation_members
			WHERE vehicle_id = ? AND user_id = ?
		)
	`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, vehicleID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("querying conversation member: %w", err)
	}
	return exists, nil
}
