// ABOUTME: Audience tags that route events to groups of push channels
// ABOUTME: Parses and builds admin-broadcast, conversation, and per-user audiences

package notify

import (
	"errors"
	"fmt"
	"strings"
)

// Audience names the group of channels an event is routed to.
type Audience string

// AdminBroadcast reaches every admin session on the admin stream.
const AdminBroadcast Audience = "admin-broadcast"

const (
	conversationPrefix = "conversation:"
	userPrefix         = "user:"
)

// ErrInvalidAudience is returned for audience strings that match no known form.
var ErrInvalidAudience = errors.New("invalid audience")

// Conversation returns the audience for the chat about vehicleID.
func Conversation(vehicleID string) Audience {
	return Audience(conversationPrefix + vehicleID)
}

// User returns the personal audience of userID.
func User(userID string) Audience {
	return Audience(userPrefix + userID)
}

// ParseAudience validates s and returns it as an Audience.
func ParseAudience(s string) (Audience, error) {
	a := Audience(s)
	if err := a.Validate(); err != nil {
		return "", err
	}
	return a, nil
}

// Validate checks that a has one of the known forms with a non-empty id.
func (a Audience) Validate() error {
	s := string(a)
	switch {
	case a == AdminBroadcast:
		return nil
	case strings.HasPrefix(s, conversationPrefix):
		if id := strings.TrimPrefix(s, conversationPrefix); id == "" || strings.ContainsAny(id, " \r\n") {
			return fmt.Errorf("%w: %q", ErrInvalidAudience, s)
		}
		return nil
	case strings.HasPrefix(s, userPrefix):
		if id := strings.TrimPrefix(s, userPrefix); id == "" || strings.ContainsAny(id, " \r\n") {
			return fmt.Errorf("%w: %q", ErrInvalidAudience, s)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAudience, s)
	}
}

// VehicleID returns the vehicle of a conversation audience.
func (a Audience) VehicleID() (string, bool) {
	id, ok := strings.CutPrefix(string(a), conversationPrefix)
	return id, ok && id != ""
}

// UserID returns the user of a personal audience.
func (a Audience) UserID() (string, bool) {
	id, ok := strings.CutPrefix(string(a), userPrefix)
	return id, ok && id != ""
}
