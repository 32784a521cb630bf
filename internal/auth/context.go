// ABOUTME: Session identity for tracking who opened a request through handlers
// ABOUTME: Provides WithSession/FromContext for propagating the session via context

package auth

import (
	"context"
)

// Role is the coarse permission class carried by a session.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleUser    Role = "user"
	RoleService Role = "service" // backend collaborators that publish events
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleService:
		return true
	default:
		return false
	}
}

// Session is the authenticated identity behind a request.
// It is produced by a SessionResolver and never issued by this service.
type Session struct {
	UserID string
	Role   Role
}

// IsAdmin returns true if the session belongs to an admin.
func (s Session) IsAdmin() bool {
	return s.Role == RoleAdmin
}

// HasRole returns true if the session's role is any of roles.
func (s Session) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if s.Role == r {
			return true
		}
	}
	return false
}

// sessionContextKey is the key type for storing Session in context.Context.
type sessionContextKey struct{}

// WithSession returns a new context with the Session attached.
func WithSession(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

// FromContext retrieves the Session from the context.
// The boolean is false if no session is present.
func FromContext(ctx context.Context) (Session, bool) {
	session, ok := ctx.Value(sessionContextKey{}).(Session)
	return session, ok
}

// MustFromContext retrieves the Session from the context, panicking if not present.
func MustFromContext(ctx context.Context) Session {
	session, ok := FromContext(ctx)
	if !ok {
		panic("auth: Session not found in context")
	}
	return session
}
