// Package auth resolves the session behind incoming requests for carlot-notify.
//
// Session issuance belongs to the marketplace application; this service only
// verifies what it is handed.
//
// # Sessions
//
// A Session carries the user ID and one Role:
//
//   - admin: may open the admin broadcast stream and any conversation stream
//   - user: may open their own stream and conversations they take part in
//   - service: backend collaborators allowed to publish events
//
// # Tokens
//
// Tokens are HS256 JWTs with "sub" and "role" claims, signed with the
// configured secret (at least MinSecretLength bytes). A request may carry its
// token in any of:
//
//   - Authorization: Bearer <token>
//   - the session_token cookie
//   - the token query parameter (for EventSource clients that cannot set headers)
//
// # HTTP Middleware
//
//	mux.Handle("/api/stream/admin",
//	    auth.RequireSession(resolver)(auth.RequireRole(auth.RoleAdmin)(handler)))
//
// RequireSession answers 401 when no valid session exists; RequireRole answers
// 403 when the session's role is not allowed.
package auth
