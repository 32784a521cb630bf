// ABOUTME: HTTP session resolution and role gates for stream and publish endpoints
// ABOUTME: Extracts a JWT from header, cookie, or query and adds the Session to context

package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// SessionCookieName is the cookie carrying the session token for browser clients.
const SessionCookieName = "session_token"

// Session lookup errors
var (
	ErrUnauthenticated = errors.New("not authenticated")
	ErrForbidden       = errors.New("forbidden")
)

// SessionResolver looks up the session behind an HTTP request.
// It returns ErrUnauthenticated (possibly wrapped) when no valid session exists.
type SessionResolver interface {
	Resolve(r *http.Request) (Session, error)
}

// TokenResolver resolves sessions from signed tokens.
type TokenResolver struct {
	verifier TokenVerifier
}

// NewTokenResolver creates a SessionResolver backed by verifier.
func NewTokenResolver(verifier TokenVerifier) *TokenResolver {
	return &TokenResolver{verifier: verifier}
}

// Resolve extracts the request token and verifies it.
func (t *TokenResolver) Resolve(r *http.Request) (Session, error) {
	token, errMsg := extractToken(r)
	if errMsg != "" {
		return Session{}, errors.Join(ErrUnauthenticated, errors.New(errMsg))
	}

	session, err := t.verifier.Verify(token)
	if err != nil {
		return Session{}, errors.Join(ErrUnauthenticated, err)
	}
	return session, nil
}

// extractToken finds the session token in the Authorization header, the session
// cookie, or the "token" query parameter, in that order. EventSource cannot set
// headers, so browsers fall back to the cookie or query parameter.
// Returns the token and an error message (empty if successful).
func extractToken(r *http.Request) (string, string) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		return extractBearerToken(authHeader)
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, ""
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, ""
	}
	return "", "missing session token"
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// RequireSession creates an HTTP middleware that resolves the session and adds it
// to the request context. Requests without a valid session get 401.
func RequireSession(resolver SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := resolver.Resolve(r)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}

// RequireRole creates an HTTP middleware that admits only sessions holding one of roles.
// Must be used after RequireSession.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := FromContext(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			if !session.HasRole(roles...) {
				writeJSONError(w, http.StatusForbidden, "insufficient role")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
