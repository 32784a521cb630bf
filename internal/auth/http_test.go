// ABOUTME: Tests for HTTP session resolution and role middleware
// ABOUTME: Covers header, cookie, and query tokens plus 401/403 responses

package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenFor(t *testing.T, v *JWTVerifier, s Session) string {
	t.Helper()
	token, err := v.Generate(s, time.Hour)
	require.NoError(t, err)
	return token
}

func TestTokenResolver_Sources(t *testing.T) {
	verifier := newTestVerifier(t)
	resolver := NewTokenResolver(verifier)
	want := Session{UserID: "user-7", Role: RoleUser}
	token := tokenFor(t, verifier, want)

	tests := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token}) }},
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=" + token }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/stream/me", nil)
			tt.setup(req)

			got, err := resolver.Resolve(req)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestTokenResolver_Failures(t *testing.T) {
	resolver := NewTokenResolver(newTestVerifier(t))

	tests := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{"no token", func(r *http.Request) {}},
		{"basic auth header", func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }},
		{"empty bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer ") }},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)

			_, err := resolver.Resolve(req)
			assert.True(t, errors.Is(err, ErrUnauthenticated), "got %v", err)
		})
	}
}

func TestRequireSession_AddsSessionToContext(t *testing.T) {
	verifier := newTestVerifier(t)
	token := tokenFor(t, verifier, Session{UserID: "admin-1", Role: RoleAdmin})

	var got Session
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = MustFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	RequireSession(NewTokenResolver(verifier))(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin-1", got.UserID)
	assert.True(t, got.IsAdmin())
}

func TestRequireSession_Unauthenticated(t *testing.T) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	RequireSession(NewTokenResolver(newTestVerifier(t)))(handler).ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "not authenticated"))
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	gate := RequireRole(RoleAdmin, RoleService)(ok)

	tests := []struct {
		name       string
		session    *Session
		wantStatus int
	}{
		{"admin", &Session{UserID: "a", Role: RoleAdmin}, http.StatusOK},
		{"service", &Session{UserID: "s", Role: RoleService}, http.StatusOK},
		{"user", &Session{UserID: "u", Role: RoleUser}, http.StatusForbidden},
		{"no session", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.session != nil {
				req = req.WithContext(WithSession(req.Context(), *tt.session))
			}
			rec := httptest.NewRecorder()

			gate.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, ok := FromContext(req.Context())
	assert.False(t, ok)
	assert.Panics(t, func() { MustFromContext(req.Context()) })
}
