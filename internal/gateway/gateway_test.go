// ABOUTME: Tests for the Gateway orchestrator, stream endpoints, and publishing
// ABOUTME: Drives the real HTTP handlers with an in-memory SQLite store and JWT sessions

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/carlot-notify/internal/auth"
	"github.com/2389/carlot-notify/internal/config"
	"github.com/2389/carlot-notify/internal/notify"
	"github.com/2389/carlot-notify/internal/sse"
	"github.com/2389/carlot-notify/internal/store"
)

const (
	testSecret  = "gateway-test-secret-0123456789abcdef"
	frameWait   = 2 * time.Second
	adminUserID = "admin-1"
)

// testConfig creates a minimal config for testing with an available port.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available HTTP port: %v", err)
	}
	httpAddr := ln.Addr().String()
	ln.Close()

	cfg := config.Default()
	cfg.Server.HTTPAddr = httpAddr
	cfg.Database.Path = ":memory:"
	cfg.Auth.JWTSecret = testSecret
	cfg.Stream.PollInterval = 20 * time.Millisecond
	return cfg
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv is a gateway served by an httptest server.
type testEnv struct {
	gw     *Gateway
	server *httptest.Server
	tokens *auth.JWTVerifier
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)

	server := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		_ = gw.Shutdown(context.Background())
		server.Close()
	})

	tokens, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	require.NoError(t, err)

	return &testEnv{gw: gw, server: server, tokens: tokens}
}

func (e *testEnv) token(t *testing.T, userID string, role auth.Role) string {
	t.Helper()
	tok, err := e.tokens.Generate(auth.Session{UserID: userID, Role: role}, time.Hour)
	require.NoError(t, err)
	return tok
}

// get issues a GET with an optional bearer token and extra headers.
func (e *testEnv) get(t *testing.T, path, token string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.server.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) publish(t *testing.T, token string, body any) *http.Response {
	t.Helper()
	return e.publishWithHeaders(t, token, body, nil)
}

func (e *testEnv) publishWithHeaders(t *testing.T, token string, body any, headers map[string]string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/api/events", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// readFrames parses resp's event stream in the background.
func readFrames(resp *http.Response) <-chan sse.Frame {
	frames := make(chan sse.Frame, 64)
	go func() {
		defer close(frames)
		reader := sse.NewReader(resp.Body)
		for {
			f, err := reader.Next()
			if err != nil {
				return
			}
			frames <- f
		}
	}()
	return frames
}

// nextFrame returns the next frame named event, skipping others.
func nextFrame(t *testing.T, frames <-chan sse.Frame, event string) sse.Frame {
	t.Helper()
	deadline := time.After(frameWait)
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				t.Fatalf("stream ended while waiting for %q", event)
			}
			if f.Event == event {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", event)
		}
	}
}

func decodeEnvelope(t *testing.T, f sse.Frame) notify.Envelope {
	t.Helper()
	var env notify.Envelope
	require.NoError(t, json.Unmarshal(f.Data, &env))
	return env
}

func errorBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body["error"]
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if gw.config != cfg {
		t.Error("gateway config mismatch")
	}
	if gw.Registry() == nil || gw.Publisher() == nil {
		t.Error("registry and publisher should be set")
	}
}

func TestGatewayNew_WeakSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = "short"

	_, err := New(cfg, testLogger())
	assert.ErrorIs(t, err, auth.ErrWeakSecret)
}

func TestInitStore_EnvOverride(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Path = "/nonexistent/dir/never-used.db"
	t.Setenv("CARLOT_DB_PATH", ":memory:")

	s, err := initStore(cfg)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

func TestGatewayRunAndShutdown(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, frameWait, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, testConfig(t))

	resp := env.get(t, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "OK", string(body))
}

func TestReadyEndpoint(t *testing.T) {
	env := newTestEnv(t, testConfig(t))

	resp := env.get(t, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ready (0 channels)", string(body))
}

func TestReadyEndpoint_StoreDown(t *testing.T) {
	cfg := testConfig(t)
	mock := store.NewMockStore()
	mock.SetPingError(errors.New("disk gone"))
	gw := newGateway(cfg, mock, auth.NewTokenResolver(nil), testLogger())

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStream_Unauthenticated(t *testing.T) {
	env := newTestEnv(t, testConfig(t))

	for _, path := range []string{"/api/stream/admin", "/api/stream/me", "/api/stream/conversations/v1"} {
		resp := env.get(t, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}

	resp := env.get(t, "/api/stream/me", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, env.gw.registry.Len())
}

func TestAdminStream_ForbiddenForUser(t *testing.T) {
	env := newTestEnv(t, testConfig(t))

	resp := env.get(t, "/api/stream/admin", env.token(t, "u1", auth.RoleUser), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, env.gw.registry.Len())
}

func TestAdminStream_Handshake(t *testing.T) {
	env := newTestEnv(t, testConfig(t))

	resp := env.get(t, "/api/stream/admin", env.token(t, adminUserID, auth.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sse.ContentType, resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	frames := readFrames(resp)
	connected := nextFrame(t, frames, sse.EventConnected)

	var data map[string]any
	require.NoError(t, json.Unmarshal(connected.Data, &data))
	assert.Equal(t, string(notify.AdminBroadcast), data["audience"])
	assert.NotEmpty(t, data["channelId"])
	assert.Equal(t, 1, env.gw.registry.Len())
}

func TestConversationStream_Membership(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	ctx := context.Background()

	outsider := env.get(t, "/api/stream/conversations/v1", env.token(t, "u9", auth.RoleUser), nil)
	assert.Equal(t, http.StatusForbidden, outsider.StatusCode)
	assert.Equal(t, "not a member of this conversation", errorBody(t, outsider))

	require.NoError(t, env.gw.store.AddConversationMember(ctx, "v1", "u1"))

	member := env.get(t, "/api/stream/conversations/v1", env.token(t, "u1", auth.RoleUser), nil)
	require.Equal(t, http.StatusOK, member.StatusCode)
	nextFrame(t, readFrames(member), sse.EventConnected)

	admin := env.get(t, "/api/stream/conversations/v1", env.token(t, adminUserID, auth.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, admin.StatusCode)
	nextFrame(t, readFrames(admin), sse.EventConnected)
}

func TestStream_InvalidLastEventID(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	tok := env.token(t, "u1", auth.RoleUser)

	resp := env.get(t, "/api/stream/me", tok, map[string]string{"Last-Event-ID": "yesterday"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.get(t, "/api/stream/me?lastEventId=nope", tok, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, env.gw.registry.Len())
}

func TestStream_RegistryFull(t *testing.T) {
	cfg := testConfig(t)
	cfg.Stream.MaxChannels = 1
	env := newTestEnv(t, cfg)
	tok := env.token(t, "u1", auth.RoleUser)

	first := env.get(t, "/api/stream/me", tok, nil)
	require.Equal(t, http.StatusOK, first.StatusCode)
	nextFrame(t, readFrames(first), sse.EventConnected)

	second := env.get(t, "/api/stream/me", tok, nil)
	assert.Equal(t, http.StatusServiceUnavailable, second.StatusCode)
	assert.Equal(t, 1, env.gw.registry.Len())
}

func TestStream_ClientDisconnectUnregisters(t *testing.T) {
	env := newTestEnv(t, testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/api/stream/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+env.token(t, "u1", auth.RoleUser))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	nextFrame(t, readFrames(resp), sse.EventConnected)
	require.Equal(t, 1, env.gw.registry.Len())

	cancel()
	require.Eventually(t, func() bool { return env.gw.registry.Len() == 0 }, frameWait, 10*time.Millisecond)
}

func TestPublish_ReservationReachesAdminStream(t *testing.T) {
	env := newTestEnv(t, testConfig(t))

	adminResp := env.get(t, "/api/stream/admin", env.token(t, adminUserID, auth.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, adminResp.StatusCode)
	adminFrames := readFrames(adminResp)
	nextFrame(t, adminFrames, sse.EventConnected)

	userResp := env.get(t, "/api/stream/me", env.token(t, "u1", auth.RoleUser), nil)
	require.Equal(t, http.StatusOK, userResp.StatusCode)
	userFrames := readFrames(userResp)
	nextFrame(t, userFrames, sse.EventConnected)

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	resp := env.publish(t, env.token(t, "billing", auth.RoleService), map[string]any{
		"type": "NEW_RESERVATION",
		"payload": notify.Reservation{
			ID:         "r1",
			Vehicle:    notify.VehicleRef{ID: "v1", Brand: "Volvo", Model: "XC40"},
			Customer:   notify.CustomerRef{ID: "u1", Name: "Dana"},
			StartDate:  start,
			EndDate:    start.Add(72 * time.Hour),
			TotalPrice: 240,
			Status:     notify.ReservationPending,
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var published PublishResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&published))
	require.Len(t, published.Events, 1)
	assert.Equal(t, notify.AdminBroadcast, published.Events[0].Audience)
	assert.Equal(t, 1, published.Events[0].Delivered)

	msg := nextFrame(t, adminFrames, sse.EventMessage)
	env0 := decodeEnvelope(t, msg)
	assert.Equal(t, notify.KindNewReservation, env0.Type)
	assert.Equal(t, published.Events[0].ID, env0.ID)
	assert.Equal(t, published.Events[0].OccurredAt, msg.ID)

	var res notify.Reservation
	require.NoError(t, json.Unmarshal(env0.Data, &res))
	assert.Equal(t, "r1", res.ID)
	assert.Equal(t, "v1", res.Vehicle.ID)

	// The customer's own stream only hears about status changes
	select {
	case f := <-userFrames:
		assert.NotEqual(t, sse.EventMessage, f.Event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublish_ChatMessageGrantsMembership(t *testing.T) {
	env := newTestEnv(t, testConfig(t))

	resp := env.publish(t, env.token(t, adminUserID, auth.RoleAdmin), map[string]any{
		"type": "NEW_MESSAGE",
		"payload": notify.ChatMessage{
			ID:          "m1",
			VehicleID:   "v7",
			SenderID:    adminUserID,
			SenderRole:  "admin",
			RecipientID: "u3",
			Content:     "Your car is ready",
			CreatedAt:   time.Now().UTC(),
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var published PublishResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&published))
	require.Len(t, published.Events, 2)
	assert.Equal(t, notify.Conversation("v7"), published.Events[0].Audience)
	assert.Equal(t, notify.AdminBroadcast, published.Events[1].Audience)

	// The recipient may now open the conversation and catch up on the message
	stream := env.get(t, "/api/stream/conversations/v7", env.token(t, "u3", auth.RoleUser),
		map[string]string{"Last-Event-ID": notify.FormatWatermark(time.Unix(0, 0))})
	require.Equal(t, http.StatusOK, stream.StatusCode)

	msg := nextFrame(t, readFrames(stream), sse.EventMessage)
	assert.Equal(t, notify.KindNewMessage, decodeEnvelope(t, msg).Type)
}

func TestPublish_Rejections(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	service := env.token(t, "billing", auth.RoleService)

	tests := []struct {
		name       string
		token      string
		body       any
		wantStatus int
		wantError  string
	}{
		{
			name:       "user role",
			token:      env.token(t, "u1", auth.RoleUser),
			body:       map[string]any{"type": "NEW_RESERVATION", "payload": map[string]any{}},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "unknown type",
			token:      service,
			body:       map[string]any{"type": "PING", "payload": map[string]any{}},
			wantStatus: http.StatusBadRequest,
			wantError:  "PublishRequest.Type",
		},
		{
			name:       "missing payload",
			token:      service,
			body:       map[string]any{"type": "NEW_RESERVATION"},
			wantStatus: http.StatusBadRequest,
			wantError:  "PublishRequest.Payload",
		},
		{
			name:  "invalid status",
			token: service,
			body: map[string]any{"type": "RESERVATION_STATUS_CHANGED", "payload": map[string]any{
				"id": "r1", "vehicleId": "v1", "customerId": "u1", "status": "LOST",
			}},
			wantStatus: http.StatusBadRequest,
			wantError:  "ReservationStatusChange.Status",
		},
		{
			name:  "reservation without vehicle",
			token: service,
			body: map[string]any{"type": "NEW_RESERVATION", "payload": map[string]any{
				"id": "r1", "customer": map[string]any{"id": "u1"},
			}},
			wantStatus: http.StatusBadRequest,
			wantError:  "Reservation.Vehicle.ID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.publish(t, tt.token, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantError != "" {
				assert.Contains(t, errorBody(t, resp), tt.wantError)
			}
		})
	}
}

func TestPublish_IdempotencyKeyMakesRetriesSafe(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	token := env.token(t, "billing", auth.RoleService)
	body := map[string]any{
		"type": "RESERVATION_STATUS_CHANGED",
		"payload": notify.ReservationStatusChange{
			ID:         "r9",
			VehicleID:  "v1",
			CustomerID: "u9",
			Status:     notify.ReservationConfirmed,
		},
	}
	headers := map[string]string{"Idempotency-Key": "status-r9-confirmed"}

	decode := func(resp *http.Response) PublishResponse {
		t.Helper()
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var out PublishResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	first := decode(env.publishWithHeaders(t, token, body, headers))
	retry := decode(env.publishWithHeaders(t, token, body, headers))

	require.Len(t, first.Events, 2)
	require.Len(t, retry.Events, 2)
	for i := range first.Events {
		assert.False(t, first.Events[i].Duplicate)
		assert.True(t, retry.Events[i].Duplicate)
		assert.Equal(t, first.Events[i].ID, retry.Events[i].ID)
		assert.Equal(t, first.Events[i].OccurredAt, retry.Events[i].OccurredAt)
	}

	stored, err := env.gw.store.QueryEvents(context.Background(), string(notify.User("u9")), time.Unix(0, 0), 10)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestPublish_IdempotencyKeyTooLong(t *testing.T) {
	env := newTestEnv(t, testConfig(t))

	resp := env.publishWithHeaders(t, env.token(t, "billing", auth.RoleService), map[string]any{
		"type":    "NEW_RESERVATION",
		"payload": notify.Reservation{ID: "r1"},
	}, map[string]string{"Idempotency-Key": strings.Repeat("k", 256)})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errorBody(t, resp), "Idempotency-Key")
}

func TestPublish_InvalidJSON(t *testing.T) {
	env := newTestEnv(t, testConfig(t))

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/events", strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+env.token(t, adminUserID, auth.RoleAdmin))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid JSON body", errorBody(t, resp))
}

func TestStream_ResumesFromLastEventID(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	ctx := context.Background()

	var userEvents []notify.Event
	for i, status := range []string{notify.ReservationConfirmed, notify.ReservationCancelled, notify.ReservationCompleted} {
		published, err := env.gw.publisher.PublishReservationStatus(ctx, notify.ReservationStatusChange{
			ID:         "r1",
			VehicleID:  "v1",
			CustomerID: "u1",
			Status:     status,
		})
		require.NoError(t, err, "publish %d", i)
		userEvents = append(userEvents, published[0].Event)
	}

	resp := env.get(t, "/api/stream/me", env.token(t, "u1", auth.RoleUser),
		map[string]string{"Last-Event-ID": notify.FormatWatermark(userEvents[0].OccurredAt)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	frames := readFrames(resp)

	nextFrame(t, frames, sse.EventConnected)
	first := nextFrame(t, frames, sse.EventMessage)
	second := nextFrame(t, frames, sse.EventMessage)

	assert.Equal(t, userEvents[1].ID, decodeEnvelope(t, first).ID)
	assert.Equal(t, userEvents[2].ID, decodeEnvelope(t, second).ID)
	assert.Equal(t, notify.FormatWatermark(userEvents[2].OccurredAt), second.ID)
}

func TestShutdown_ClosesOpenStreams(t *testing.T) {
	cfg := testConfig(t)
	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	server := httptest.NewServer(gw.Handler())
	defer server.Close()

	tokens, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	tok, err := tokens.Generate(auth.Session{UserID: adminUserID, Role: auth.RoleAdmin}, time.Hour)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/api/stream/admin", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	frames := readFrames(resp)
	nextFrame(t, frames, sse.EventConnected)

	require.NoError(t, gw.Shutdown(context.Background()))
	assert.Equal(t, 0, gw.registry.Len())

	// The stream ends once the handler returns
	deadline := time.After(frameWait)
	for {
		select {
		case _, ok := <-frames:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream still open after shutdown")
		}
	}
}
