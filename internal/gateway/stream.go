// ABOUTME: HTTP handlers that open push channels for admins, conversations, and users
// ABOUTME: Resolves the audience, resumes from Last-Event-ID, and holds the stream open

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/2389/carlot-notify/internal/auth"
	"github.com/2389/carlot-notify/internal/notify"
)

// lastEventIDParam carries the resume point for clients that cannot set headers.
const lastEventIDParam = "lastEventId"

// handleAdminStream streams the admin broadcast. Role is checked by middleware.
func (g *Gateway) handleAdminStream(w http.ResponseWriter, r *http.Request) {
	g.serveStream(w, r, notify.AdminBroadcast)
}

// handleConversationStream streams one vehicle's chat to admins and members.
func (g *Gateway) handleConversationStream(w http.ResponseWriter, r *http.Request) {
	session := auth.MustFromContext(r.Context())
	vehicleID := r.PathValue("vehicleID")
	if vehicleID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "vehicle id is required")
		return
	}

	if !session.IsAdmin() {
		member, err := g.store.IsConversationMember(r.Context(), vehicleID, session.UserID)
		if err != nil {
			g.logger.Error("checking conversation membership", "vehicle_id", vehicleID, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !member {
			g.sendJSONError(w, http.StatusForbidden, "not a member of this conversation")
			return
		}
	}

	g.serveStream(w, r, notify.Conversation(vehicleID))
}

// handleUserStream streams the caller's own notifications.
func (g *Gateway) handleUserStream(w http.ResponseWriter, r *http.Request) {
	session := auth.MustFromContext(r.Context())
	g.serveStream(w, r, notify.User(session.UserID))
}

// serveStream opens a channel for audience and blocks until it is torn down
// or the client goes away. Polling catch-up starts from the resume point.
func (g *Gateway) serveStream(w http.ResponseWriter, r *http.Request, audience notify.Audience) {
	session := auth.MustFromContext(r.Context())

	watermark, resumed, err := resumePoint(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid Last-Event-ID")
		return
	}

	if _, ok := w.(http.Flusher); !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, err := notify.Open(g.registry, notify.NewHTTPTransport(w), audience, session, g.channelOpts)
	if err != nil {
		switch {
		case errors.Is(err, notify.ErrInvalidAudience):
			g.sendJSONError(w, http.StatusBadRequest, "invalid stream target")
		case errors.Is(err, notify.ErrRegistryFull), errors.Is(err, notify.ErrRegistryClosed):
			g.sendJSONError(w, http.StatusServiceUnavailable, "too many open streams")
		default:
			// Handshake write failed; the client is already gone
			g.logger.Debug("opening stream failed", "audience", audience, "error", err)
		}
		return
	}

	if !resumed {
		watermark = ch.OpenedAt()
	}
	// Dispatches to ch are held until this first poll has replayed the backlog
	poller := g.bridge.Start(r.Context(), ch, watermark)

	select {
	case <-ch.Done():
	case <-r.Context().Done():
	}
	ch.Close()
	<-poller.Done()

	g.logger.Debug("stream ended",
		"channel_id", ch.ID(),
		"audience", audience,
		"watermark", notify.FormatWatermark(poller.Watermark()))
}

// resumePoint returns the client's Last-Event-ID as a watermark. resumed is
// false for a fresh connection, which polls from when its channel opened.
func resumePoint(r *http.Request) (watermark time.Time, resumed bool, err error) {
	id := r.Header.Get("Last-Event-ID")
	if id == "" {
		id = r.URL.Query().Get(lastEventIDParam)
	}
	if id == "" {
		return time.Time{}, false, nil
	}
	watermark, err = notify.ParseWatermark(id)
	return watermark, err == nil, err
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
