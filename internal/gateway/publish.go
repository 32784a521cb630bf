// ABOUTME: HTTP handler through which backend collaborators publish domain events
// ABOUTME: Validates the typed payload, then persists and fans out via the Publisher

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/2389/carlot-notify/internal/notify"
)

// maxPublishBody bounds POST /api/events request bodies.
const maxPublishBody = 1 << 20

// idempotencyHeader names the request header that makes publish retries safe.
const idempotencyHeader = "Idempotency-Key"

// maxIdempotencyKey bounds the Idempotency-Key header value.
const maxIdempotencyKey = 255

// PublishRequest is the JSON request body for POST /api/events.
type PublishRequest struct {
	Type    notify.Kind     `json:"type" validate:"required,oneof=NEW_MESSAGE NEW_RESERVATION RESERVATION_STATUS_CHANGED"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// PublishedEvent describes one stored event in a publish response.
type PublishedEvent struct {
	ID         string          `json:"id"`
	Audience   notify.Audience `json:"audience"`
	OccurredAt string          `json:"occurredAt"`
	Delivered  int             `json:"delivered"`
	Failed     int             `json:"failed"`
	Duplicate  bool            `json:"duplicate,omitempty"`
}

// PublishResponse is the JSON response for POST /api/events.
type PublishResponse struct {
	Events []PublishedEvent `json:"events"`
}

// handlePublish stores and dispatches one domain event. Role is checked by
// middleware. Requests carrying an Idempotency-Key can be retried after a
// failure without duplicating the audiences already reached.
func (g *Gateway) handlePublish(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(idempotencyHeader)
	if len(key) > maxIdempotencyKey {
		g.sendJSONError(w, http.StatusBadRequest, "Idempotency-Key is too long")
		return
	}
	opts := []notify.PublishOption{notify.WithIdempotencyKey(key)}

	var req PublishRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPublishBody)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := g.validate.Struct(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	var (
		published []notify.Published
		err       error
	)
	switch req.Type {
	case notify.KindNewMessage:
		var msg notify.ChatMessage
		if err := g.decodePayload(req.Payload, &msg); err != nil {
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		published, err = g.publisher.PublishChatMessage(r.Context(), msg, opts...)
	case notify.KindNewReservation:
		var res notify.Reservation
		if err := g.decodePayload(req.Payload, &res); err != nil {
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		published, err = g.publisher.PublishReservation(r.Context(), res, opts...)
	case notify.KindReservationStatusChanged:
		var change notify.ReservationStatusChange
		if err := g.decodePayload(req.Payload, &change); err != nil {
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		published, err = g.publisher.PublishReservationStatus(r.Context(), change, opts...)
	}

	if err != nil {
		g.logger.Error("publishing event", "type", req.Type, "stored", len(published), "keyed", key != "", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to publish event")
		return
	}

	resp := PublishResponse{Events: make([]PublishedEvent, 0, len(published))}
	for _, p := range published {
		resp.Events = append(resp.Events, PublishedEvent{
			ID:         p.Event.ID,
			Audience:   p.Event.Audience,
			OccurredAt: notify.FormatWatermark(p.Event.OccurredAt),
			Delivered:  p.Summary.Delivered,
			Failed:     p.Summary.Failed,
			Duplicate:  p.Duplicate,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(resp)
}

// decodePayload unmarshals raw into dst and validates it.
func (g *Gateway) decodePayload(raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.New("invalid payload")
	}
	if err := g.validate.Struct(dst); err != nil {
		return errors.New(validationMessage(err))
	}
	return nil
}

// validationMessage turns validator errors into a client-facing message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return "invalid fields: " + strings.Join(fields, ", ")
}
