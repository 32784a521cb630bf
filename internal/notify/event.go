// ABOUTME: Notification event model and its text event-stream rendering
// ABOUTME: Maps domain kinds to wire events and converts to and from stored records

package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/carlot-notify/internal/sse"
	"github.com/2389/carlot-notify/internal/store"
)

// Kind enumerates what an Event carries.
type Kind string

const (
	KindNewMessage               Kind = "NEW_MESSAGE"
	KindNewReservation           Kind = "NEW_RESERVATION"
	KindReservationStatusChanged Kind = "RESERVATION_STATUS_CHANGED"
	KindConnected                Kind = "CONNECTED"
	KindPing                     Kind = "PING"
	KindError                    Kind = "ERROR"
)

// IsDomain reports whether k is a business event (as opposed to a connection-level one).
// Only domain events are persisted, deduplicated, and used as resumption points.
func (k Kind) IsDomain() bool {
	switch k {
	case KindNewMessage, KindNewReservation, KindReservationStatusChanged:
		return true
	default:
		return false
	}
}

// WireEvent returns the event-stream name used for k.
func (k Kind) WireEvent() string {
	switch k {
	case KindConnected:
		return sse.EventConnected
	case KindPing:
		return sse.EventPing
	case KindError:
		return sse.EventError
	default:
		return sse.EventMessage
	}
}

// Event is a unit of pushed information.
type Event struct {
	ID         string
	Kind       Kind
	Audience   Audience
	Payload    json.RawMessage
	OccurredAt time.Time
}

// Envelope is the data document of a "message" frame.
type Envelope struct {
	Type      Kind            `json:"type"`
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// FormatWatermark renders t as used in the frame id field and Last-Event-ID.
func FormatWatermark(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseWatermark parses a Last-Event-ID value produced by FormatWatermark.
func ParseWatermark(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid watermark %q: %w", s, err)
	}
	return t.UTC(), nil
}

// Encode renders the event as one wire frame. Domain events are wrapped in an
// Envelope and carry their OccurredAt as the frame id; connection-level events
// send their payload as-is without an id.
func (e Event) Encode() ([]byte, error) {
	if !e.Kind.IsDomain() {
		data := e.Payload
		if len(data) == 0 {
			data = json.RawMessage(`{}`)
		}
		return sse.Encode(sse.Frame{Event: e.Kind.WireEvent(), Data: data})
	}

	env := Envelope{
		Type:      e.Kind,
		ID:        e.ID,
		Data:      e.Payload,
		Timestamp: e.OccurredAt.UTC(),
	}
	if len(env.Data) == 0 {
		env.Data = json.RawMessage(`null`)
	}
	return sse.EncodeJSON(sse.EventMessage, FormatWatermark(e.OccurredAt), env)
}

// Record converts a domain event to its stored form.
func (e Event) Record() *store.Event {
	return &store.Event{
		ID:         e.ID,
		Audience:   string(e.Audience),
		Kind:       store.EventKind(e.Kind),
		Payload:    append([]byte(nil), e.Payload...),
		OccurredAt: e.OccurredAt.UTC(),
	}
}

// FromRecord converts a stored event back into an Event.
func FromRecord(r *store.Event) Event {
	return Event{
		ID:         r.ID,
		Kind:       Kind(r.Kind),
		Audience:   Audience(r.Audience),
		Payload:    json.RawMessage(r.Payload),
		OccurredAt: r.OccurredAt,
	}
}

type connectedData struct {
	ChannelID string    `json:"channelId"`
	Audience  Audience  `json:"audience"`
	Timestamp time.Time `json:"timestamp"`
}

type pingData struct {
	Timestamp time.Time `json:"timestamp"`
}

type errorData struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func connectedEvent(channelID string, audience Audience, at time.Time) Event {
	payload, _ := json.Marshal(connectedData{ChannelID: channelID, Audience: audience, Timestamp: at.UTC()})
	return Event{Kind: KindConnected, Audience: audience, Payload: payload, OccurredAt: at}
}

func pingEvent(at time.Time) Event {
	payload, _ := json.Marshal(pingData{Timestamp: at.UTC()})
	return Event{Kind: KindPing, Payload: payload, OccurredAt: at}
}

func errorEvent(msg string, at time.Time) Event {
	payload, _ := json.Marshal(errorData{Error: msg, Timestamp: at.UTC()})
	return Event{Kind: KindError, Payload: payload, OccurredAt: at}
}
