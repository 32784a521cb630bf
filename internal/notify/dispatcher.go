// ABOUTME: Fans a domain event out to every active channel of its audience
// ABOUTME: Serializes dispatches so each channel sees events in dispatch order

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Summary counts the outcome of one fan-out.
type Summary struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Dispatcher delivers events to registered channels. Delivery is best effort:
// a channel that fails is dropped, and nothing is retried.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger

	mu sync.Mutex // one fan-out at a time
}

// NewDispatcher creates a dispatcher over registry. A positive timeout bounds
// each fan-out; channels not reached in time count as failed but stay
// registered. Pass nil logger for default.
func NewDispatcher(registry *Registry, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		timeout:  timeout,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Dispatch builds an event of kind with occurredAt = now and fans it out.
// It fails only when the event itself cannot be built; partial delivery is
// reported through the Summary.
func (d *Dispatcher) Dispatch(ctx context.Context, kind Kind, payload any, audience Audience) (Summary, error) {
	ev, err := NewEvent(kind, audience, payload, time.Now())
	if err != nil {
		return Summary{}, err
	}
	return d.DispatchEvent(ctx, ev), nil
}

// DispatchEvent fans out an already built event.
func (d *Dispatcher) DispatchEvent(ctx context.Context, ev Event) Summary {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var summary Summary
	d.registry.ForEachActive(ev.Audience, func(ch *Channel) {
		if ctx.Err() != nil {
			summary.Failed++
			return
		}
		if err := ch.Send(ev); err != nil {
			summary.Failed++
			return
		}
		summary.Delivered++
	})

	d.logger.Debug("dispatched event",
		"event_id", ev.ID,
		"kind", ev.Kind,
		"audience", ev.Audience,
		"delivered", summary.Delivered,
		"failed", summary.Failed)

	if ctx.Err() != nil {
		d.logger.Warn("dispatch deadline reached", "event_id", ev.ID, "audience", ev.Audience, "error", ctx.Err())
	}
	return summary
}

// NewEvent validates kind and audience and marshals payload into a new domain event.
func NewEvent(kind Kind, audience Audience, payload any, at time.Time) (Event, error) {
	if !kind.IsDomain() {
		return Event{}, fmt.Errorf("kind %q cannot be dispatched", kind)
	}
	if err := audience.Validate(); err != nil {
		return Event{}, err
	}

	var raw json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = json.RawMessage(p)
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshaling %s payload: %w", kind, err)
		}
		raw = b
	}
	if !json.Valid(raw) {
		return Event{}, fmt.Errorf("%s payload is not valid JSON", kind)
	}

	return Event{
		ID:         uuid.New().String(),
		Kind:       kind,
		Audience:   audience,
		Payload:    raw,
		OccurredAt: at.UTC(),
	}, nil
}
