// ABOUTME: Write-side entry point that persists a domain event and then dispatches it
// ABOUTME: Picks audiences per event type and hands out strictly increasing timestamps

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/carlot-notify/internal/store"
)

// idempotencyNamespace scopes event ids derived from idempotency keys.
var idempotencyNamespace = uuid.MustParse("6f1c7a52-3b0e-4d8e-9a47-2c5d8e1f0b93")

// EventRecorder is the store access the publisher depends on.
type EventRecorder interface {
	SaveEvent(ctx context.Context, event *store.Event) error
	GetEvent(ctx context.Context, id string) (*store.Event, error)
	AddConversationMember(ctx context.Context, vehicleID, userID string) error
}

// Published is one persisted event and the outcome of its live fan-out.
// Duplicate is set when an idempotency key matched an event stored by an
// earlier call; such an event is not dispatched again.
type Published struct {
	Event     Event
	Summary   Summary
	Duplicate bool
}

// PublishOption adjusts a single publish call.
type PublishOption func(*publishConfig)

type publishConfig struct {
	key string
}

// WithIdempotencyKey derives each event id from key and the audience, so a
// retried call stores and dispatches only the audiences an earlier attempt
// did not reach. An empty key leaves ids random.
func WithIdempotencyKey(key string) PublishOption {
	return func(c *publishConfig) { c.key = key }
}

// eventIDFor returns the stable event id for key and audience.
func eventIDFor(key string, audience Audience) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(key+"\x00"+string(audience))).String()
}

// Publisher persists events so polling can replay them, then pushes them to
// connected channels.
type Publisher struct {
	recorder   EventRecorder
	dispatcher *Dispatcher
	logger     *slog.Logger

	mu   sync.Mutex // orders timestamp assignment, persistence, and fan-out
	last time.Time
	now  func() time.Time
}

// NewPublisher creates a publisher. Pass nil logger for default.
func NewPublisher(recorder EventRecorder, dispatcher *Dispatcher, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		recorder:   recorder,
		dispatcher: dispatcher,
		logger:     logger.With("component", "publisher"),
		now:        time.Now,
	}
}

// Publish persists one event for audience and dispatches it. If persisting
// fails nothing is dispatched.
func (p *Publisher) Publish(ctx context.Context, kind Kind, audience Audience, payload any, opts ...PublishOption) (Published, error) {
	var cfg publishConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ev, err := NewEvent(kind, audience, payload, p.nextTimestamp())
	if err != nil {
		return Published{}, err
	}
	if cfg.key != "" {
		ev.ID = eventIDFor(cfg.key, audience)
	}

	if err := p.recorder.SaveEvent(ctx, ev.Record()); err != nil {
		if cfg.key != "" && errors.Is(err, store.ErrDuplicateEvent) {
			return p.existing(ctx, ev.ID)
		}
		return Published{}, fmt.Errorf("saving %s event: %w", kind, err)
	}

	summary := p.dispatcher.DispatchEvent(ctx, ev)
	p.logger.Info("published event",
		"event_id", ev.ID,
		"kind", kind,
		"audience", audience,
		"delivered", summary.Delivered,
		"failed", summary.Failed)

	return Published{Event: ev, Summary: summary}, nil
}

// existing loads the event an earlier keyed publish stored.
func (p *Publisher) existing(ctx context.Context, id string) (Published, error) {
	rec, err := p.recorder.GetEvent(ctx, id)
	if err != nil {
		return Published{}, fmt.Errorf("loading published event %s: %w", id, err)
	}
	p.logger.Info("event already published", "event_id", id, "audience", rec.Audience)
	return Published{Event: FromRecord(rec), Duplicate: true}, nil
}

// PublishChatMessage notifies the vehicle's conversation and the admins, and
// records the sender and recipient as conversation members.
func (p *Publisher) PublishChatMessage(ctx context.Context, msg ChatMessage, opts ...PublishOption) ([]Published, error) {
	if msg.VehicleID == "" {
		return nil, errors.New("chat message has no vehicle id")
	}

	for _, userID := range []string{msg.SenderID, msg.RecipientID} {
		if userID == "" {
			continue
		}
		if err := p.recorder.AddConversationMember(ctx, msg.VehicleID, userID); err != nil {
			return nil, fmt.Errorf("recording conversation member: %w", err)
		}
	}

	return p.publishAll(ctx, KindNewMessage, msg, opts, Conversation(msg.VehicleID), AdminBroadcast)
}

// PublishReservation notifies the admins of a new reservation.
func (p *Publisher) PublishReservation(ctx context.Context, r Reservation, opts ...PublishOption) ([]Published, error) {
	return p.publishAll(ctx, KindNewReservation, r, opts, AdminBroadcast)
}

// PublishReservationStatus notifies the customer and the admins of a status change.
func (p *Publisher) PublishReservationStatus(ctx context.Context, s ReservationStatusChange, opts ...PublishOption) ([]Published, error) {
	if s.CustomerID == "" {
		return nil, errors.New("status change has no customer id")
	}
	return p.publishAll(ctx, KindReservationStatusChanged, s, opts, User(s.CustomerID), AdminBroadcast)
}

// publishAll publishes payload to each audience in turn. On failure the events
// already published are returned with the error.
func (p *Publisher) publishAll(ctx context.Context, kind Kind, payload any, opts []PublishOption, audiences ...Audience) ([]Published, error) {
	results := make([]Published, 0, len(audiences))
	for _, audience := range audiences {
		pub, err := p.Publish(ctx, kind, audience, payload, opts...)
		if err != nil {
			return results, err
		}
		results = append(results, pub)
	}
	return results, nil
}

// nextTimestamp returns now, bumped past the previous timestamp so every
// published event has a distinct, increasing OccurredAt. Must hold mu.
func (p *Publisher) nextTimestamp() time.Time {
	ts := p.now().UTC()
	if !ts.After(p.last) {
		ts = p.last.Add(time.Nanosecond)
	}
	p.last = ts
	return ts
}
