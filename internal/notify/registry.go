// ABOUTME: Process-wide set of live push channels with registration-order iteration
// ABOUTME: Sends go to snapshots taken under the lock, never to the live set

package notify

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry errors
var (
	ErrRegistryFull   = errors.New("channel registry is full")
	ErrRegistryClosed = errors.New("channel registry is shut down")
)

// Registry tracks currently connected push channels in process memory.
// A process restart drops every entry; clients resubscribe with their own watermark.
type Registry struct {
	mu          sync.Mutex
	channels    []*Channel // registration order
	byID        map[string]*Channel
	maxChannels int
	closed      bool
	logger      *slog.Logger
}

// NewRegistry creates an empty registry. maxChannels caps concurrent channels;
// zero or less means unlimited. Pass nil logger for default.
func NewRegistry(maxChannels int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byID:        make(map[string]*Channel),
		maxChannels: maxChannels,
		logger:      logger.With("component", "registry"),
	}
}

// Register adds ch and assigns its ID.
func (r *Registry) Register(ch *Channel) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrRegistryClosed
	}
	if r.maxChannels > 0 && len(r.channels) >= r.maxChannels {
		return "", ErrRegistryFull
	}

	id := uuid.New().String()
	ch.id = id
	r.channels = append(r.channels, ch)
	r.byID[id] = ch

	r.logger.Debug("channel registered",
		"channel_id", id,
		"audience", ch.audience,
		"user_id", ch.session.UserID,
		"count", len(r.channels))

	return id, nil
}

// Unregister removes the channel and tears it down, stopping its keep-alive.
// Safe to call multiple times or with an unknown id.
func (r *Registry) Unregister(id string) {
	if ch := r.remove(id); ch != nil {
		ch.Close()
	}
}

// remove drops id from the set without touching the channel.
func (r *Registry) remove(id string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)
	r.channels = slices.DeleteFunc(r.channels, func(c *Channel) bool { return c == ch })

	r.logger.Debug("channel unregistered", "channel_id", id, "count", len(r.channels))
	return ch
}

// ForEachActive calls fn for every active channel routed to audience, in
// registration order. fn runs on a snapshot outside the lock, so it may cause
// channels (including the one it was handed) to unregister.
func (r *Registry) ForEachActive(audience Audience, fn func(*Channel)) {
	r.mu.Lock()
	targets := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		if ch.accepts(audience) {
			targets = append(targets, ch)
		}
	}
	r.mu.Unlock()

	for _, ch := range targets {
		if ch.IsActive() {
			fn(ch)
		}
	}
}

// ReapInactive removes and closes channels whose last activity is older than
// threshold. Returns how many were reaped.
func (r *Registry) ReapInactive(threshold time.Duration) int {
	cutoff := time.Now().Add(-threshold)

	r.mu.Lock()
	var stale []*Channel
	r.channels = slices.DeleteFunc(r.channels, func(ch *Channel) bool {
		if ch.LastActivity().Before(cutoff) || !ch.IsActive() {
			stale = append(stale, ch)
			delete(r.byID, ch.id)
			return true
		}
		return false
	})
	r.mu.Unlock()

	for _, ch := range stale {
		r.logger.Info("reaping inactive channel",
			"channel_id", ch.id,
			"audience", ch.audience,
			"last_activity", ch.LastActivity())
		ch.Close()
	}
	return len(stale)
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Shutdown closes every channel and rejects further registrations.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	all := r.channels
	r.channels = nil
	r.byID = make(map[string]*Channel)
	r.mu.Unlock()

	for _, ch := range all {
		ch.Close()
	}
	r.logger.Info("registry shut down", "closed_channels", len(all))
}
