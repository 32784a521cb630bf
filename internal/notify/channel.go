// ABOUTME: One long-lived outbound event stream per connected client
// ABOUTME: Owns its keep-alive ticker, serializes writes, and unregisters itself on failure

package notify

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/carlot-notify/internal/auth"
	"github.com/2389/carlot-notify/internal/dedupe"
)

// Channel errors
var (
	ErrChannelClosed = errors.New("channel closed")
	ErrHoldOverflow  = errors.New("too many events dispatched during catch-up")
)

// Channel defaults
const (
	DefaultKeepAlive           = 30 * time.Second
	DefaultInactivityThreshold = 60 * time.Second
	defaultDedupeTTL           = 10 * time.Minute
	defaultDedupeSize          = 1024
	defaultMaxHeld             = 1024
)

// ChannelOptions tunes a Channel. Zero values select the defaults.
type ChannelOptions struct {
	KeepAlive           time.Duration // interval between pings
	InactivityThreshold time.Duration // reap channels idle longer than this
	WriteTimeout        time.Duration // per-write deadline; zero means none
	DedupeTTL           time.Duration // how long delivered event IDs are remembered
	DedupeSize          int           // how many delivered event IDs are remembered

	// CatchUp holds dispatched domain events until the channel's first
	// successful poll, so a resumed client sees the stored backlog first.
	// Such a channel must be handed to Bridge.Start.
	CatchUp bool
	MaxHeld int // events held during catch-up before the channel gives up

	Logger *slog.Logger
}

func (o ChannelOptions) withDefaults() ChannelOptions {
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	if o.InactivityThreshold <= 0 {
		o.InactivityThreshold = DefaultInactivityThreshold
	}
	if o.DedupeTTL <= 0 {
		o.DedupeTTL = defaultDedupeTTL
	}
	if o.DedupeSize <= 0 {
		o.DedupeSize = defaultDedupeSize
	}
	if o.MaxHeld <= 0 {
		o.MaxHeld = defaultMaxHeld
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Channel is a live push connection to a single client.
type Channel struct {
	id        string // assigned by Registry.Register
	audience  Audience
	session   auth.Session
	transport Transport
	registry  *Registry
	opts      ChannelOptions
	logger    *slog.Logger
	openedAt  time.Time

	// delivered remembers domain events already written, so an event reaching
	// the channel by both dispatch and polling is only sent once
	delivered *dedupe.Window

	mu     sync.Mutex // serializes transport writes
	closed bool       // guarded by mu; no write happens once set

	// guarded by mu; dispatched events wait in held until catch-up ends
	catchingUp bool
	held       []heldEvent

	active       atomic.Bool
	lastActivity atomic.Int64 // unix nanos of the last successful write

	ticker    *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// Open registers a new channel for audience, writes the connected handshake,
// and starts the keep-alive. The registry's capacity is checked before any
// byte reaches the transport. If the handshake cannot be written the channel
// is unregistered and the error returned.
func Open(registry *Registry, transport Transport, audience Audience, session auth.Session, opts ChannelOptions) (*Channel, error) {
	if err := audience.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	now := time.Now()
	c := &Channel{
		audience:  audience,
		session:   session,
		transport: transport,
		registry:  registry,
		opts:      opts,
		openedAt:  now,
		delivered: dedupe.New(opts.DedupeTTL, opts.DedupeSize),
		ticker:    time.NewTicker(opts.KeepAlive),
		done:      make(chan struct{}),

		catchingUp: opts.CatchUp,
	}
	c.active.Store(true)
	c.lastActivity.Store(now.UnixNano())

	// Hold the write lock across registration so no dispatch reaches the
	// transport before the handshake
	c.mu.Lock()
	if _, err := registry.Register(c); err != nil {
		c.closed = true
		c.mu.Unlock()
		c.teardown()
		return nil, err
	}
	c.logger = opts.Logger.With("component", "channel", "channel_id", c.id, "audience", audience)

	frame, err := connectedEvent(c.id, audience, now).Encode()
	if err == nil {
		err = c.writeLocked(frame)
	}
	if err != nil {
		c.closed = true
	}
	c.mu.Unlock()
	if err != nil {
		c.teardown()
		return nil, fmt.Errorf("writing handshake: %w", err)
	}

	go c.keepAlive()

	c.logger.Info("channel opened", "user_id", session.UserID, "role", session.Role)
	return c, nil
}

// ID returns the identifier assigned at registration.
func (c *Channel) ID() string { return c.id }

// Audience returns the audience the channel was opened for.
func (c *Channel) Audience() Audience { return c.audience }

// Session returns the session that opened the channel.
func (c *Channel) Session() auth.Session { return c.session }

// OpenedAt returns when the channel was opened.
func (c *Channel) OpenedAt() time.Time { return c.openedAt }

// IsActive reports whether the channel can still be written to.
func (c *Channel) IsActive() bool { return c.active.Load() }

// LastActivity returns the time of the last successful write.
func (c *Channel) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Done is closed once the channel is torn down.
func (c *Channel) Done() <-chan struct{} { return c.done }

// heldEvent is a dispatched domain event waiting for catch-up to end.
type heldEvent struct {
	id    string
	frame []byte
}

// Send writes ev to the client. Domain events this channel already delivered
// are skipped and reported as success. While the channel is catching up,
// domain events are held and written once the first poll completes. A
// transport failure tears the channel down and is returned; the channel is
// never retried.
func (c *Channel) Send(ev Event) error {
	return c.send(ev, false)
}

// replay writes a stored event on behalf of the polling bridge. It is never
// held back by catch-up.
func (c *Channel) replay(ev Event) error {
	return c.send(ev, true)
}

func (c *Channel) send(ev Event, replay bool) error {
	frame, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Kind, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	domain := ev.Kind.IsDomain() && ev.ID != ""
	if domain && c.catchingUp && !replay {
		err = c.holdLocked(ev.ID, frame)
	} else {
		err = c.deliverLocked(ev.ID, domain, frame)
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug("send failed, closing channel", "error", err, "kind", ev.Kind)
		c.teardown()
		return err
	}
	return nil
}

// deliverLocked writes frame unless the domain event id was already
// delivered. The id only stays marked if the write succeeds.
func (c *Channel) deliverLocked(id string, domain bool, frame []byte) error {
	if domain && c.delivered.CheckAndMark(id) {
		return nil
	}
	if err := c.writeLocked(frame); err != nil {
		if domain {
			c.delivered.Forget(id)
		}
		return err
	}
	return nil
}

// holdLocked queues a dispatched event until catch-up ends. Events the
// catch-up already replayed are dropped.
func (c *Channel) holdLocked(id string, frame []byte) error {
	if c.delivered.Seen(id) {
		return nil
	}
	if len(c.held) >= c.opts.MaxHeld {
		// The client resumes from its last id and the store fills the gap
		c.closed = true
		c.held = nil
		return ErrHoldOverflow
	}
	c.held = append(c.held, heldEvent{id: id, frame: frame})
	return nil
}

// finishCatchUp writes the events held since Open, in dispatch order, and
// lets later dispatches through directly. No-op once catch-up has ended.
func (c *Channel) finishCatchUp() error {
	c.mu.Lock()
	if !c.catchingUp {
		c.mu.Unlock()
		return nil
	}
	held := c.held
	c.held = nil
	c.catchingUp = false
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}

	var err error
	for _, h := range held {
		if err = c.deliverLocked(h.id, true, h.frame); err != nil {
			break
		}
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug("write failed after catch-up, closing channel", "error", err)
		c.teardown()
		return err
	}
	if len(held) > 0 {
		c.logger.Debug("catch-up finished", "held", len(held))
	}
	return nil
}

// Ping writes a keep-alive event.
func (c *Channel) Ping() error {
	return c.Send(pingEvent(time.Now()))
}

// SendError writes an in-band error event.
func (c *Channel) SendError(msg string) error {
	return c.Send(errorEvent(msg, time.Now()))
}

// Close tears the channel down. Idempotent. Once Close returns no further
// write reaches the transport.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.teardown()
}

// accepts reports whether events for audience are routed to this channel.
// Routing is by the audience the channel was opened for, so an admin's
// conversation channel does not also carry the admin broadcast.
func (c *Channel) accepts(audience Audience) bool {
	if c.audience != audience {
		return false
	}
	if audience == AdminBroadcast {
		return c.session.IsAdmin()
	}
	return true
}

// writeLocked must be called with mu held. A failure marks the channel closed.
func (c *Channel) writeLocked(frame []byte) error {
	if c.opts.WriteTimeout > 0 {
		if err := c.transport.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
			c.closed = true
			return fmt.Errorf("setting write deadline: %w", err)
		}
	}

	if _, err := c.transport.Write(frame); err != nil {
		c.closed = true
		return fmt.Errorf("writing frame: %w", err)
	}
	if err := c.transport.Flush(); err != nil {
		c.closed = true
		return fmt.Errorf("flushing frame: %w", err)
	}

	c.lastActivity.Store(time.Now().UnixNano())
	return nil
}

// teardown releases the ticker, signals Done, and leaves the registry.
// It does not wait for the keep-alive goroutine, which may be the caller.
func (c *Channel) teardown() {
	c.closeOnce.Do(func() {
		c.active.Store(false)
		c.ticker.Stop()
		close(c.done)
		if c.id != "" {
			c.registry.remove(c.id)
		}
		if c.logger != nil {
			c.logger.Debug("channel closed")
		}
	})
}

// keepAlive pings on every tick and lets the registry reap idle channels.
func (c *Channel) keepAlive() {
	for {
		select {
		case <-c.done:
			return
		case <-c.ticker.C:
			if err := c.Ping(); err != nil {
				return
			}
			c.registry.ReapInactive(c.opts.InactivityThreshold)
		}
	}
}
