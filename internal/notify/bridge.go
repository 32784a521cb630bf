// ABOUTME: Polling bridge that replays stored events onto a push channel
// ABOUTME: Queries past a per-channel watermark and advances it after each delivered event

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/carlot-notify/internal/store"
)

// Bridge defaults
const (
	DefaultPollInterval   = 5 * time.Second
	DefaultPollBatchLimit = 100
	maxPollBatchLimit     = 500
)

// EventSource is the store read the bridge depends on.
type EventSource interface {
	QueryEvents(ctx context.Context, audience string, since time.Time, limit int) ([]*store.Event, error)
}

// BridgeOptions tunes a Bridge. Zero values select the defaults.
type BridgeOptions struct {
	Interval   time.Duration
	BatchLimit int
	Logger     *slog.Logger
}

// Bridge converts periodic store reads into push deliveries. The store has no
// change notification, so each channel polls with a monotonic watermark.
type Bridge struct {
	source     EventSource
	interval   time.Duration
	batchLimit int
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewBridge creates a bridge reading from source.
func NewBridge(source EventSource, opts BridgeOptions) *Bridge {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = DefaultPollBatchLimit
	}
	if opts.BatchLimit > maxPollBatchLimit {
		opts.BatchLimit = maxPollBatchLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bridge{
		source:     source,
		interval:   opts.Interval,
		batchLimit: opts.BatchLimit,
		logger:     opts.Logger.With("component", "bridge"),
	}
}

// Tick runs one poll for ch: every stored event for its audience after
// *watermark is sent in ascending order, advancing *watermark as each one is
// delivered, followed by one ping. A store failure is reported to the client as
// an error event and returned; the caller keeps polling.
// Returns how many events were delivered.
func (b *Bridge) Tick(ctx context.Context, ch *Channel, watermark *time.Time) (int, error) {
	delivered := 0
	for {
		records, err := b.source.QueryEvents(ctx, string(ch.Audience()), *watermark, b.batchLimit)
		if err != nil {
			b.logger.Warn("polling store failed",
				"channel_id", ch.ID(),
				"audience", ch.Audience(),
				"error", err)
			if sendErr := ch.SendError("failed to load new events"); sendErr != nil {
				return delivered, sendErr
			}
			return delivered, fmt.Errorf("querying events: %w", err)
		}

		for _, r := range records {
			ev := FromRecord(r)
			if err := ch.replay(ev); err != nil {
				return delivered, err
			}
			delivered++
			if ev.OccurredAt.After(*watermark) {
				*watermark = ev.OccurredAt
			}
		}

		// A full batch may have left more behind the limit
		if len(records) < b.batchLimit {
			break
		}
	}

	return delivered, ch.Ping()
}

// Start polls for ch in a goroutine owned by the channel, beginning with an
// immediate catch-up from watermark. Once a poll succeeds, events dispatched
// to a catching-up channel in the meantime are written after the backlog.
// Polling stops when the channel is torn down or ctx is cancelled.
func (b *Bridge) Start(ctx context.Context, ch *Channel, watermark time.Time) *Poller {
	p := &Poller{
		bridge:    b,
		ch:        ch,
		watermark: watermark,
		done:      make(chan struct{}),
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(p.done)
		p.run(ctx)
	}()
	return p
}

// Wait blocks until every poller started by this bridge has exited.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

// Poller is one channel's running poll loop.
type Poller struct {
	bridge *Bridge
	ch     *Channel

	mu        sync.Mutex
	watermark time.Time

	done chan struct{}
}

// Watermark returns the OccurredAt of the last event delivered by polling,
// or the starting watermark if none was.
func (p *Poller) Watermark() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watermark
}

// Done is closed when the poll loop exits.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

func (p *Poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.bridge.interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.ch.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wm := p.watermark
	n, err := p.bridge.Tick(ctx, p.ch, &wm)
	p.watermark = wm
	if err != nil {
		p.bridge.logger.Debug("poll tick failed", "channel_id", p.ch.ID(), "delivered", n, "error", err)
		return
	}
	if err := p.ch.finishCatchUp(); err != nil {
		p.bridge.logger.Debug("finishing catch-up failed", "channel_id", p.ch.ID(), "error", err)
	}
}
