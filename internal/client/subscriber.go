// ABOUTME: Event stream subscriber that reconnects according to a Policy
// ABOUTME: Resumes from the last received message id via Last-Event-ID

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/carlot-notify/internal/sse"
)

// DefaultIdleTimeout is twice the server's default keep-alive.
const DefaultIdleTimeout = 60 * time.Second

// Subscriber errors
var (
	ErrIdleTimeout      = errors.New("stream idle timeout")
	ErrSubscriberClosed = errors.New("subscriber closed")
	ErrAlreadyStarted   = errors.New("subscriber already started")
)

// Options configures a Subscriber.
type Options struct {
	URL         string
	Token       string // sent as a bearer token when set
	LastEventID string // initial resume point
	Policy      Policy
	IdleTimeout time.Duration // no frame within this long is a failure
	HTTPClient  *http.Client
	Logger      *slog.Logger

	// Callbacks run on the subscriber's goroutine and must not call Close.
	OnEvent       func(sse.Frame)
	OnStateChange func(State)
	OnError       func(error)
}

// Subscriber keeps one event stream open, reconnecting on failure.
type Subscriber struct {
	opts       Options
	policy     Policy
	httpClient *http.Client
	logger     *slog.Logger

	mu          sync.Mutex
	state       State
	attempts    int
	err         error
	lastEventID string
	running     bool
	closed      bool
	ctx         context.Context
	cancel      context.CancelFunc

	wg sync.WaitGroup
}

// NewSubscriber validates opts and returns an idle subscriber.
func NewSubscriber(opts Options) (*Subscriber, error) {
	if opts.URL == "" {
		return nil, errors.New("url is required")
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Subscriber{
		opts:        opts,
		policy:      opts.Policy.withDefaults(),
		httpClient:  httpClient,
		logger:      logger.With("component", "subscriber", "url", opts.URL),
		state:       StateDisconnected,
		lastEventID: opts.LastEventID,
	}, nil
}

// Start connects in the background. Cancelling ctx has the same effect as Close.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSubscriberClosed
	}
	if s.ctx != nil {
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.startLocked()
	return nil
}

// Reconnect resumes auto-retry after the policy was exhausted. It is a no-op
// while the subscriber is still connecting or retrying.
func (s *Subscriber) Reconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSubscriberClosed
	}
	if s.ctx == nil {
		return errors.New("subscriber not started")
	}
	if s.running {
		return nil
	}
	s.attempts = 0
	s.err = nil
	s.startLocked()
	return nil
}

// Close stops the subscriber, cancelling any pending reconnect and the open
// stream, and waits for its goroutine to exit. Idempotent.
func (s *Subscriber) Close() {
	s.mu.Lock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// State returns the current connection state.
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns ErrReconnectExhausted once retries ran out, nil otherwise.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Attempts returns the reconnects made since the last successful connect.
func (s *Subscriber) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// LastEventID returns the id of the last message event received.
func (s *Subscriber) LastEventID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEventID
}

// startLocked must be called with mu held.
func (s *Subscriber) startLocked() {
	s.running = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(s.ctx)
	}()
}

func (s *Subscriber) run(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for {
		err := s.stream(ctx)
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return
		}

		if err == nil {
			s.logger.Info("stream closed by server")
			s.setState(StateClosedByServer)
		} else {
			s.logger.Warn("stream failed", "error", err)
			s.setState(StateError)
			s.reportError(err)
		}
		s.setState(StateDisconnected)

		s.mu.Lock()
		if s.attempts >= s.policy.MaxAttempts {
			s.err = fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, s.attempts)
			exhausted := s.err
			s.mu.Unlock()
			s.logger.Error("giving up on stream", "attempts", s.policy.MaxAttempts)
			s.reportError(exhausted)
			return
		}
		s.attempts++
		attempt := s.attempts
		s.mu.Unlock()

		delay := s.policy.Backoff(attempt)
		s.logger.Debug("scheduling reconnect", "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setState(StateDisconnected)
			return
		case <-timer.C:
		}
	}
}

// stream holds one connection open until it ends. A nil return means the
// server closed the stream cleanly after the handshake.
func (s *Subscriber) stream(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.setState(StateConnecting)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", sse.ContentType)
	req.Header.Set("Cache-Control", "no-cache")
	if s.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.Token)
	}
	if id := s.LastEventID(); id != "" {
		req.Header.Set("Last-Event-ID", id)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return handleErrorResponse(resp)
	}

	var idle atomic.Bool
	idleTimer := time.AfterFunc(s.opts.IdleTimeout, func() {
		idle.Store(true)
		cancel()
	})
	defer idleTimer.Stop()

	reader := sse.NewReader(resp.Body)
	connected := false
	for {
		frame, err := reader.Next()
		if err != nil {
			switch {
			case idle.Load():
				return ErrIdleTimeout
			case errors.Is(err, io.EOF) && connected:
				return nil
			case errors.Is(err, io.EOF):
				return errors.New("stream ended before handshake")
			default:
				return fmt.Errorf("reading stream: %w", err)
			}
		}
		idleTimer.Reset(s.opts.IdleTimeout)

		switch frame.Event {
		case sse.EventConnected:
			connected = true
			s.markConnected()
		case sse.EventMessage:
			if frame.ID != "" {
				s.mu.Lock()
				s.lastEventID = frame.ID
				s.mu.Unlock()
			}
		}

		if s.opts.OnEvent != nil {
			s.opts.OnEvent(frame)
		}
	}
}

func (s *Subscriber) markConnected() {
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
	s.logger.Info("stream connected")
	s.setState(StateConnected)
}

func (s *Subscriber) setState(state State) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(state)
	}
}

func (s *Subscriber) reportError(err error) {
	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}

// handleErrorResponse extracts the error message from a non-200 response.
func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("server returned status %d", resp.StatusCode)
}
