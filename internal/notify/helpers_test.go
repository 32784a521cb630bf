// ABOUTME: Shared fixtures for notify tests
// ABOUTME: Provides a spy transport, channel constructors, and frame decoding helpers

package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/carlot-notify/internal/auth"
	"github.com/2389/carlot-notify/internal/sse"
)

var errBrokenPipe = errors.New("write: broken pipe")

var (
	adminSession = auth.Session{UserID: "admin-1", Role: auth.RoleAdmin}
	userSession  = auth.Session{UserID: "user-1", Role: auth.RoleUser}
)

// spyTransport records every write and can be told to fail.
type spyTransport struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	writes    int
	flushes   int
	deadlines int
	fail      bool
}

func (s *spyTransport) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return 0, errBrokenPipe
	}
	s.writes++
	return s.buf.Write(p)
}

func (s *spyTransport) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *spyTransport) SetWriteDeadline(time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadlines++
	return nil
}

func (s *spyTransport) SetFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *spyTransport) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Frames parses everything written so far.
func (s *spyTransport) Frames(t *testing.T) []sse.Frame {
	t.Helper()
	s.mu.Lock()
	data := append([]byte(nil), s.buf.Bytes()...)
	s.mu.Unlock()

	r := sse.NewReader(bytes.NewReader(data))
	var frames []sse.Frame
	for {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, f)
	}
}

// Messages decodes the envelopes of all message frames written so far.
func (s *spyTransport) Messages(t *testing.T) []Envelope {
	t.Helper()
	var out []Envelope
	for _, f := range s.Frames(t) {
		if f.Event != sse.EventMessage {
			continue
		}
		var env Envelope
		require.NoError(t, json.Unmarshal(f.Data, &env))
		out = append(out, env)
	}
	return out
}

// CountEvent returns how many frames named event were written.
func (s *spyTransport) CountEvent(t *testing.T, event string) int {
	t.Helper()
	n := 0
	for _, f := range s.Frames(t) {
		if f.Event == event {
			n++
		}
	}
	return n
}

// quietOptions disables keep-alive pings for the duration of a test.
func quietOptions() ChannelOptions {
	return ChannelOptions{KeepAlive: time.Hour}
}

func openTestChannel(t *testing.T, reg *Registry, audience Audience, session auth.Session) (*Channel, *spyTransport) {
	t.Helper()
	tr := &spyTransport{}
	ch, err := Open(reg, tr, audience, session, quietOptions())
	require.NoError(t, err)
	t.Cleanup(ch.Close)
	return ch, tr
}

// catchingUp reports whether ch still holds dispatched events.
func catchingUp(ch *Channel) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.catchingUp
}

// registered looks up a channel by id the way dispatch would see it.
func registered(reg *Registry, id string) (*Channel, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	ch, ok := reg.byID[id]
	return ch, ok
}

func messageIDs(envs []Envelope) []string {
	ids := make([]string, len(envs))
	for i, e := range envs {
		ids[i] = e.ID
	}
	return ids
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fixedTime returns baseTime plus i seconds.
func fixedTime(i int) time.Time {
	return baseTime.Add(time.Duration(i) * time.Second)
}
