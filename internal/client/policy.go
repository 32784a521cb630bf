// ABOUTME: Reconnection policy and connection states for stream subscribers
// ABOUTME: Fixed delay by default, with optional exponential growth up to a cap

package client

import (
	"errors"
	"time"
)

// ErrReconnectExhausted is reported once the policy allows no further attempts.
// Auto-retry stays off until Reconnect is called.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// State is a subscriber's connection state.
type State string

// Connection states
const (
	StateDisconnected   State = "DISCONNECTED"
	StateConnecting     State = "CONNECTING"
	StateConnected      State = "CONNECTED"
	StateError          State = "ERROR"
	StateClosedByServer State = "CLOSED_BY_SERVER"
)

// Policy defaults
const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultMaxAttempts    = 5
)

// Policy decides when a dropped stream is retried.
type Policy struct {
	Delay       time.Duration // wait before each reconnect
	MaxAttempts int           // reconnects allowed between successful connects
	Multiplier  float64       // values above 1 grow the delay per attempt
	MaxDelay    time.Duration // caps a growing delay; zero means no cap
}

// DefaultPolicy retries every 5s, five times.
func DefaultPolicy() Policy {
	return Policy{Delay: DefaultReconnectDelay, MaxAttempts: DefaultMaxAttempts}
}

func (p Policy) withDefaults() Policy {
	if p.Delay <= 0 {
		p.Delay = DefaultReconnectDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	return p
}

// Backoff returns the wait before reconnect attempt n, counting from 1.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	delay := p.Delay
	if p.Multiplier > 1 {
		for i := 1; i < attempt; i++ {
			delay = time.Duration(float64(delay) * p.Multiplier)
			if p.MaxDelay > 0 && delay >= p.MaxDelay {
				return p.MaxDelay
			}
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
