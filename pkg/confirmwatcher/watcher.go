package confirmwatcher

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// State is the connection state of a watcher.
type State int32

const (
	// StateDisconnected means no connection exists and none is being attempted.
	StateDisconnected State = iota
	// StateConnecting means a dial is in progress.
	StateConnecting
	// StateConnected means the live-update channel is up.
	StateConnected
	// StateReconnecting means the connection dropped and bounded retries are running.
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "DISCONNECTED"
	}
}

// ErrSubscriptionLost indicates that the connection dropped while a wait was in
// flight. The outcome is genuinely unknown; callers must fall back to polling.
var ErrSubscriptionLost = errors.New("subscription lost: connection dropped")

// ErrDisconnected indicates that the watcher has no live connection.
var ErrDisconnected = errors.New("watcher is disconnected")

// Result is the outcome of a confirmation wait. A timeout yields
// Confirmed=false with no error: "no notification yet" is a legitimate outcome.
type Result struct {
	Confirmed bool
	Data      json.RawMessage
}

// Config tunes the reconnection policy.
type Config struct {
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	MaxReconnectAttempts int
	WriteTimeout         time.Duration
}

// DefaultConfig returns the default watcher configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectBase:        time.Second,
		ReconnectCap:         30 * time.Second,
		MaxReconnectAttempts: 5,
		WriteTimeout:         10 * time.Second,
	}
}

// ReconnectDelay returns min(base * 2^attempt, cap).
func ReconnectDelay(config Config, attempt int) time.Duration {
	delay := config.ReconnectBase
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= config.ReconnectCap {
			return config.ReconnectCap
		}
	}
	if delay > config.ReconnectCap {
		return config.ReconnectCap
	}
	return delay
}

// Watcher multiplexes confirmation waits over one live-update connection.
type Watcher interface {
	// Watch registers a one-shot wait for a notification about target.
	// It resolves when a notification arrives, resolves Confirmed=false when
	// the timeout elapses, and fails with ErrSubscriptionLost when the
	// connection drops mid-wait.
	Watch(ctx context.Context, target string, timeout time.Duration) (Result, error)

	// Standing registers a persistent subscription for target whose events are
	// delivered to ch. It survives reconnects. The returned cancel function
	// unsubscribes and must be called exactly once.
	Standing(target string, ch chan<- Result) (cancel func(), err error)

	// State returns the current connection state.
	State() State

	// Close tears the connection down for good; no reconnection follows.
	Close()
}
