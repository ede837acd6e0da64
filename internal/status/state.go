// Package status tracks the daemon's connection lifecycle and announces
// transitions on the bus.
package status

import (
	"sync"

	"go.uber.org/zap"

	"github.com/chatbyx/chatsync/internal/bus"
)

// State is one phase of the daemon lifecycle.
type State string

const (
	// Booting: process started, replica not opened yet.
	Booting State = "booting"
	// AuthRequired: no usable token in config.
	AuthRequired State = "auth_required"
	// Bootstrapping: full refresh of an empty replica in progress.
	Bootstrapping State = "bootstrapping"
	// Live: both streams connected.
	Live State = "live"
	// Reconnecting: at least one stream is down and backing off.
	Reconnecting State = "reconnecting"
	// Degraded: serving the local replica only; the server is unreachable.
	Degraded State = "degraded"
	// Failed: unrecoverable error, daemon shutting down.
	Failed State = "failed"
)

// KindChanged is the bus topic for state transitions.
const KindChanged = "session.status_changed"

// Tracker holds the current state and derives it from per-channel
// connectivity.
type Tracker struct {
	mu        sync.Mutex
	state     State
	connected map[string]bool
	bus       *bus.Bus
	logger    *zap.Logger
}

func NewTracker(b *bus.Bus, logger *zap.Logger) *Tracker {
	return &Tracker{
		state:     Booting,
		connected: make(map[string]bool),
		bus:       b,
		logger:    logger.Named("status"),
	}
}

// Get returns the current state.
func (t *Tracker) Get() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Set forces a state. Used for the phases the channels cannot derive
// (booting, auth, bootstrap, failure).
func (t *Tracker) Set(s State) {
	t.mu.Lock()
	changed := t.state != s
	t.state = s
	t.mu.Unlock()
	if changed {
		t.announce(s)
	}
}

// ChannelConnected feeds per-stream connectivity. All streams up means
// live; some up means reconnecting; none up means degraded. The derived
// states never override a forced auth or failure state.
func (t *Tracker) ChannelConnected(resource string, up bool) {
	t.mu.Lock()
	t.connected[resource] = up

	if t.state == AuthRequired || t.state == Failed {
		t.mu.Unlock()
		return
	}

	total, upCount := 0, 0
	for _, ok := range t.connected {
		total++
		if ok {
			upCount++
		}
	}
	var next State
	switch {
	case total > 0 && upCount == total:
		next = Live
	case upCount > 0:
		next = Reconnecting
	default:
		next = Degraded
	}
	changed := t.state != next
	t.state = next
	t.mu.Unlock()

	if changed {
		t.announce(next)
	}
}

func (t *Tracker) announce(s State) {
	t.logger.Info("state changed", zap.String("state", string(s)))
	t.bus.Publish(bus.Event{Kind: KindChanged, Payload: s})
}
