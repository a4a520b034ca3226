// Package reachability provides connectivity monitors for the sync engine.
package reachability

import (
	"sync"
	"sync/atomic"

	"rentsync/internal/events"

	"github.com/rs/zerolog"
)

// Manual is a monitor whose state is set from outside, either by a shell that
// receives OS connectivity callbacks or by tests.
type Manual struct {
	connected atomic.Bool
	mu        sync.Mutex
	changes   *events.Fanout[bool]
	logger    *zerolog.Logger
}

func NewManual(initial bool, logger *zerolog.Logger) *Manual {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	m := &Manual{changes: events.NewFanout[bool](logger), logger: logger}
	m.connected.Store(initial)
	return m
}

func (m *Manual) IsConnected() bool {
	return m.connected.Load()
}

func (m *Manual) OnChange(listener func(connected bool)) (unsubscribe func()) {
	return m.changes.Subscribe(listener)
}

// SetConnected records the new state and notifies listeners when it differs
// from the previous one. Listeners must not call SetConnected.
func (m *Manual) SetConnected(connected bool) (changed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected.Swap(connected) == connected {
		return false
	}
	m.logger.Info().Bool("online", connected).Msg("connectivity changed")
	m.changes.Publish(connected)
	return true
}
