// Package status broadcasts the engine's connectivity and queue depth to
// subscribers such as the UI shell.
package status

import (
	"sync"

	"rentsync/internal/events"
	"rentsync/internal/models"

	"github.com/rs/zerolog"
)

// Notifier keeps the latest Status and pushes every update to listeners in
// subscription order. Updates are delivered one at a time in the order they
// were recorded. Listeners may publish, or call anything that does; their
// update is delivered after the current one reaches every listener.
type Notifier struct {
	mu         sync.Mutex
	current    models.Status
	backlog    []models.Status
	delivering bool

	listeners *events.Fanout[models.Status]
}

func NewNotifier(logger *zerolog.Logger) *Notifier {
	return &Notifier{listeners: events.NewFanout[models.Status](logger)}
}

// Subscribe registers listener for future updates. It does not replay the
// current status; use Current for that.
func (n *Notifier) Subscribe(listener func(models.Status)) (unsubscribe func()) {
	return n.listeners.Subscribe(listener)
}

func (n *Notifier) Current() models.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return copyStatus(n.current)
}

// Publish records s as current and delivers it. When no delivery is in
// progress the caller delivers before returning; otherwise s joins the
// backlog drained by the goroutine already delivering.
func (n *Notifier) Publish(s models.Status) {
	n.Refresh(func() models.Status { return s })
}

// Refresh records the status returned by snapshot and delivers it like
// Publish. snapshot runs under the notifier lock, so concurrent callers
// record in the order their snapshots were taken and the latest snapshot
// always ends up current. snapshot must not call back into the Notifier.
func (n *Notifier) Refresh(snapshot func() models.Status) {
	n.mu.Lock()
	s := copyStatus(snapshot())
	n.current = s
	n.backlog = append(n.backlog, s)
	if n.delivering {
		n.mu.Unlock()
		return
	}
	n.delivering = true

	for len(n.backlog) > 0 {
		next := n.backlog[0]
		n.backlog = n.backlog[1:]
		n.mu.Unlock()

		n.listeners.Publish(copyStatus(next))

		n.mu.Lock()
	}
	n.backlog = nil
	n.delivering = false
	n.mu.Unlock()
}

// Close detaches every listener.
func (n *Notifier) Close() {
	n.listeners.Clear()
}

func copyStatus(s models.Status) models.Status {
	if s.LastSyncAt != nil {
		t := *s.LastSyncAt
		s.LastSyncAt = &t
	}
	return s
}
