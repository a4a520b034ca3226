// Package conflict decides what happens when the remote copy of an entity
// changed after a local update was queued.
package conflict

import (
	"time"

	"rentsync/internal/models"
)

type Decision int

const (
	// Apply sends the local write.
	Apply Decision = iota
	// Skip treats the operation as resolved without writing it.
	Skip
)

func (d Decision) String() string {
	switch d {
	case Apply:
		return "apply"
	case Skip:
		return "skip"
	default:
		return "unknown"
	}
}

type Resolution struct {
	Decision Decision
	Conflict bool
}

type Resolver interface {
	Resolve(op models.SyncOperation, remoteVersion time.Time) Resolution
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(op models.SyncOperation, remoteVersion time.Time) Resolution

func (f ResolverFunc) Resolve(op models.SyncOperation, remoteVersion time.Time) Resolution {
	return f(op, remoteVersion)
}

// ClientWins reports a conflict when the remote changed after the operation
// was enqueued, and applies the local write regardless. A zero remote version
// means the remote has no copy.
type ClientWins struct{}

func (ClientWins) Resolve(op models.SyncOperation, remoteVersion time.Time) Resolution {
	return Resolution{
		Decision: Apply,
		Conflict: !remoteVersion.IsZero() && remoteVersion.After(op.EnqueuedAt),
	}
}
