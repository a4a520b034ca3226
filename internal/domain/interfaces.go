package domain

import (
	"context"
	"errors"
	"time"

	"rentsync/internal/models"
)

// ErrNotFound is returned by a KVStore when the key has never been written.
var ErrNotFound = errors.New("key not found")

// KVStore is the durable storage the queue is persisted into. Values are
// always read and written as a whole.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// ReachabilityMonitor reports connectivity and its transitions.
type ReachabilityMonitor interface {
	IsConnected() bool
	OnChange(listener func(connected bool)) (unsubscribe func())
}

// EntityHandler applies operations for one entity kind against the remote system.
type EntityHandler interface {
	Apply(ctx context.Context, op models.SyncOperation) error
	RemoteVersion(ctx context.Context, entityID string) (time.Time, error)
}

// EventPublisher receives domain events emitted by the engine.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// SyncService is what the control API needs from the engine.
type SyncService interface {
	Enqueue(ctx context.Context, entity models.EntityKind, kind models.OperationKind, entityID string, payload []byte) (string, error)
	Pending() []models.SyncOperation
	ForceSyncNow() bool
	CurrentStatus() models.Status
	DeadLetters() []models.DeadLetter
	RequeueDeadLetter(ctx context.Context, id string) (models.SyncOperation, error)
	PurgeDeadLetters(ctx context.Context) error
}
