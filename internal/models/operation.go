package models

import (
	"encoding/json"
	"time"
)

// EntityKind selects the handler that applies an operation remotely.
type EntityKind string

const (
	EntityProperty    EntityKind = "property"
	EntityTenant      EntityKind = "tenant"
	EntityMaintenance EntityKind = "maintenance"
	EntityPayment     EntityKind = "payment"
)

// OperationKind is the type of remote write.
type OperationKind string

const (
	OpCreate OperationKind = "create"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
)

// Valid reports whether k is one of create, update or delete.
func (k OperationKind) Valid() bool {
	switch k {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// SyncOperation is a local write waiting to be replayed against the remote API.
type SyncOperation struct {
	ID             string          `json:"id"`
	EntityKind     EntityKind      `json:"entity_kind"`
	Kind           OperationKind   `json:"kind"`
	EntityID       string          `json:"entity_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
	RetryCount     int             `json:"retry_count"`
	IdempotencyKey string          `json:"idempotency_key"`
	LastError      string          `json:"last_error,omitempty"`
}

// Clone returns a copy that does not share the payload buffer.
func (op SyncOperation) Clone() SyncOperation {
	if op.Payload != nil {
		op.Payload = append(json.RawMessage(nil), op.Payload...)
	}
	return op
}

// DeadLetter records an operation that was removed without being applied.
type DeadLetter struct {
	Operation SyncOperation `json:"operation"`
	Reason    string        `json:"reason"`
	DroppedAt time.Time     `json:"dropped_at"`
}
