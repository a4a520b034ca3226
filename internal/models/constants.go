package models

import "time"

const (
	// QueueStorageKey is the well-known key holding the ordered pending queue.
	QueueStorageKey = "rentsync:queue"

	// DeadLetterStorageKey holds operations dropped without being applied.
	DeadLetterStorageKey = "rentsync:deadletter"

	// DefaultMaxRetries is the retry ceiling: an operation failing more often is dropped.
	DefaultMaxRetries = 5

	// DefaultCallTimeout bounds a single remote apply or version lookup.
	DefaultCallTimeout = 30 * time.Second

	// DefaultStatusInterval is how often status is republished for UI refresh.
	DefaultStatusInterval = 5 * time.Second

	// DefaultDeadLetterLimit caps the dead-letter list; oldest entries are trimmed.
	DefaultDeadLetterLimit = 100
)

const (
	DropReasonRetriesExhausted = "retry ceiling exhausted"
	DropReasonUnregistered     = "unregistered entity kind"
)
