package models

import "time"

// Status is the snapshot the UI layer renders: connectivity plus queue depth.
type Status struct {
	Online      bool       `json:"online"`
	Pending     int        `json:"pending"`
	Syncing     bool       `json:"syncing"`
	DeadLetters int        `json:"dead_letters"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
}
