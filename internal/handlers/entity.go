package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rentsync/internal/models"
	"rentsync/internal/remote"
)

// RemoteWriter is the subset of remote.Client the handlers need.
type RemoteWriter interface {
	Create(ctx context.Context, collection string, body json.RawMessage, idempotencyKey string) error
	Update(ctx context.Context, collection, id string, body json.RawMessage, idempotencyKey string) error
	Delete(ctx context.Context, collection, id string, idempotencyKey string) error
	LastModified(ctx context.Context, collection, id string) (time.Time, error)
}

// Collections is the REST collection for every built-in entity kind.
var Collections = map[models.EntityKind]string{
	models.EntityProperty:    "properties",
	models.EntityTenant:      "tenants",
	models.EntityMaintenance: "maintenance-requests",
	models.EntityPayment:     "payments",
}

// EntityHandler writes one entity kind to its REST collection.
type EntityHandler struct {
	kind       models.EntityKind
	collection string
	client     RemoteWriter
}

func NewEntityHandler(kind models.EntityKind, collection string, client RemoteWriter) *EntityHandler {
	return &EntityHandler{kind: kind, collection: collection, client: client}
}

func (h *EntityHandler) Apply(ctx context.Context, op models.SyncOperation) error {
	if op.EntityKind != h.kind {
		return fmt.Errorf("%s handler got %s operation %s", h.kind, op.EntityKind, op.ID)
	}

	var err error
	switch op.Kind {
	case models.OpCreate:
		err = h.client.Create(ctx, h.collection, op.Payload, op.IdempotencyKey)
	case models.OpUpdate:
		if op.EntityID == "" {
			return fmt.Errorf("update %s %s: entity id is required", h.kind, op.ID)
		}
		err = h.client.Update(ctx, h.collection, op.EntityID, op.Payload, op.IdempotencyKey)
	case models.OpDelete:
		if op.EntityID == "" {
			return fmt.Errorf("delete %s %s: entity id is required", h.kind, op.ID)
		}
		err = h.client.Delete(ctx, h.collection, op.EntityID, op.IdempotencyKey)
	default:
		return fmt.Errorf("unsupported operation kind %q", op.Kind)
	}
	if err != nil {
		return fmt.Errorf("%s %s %s: %w", op.Kind, h.kind, op.EntityID, err)
	}
	return nil
}

// RemoteVersion returns the remote last-modified time. An entity the remote
// does not know yields the zero time and no error.
func (h *EntityHandler) RemoteVersion(ctx context.Context, entityID string) (time.Time, error) {
	ts, err := h.client.LastModified(ctx, h.collection, entityID)
	if errors.Is(err, remote.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("remote version of %s %s: %w", h.kind, entityID, err)
	}
	return ts, nil
}

// NewDefaultRegistry registers a handler for every built-in entity kind.
func NewDefaultRegistry(client RemoteWriter) *Registry {
	r := NewRegistry()
	for kind, collection := range Collections {
		r.Register(kind, NewEntityHandler(kind, collection, client))
	}
	return r
}
