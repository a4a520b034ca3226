// Package handlers maps entity kinds to the code that writes them remotely.
package handlers

import (
	"errors"
	"fmt"
	"sort"

	"rentsync/internal/domain"
	"rentsync/internal/models"
)

// ErrUnregisteredEntity means no handler exists for an entity kind. Such an
// operation can never succeed.
var ErrUnregisteredEntity = errors.New("no handler registered for entity kind")

// Registry is a fixed dispatch table. Register everything before the engine
// starts; lookups are not synchronized with registration.
type Registry struct {
	handlers map[models.EntityKind]domain.EntityHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[models.EntityKind]domain.EntityHandler)}
}

func (r *Registry) Register(kind models.EntityKind, h domain.EntityHandler) {
	r.handlers[kind] = h
}

func (r *Registry) Lookup(kind models.EntityKind) (domain.EntityHandler, error) {
	h, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnregisteredEntity, kind)
	}
	return h, nil
}

// Kinds lists registered entity kinds in sorted order.
func (r *Registry) Kinds() []models.EntityKind {
	kinds := make([]models.EntityKind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
