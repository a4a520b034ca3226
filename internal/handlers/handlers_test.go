package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"rentsync/internal/models"
	"rentsync/internal/remote"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) Create(ctx context.Context, collection string, body json.RawMessage, key string) error {
	return m.Called(collection, string(body), key).Error(0)
}

func (m *mockWriter) Update(ctx context.Context, collection, id string, body json.RawMessage, key string) error {
	return m.Called(collection, id, string(body), key).Error(0)
}

func (m *mockWriter) Delete(ctx context.Context, collection, id string, key string) error {
	return m.Called(collection, id, key).Error(0)
}

func (m *mockWriter) LastModified(ctx context.Context, collection, id string) (time.Time, error) {
	args := m.Called(collection, id)
	return args.Get(0).(time.Time), args.Error(1)
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewDefaultRegistry(new(mockWriter))

	assert.Equal(t, []models.EntityKind{
		models.EntityMaintenance,
		models.EntityPayment,
		models.EntityProperty,
		models.EntityTenant,
	}, r.Kinds())

	h, err := r.Lookup(models.EntityTenant)
	require.NoError(t, err)
	assert.NotNil(t, h)

	_, err = r.Lookup("parking-spot")
	assert.ErrorIs(t, err, ErrUnregisteredEntity)
	assert.Contains(t, err.Error(), "parking-spot")
}

func TestEntityHandler_Apply(t *testing.T) {
	w := new(mockWriter)
	h := NewEntityHandler(models.EntityPayment, "payments", w)
	ctx := context.Background()

	w.On("Create", "payments", `{"amount":1200}`, "k1").Return(nil).Once()
	w.On("Update", "payments", "pay-7", `{"amount":1300}`, "k2").Return(nil).Once()
	w.On("Delete", "payments", "pay-7", "k3").Return(nil).Once()

	require.NoError(t, h.Apply(ctx, models.SyncOperation{ID: "1", EntityKind: models.EntityPayment, Kind: models.OpCreate, Payload: json.RawMessage(`{"amount":1200}`), IdempotencyKey: "k1"}))
	require.NoError(t, h.Apply(ctx, models.SyncOperation{ID: "2", EntityKind: models.EntityPayment, Kind: models.OpUpdate, EntityID: "pay-7", Payload: json.RawMessage(`{"amount":1300}`), IdempotencyKey: "k2"}))
	require.NoError(t, h.Apply(ctx, models.SyncOperation{ID: "3", EntityKind: models.EntityPayment, Kind: models.OpDelete, EntityID: "pay-7", IdempotencyKey: "k3"}))

	w.AssertExpectations(t)
}

func TestEntityHandler_ApplyErrors(t *testing.T) {
	w := new(mockWriter)
	h := NewEntityHandler(models.EntityTenant, "tenants", w)
	ctx := context.Background()

	err := h.Apply(ctx, models.SyncOperation{EntityKind: models.EntityProperty, Kind: models.OpCreate})
	assert.Error(t, err)

	err = h.Apply(ctx, models.SyncOperation{EntityKind: models.EntityTenant, Kind: models.OpUpdate})
	assert.ErrorContains(t, err, "entity id is required")

	err = h.Apply(ctx, models.SyncOperation{EntityKind: models.EntityTenant, Kind: "upsert"})
	assert.ErrorContains(t, err, "unsupported")

	boom := errors.New("connection reset")
	w.On("Delete", "tenants", "t1", "").Return(boom)
	err = h.Apply(ctx, models.SyncOperation{EntityKind: models.EntityTenant, Kind: models.OpDelete, EntityID: "t1"})
	assert.ErrorIs(t, err, boom)
}

func TestEntityHandler_RemoteVersion(t *testing.T) {
	w := new(mockWriter)
	h := NewEntityHandler(models.EntityProperty, "properties", w)
	stamp := time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC)

	w.On("LastModified", "properties", "p1").Return(stamp, nil)
	w.On("LastModified", "properties", "new").Return(time.Time{}, fmt.Errorf("get: %w", remote.ErrNotFound))
	w.On("LastModified", "properties", "err").Return(time.Time{}, errors.New("timeout"))

	got, err := h.RemoteVersion(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, stamp, got)

	got, err = h.RemoteVersion(context.Background(), "new")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = h.RemoteVersion(context.Background(), "err")
	assert.ErrorContains(t, err, "timeout")
}
