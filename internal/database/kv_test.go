package database

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"rentsync/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVStore(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	t.Run("MissingKey", func(t *testing.T) {
		_, err := db.Get(ctx, "absent")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = db.UpdatedAt(ctx, "absent")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("SetAndOverwrite", func(t *testing.T) {
		require.NoError(t, db.Set(ctx, "rentsync:queue", []byte(`[1]`)))
		require.NoError(t, db.Set(ctx, "rentsync:queue", []byte(`[1,2]`)))

		got, err := db.Get(ctx, "rentsync:queue")
		require.NoError(t, err)
		assert.JSONEq(t, `[1,2]`, string(got))

		updated, err := db.UpdatedAt(ctx, "rentsync:queue")
		require.NoError(t, err)
		assert.False(t, updated.IsZero())
	})

	t.Run("SurvivesReopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "reopen.db")
		logger := zerolog.New(io.Discard)

		first, err := NewDB(path, &logger)
		require.NoError(t, err)
		require.NoError(t, first.Set(ctx, "key", []byte("durable")))
		require.NoError(t, first.Close())

		second, err := NewDB(path, &logger)
		require.NoError(t, err)
		defer second.Close()

		got, err := second.Get(ctx, "key")
		require.NoError(t, err)
		assert.Equal(t, "durable", string(got))
	})
}

func TestKVStore_ClosedDB(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "closed.db"), nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ctx := context.Background()
	_, err = db.Get(ctx, "k")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
	assert.Error(t, db.Set(ctx, "k", []byte("v")))
}
