package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"rentsync/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverKVStore writes to the primary store and mirrors every write to a
// secondary one, which serves reads and writes while the primary is failing.
// Writes made during an outage are copied back to the primary once it
// recovers.
type FailoverKVStore struct {
	primary  domain.KVStore
	fallback domain.KVStore
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
	dirty     map[string]struct{}
}

func NewFailoverKVStore(primary, fallback domain.KVStore, logger *zerolog.Logger) *FailoverKVStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverKVStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		dirty:    make(map[string]struct{}),
	}
}

func (r *FailoverKVStore) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary kv store failed, switching to fallback")
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

// tryRecover probes the primary once per recovery interval and replays keys
// written to the fallback during the outage.
func (r *FailoverKVStore) tryRecover(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) <= recoveryInterval {
		return false
	}
	r.lastCheck = time.Now()

	for key := range r.dirty {
		val, err := r.fallback.Get(ctx, key)
		if err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("Cannot read dirty key from fallback, retrying recovery later")
			return false
		}
		if err := r.primary.Set(ctx, key, val); err != nil {
			r.logger.Warn().Err(err).Msg("Primary kv store still unavailable")
			return false
		}
		delete(r.dirty, key)
	}
	if _, err := r.primary.Get(ctx, "rentsync:health"); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return false
	}

	r.isDown.Store(false)
	r.logger.Info().Msg("Primary kv store recovered")
	return true
}

func (r *FailoverKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if r.isDown.Load() {
		r.tryRecover(ctx)
	}

	if !r.isDown.Load() {
		val, err := r.primary.Get(ctx, key)
		if err == nil || errors.Is(err, domain.ErrNotFound) {
			return val, err
		}
		r.markDown(err)
	}

	return r.fallback.Get(ctx, key)
}

func (r *FailoverKVStore) Set(ctx context.Context, key string, value []byte) error {
	if r.isDown.Load() {
		r.tryRecover(ctx)
	}

	if !r.isDown.Load() {
		err := r.primary.Set(ctx, key, value)
		if err == nil {
			// The fallback must never lag the primary.
			if err := r.fallback.Set(ctx, key, value); err != nil {
				r.logger.Warn().Err(err).Str("key", key).Msg("Mirror write to fallback failed")
			}
			return nil
		}
		r.markDown(err)
	}

	r.mu.Lock()
	r.dirty[key] = struct{}{}
	r.mu.Unlock()
	return r.fallback.Set(ctx, key, value)
}
