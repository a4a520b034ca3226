// Package queue holds the durable, ordered list of pending sync operations.
//
// Every mutation rewrites the whole list to the backing KVStore under a single
// well-known key. A failed write is logged and counted; the in-memory list
// stays authoritative for the lifetime of the process.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"rentsync/internal/domain"
	"rentsync/internal/metrics"
	"rentsync/internal/models"

	"github.com/rs/zerolog"
)

var ErrDeadLetterNotFound = errors.New("dead letter not found")

// Store is safe for concurrent use. Writes to the KVStore happen while the
// store lock is held, so persisted snapshots land in mutation order.
type Store struct {
	kv        domain.KVStore
	deadLimit int
	logger    *zerolog.Logger

	mu   sync.Mutex
	ops  []models.SyncOperation
	dead []models.DeadLetter
}

func NewStore(kv domain.KVStore, deadLetterLimit int, logger *zerolog.Logger) *Store {
	if deadLetterLimit <= 0 {
		deadLetterLimit = models.DefaultDeadLetterLimit
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Store{kv: kv, deadLimit: deadLetterLimit, logger: logger}
}

// Load replaces the in-memory state with what was persisted. A missing or
// unreadable document yields an empty list rather than an error.
func (s *Store) Load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops = nil
	if err := s.read(ctx, models.QueueStorageKey, &s.ops); err != nil {
		s.logger.Warn().Err(err).Msg("queue load failed, starting empty")
		s.ops = nil
	}

	s.dead = nil
	if err := s.read(ctx, models.DeadLetterStorageKey, &s.dead); err != nil {
		s.logger.Warn().Err(err).Msg("dead letter load failed, starting empty")
		s.dead = nil
	}

	if removed := s.dropDeadLettered(); removed > 0 {
		s.logger.Warn().Int("removed", removed).Msg("queue held dead-lettered operations, removing them")
		s.persistQueue(ctx)
	}

	s.logger.Info().Int("pending", len(s.ops)).Int("dead_letters", len(s.dead)).Msg("queue loaded")
}

// dropDeadLettered removes queued operations that also sit in the dead-letter
// list. An interrupted move between the lists leaves the operation in both,
// and the dead-letter copy wins.
func (s *Store) dropDeadLettered() int {
	if len(s.dead) == 0 || len(s.ops) == 0 {
		return 0
	}
	dead := make(map[string]struct{}, len(s.dead))
	for _, d := range s.dead {
		dead[d.Operation.ID] = struct{}{}
	}
	kept := s.ops[:0]
	for _, op := range s.ops {
		if _, ok := dead[op.ID]; !ok {
			kept = append(kept, op)
		}
	}
	removed := len(s.ops) - len(kept)
	s.ops = kept
	return removed
}

func (s *Store) read(ctx context.Context, key string, out any) error {
	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Enqueue appends op to the tail of the queue and persists it.
func (s *Store) Enqueue(ctx context.Context, op models.SyncOperation) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops = append(s.ops, op.Clone())
	s.persistQueue(ctx)
	return op.ID
}

// All returns a copy of the queue in insertion order.
func (s *Store) All() []models.SyncOperation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.SyncOperation, len(s.ops))
	for i, op := range s.ops {
		out[i] = op.Clone()
	}
	return out
}

func (s *Store) Get(id string) (models.SyncOperation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(id); i >= 0 {
		return s.ops[i].Clone(), true
	}
	return models.SyncOperation{}, false
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

// Remove deletes the operation with id. It reports whether it was present.
func (s *Store) Remove(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.ops = append(s.ops[:i], s.ops[i+1:]...)
	s.persistQueue(ctx)
	return true
}

// IncrementRetry records a failed attempt and returns the new retry count.
func (s *Store) IncrementRetry(ctx context.Context, id string, cause string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return 0, false
	}
	s.ops[i].RetryCount++
	s.ops[i].LastError = cause
	s.persistQueue(ctx)
	return s.ops[i].RetryCount, true
}

// DeadLetter moves the operation with id from the queue to the dead-letter
// list. The dead-letter list is written first.
func (s *Store) DeadLetter(ctx context.Context, id string, reason string) (models.DeadLetter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return models.DeadLetter{}, false
	}
	entry := models.DeadLetter{
		Operation: s.ops[i],
		Reason:    reason,
		DroppedAt: time.Now().UTC(),
	}
	s.ops = append(s.ops[:i], s.ops[i+1:]...)

	s.dead = append(s.dead, entry)
	if overflow := len(s.dead) - s.deadLimit; overflow > 0 {
		s.logger.Warn().Int("trimmed", overflow).Msg("dead letter list full, dropping oldest entries")
		s.dead = append([]models.DeadLetter(nil), s.dead[overflow:]...)
	}

	s.persistDeadLetters(ctx)
	s.persistQueue(ctx)
	return entry, true
}

// DeadLetters returns a copy of the dead-letter list, oldest first.
func (s *Store) DeadLetters() []models.DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.DeadLetter, len(s.dead))
	for i, d := range s.dead {
		d.Operation = d.Operation.Clone()
		out[i] = d
	}
	return out
}

func (s *Store) DeadLetterCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dead)
}

// Requeue moves a dead letter back to the tail of the queue with its retry
// count reset. The queue is written before the dead-letter list; until the
// second write lands, a reload keeps the operation dead-lettered.
func (s *Store) Requeue(ctx context.Context, id string) (models.SyncOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, d := range s.dead {
		if d.Operation.ID != id {
			continue
		}
		op := d.Operation
		op.RetryCount = 0
		op.LastError = ""
		s.dead = append(s.dead[:i], s.dead[i+1:]...)
		if j := s.indexOf(id); j >= 0 {
			s.ops[j] = op
		} else {
			s.ops = append(s.ops, op)
		}

		s.persistQueue(ctx)
		s.persistDeadLetters(ctx)
		return op.Clone(), nil
	}
	return models.SyncOperation{}, fmt.Errorf("%w: %s", ErrDeadLetterNotFound, id)
}

// PurgeDeadLetters empties the dead-letter list.
func (s *Store) PurgeDeadLetters(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dead = nil
	s.persistDeadLetters(ctx)
}

func (s *Store) indexOf(id string) int {
	for i := range s.ops {
		if s.ops[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) persistQueue(ctx context.Context) {
	ops := s.ops
	if ops == nil {
		ops = []models.SyncOperation{}
	}
	s.write(ctx, models.QueueStorageKey, ops)
	metrics.SetPending(len(s.ops))
}

func (s *Store) persistDeadLetters(ctx context.Context) {
	dead := s.dead
	if dead == nil {
		dead = []models.DeadLetter{}
	}
	s.write(ctx, models.DeadLetterStorageKey, dead)
}

func (s *Store) write(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		metrics.IncPersistError()
		s.logger.Error().Err(err).Str("key", key).Msg("encode queue for persist")
		return
	}
	// A cancelled caller must not leave storage behind memory.
	if err := s.kv.Set(context.WithoutCancel(ctx), key, data); err != nil {
		metrics.IncPersistError()
		s.logger.Error().Err(err).Str("key", key).Msg("persist queue failed, keeping in-memory state")
	}
}
