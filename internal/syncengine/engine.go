// Package syncengine replays queued local writes against the remote API.
//
// A pass walks a snapshot of the queue front to back, one operation at a
// time, and stops at the first failure so that a later write to an entity can
// never overtake an earlier one. Only one pass runs at a time.
package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"rentsync/internal/config"
	"rentsync/internal/conflict"
	"rentsync/internal/domain"
	"rentsync/internal/events"
	"rentsync/internal/metrics"
	"rentsync/internal/models"
	"rentsync/internal/queue"
	"rentsync/internal/status"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidOperation = errors.New("invalid operation")
	ErrClosed           = errors.New("sync engine closed")
)

// HandlerRegistry resolves the handler for an entity kind.
type HandlerRegistry interface {
	Lookup(kind models.EntityKind) (domain.EntityHandler, error)
}

// Deps are the collaborators an Engine needs. Events and Logger are optional.
type Deps struct {
	Store    *queue.Store
	Handlers HandlerRegistry
	Resolver conflict.Resolver
	Monitor  domain.ReachabilityMonitor
	Notifier *status.Notifier
	Events   domain.EventPublisher
	Logger   *zerolog.Logger
}

type Engine struct {
	store    *queue.Store
	handlers HandlerRegistry
	resolver conflict.Resolver
	monitor  domain.ReachabilityMonitor
	notifier *status.Notifier
	events   domain.EventPublisher
	logger   *zerolog.Logger

	maxRetries     int
	callTimeout    time.Duration
	statusInterval time.Duration

	running  atomic.Bool
	rerun    atomic.Bool
	lastSync atomic.Pointer[time.Time]

	mu          sync.Mutex
	closed      bool
	started     bool
	baseCtx     context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	passes      sync.WaitGroup
	background  sync.WaitGroup
}

func New(deps Deps, cfg config.SyncConfig) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("sync engine: queue store is required")
	case deps.Handlers == nil:
		return nil, errors.New("sync engine: handler registry is required")
	case deps.Monitor == nil:
		return nil, errors.New("sync engine: reachability monitor is required")
	case deps.Notifier == nil:
		return nil, errors.New("sync engine: status notifier is required")
	}
	if deps.Resolver == nil {
		deps.Resolver = conflict.ClientWins{}
	}
	if deps.Logger == nil {
		nop := zerolog.Nop()
		deps.Logger = &nop
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = models.DefaultMaxRetries
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = models.DefaultCallTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:          deps.Store,
		handlers:       deps.Handlers,
		resolver:       deps.Resolver,
		monitor:        deps.Monitor,
		notifier:       deps.Notifier,
		events:         deps.Events,
		logger:         deps.Logger,
		maxRetries:     cfg.MaxRetries,
		callTimeout:    cfg.CallTimeout,
		statusInterval: cfg.StatusInterval,
		baseCtx:        ctx,
		cancel:         cancel,
	}, nil
}

// Start subscribes to connectivity changes and starts the status ticker.
// Passes triggered in the background run under ctx. If the device is online
// and operations survived a restart, a pass starts right away.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.cancel()
	e.baseCtx, e.cancel = context.WithCancel(ctx)
	e.unsubscribe = e.monitor.OnChange(e.onConnectivityChange)
	if e.statusInterval > 0 {
		e.background.Add(1)
		go e.statusLoop(e.baseCtx)
	}
	e.mu.Unlock()

	e.logger.Info().
		Int("pending", e.store.Len()).
		Bool("online", e.monitor.IsConnected()).
		Int("max_retries", e.maxRetries).
		Dur("call_timeout", e.callTimeout).
		Msg("sync engine started")

	e.publishStatus()
	if e.monitor.IsConnected() && e.store.Len() > 0 {
		e.trigger()
	}
	return nil
}

// Close detaches from the monitor, stops the ticker and waits for an
// in-flight pass to finish. Later triggers are ignored.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	cancel := e.cancel
	e.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	cancel()
	e.background.Wait()
	e.passes.Wait()
	e.logger.Info().Int("pending", e.store.Len()).Msg("sync engine stopped")
}

func (e *Engine) statusLoop(ctx context.Context) {
	defer e.background.Done()
	ticker := time.NewTicker(e.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.publishStatus()
		}
	}
}

func (e *Engine) onConnectivityChange(connected bool) {
	e.publishStatus()
	if connected && e.store.Len() > 0 {
		e.logger.Info().Int("pending", e.store.Len()).Msg("back online, replaying queue")
		e.trigger()
	}
}

// Enqueue validates and persists a new operation. When online it also starts
// a pass; the operation is only picked up by a pass that starts after it was
// queued.
func (e *Engine) Enqueue(ctx context.Context, entity models.EntityKind, kind models.OperationKind, entityID string, payload []byte) (string, error) {
	if entity == "" {
		return "", fmt.Errorf("%w: entity kind is required", ErrInvalidOperation)
	}
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown operation kind %q", ErrInvalidOperation, kind)
	}
	if entityID == "" && kind != models.OpCreate {
		return "", fmt.Errorf("%w: entity id is required for %s", ErrInvalidOperation, kind)
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return "", fmt.Errorf("%w: payload is not valid JSON", ErrInvalidOperation)
	}

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return "", ErrClosed
	}

	op := models.SyncOperation{
		ID:             ulid.Make().String(),
		EntityKind:     entity,
		Kind:           kind,
		EntityID:       entityID,
		EnqueuedAt:     time.Now().UTC(),
		IdempotencyKey: uuid.NewString(),
	}
	if len(payload) > 0 {
		op.Payload = append(json.RawMessage(nil), payload...)
	}

	id := e.store.Enqueue(ctx, op)
	e.logger.Debug().
		Str("op_id", id).
		Str("entity_kind", string(entity)).
		Str("kind", string(kind)).
		Str("entity_id", entityID).
		Msg("operation queued")
	e.publishStatus()

	if e.monitor.IsConnected() {
		e.trigger()
	}
	return id, nil
}

// ForceSyncNow starts a pass if the device is online. It returns false when
// offline without touching engine state, and true once a pass was requested.
// A pass that is already running absorbs the request.
func (e *Engine) ForceSyncNow() bool {
	if !e.monitor.IsConnected() {
		return false
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return false
	}
	e.trigger()
	return true
}

// RunOnce runs a pass on the calling goroutine. It returns false without doing
// anything if a pass is already running.
func (e *Engine) RunOnce(ctx context.Context) bool {
	e.mu.Lock()
	if e.closed || !e.running.CompareAndSwap(false, true) {
		e.mu.Unlock()
		return false
	}
	e.passes.Add(1)
	e.mu.Unlock()

	defer e.passes.Done()
	e.runPass(ctx)
	return true
}

// trigger starts a background pass unless one is running. A trigger absorbed
// by a running pass is remembered so that operations queued meanwhile get a
// follow-up pass once the current one drains cleanly.
func (e *Engine) trigger() bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	if !e.running.CompareAndSwap(false, true) {
		e.rerun.Store(true)
		e.mu.Unlock()
		return false
	}
	e.passes.Add(1)
	ctx := e.baseCtx
	e.mu.Unlock()

	go func() {
		defer e.passes.Done()
		e.runPass(ctx)
	}()
	return true
}

// runPass must be entered with running set; it clears it on return.
func (e *Engine) runPass(ctx context.Context) {
	started := time.Now()
	halted := false
	defer func() {
		now := time.Now().UTC()
		e.lastSync.Store(&now)
		e.running.Store(false)
		metrics.ObservePass(time.Since(started).Seconds())
		e.publishStatus()

		if e.rerun.Swap(false) && !halted && e.monitor.IsConnected() && e.store.Len() > 0 {
			e.trigger()
		}
	}()

	snapshot := e.store.All()
	e.publishStatus()

	processed := 0
	for _, op := range snapshot {
		if ctx.Err() != nil {
			halted = true
			break
		}
		if !e.monitor.IsConnected() {
			e.logger.Info().Int("remaining", len(snapshot)-processed).Msg("went offline, pass halted")
			halted = true
			break
		}
		if !e.process(ctx, op) {
			halted = true
			break
		}
		processed++
	}

	e.logger.Debug().
		Int("snapshot", len(snapshot)).
		Int("processed", processed).
		Bool("halted", halted).
		Dur("took", time.Since(started)).
		Msg("sync pass finished")
}

// process handles one operation and reports whether the pass may continue.
func (e *Engine) process(ctx context.Context, op models.SyncOperation) bool {
	log := e.logger.With().
		Str("op_id", op.ID).
		Str("entity_kind", string(op.EntityKind)).
		Str("kind", string(op.Kind)).
		Str("entity_id", op.EntityID).
		Logger()

	handler, err := e.handlers.Lookup(op.EntityKind)
	if err != nil {
		log.Error().Err(err).Msg("dropping operation for unregistered entity kind")
		e.drop(ctx, op, models.DropReasonUnregistered)
		return true
	}

	if op.Kind == models.OpUpdate {
		remoteVersion, err := e.remoteVersion(ctx, handler, op.EntityID)
		if err != nil {
			return e.fail(ctx, op, err, &log)
		}
		res := e.resolver.Resolve(op, remoteVersion)
		if res.Conflict {
			log.Warn().
				Time("enqueued_at", op.EnqueuedAt).
				Time("remote_version", remoteVersion).
				Str("decision", res.Decision.String()).
				Msg("remote changed after local update")
			metrics.IncConflict(string(op.EntityKind))
			e.emit(events.EventConflictDetected, events.ConflictEventPayload{
				OperationID:   op.ID,
				EntityKind:    op.EntityKind,
				EntityID:      op.EntityID,
				EnqueuedAt:    op.EnqueuedAt,
				RemoteVersion: remoteVersion,
				Decision:      res.Decision.String(),
			})
		}
		if res.Decision == conflict.Skip {
			log.Info().Msg("operation resolved without remote write")
			e.store.Remove(ctx, op.ID)
			e.emit(events.EventOperationApplied, events.OperationEventPayload{
				OperationID: op.ID,
				EntityKind:  op.EntityKind,
				Kind:        op.Kind,
				EntityID:    op.EntityID,
				RetryCount:  op.RetryCount,
				Reason:      "skipped by conflict resolver",
			})
			e.publishStatus()
			return true
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	err = handler.Apply(callCtx, op)
	cancel()
	if err != nil {
		return e.fail(ctx, op, err, &log)
	}

	e.store.Remove(ctx, op.ID)
	metrics.IncApplied(string(op.EntityKind), string(op.Kind))
	log.Info().Int("retry_count", op.RetryCount).Msg("operation applied")
	e.emit(events.EventOperationApplied, events.OperationEventPayload{
		OperationID: op.ID,
		EntityKind:  op.EntityKind,
		Kind:        op.Kind,
		EntityID:    op.EntityID,
		RetryCount:  op.RetryCount,
	})
	e.publishStatus()
	return true
}

func (e *Engine) remoteVersion(ctx context.Context, h domain.EntityHandler, entityID string) (time.Time, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return h.RemoteVersion(callCtx, entityID)
}

// fail records a failed attempt and always halts the pass. An attempt cut
// short by shutdown does not count against the operation.
func (e *Engine) fail(ctx context.Context, op models.SyncOperation, cause error, log *zerolog.Logger) bool {
	if ctx.Err() != nil {
		log.Info().Err(cause).Msg("pass cancelled, attempt not counted")
		return false
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		cause = fmt.Errorf("remote call exceeded %s: %w", e.callTimeout, cause)
	}

	count, ok := e.store.IncrementRetry(ctx, op.ID, cause.Error())
	if !ok {
		return false
	}
	metrics.IncFailed(string(op.EntityKind), string(op.Kind))
	log.Warn().Err(cause).Int("retry_count", count).Int("max_retries", e.maxRetries).Msg("operation failed")
	e.emit(events.EventOperationFailed, events.OperationEventPayload{
		OperationID: op.ID,
		EntityKind:  op.EntityKind,
		Kind:        op.Kind,
		EntityID:    op.EntityID,
		RetryCount:  count,
		Error:       cause.Error(),
	})

	if count > e.maxRetries {
		log.Error().Err(cause).Int("retry_count", count).Msg("retry ceiling exhausted, moving operation to dead letters")
		op.RetryCount = count
		e.drop(ctx, op, models.DropReasonRetriesExhausted)
		return false
	}
	e.publishStatus()
	return false
}

func (e *Engine) drop(ctx context.Context, op models.SyncOperation, reason string) {
	if _, ok := e.store.DeadLetter(ctx, op.ID, reason); !ok {
		return
	}
	metrics.IncDropped(string(op.EntityKind), reason)
	e.emit(events.EventOperationDropped, events.OperationEventPayload{
		OperationID: op.ID,
		EntityKind:  op.EntityKind,
		Kind:        op.Kind,
		EntityID:    op.EntityID,
		RetryCount:  op.RetryCount,
		Reason:      reason,
	})
	e.publishStatus()
}

func (e *Engine) emit(eventType string, payload interface{}) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishJSON(eventType, payload); err != nil {
		e.logger.Error().Err(err).Str("event", eventType).Msg("publish event")
	}
}

// Pending returns the queued operations in replay order.
func (e *Engine) Pending() []models.SyncOperation {
	return e.store.All()
}

func (e *Engine) CurrentStatus() models.Status {
	s := models.Status{
		Online:      e.monitor.IsConnected(),
		Pending:     e.store.Len(),
		Syncing:     e.running.Load(),
		DeadLetters: e.store.DeadLetterCount(),
	}
	if last := e.lastSync.Load(); last != nil {
		t := *last
		s.LastSyncAt = &t
	}
	return s
}

func (e *Engine) publishStatus() {
	e.notifier.Refresh(func() models.Status {
		s := e.CurrentStatus()
		metrics.SetOnline(s.Online)
		return s
	})
}

func (e *Engine) DeadLetters() []models.DeadLetter {
	return e.store.DeadLetters()
}

// RequeueDeadLetter puts a dead letter back at the tail of the queue with a
// fresh retry budget.
func (e *Engine) RequeueDeadLetter(ctx context.Context, id string) (models.SyncOperation, error) {
	op, err := e.store.Requeue(ctx, id)
	if err != nil {
		return models.SyncOperation{}, err
	}
	e.logger.Info().Str("op_id", id).Msg("dead letter requeued")
	e.publishStatus()
	if e.monitor.IsConnected() {
		e.trigger()
	}
	return op, nil
}

func (e *Engine) PurgeDeadLetters(ctx context.Context) error {
	n := e.store.DeadLetterCount()
	e.store.PurgeDeadLetters(ctx)
	e.logger.Info().Int("purged", n).Msg("dead letters purged")
	e.publishStatus()
	return nil
}

var _ domain.SyncService = (*Engine)(nil)
