// Package syncengine drives the local mutation queue against the remote
// reconciliation endpoint.
package syncengine

import (
	"context"
	"sync"
	"time"

	"shopsync/internal/backoff"
	"shopsync/internal/models"
	"shopsync/internal/netmon"
	"shopsync/internal/protocol"
	"shopsync/internal/queue"
	"shopsync/internal/util"

	"go.uber.org/zap"
)

// Reconciler submits an ordered batch to the server of record.
type Reconciler interface {
	Reconcile(ctx context.Context, req *protocol.SyncRequest) (*protocol.SyncResponse, error)
}

// SyncError is a surfaced per-mutation failure.
type SyncError struct {
	IdempotencyKey string    `json:"idempotency_key"`
	EntityID       string    `json:"entity_id"`
	Reason         string    `json:"reason"`
	Message        string    `json:"message"`
	Terminal       bool      `json:"terminal"`
	At             time.Time `json:"at"`
}

// State is the aggregate view pushed to subscribers after every change.
type State struct {
	IsOnline     bool        `json:"is_online"`
	IsSyncing    bool        `json:"is_syncing"`
	PendingCount int         `json:"pending_count"`
	Errors       []SyncError `json:"errors"`
	LastSyncTime time.Time   `json:"last_sync_time"`
}

// Options configures an Engine.
type Options struct {
	Policy         backoff.Policy
	BatchSize      int
	FlushInterval  time.Duration
	RequestTimeout time.Duration
}

// Engine owns its queue handle and subscriber list; one instance per
// process/tenant, passed by reference. No package-level sync state exists
// on purpose.
type Engine struct {
	queue      *queue.Queue
	monitor    *netmon.Monitor
	reconciler Reconciler
	opts       Options
	logger     *zap.Logger

	mu       sync.Mutex
	syncing  bool
	errors   []SyncError
	lastSync time.Time
	subs     map[int]chan State
	nextSub  int

	kick chan struct{}
	stop chan struct{}
	once sync.Once
}

// New creates an engine. Call Run to start the background drain loop.
func New(q *queue.Queue, mon *netmon.Monitor, rec Reconciler, opts Options) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = backoff.Default()
	}
	return &Engine{
		queue:      q,
		monitor:    mon,
		reconciler: rec,
		opts:       opts,
		logger:     util.NamedLogger("syncengine"),
		subs:       make(map[int]chan State),
		kick:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
}

// Submit appends a mutation to the durable queue and nudges the drain
// loop. It returns as soon as local durability is confirmed; it never
// waits on the network.
func (e *Engine) Submit(ctx context.Context, rec *models.MutationRecord) error {
	if err := e.queue.Enqueue(ctx, rec); err != nil {
		// A local storage failure is surfaced immediately: silently
		// dropping a mutation is the worst failure mode this system has.
		return err
	}
	util.MutationsEnqueuedTotal.WithLabelValues(rec.Operation).Inc()
	e.Kick()
	e.publish(ctx)
	return nil
}

// Kick requests a sync pass without blocking. Coalesces with any pass
// already requested.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is cancelled or Stop is called: on every
// offline->online edge, on explicit kicks, and on a steady flush tick.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-e.monitor.Online():
			e.SyncOnce(ctx)
		case <-e.kick:
			e.SyncOnce(ctx)
		case <-ticker.C:
			e.SyncOnce(ctx)
		}
	}
}

// Stop halts Run.
func (e *Engine) Stop() {
	e.once.Do(func() { close(e.stop) })
}

// SyncOnce performs a single sync pass. Re-entrant calls while a pass is
// in flight are no-ops that return immediately.
func (e *Engine) SyncOnce(ctx context.Context) {
	if !e.monitor.IsOnline() {
		return
	}
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return
	}
	e.syncing = true
	e.mu.Unlock()

	start := time.Now()
	e.publish(ctx)

	outcome := e.runPass(ctx)

	e.mu.Lock()
	e.syncing = false
	e.lastSync = time.Now()
	e.mu.Unlock()

	util.SyncPassLatency.Observe(time.Since(start).Seconds())
	util.SyncPassesTotal.WithLabelValues(outcome).Inc()
	e.publish(ctx)
}

func (e *Engine) runPass(ctx context.Context) (outcome string) {
	ctx, span := util.StartSpan(ctx, "Engine.SyncPass")
	defer span.End()

	batch, err := e.collectBatch(ctx)
	if err != nil {
		e.logger.Error("Failed to read pending mutations", zap.Error(err))
		return "queue_error"
	}
	if len(batch) == 0 {
		return "empty"
	}

	keys := make([]string, len(batch))
	for i, rec := range batch {
		keys[i] = rec.IdempotencyKey
	}
	if err := e.queue.MarkInFlight(ctx, keys); err != nil {
		e.logger.Error("Failed to mark batch in flight", zap.Error(err))
		return "queue_error"
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()
	resp, err := e.reconciler.Reconcile(reqCtx, &protocol.SyncRequest{Mutations: batch})
	if err != nil {
		// Whole-batch failure: the server may have applied any prefix of
		// it, so every item is rescheduled and the idempotency keys make
		// the resend safe.
		e.logger.Warn("Sync batch failed in transport", zap.Int("batch", len(batch)), zap.Error(err))
		for _, rec := range batch {
			e.handleTransient(ctx, &rec, err.Error())
		}
		if protocol.IsTransient(err) {
			return "transport_error"
		}
		return "protocol_error"
	}

	results := make(map[string]protocol.ItemResult, len(resp.Results))
	for _, res := range resp.Results {
		results[res.IdempotencyKey] = res
	}

	for _, rec := range batch {
		res, ok := results[rec.IdempotencyKey]
		if !ok {
			// Server answered but skipped the item; retry it.
			e.handleTransient(ctx, &rec, "missing result for mutation")
			continue
		}
		switch {
		case res.Status == protocol.StatusAcknowledged:
			if err := e.queue.MarkAcknowledged(ctx, rec.IdempotencyKey); err != nil {
				e.logger.Error("Failed to acknowledge mutation",
					zap.String("idempotency_key", rec.IdempotencyKey), zap.Error(err))
				continue
			}
			util.MutationsAcknowledgedTotal.Inc()
		case protocol.TransientReason(res.Reason):
			e.handleTransient(ctx, &rec, res.Reason)
		default:
			e.handlePermanent(ctx, &rec, res.Reason)
		}
	}

	e.logger.Info("Sync pass complete", zap.Int("batch", len(batch)))
	return "ok"
}

// collectBatch returns ready mutations in seq order. An entity whose
// earlier mutation is waiting on backoff, still in flight, or terminally
// failed is held back entirely: a create must never arrive after its
// update, and adjust deltas never jump the line.
func (e *Engine) collectBatch(ctx context.Context) ([]models.MutationRecord, error) {
	all, err := e.queue.ListUnresolved(ctx, "")
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	blocked := make(map[string]bool)
	var batch []models.MutationRecord
	for _, rec := range all {
		if blocked[rec.EntityID] {
			continue
		}
		ready := rec.Status == models.StatusPending &&
			(rec.NextAttemptAt == nil || !rec.NextAttemptAt.After(now))
		if !ready {
			blocked[rec.EntityID] = true
			continue
		}
		batch = append(batch, rec)
		if len(batch) >= e.opts.BatchSize {
			break
		}
	}
	return batch, nil
}

func (e *Engine) handleTransient(ctx context.Context, rec *models.MutationRecord, msg string) {
	attempts := rec.Attempts + 1
	if e.opts.Policy.Exhausted(attempts) {
		if err := e.queue.MarkFailed(ctx, rec.IdempotencyKey, msg, nil, true); err != nil {
			e.logger.Error("Failed to mark mutation terminal", zap.Error(err))
			return
		}
		util.MutationsExhaustedTotal.Inc()
		e.recordError(SyncError{
			IdempotencyKey: rec.IdempotencyKey,
			EntityID:       rec.EntityID,
			Reason:         "RETRY_EXHAUSTED",
			Message:        msg,
			Terminal:       true,
			At:             time.Now(),
		})
		e.logger.Error("Mutation hit retry ceiling",
			zap.String("idempotency_key", rec.IdempotencyKey),
			zap.Int("attempts", attempts))
		return
	}

	next := time.Now().UTC().Add(e.opts.Policy.NextDelay(rec.Attempts))
	if err := e.queue.MarkFailed(ctx, rec.IdempotencyKey, msg, &next, false); err != nil {
		e.logger.Error("Failed to reschedule mutation", zap.Error(err))
		return
	}
	util.MutationsRetriedTotal.Inc()
}

func (e *Engine) handlePermanent(ctx context.Context, rec *models.MutationRecord, reason string) {
	if err := e.queue.MarkFailed(ctx, rec.IdempotencyKey, reason, nil, true); err != nil {
		e.logger.Error("Failed to mark mutation rejected", zap.Error(err))
		return
	}
	util.MutationsRejectedTotal.WithLabelValues(reason).Inc()
	e.recordError(SyncError{
		IdempotencyKey: rec.IdempotencyKey,
		EntityID:       rec.EntityID,
		Reason:         reason,
		Message:        "rejected by server",
		Terminal:       true,
		At:             time.Now(),
	})
	e.logger.Warn("Mutation permanently rejected",
		zap.String("idempotency_key", rec.IdempotencyKey),
		zap.String("reason", reason))
}

const maxRetainedErrors = 50

func (e *Engine) recordError(se SyncError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors = append(e.errors, se)
	if len(e.errors) > maxRetainedErrors {
		e.errors = e.errors[len(e.errors)-maxRetainedErrors:]
	}
}

// ClearErrors drops surfaced errors after the UI has shown them.
func (e *Engine) ClearErrors() {
	e.mu.Lock()
	e.errors = nil
	e.mu.Unlock()
}

// State snapshots the aggregate sync state.
func (e *Engine) State(ctx context.Context) State {
	pending, err := e.queue.PendingCount(ctx)
	if err != nil {
		e.logger.Error("Failed to count pending mutations", zap.Error(err))
	}
	util.QueuePendingGauge.Set(float64(pending))

	e.mu.Lock()
	defer e.mu.Unlock()
	errs := make([]SyncError, len(e.errors))
	copy(errs, e.errors)
	return State{
		IsOnline:     e.monitor.IsOnline(),
		IsSyncing:    e.syncing,
		PendingCount: pending,
		Errors:       errs,
		LastSyncTime: e.lastSync,
	}
}

// Subscribe registers a push-based state observer. The channel always
// holds the most recent state; slow consumers never block the engine.
// The returned func unsubscribes.
func (e *Engine) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
	return ch, cancel
}

func (e *Engine) publish(ctx context.Context) {
	state := e.State(ctx)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case <-ch: // replace stale state
		default:
		}
		select {
		case ch <- state:
		default:
		}
	}
}
