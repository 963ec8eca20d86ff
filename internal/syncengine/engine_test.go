package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"shopsync/internal/backoff"
	"shopsync/internal/models"
	"shopsync/internal/netmon"
	"shopsync/internal/protocol"
	"shopsync/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReconciler records batches and answers per item.
type fakeReconciler struct {
	mu      sync.Mutex
	batches [][]models.MutationRecord
	respond func(models.MutationRecord) protocol.ItemResult
	err     error
	block   chan struct{}
}

func (f *fakeReconciler) Reconcile(ctx context.Context, req *protocol.SyncRequest) (*protocol.SyncResponse, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, append([]models.MutationRecord(nil), req.Mutations...))
	resp := &protocol.SyncResponse{Success: true}
	for _, m := range req.Mutations {
		if f.respond != nil {
			resp.Results = append(resp.Results, f.respond(m))
		} else {
			resp.Results = append(resp.Results, protocol.Acknowledged(m.IdempotencyKey))
		}
	}
	return resp, nil
}

func (f *fakeReconciler) received() []models.MutationRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []models.MutationRecord
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}

func newTestEngine(t *testing.T, rec Reconciler, policy backoff.Policy) (*Engine, *queue.Queue, *netmon.Monitor) {
	t.Helper()
	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	mon := netmon.New(nil, time.Minute)
	e := New(q, mon, rec, Options{Policy: policy, BatchSize: 10})
	return e, q, mon
}

func mutation(key, entityID, op string) *models.MutationRecord {
	payload, _ := json.Marshal(models.AdjustPayload{Delta: -1, Kind: models.AdjustSale})
	return &models.MutationRecord{
		IdempotencyKey: key,
		EntityType:     models.EntityProduct,
		EntityID:       entityID,
		Operation:      op,
		Payload:        payload,
	}
}

func TestDrainAcknowledgesInOrder(t *testing.T) {
	fake := &fakeReconciler{}
	e, q, mon := newTestEngine(t, fake, backoff.Default())
	ctx := context.Background()
	mon.SetOnline(true)

	require.NoError(t, e.Submit(ctx, mutation("key-1", "item-x", models.OpCreate)))
	require.NoError(t, e.Submit(ctx, mutation("key-2", "item-x", models.OpUpdate)))
	require.NoError(t, e.Submit(ctx, mutation("key-3", "item-y", models.OpAdjustStock)))

	e.SyncOnce(ctx)

	got := fake.received()
	require.Len(t, got, 3)
	// The update for item-x must never arrive before its create.
	assert.Equal(t, "key-1", got[0].IdempotencyKey)
	assert.Equal(t, "key-2", got[1].IdempotencyKey)

	n, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestOfflineIsNoOp(t *testing.T) {
	fake := &fakeReconciler{}
	e, _, mon := newTestEngine(t, fake, backoff.Default())
	ctx := context.Background()
	mon.SetOnline(false)

	require.NoError(t, e.Submit(ctx, mutation("key-1", "item-x", models.OpCreate)))
	e.SyncOnce(ctx)

	assert.Empty(t, fake.received())
	state := e.State(ctx)
	assert.False(t, state.IsOnline)
	assert.Equal(t, 1, state.PendingCount)
}

func TestSingleFlight(t *testing.T) {
	fake := &fakeReconciler{block: make(chan struct{})}
	e, _, mon := newTestEngine(t, fake, backoff.Default())
	ctx := context.Background()
	mon.SetOnline(true)

	require.NoError(t, e.Submit(ctx, mutation("key-1", "item-x", models.OpCreate)))

	done := make(chan struct{})
	go func() {
		e.SyncOnce(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return e.State(ctx).IsSyncing },
		time.Second, time.Millisecond)

	// Re-entrant call while syncing returns immediately without a second
	// reconcile.
	e.SyncOnce(ctx)

	close(fake.block)
	<-done
	assert.Len(t, fake.batches, 1)
}

func TestTransportFailureReschedulesWholeBatch(t *testing.T) {
	fake := &fakeReconciler{err: &protocol.TransientError{Cause: errors.New("connection refused")}}
	policy := backoff.Policy{Base: time.Hour, Max: time.Hour, MaxAttempts: 5}
	e, q, mon := newTestEngine(t, fake, policy)
	ctx := context.Background()
	mon.SetOnline(true)

	require.NoError(t, e.Submit(ctx, mutation("key-1", "item-x", models.OpAdjustStock)))
	e.SyncOnce(ctx)

	pending, err := q.ListUnresolved(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.StatusPending, pending[0].Status)
	assert.Equal(t, 1, pending[0].Attempts)
	require.NotNil(t, pending[0].NextAttemptAt)

	// Backoff has not elapsed: the next pass must not resend.
	fake.mu.Lock()
	fake.err = nil
	fake.mu.Unlock()
	e.SyncOnce(ctx)
	assert.Empty(t, fake.received())
}

func TestRetryCeilingGoesTerminal(t *testing.T) {
	fake := &fakeReconciler{err: &protocol.TransientError{Cause: errors.New("server busy")}}
	policy := backoff.Policy{Base: time.Nanosecond, Max: time.Nanosecond, MaxAttempts: 3}
	e, q, mon := newTestEngine(t, fake, policy)
	ctx := context.Background()
	mon.SetOnline(true)

	require.NoError(t, e.Submit(ctx, mutation("key-1", "item-x", models.OpAdjustStock)))

	for i := 0; i < 3; i++ {
		time.Sleep(time.Millisecond) // let the nanosecond backoff elapse
		e.SyncOnce(ctx)
	}

	failed, err := q.TerminalFailures(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].Attempts)

	// Terminal means terminal: another pass sends nothing.
	fake.mu.Lock()
	fake.err = nil
	fake.mu.Unlock()
	e.SyncOnce(ctx)
	assert.Empty(t, fake.received())

	state := e.State(ctx)
	require.NotEmpty(t, state.Errors)
	assert.True(t, state.Errors[len(state.Errors)-1].Terminal)
}

func TestPermanentRejectionNotRetried(t *testing.T) {
	fake := &fakeReconciler{respond: func(m models.MutationRecord) protocol.ItemResult {
		return protocol.Rejected(m.IdempotencyKey, "STOCK_WOULD_GO_NEGATIVE")
	}}
	e, q, mon := newTestEngine(t, fake, backoff.Default())
	ctx := context.Background()
	mon.SetOnline(true)

	require.NoError(t, e.Submit(ctx, mutation("key-1", "item-x", models.OpAdjustStock)))
	e.SyncOnce(ctx)

	failed, err := q.TerminalFailures(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "STOCK_WOULD_GO_NEGATIVE", failed[0].LastError)

	state := e.State(ctx)
	require.Len(t, state.Errors, 1)
	assert.Equal(t, "STOCK_WOULD_GO_NEGATIVE", state.Errors[0].Reason)
}

func TestBlockedEntityHoldsBackLaterMutations(t *testing.T) {
	fake := &fakeReconciler{err: &protocol.TransientError{Cause: errors.New("unreachable")}}
	policy := backoff.Policy{Base: time.Hour, Max: time.Hour, MaxAttempts: 5}
	e, _, mon := newTestEngine(t, fake, policy)
	ctx := context.Background()
	mon.SetOnline(true)

	require.NoError(t, e.Submit(ctx, mutation("key-1", "item-x", models.OpCreate)))
	e.SyncOnce(ctx) // fails, item-x create now waiting on backoff

	require.NoError(t, e.Submit(ctx, mutation("key-2", "item-x", models.OpUpdate)))
	require.NoError(t, e.Submit(ctx, mutation("key-3", "item-y", models.OpCreate)))

	fake.mu.Lock()
	fake.err = nil
	fake.mu.Unlock()
	e.SyncOnce(ctx)

	// item-y proceeds; item-x's update waits behind its blocked create.
	got := fake.received()
	require.Len(t, got, 1)
	assert.Equal(t, "key-3", got[0].IdempotencyKey)
}

func TestSubscribersGetPushedState(t *testing.T) {
	fake := &fakeReconciler{}
	e, _, mon := newTestEngine(t, fake, backoff.Default())
	ctx := context.Background()
	mon.SetOnline(true)

	ch, cancel := e.Subscribe()
	defer cancel()

	require.NoError(t, e.Submit(ctx, mutation("key-1", "item-x", models.OpCreate)))

	select {
	case state := <-ch:
		assert.Equal(t, 1, state.PendingCount)
	case <-time.After(time.Second):
		t.Fatal("no state pushed after submit")
	}

	e.SyncOnce(ctx)

	select {
	case state := <-ch:
		assert.Equal(t, 0, state.PendingCount)
		assert.False(t, state.LastSyncTime.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no state pushed after sync pass")
	}
}

func TestRunDrainsOnOnlineEdge(t *testing.T) {
	fake := &fakeReconciler{}
	e, q, mon := newTestEngine(t, fake, backoff.Default())
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()

	mon.SetOnline(false)
	require.NoError(t, e.Submit(ctx, mutation("key-1", "item-x", models.OpCreate)))

	go e.Run(ctx)
	defer e.Stop()

	mon.SetOnline(true)

	require.Eventually(t, func() bool {
		n, err := q.PendingCount(ctx)
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
}
