package queue

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"shopsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestQueue(t *testing.T) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	q, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q, path
}

func record(key, entityID, op string) *models.MutationRecord {
	payload, _ := json.Marshal(models.AdjustPayload{Delta: -1, Kind: models.AdjustSale})
	return &models.MutationRecord{
		IdempotencyKey: key,
		EntityType:     models.EntityProduct,
		EntityID:       entityID,
		Operation:      op,
		Payload:        payload,
	}
}

func TestEnqueueAssignsSeqInOrder(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	a := record("key-a", "item-1", models.OpCreate)
	b := record("key-b", "item-1", models.OpUpdate)
	require.NoError(t, q.Enqueue(ctx, a))
	require.NoError(t, q.Enqueue(ctx, b))

	assert.Less(t, a.Seq, b.Seq)

	pending, err := q.ListUnresolved(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "key-a", pending[0].IdempotencyKey)
	assert.Equal(t, "key-b", pending[1].IdempotencyKey)
}

func TestEnqueueDuplicateKeyRejected(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, record("key-a", "item-1", models.OpCreate)))
	err := q.Enqueue(ctx, record("key-a", "item-2", models.OpCreate))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateKey))
}

func TestDurabilityAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	q, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, record("key-a", "item-1", models.OpAdjustStock)))
	require.NoError(t, q.MarkInFlight(ctx, []string{"key-a"}))
	require.NoError(t, q.Close())

	// Simulated process restart: the in-flight mutation must come back as
	// pending and be drained on the next pass.
	q2, err := Open(path)
	require.NoError(t, err)
	defer q2.Close()
	require.NoError(t, q2.RequeueInFlight(ctx))

	pending, err := q2.ListUnresolved(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.StatusPending, pending[0].Status)
	assert.Equal(t, "key-a", pending[0].IdempotencyKey)
}

func TestMarkAcknowledgedIsIdempotent(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, record("key-a", "item-1", models.OpAdjustStock)))
	require.NoError(t, q.MarkAcknowledged(ctx, "key-a"))
	require.NoError(t, q.MarkAcknowledged(ctx, "key-a"))

	n, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMarkFailedRetryThenTerminal(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, record("key-a", "item-1", models.OpAdjustStock)))

	next := time.Now().UTC().Add(time.Second)
	require.NoError(t, q.MarkFailed(ctx, "key-a", "server busy", &next, false))

	pending, err := q.ListUnresolved(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.StatusPending, pending[0].Status)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "server busy", pending[0].LastError)
	require.NotNil(t, pending[0].NextAttemptAt)

	require.NoError(t, q.MarkFailed(ctx, "key-a", "validation rejected", nil, true))

	failed, err := q.TerminalFailures(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, models.StatusFailed, failed[0].Status)
	assert.Equal(t, 2, failed[0].Attempts)
}

func TestListUnresolvedFiltersByEntity(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, record("key-a", "item-1", models.OpCreate)))
	require.NoError(t, q.Enqueue(ctx, record("key-b", "item-2", models.OpCreate)))
	require.NoError(t, q.Enqueue(ctx, record("key-c", "item-1", models.OpUpdate)))

	got, err := q.ListUnresolved(ctx, "item-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "key-a", got[0].IdempotencyKey)
	assert.Equal(t, "key-c", got[1].IdempotencyKey)
}

func TestSnapshotRoundTripAndSKULookup(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	item := &models.InventoryItem{
		ID:           "item-1",
		TenantID:     "shop-1",
		SKU:          "WIDGET-1",
		Name:         "Widget",
		Price:        500,
		InitialStock: 5,
		CurrentStock: 5,
		Active:       true,
	}
	require.NoError(t, q.UpsertSnapshot(ctx, item))

	got, err := q.GetSnapshotBySKU(ctx, "shop-1", "WIDGET-1")
	require.NoError(t, err)
	assert.Equal(t, "item-1", got.ID)
	assert.Equal(t, 5, got.CurrentStock)

	// Same SKU on a different item is rejected, not silently renamed.
	dup := *item
	dup.ID = "item-2"
	err = q.UpsertSnapshot(ctx, &dup)
	require.Error(t, err)
}
