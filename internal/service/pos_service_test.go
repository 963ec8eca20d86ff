package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"shopsync/internal/inventory"
	"shopsync/internal/models"
	"shopsync/internal/netmon"
	"shopsync/internal/queue"
	"shopsync/internal/syncengine"

	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*POSService, *queue.Queue) {
	t.Helper()
	q, err := queue.Open(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	// The monitor is never started, so the engine only queues and the
	// register path stays fully local.
	mon := netmon.New(nil, time.Second)
	engine := syncengine.New(q, mon, nil, syncengine.Options{})
	return NewPOSService(q, engine, "tenant-1"), q
}

func createItem(t *testing.T, s *POSService, sku string, stock int) *models.InventoryItem {
	t.Helper()
	item, err := s.CreateProduct(context.Background(), &CreateProductRequest{
		SKU:          sku,
		Name:         "Test item " + sku,
		Price:        1500,
		InitialStock: stock,
	})
	require.NoError(t, err)
	return item
}

func TestSaleUpdatesSnapshotAndQueues(t *testing.T) {
	s, q := newTestService(t)
	ctx := context.Background()
	createItem(t, s, "COF-001", 10)

	item, err := s.Sale(ctx, &AdjustRequest{SKU: "cof-001", Quantity: 3})
	require.NoError(t, err)
	require.Equal(t, 7, item.CurrentStock)

	snap, err := s.LookupSKU(ctx, "COF-001")
	require.NoError(t, err)
	require.Equal(t, 7, snap.CurrentStock)

	pending, err := q.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, pending) // create + adjust

	recs, err := q.ListUnresolved(ctx, "")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, models.OpCreate, recs[0].Operation)
	require.Equal(t, models.OpAdjustStock, recs[1].Operation)
	require.NotEqual(t, recs[0].IdempotencyKey, recs[1].IdempotencyKey)
}

func TestSaleRejectedWhenStockShort(t *testing.T) {
	s, q := newTestService(t)
	ctx := context.Background()
	createItem(t, s, "COF-001", 1)

	_, err := s.Sale(ctx, &AdjustRequest{SKU: "COF-001", Quantity: 2})
	var verr *inventory.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, inventory.ReasonStockWouldGoNegative, verr.Reason)

	// The rejected sale must leave no trace in queue or snapshot.
	snap, err := s.LookupSKU(ctx, "COF-001")
	require.NoError(t, err)
	require.Equal(t, 1, snap.CurrentStock)

	pending, err := q.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, pending)
}

func TestRefundBoundedBySold(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	createItem(t, s, "TEA-002", 5)

	_, err := s.Sale(ctx, &AdjustRequest{SKU: "TEA-002", Quantity: 2})
	require.NoError(t, err)

	_, err = s.Refund(ctx, &AdjustRequest{SKU: "TEA-002", Quantity: 3})
	var verr *inventory.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, inventory.ReasonRefundExceedsSold, verr.Reason)

	item, err := s.Refund(ctx, &AdjustRequest{SKU: "TEA-002", Quantity: 2})
	require.NoError(t, err)
	require.Equal(t, 5, item.CurrentStock)
	require.Equal(t, 2, item.Refunded)
}

func TestRestockRebaselines(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	createItem(t, s, "MUG-003", 4)

	_, err := s.Sale(ctx, &AdjustRequest{SKU: "MUG-003", Quantity: 4})
	require.NoError(t, err)

	item, err := s.Restock(ctx, &AdjustRequest{SKU: "MUG-003", Quantity: 10})
	require.NoError(t, err)
	require.Equal(t, 10, item.CurrentStock)
	require.Equal(t, 14, item.InitialStock)
	require.Equal(t, 4, inventory.SoldQuantity(item))
}

func TestDuplicateSKURejectedLocally(t *testing.T) {
	s, _ := newTestService(t)
	createItem(t, s, "COF-001", 5)

	_, err := s.CreateProduct(context.Background(), &CreateProductRequest{
		SKU:          " cof-001 ",
		Name:         "Same code, different case",
		InitialStock: 1,
	})
	var verr *inventory.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, inventory.ReasonDuplicateSKU, verr.Reason)
}

func TestUnknownSKU(t *testing.T) {
	s, _ := newTestService(t)

	_, err := s.Sale(context.Background(), &AdjustRequest{SKU: "NOPE", Quantity: 1})
	var verr *inventory.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, inventory.ReasonUnknownItem, verr.Reason)
}

func TestDeletedItemRejectsSales(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	item := createItem(t, s, "OLD-004", 5)

	require.NoError(t, s.DeleteProduct(ctx, item.ID))

	// Deactivated items drop out of the scan path entirely.
	_, err := s.Sale(ctx, &AdjustRequest{SKU: "OLD-004", Quantity: 1})
	var verr *inventory.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, inventory.ReasonUnknownItem, verr.Reason)
}

func TestUpdateProductChangesCatalogFields(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	item := createItem(t, s, "CAP-005", 5)

	name := "Renamed"
	price := int64(2000)
	updated, err := s.UpdateProduct(ctx, item.ID, &models.UpdatePayload{Name: &name, Price: &price})
	require.NoError(t, err)
	require.Equal(t, "Renamed", updated.Name)
	require.Equal(t, int64(2000), updated.Price)
	require.Equal(t, 5, updated.CurrentStock)
}

func TestStatusReportsPendingCount(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	createItem(t, s, "COF-001", 5)
	_, err := s.Sale(ctx, &AdjustRequest{SKU: "COF-001", Quantity: 1})
	require.NoError(t, err)

	state := s.Status(ctx)
	require.False(t, state.IsOnline)
	require.Equal(t, 2, state.PendingCount)
	require.Empty(t, state.Errors)
}
