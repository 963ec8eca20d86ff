package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"shopsync/internal/models"
)

// ErrSnapshotNotFound is returned when no local snapshot exists for a
// lookup. The item may still exist on the server.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// UpsertSnapshot stores the agent's optimistic view of an item. Rejects a
// SKU already held by another active item in the same tenant, the same
// hygiene rule the server enforces.
func (q *Queue) UpsertSnapshot(ctx context.Context, item *models.InventoryItem) error {
	var existingID string
	err := q.db.QueryRowContext(ctx,
		"SELECT entity_id FROM item_snapshots WHERE tenant_id = ? AND sku = ? AND active = 1",
		item.TenantID, item.SKU).Scan(&existingID)
	if err == nil && existingID != item.ID {
		return fmt.Errorf("sku %s already in use by item %s", item.SKU, existingID)
	}
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check sku: %w", err)
	}

	active := 0
	if item.Active {
		active = 1
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO item_snapshots (entity_id, tenant_id, sku, name, price, initial_stock, current_stock, refunded, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			sku = excluded.sku,
			name = excluded.name,
			price = excluded.price,
			initial_stock = excluded.initial_stock,
			current_stock = excluded.current_stock,
			refunded = excluded.refunded,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		item.ID, item.TenantID, item.SKU, item.Name, item.Price,
		item.InitialStock, item.CurrentStock, item.Refunded, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the optimistic view of one item.
func (q *Queue) GetSnapshot(ctx context.Context, entityID string) (*models.InventoryItem, error) {
	return q.scanSnapshot(q.db.QueryRowContext(ctx, `
		SELECT entity_id, tenant_id, sku, name, price, initial_stock, current_stock, refunded, active, updated_at
		FROM item_snapshots WHERE entity_id = ?`, entityID))
}

// GetSnapshotBySKU is the scan/search path: exact match only.
func (q *Queue) GetSnapshotBySKU(ctx context.Context, tenantID, sku string) (*models.InventoryItem, error) {
	return q.scanSnapshot(q.db.QueryRowContext(ctx, `
		SELECT entity_id, tenant_id, sku, name, price, initial_stock, current_stock, refunded, active, updated_at
		FROM item_snapshots WHERE tenant_id = ? AND sku = ? AND active = 1`, tenantID, sku))
}

func (q *Queue) scanSnapshot(row *sql.Row) (*models.InventoryItem, error) {
	var item models.InventoryItem
	var active int
	err := row.Scan(&item.ID, &item.TenantID, &item.SKU, &item.Name, &item.Price,
		&item.InitialStock, &item.CurrentStock, &item.Refunded, &active, &item.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	item.Active = active == 1
	return &item, nil
}
