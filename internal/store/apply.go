package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"shopsync/internal/inventory"
	"shopsync/internal/models"
	"shopsync/internal/reconcile"

	"github.com/google/uuid"
)

// Apply runs one mutation as a single transaction: idempotency-key check,
// validation, entity write, and key record commit together or not at all.
// The row lock on the product serializes concurrent batches touching the
// same item.
func (s *Store) Apply(ctx context.Context, tenantID string, rec *models.MutationRecord) (*reconcile.Outcome, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var applied bool
	err = tx.GetContext(ctx, &applied,
		"SELECT EXISTS(SELECT 1 FROM applied_mutations WHERE idempotency_key = $1)", rec.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	if applied {
		item, _ := s.getItemTx(ctx, tx, tenantID, rec.EntityID)
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit: %w", err)
		}
		return &reconcile.Outcome{Item: item, Replayed: true}, nil
	}

	var item *models.InventoryItem
	switch rec.Operation {
	case models.OpCreate:
		item, err = s.applyCreate(ctx, tx, tenantID, rec)
	case models.OpUpdate:
		item, err = s.applyUpdate(ctx, tx, tenantID, rec)
	case models.OpDelete:
		item, err = s.applyDelete(ctx, tx, tenantID, rec)
	case models.OpAdjustStock:
		item, err = s.applyAdjust(ctx, tx, tenantID, rec)
	default:
		err = &inventory.ValidationError{
			Reason:  inventory.ReasonMalformedPayload,
			Message: fmt.Sprintf("unknown operation %q", rec.Operation),
		}
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO applied_mutations (idempotency_key, entity_id, operation) VALUES ($1, $2, $3)",
		rec.IdempotencyKey, rec.EntityID, rec.Operation)
	if err != nil {
		return nil, fmt.Errorf("failed to record idempotency key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit mutation: %w", err)
	}
	return &reconcile.Outcome{Item: item}, nil
}

func (s *Store) getItemTx(ctx context.Context, tx queryer, tenantID, id string) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := tx.GetContext(ctx, &item,
		"SELECT * FROM products WHERE tenant_id = $1 AND id = $2", tenantID, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// lockItemTx reads the product row with FOR UPDATE so validation and write
// see the same state.
func (s *Store) lockItemTx(ctx context.Context, tx queryer, tenantID, id string) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := tx.GetContext(ctx, &item,
		"SELECT * FROM products WHERE tenant_id = $1 AND id = $2 FOR UPDATE", tenantID, id)
	if err == sql.ErrNoRows {
		return nil, &inventory.ValidationError{Reason: inventory.ReasonUnknownItem, Message: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock item: %w", err)
	}
	return &item, nil
}

func (s *Store) applyCreate(ctx context.Context, tx queryer, tenantID string, rec *models.MutationRecord) (*models.InventoryItem, error) {
	var p models.CreatePayload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return nil, &inventory.ValidationError{Reason: inventory.ReasonMalformedPayload, Message: err.Error()}
	}
	if err := inventory.ValidateCreate(&p); err != nil {
		return nil, err
	}
	sku := inventory.NormalizeSKU(p.SKU)

	var existingID string
	err := tx.GetContext(ctx, &existingID,
		"SELECT id FROM products WHERE tenant_id = $1 AND sku = $2 AND active", tenantID, sku)
	if err == nil && existingID != rec.EntityID {
		return nil, &inventory.ValidationError{
			Reason:  inventory.ReasonDuplicateSKU,
			Message: fmt.Sprintf("sku %s already in use", sku),
		}
	}
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to check sku: %w", err)
	}

	id := rec.EntityID
	if id == "" {
		id = uuid.New().String()
	}
	var item models.InventoryItem
	err = tx.GetContext(ctx, &item, `
		INSERT INTO products (id, tenant_id, sku, name, price, initial_stock, current_stock)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING *`,
		id, tenantID, sku, p.Name, p.Price, p.InitialStock)
	if err != nil {
		return nil, fmt.Errorf("failed to insert item: %w", err)
	}
	return &item, nil
}

func (s *Store) applyUpdate(ctx context.Context, tx queryer, tenantID string, rec *models.MutationRecord) (*models.InventoryItem, error) {
	var p models.UpdatePayload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return nil, &inventory.ValidationError{Reason: inventory.ReasonMalformedPayload, Message: err.Error()}
	}

	item, err := s.lockItemTx(ctx, tx, tenantID, rec.EntityID)
	if err != nil {
		return nil, err
	}
	if !item.Active {
		return nil, &inventory.ValidationError{Reason: inventory.ReasonItemInactive, Message: item.ID}
	}
	if p.Name != nil {
		item.Name = *p.Name
	}
	if p.Price != nil {
		item.Price = *p.Price
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE products SET name = $1, price = $2, updated_at = NOW() WHERE tenant_id = $3 AND id = $4",
		item.Name, item.Price, tenantID, item.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}
	return item, nil
}

func (s *Store) applyDelete(ctx context.Context, tx queryer, tenantID string, rec *models.MutationRecord) (*models.InventoryItem, error) {
	item, err := s.lockItemTx(ctx, tx, tenantID, rec.EntityID)
	if err != nil {
		return nil, err
	}
	item.Active = false

	_, err = tx.ExecContext(ctx,
		"UPDATE products SET active = FALSE, updated_at = NOW() WHERE tenant_id = $1 AND id = $2",
		tenantID, item.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete item: %w", err)
	}
	return item, nil
}

func (s *Store) applyAdjust(ctx context.Context, tx queryer, tenantID string, rec *models.MutationRecord) (*models.InventoryItem, error) {
	var p models.AdjustPayload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return nil, &inventory.ValidationError{Reason: inventory.ReasonMalformedPayload, Message: err.Error()}
	}

	item, err := s.lockItemTx(ctx, tx, tenantID, rec.EntityID)
	if err != nil {
		return nil, err
	}

	// Same pure functions as the agent's optimistic path.
	next, err := inventory.ApplyAdjust(item, &p)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET current_stock = $1, initial_stock = $2, refunded = $3, updated_at = NOW()
		WHERE tenant_id = $4 AND id = $5`,
		next.CurrentStock, next.InitialStock, next.Refunded, tenantID, next.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to adjust stock: %w", err)
	}
	return next, nil
}

// queryer is the slice of sqlx.Tx the apply helpers need.
type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}
