package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shopsync/internal/inventory"
	"shopsync/internal/models"
	"shopsync/internal/queue"
	"shopsync/internal/syncengine"
	"shopsync/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// POSService is the register-facing business logic on the agent. Every
// write validates against the local snapshot, lands in the durable queue,
// and returns; it never waits for the server. The server re-validates
// during sync and its answer is final.
type POSService struct {
	queue    *queue.Queue
	engine   *syncengine.Engine
	tenantID string
	logger   *zap.Logger
}

// NewPOSService creates a new POS service
func NewPOSService(q *queue.Queue, engine *syncengine.Engine, tenantID string) *POSService {
	return &POSService{
		queue:    q,
		engine:   engine,
		tenantID: tenantID,
		logger:   util.GetLogger(),
	}
}

// CreateProductRequest represents a request to create a product
type CreateProductRequest struct {
	SKU          string `json:"sku" binding:"required"`
	Name         string `json:"name" binding:"required"`
	Price        int64  `json:"price"`
	InitialStock int    `json:"initial_stock"`
}

// AdjustRequest represents a sale, refund or restock against a SKU
type AdjustRequest struct {
	SKU      string `json:"sku" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
}

// CreateProduct registers a new product locally and queues it for sync.
func (s *POSService) CreateProduct(ctx context.Context, req *CreateProductRequest) (*models.InventoryItem, error) {
	ctx, span := util.StartSpan(ctx, "POSService.CreateProduct")
	defer span.End()

	payload := &models.CreatePayload{
		SKU:          inventory.NormalizeSKU(req.SKU),
		Name:         req.Name,
		Price:        req.Price,
		InitialStock: req.InitialStock,
	}
	if err := inventory.ValidateCreate(payload); err != nil {
		return nil, err
	}

	if existing, err := s.queue.GetSnapshotBySKU(ctx, s.tenantID, payload.SKU); err == nil && existing != nil {
		return nil, &inventory.ValidationError{
			Reason:  inventory.ReasonDuplicateSKU,
			Message: fmt.Sprintf("sku %s already in use by item %s", payload.SKU, existing.ID),
		}
	}

	now := time.Now()
	item := &models.InventoryItem{
		ID:           uuid.New().String(),
		TenantID:     s.tenantID,
		SKU:          payload.SKU,
		Name:         payload.Name,
		Price:        payload.Price,
		InitialStock: payload.InitialStock,
		CurrentStock: payload.InitialStock,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.submit(ctx, models.OpCreate, item.ID, payload); err != nil {
		return nil, err
	}
	if err := s.queue.UpsertSnapshot(ctx, item); err != nil {
		// The mutation is already durable; the snapshot catches up when the
		// next read falls through to the server.
		s.logger.Warn("Failed to write optimistic snapshot",
			zap.String("item_id", item.ID), zap.Error(err))
	}

	s.logger.Info("Product created locally",
		zap.String("item_id", item.ID),
		zap.String("sku", item.SKU))
	return item, nil
}

// UpdateProduct changes catalog fields. Stock is not updatable here.
func (s *POSService) UpdateProduct(ctx context.Context, itemID string, req *models.UpdatePayload) (*models.InventoryItem, error) {
	ctx, span := util.StartSpan(ctx, "POSService.UpdateProduct")
	defer span.End()

	item, err := s.queue.GetSnapshot(ctx, itemID)
	if err != nil {
		return nil, s.mapLookupErr(itemID, err)
	}
	if !item.Active {
		return nil, &inventory.ValidationError{
			Reason:  inventory.ReasonItemInactive,
			Message: fmt.Sprintf("item %s is deleted", itemID),
		}
	}

	next := *item
	if req.Name != nil {
		next.Name = *req.Name
	}
	if req.Price != nil {
		next.Price = *req.Price
	}
	next.UpdatedAt = time.Now()

	if err := s.submit(ctx, models.OpUpdate, itemID, req); err != nil {
		return nil, err
	}
	s.saveSnapshot(ctx, &next)
	return &next, nil
}

// DeleteProduct deactivates an item. The row survives so refund history
// stays resolvable.
func (s *POSService) DeleteProduct(ctx context.Context, itemID string) error {
	ctx, span := util.StartSpan(ctx, "POSService.DeleteProduct")
	defer span.End()

	item, err := s.queue.GetSnapshot(ctx, itemID)
	if err != nil {
		return s.mapLookupErr(itemID, err)
	}

	if err := s.submit(ctx, models.OpDelete, itemID, struct{}{}); err != nil {
		return err
	}

	next := *item
	next.Active = false
	next.UpdatedAt = time.Now()
	s.saveSnapshot(ctx, &next)
	return nil
}

// Sale records a sale of quantity units. Rejected locally when the
// optimistic stock cannot cover it.
func (s *POSService) Sale(ctx context.Context, req *AdjustRequest) (*models.InventoryItem, error) {
	return s.adjust(ctx, req.SKU, &models.AdjustPayload{Delta: -req.Quantity, Kind: models.AdjustSale})
}

// Refund returns quantity units, bounded by what was sold and not yet
// refunded.
func (s *POSService) Refund(ctx context.Context, req *AdjustRequest) (*models.InventoryItem, error) {
	return s.adjust(ctx, req.SKU, &models.AdjustPayload{Delta: req.Quantity, Kind: models.AdjustRefund})
}

// Restock receives quantity units and re-baselines the initial stock.
func (s *POSService) Restock(ctx context.Context, req *AdjustRequest) (*models.InventoryItem, error) {
	return s.adjust(ctx, req.SKU, &models.AdjustPayload{Delta: req.Quantity, Kind: models.AdjustRestock})
}

func (s *POSService) adjust(ctx context.Context, sku string, payload *models.AdjustPayload) (*models.InventoryItem, error) {
	ctx, span := util.StartSpan(ctx, "POSService.adjust")
	defer span.End()

	item, err := s.queue.GetSnapshotBySKU(ctx, s.tenantID, inventory.NormalizeSKU(sku))
	if err != nil {
		return nil, s.mapLookupErr(sku, err)
	}

	next, err := inventory.ApplyAdjust(item, payload)
	if err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now()

	if err := s.submit(ctx, models.OpAdjustStock, item.ID, payload); err != nil {
		return nil, err
	}
	s.saveSnapshot(ctx, next)

	s.logger.Info("Stock adjusted locally",
		zap.String("sku", item.SKU),
		zap.String("kind", payload.Kind),
		zap.Int("delta", payload.Delta),
		zap.Int("current_stock", next.CurrentStock))
	return next, nil
}

// LookupSKU is the scan path: exact match against the local snapshot.
func (s *POSService) LookupSKU(ctx context.Context, sku string) (*models.InventoryItem, error) {
	item, err := s.queue.GetSnapshotBySKU(ctx, s.tenantID, inventory.NormalizeSKU(sku))
	if err != nil {
		return nil, s.mapLookupErr(sku, err)
	}
	return item, nil
}

// Status reports connectivity, queue depth and retained sync errors.
func (s *POSService) Status(ctx context.Context) syncengine.State {
	return s.engine.State(ctx)
}

// ClearErrors discards retained sync errors after the operator has seen
// them.
func (s *POSService) ClearErrors() {
	s.engine.ClearErrors()
}

// submit makes the mutation durable and wakes the sync engine. The
// idempotency key is minted here, exactly once per logical mutation.
func (s *POSService) submit(ctx context.Context, operation, entityID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	rec := &models.MutationRecord{
		IdempotencyKey: uuid.New().String(),
		EntityType:     models.EntityProduct,
		EntityID:       entityID,
		Operation:      operation,
		Payload:        raw,
	}
	if err := s.engine.Submit(ctx, rec); err != nil {
		return fmt.Errorf("failed to queue mutation: %w", err)
	}
	return nil
}

func (s *POSService) saveSnapshot(ctx context.Context, item *models.InventoryItem) {
	if err := s.queue.UpsertSnapshot(ctx, item); err != nil {
		s.logger.Warn("Failed to write optimistic snapshot",
			zap.String("item_id", item.ID), zap.Error(err))
	}
}

func (s *POSService) mapLookupErr(ref string, err error) error {
	if errors.Is(err, queue.ErrSnapshotNotFound) {
		return &inventory.ValidationError{
			Reason:  inventory.ReasonUnknownItem,
			Message: fmt.Sprintf("no item for %q", ref),
		}
	}
	return err
}
