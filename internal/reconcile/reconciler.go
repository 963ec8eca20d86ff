// Package reconcile applies batches of queued client mutations against the
// authoritative store, at most once per idempotency key.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"shopsync/internal/inventory"
	"shopsync/internal/models"
	"shopsync/internal/protocol"
	"shopsync/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outcome is the result of applying one mutation to the ledger.
type Outcome struct {
	Item     *models.InventoryItem
	Replayed bool
}

// Ledger is the authoritative store. Apply must run the idempotency-key
// check, the validation, the entity write, and the key record as one
// atomic unit: a stock change without its key recorded (or vice versa)
// reopens the double-apply hole this design exists to close.
//
// Apply returns *inventory.ValidationError for permanent rejections and
// any other error for storage trouble (reported transient to the client).
type Ledger interface {
	Apply(ctx context.Context, tenantID string, rec *models.MutationRecord) (*Outcome, error)
}

// EventSink receives domain events after a mutation is applied. May be nil.
type EventSink interface {
	PublishItemCreated(ctx context.Context, event *models.ItemCreatedEvent) error
	PublishItemUpdated(ctx context.Context, event *models.ItemUpdatedEvent) error
	PublishItemDeleted(ctx context.Context, event *models.ItemDeletedEvent) error
	PublishStockAdjusted(ctx context.Context, event *models.StockAdjustedEvent) error
}

// KeyCache is a fast membership check for already-applied idempotency
// keys, short-circuiting the transaction on replays. Advisory only: a
// miss or a cache error falls through to the ledger, which keeps the
// authoritative record. May be nil.
type KeyCache interface {
	MarkKeyApplied(ctx context.Context, key string) error
	IsKeyApplied(ctx context.Context, key string) (bool, error)
}

// Reconciler drives a batch through the ledger in request order.
type Reconciler struct {
	ledger Ledger
	events EventSink
	keys   KeyCache
	logger *zap.Logger
}

// New creates a reconciler. events and keys may be nil.
func New(ledger Ledger, events EventSink, keys KeyCache) *Reconciler {
	return &Reconciler{
		ledger: ledger,
		events: events,
		keys:   keys,
		logger: util.GetLogger(),
	}
}

// Reconcile applies each mutation at most once and answers in request
// order. Mutations for the same entity are never reordered; when an
// earlier mutation for an entity fails transiently, later mutations for
// that entity are answered transient too rather than applied out of order.
func (r *Reconciler) Reconcile(ctx context.Context, tenantID string, req *protocol.SyncRequest) *protocol.SyncResponse {
	ctx, span := util.StartSpan(ctx, "Reconciler.Reconcile")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ReconcileBatchLatency.Observe(time.Since(start).Seconds())
	}()

	resp := &protocol.SyncResponse{Success: true}
	blocked := make(map[string]bool)

	for i := range req.Mutations {
		rec := &req.Mutations[i]

		if blocked[rec.EntityID] {
			resp.Results = append(resp.Results, protocol.Rejected(rec.IdempotencyKey, protocol.ReasonServerBusy))
			continue
		}

		if r.keys != nil {
			if applied, err := r.keys.IsKeyApplied(ctx, rec.IdempotencyKey); err == nil && applied {
				resp.Results = append(resp.Results, protocol.Acknowledged(rec.IdempotencyKey))
				util.ReconcileReplayedTotal.Inc()
				continue
			}
		}

		outcome, err := r.ledger.Apply(ctx, tenantID, rec)
		if err != nil {
			var verr *inventory.ValidationError
			if errors.As(err, &verr) {
				util.ReconcileRejectedTotal.WithLabelValues(verr.Reason).Inc()
				r.logger.Warn("Mutation rejected",
					zap.String("idempotency_key", rec.IdempotencyKey),
					zap.String("entity_id", rec.EntityID),
					zap.String("reason", verr.Reason))
				resp.Results = append(resp.Results, protocol.Rejected(rec.IdempotencyKey, verr.Reason))
				continue
			}
			// Storage failure: transient for this item and for everything
			// queued behind it on the same entity.
			util.ReconcileRejectedTotal.WithLabelValues(protocol.ReasonStorageError).Inc()
			r.logger.Error("Ledger apply failed",
				zap.String("idempotency_key", rec.IdempotencyKey),
				zap.Error(err))
			resp.Results = append(resp.Results, protocol.Rejected(rec.IdempotencyKey, protocol.ReasonStorageError))
			blocked[rec.EntityID] = true
			continue
		}

		resp.Results = append(resp.Results, protocol.Acknowledged(rec.IdempotencyKey))
		if outcome.Replayed {
			// Already applied under this key: acknowledged without
			// reapplying. This is what makes client retries safe.
			util.ReconcileReplayedTotal.Inc()
			continue
		}

		if r.keys != nil {
			if err := r.keys.MarkKeyApplied(ctx, rec.IdempotencyKey); err != nil {
				r.logger.Warn("Failed to cache applied key", zap.Error(err))
			}
		}

		util.ReconcileAppliedTotal.WithLabelValues(rec.Operation).Inc()
		r.publishEvent(ctx, tenantID, rec, outcome.Item)
	}

	return resp
}

func (r *Reconciler) publishEvent(ctx context.Context, tenantID string, rec *models.MutationRecord, item *models.InventoryItem) {
	if r.events == nil || item == nil {
		return
	}

	base := models.BaseEvent{
		EventID:   uuid.New().String(),
		Timestamp: time.Now(),
	}

	var err error
	switch rec.Operation {
	case models.OpCreate:
		base.EventType = models.EventTypeItemCreated
		err = r.events.PublishItemCreated(ctx, &models.ItemCreatedEvent{
			BaseEvent:    base,
			TenantID:     tenantID,
			ItemID:       item.ID,
			SKU:          item.SKU,
			InitialStock: item.InitialStock,
		})
	case models.OpUpdate:
		base.EventType = models.EventTypeItemUpdated
		err = r.events.PublishItemUpdated(ctx, &models.ItemUpdatedEvent{
			BaseEvent: base,
			TenantID:  tenantID,
			ItemID:    item.ID,
			SKU:       item.SKU,
		})
	case models.OpDelete:
		base.EventType = models.EventTypeItemDeleted
		err = r.events.PublishItemDeleted(ctx, &models.ItemDeletedEvent{
			BaseEvent: base,
			TenantID:  tenantID,
			ItemID:    item.ID,
			SKU:       item.SKU,
		})
	case models.OpAdjustStock:
		var p models.AdjustPayload
		_ = json.Unmarshal(rec.Payload, &p)
		base.EventType = models.EventTypeStockAdjusted
		err = r.events.PublishStockAdjusted(ctx, &models.StockAdjustedEvent{
			BaseEvent:    base,
			TenantID:     tenantID,
			ItemID:       item.ID,
			SKU:          item.SKU,
			Delta:        p.Delta,
			Kind:         p.Kind,
			CurrentStock: item.CurrentStock,
			InitialStock: item.InitialStock,
		})
	}
	if err != nil {
		// Events feed caches, not the ledger; losing one is logged, not
		// fatal to the acknowledgement.
		r.logger.Error("Failed to publish inventory event",
			zap.String("operation", rec.Operation),
			zap.Error(err))
	}
}
