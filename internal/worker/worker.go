package worker

import (
	"context"
	"errors"

	"shopsync/internal/broker"
	"shopsync/internal/models"
	"shopsync/internal/redisclient"
	"shopsync/internal/util"

	"go.uber.org/zap"
)

// CacheWorker keeps the Redis stock read cache in step with the ledger by
// consuming inventory events. The cache is advisory: on any doubt the key
// is dropped and the next read falls through to Postgres.
type CacheWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	cache        *redisclient.Client
	logger       *zap.Logger
}

// NewCacheWorker creates a new cache worker
func NewCacheWorker(consumer *broker.Consumer, cache *redisclient.Client) *CacheWorker {
	w := &CacheWorker{
		consumer: consumer,
		cache:    cache,
		logger:   util.NamedLogger("cacheworker"),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnItemCreated(w.handleItemCreated)
	eventHandler.OnItemUpdated(w.handleItemUpdated)
	eventHandler.OnItemDeleted(w.handleItemDeleted)
	eventHandler.OnStockAdjusted(w.handleStockAdjusted)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *CacheWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting cache worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CacheWorker) Stop() error {
	w.logger.Info("Stopping cache worker")
	return w.consumer.Close()
}

func (w *CacheWorker) handleItemCreated(ctx context.Context, event *models.ItemCreatedEvent) error {
	return w.cache.SetStock(ctx, event.TenantID, event.SKU, event.InitialStock)
}

func (w *CacheWorker) handleItemUpdated(ctx context.Context, event *models.ItemUpdatedEvent) error {
	// Catalog fields do not live in the stock cache. Nothing to do, but the
	// handler stays registered so a future rename can invalidate old keys.
	return nil
}

func (w *CacheWorker) handleItemDeleted(ctx context.Context, event *models.ItemDeletedEvent) error {
	return w.cache.DropStock(ctx, event.TenantID, event.SKU)
}

func (w *CacheWorker) handleStockAdjusted(ctx context.Context, event *models.StockAdjustedEvent) error {
	// The event carries the authoritative post-adjust count, so a miss or a
	// stale key is repaired by writing that count rather than replaying deltas.
	_, err := w.cache.AdjustStock(ctx, event.TenantID, event.SKU, event.Delta)
	if errors.Is(err, redisclient.ErrCacheMiss) || errors.Is(err, redisclient.ErrCacheStale) {
		w.logger.Warn("Rebuilding stock cache entry",
			zap.String("sku", event.SKU),
			zap.String("tenant_id", event.TenantID))
		return w.cache.SetStock(ctx, event.TenantID, event.SKU, event.CurrentStock)
	}
	return err
}
