package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"shopsync/internal/models"
	"shopsync/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes inventory domain events after the reconciler
// commits a mutation.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func itemKey(tenantID, itemID string) string {
	return fmt.Sprintf("%s/%s", tenantID, itemID)
}

// PublishItemCreated publishes ItemCreated event
func (ep *EventPublisher) PublishItemCreated(ctx context.Context, event *models.ItemCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, itemKey(event.TenantID, event.ItemID), event)
}

// PublishItemUpdated publishes ItemUpdated event
func (ep *EventPublisher) PublishItemUpdated(ctx context.Context, event *models.ItemUpdatedEvent) error {
	return ep.producer.PublishEvent(ctx, itemKey(event.TenantID, event.ItemID), event)
}

// PublishItemDeleted publishes ItemDeleted event
func (ep *EventPublisher) PublishItemDeleted(ctx context.Context, event *models.ItemDeletedEvent) error {
	return ep.producer.PublishEvent(ctx, itemKey(event.TenantID, event.ItemID), event)
}

// PublishStockAdjusted publishes StockAdjusted event
func (ep *EventPublisher) PublishStockAdjusted(ctx context.Context, event *models.StockAdjustedEvent) error {
	return ep.producer.PublishEvent(ctx, itemKey(event.TenantID, event.ItemID), event)
}

// EventHandler routes consumed inventory events to registered callbacks.
type EventHandler struct {
	logger          *zap.Logger
	onItemCreated   func(context.Context, *models.ItemCreatedEvent) error
	onItemUpdated   func(context.Context, *models.ItemUpdatedEvent) error
	onItemDeleted   func(context.Context, *models.ItemDeletedEvent) error
	onStockAdjusted func(context.Context, *models.StockAdjustedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnItemCreated registers a handler for ItemCreated events
func (eh *EventHandler) OnItemCreated(handler func(context.Context, *models.ItemCreatedEvent) error) {
	eh.onItemCreated = handler
}

// OnItemUpdated registers a handler for ItemUpdated events
func (eh *EventHandler) OnItemUpdated(handler func(context.Context, *models.ItemUpdatedEvent) error) {
	eh.onItemUpdated = handler
}

// OnItemDeleted registers a handler for ItemDeleted events
func (eh *EventHandler) OnItemDeleted(handler func(context.Context, *models.ItemDeletedEvent) error) {
	eh.onItemDeleted = handler
}

// OnStockAdjusted registers a handler for StockAdjusted events
func (eh *EventHandler) OnStockAdjusted(handler func(context.Context, *models.StockAdjustedEvent) error) {
	eh.onStockAdjusted = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeItemCreated:
		if eh.onItemCreated != nil {
			var event models.ItemCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ItemCreated event: %w", err)
			}
			return eh.onItemCreated(ctx, &event)
		}

	case models.EventTypeItemUpdated:
		if eh.onItemUpdated != nil {
			var event models.ItemUpdatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ItemUpdated event: %w", err)
			}
			return eh.onItemUpdated(ctx, &event)
		}

	case models.EventTypeItemDeleted:
		if eh.onItemDeleted != nil {
			var event models.ItemDeletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ItemDeleted event: %w", err)
			}
			return eh.onItemDeleted(ctx, &event)
		}

	case models.EventTypeStockAdjusted:
		if eh.onStockAdjusted != nil {
			var event models.StockAdjustedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal StockAdjusted event: %w", err)
			}
			return eh.onStockAdjusted(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
