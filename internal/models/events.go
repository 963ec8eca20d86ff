package models

import "time"

// Event types
const (
	EventTypeItemCreated   = "ITEM_CREATED"
	EventTypeItemUpdated   = "ITEM_UPDATED"
	EventTypeItemDeleted   = "ITEM_DELETED"
	EventTypeStockAdjusted = "STOCK_ADJUSTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ItemCreatedEvent published after the reconciler creates an item
type ItemCreatedEvent struct {
	BaseEvent
	TenantID     string `json:"tenant_id"`
	ItemID       string `json:"item_id"`
	SKU          string `json:"sku"`
	InitialStock int    `json:"initial_stock"`
}

// ItemUpdatedEvent published after catalog fields change
type ItemUpdatedEvent struct {
	BaseEvent
	TenantID string `json:"tenant_id"`
	ItemID   string `json:"item_id"`
	SKU      string `json:"sku"`
}

// ItemDeletedEvent published after an item is deactivated
type ItemDeletedEvent struct {
	BaseEvent
	TenantID string `json:"tenant_id"`
	ItemID   string `json:"item_id"`
	SKU      string `json:"sku"`
}

// StockAdjustedEvent published after a stock delta is applied. Carries the
// resulting counts so cache consumers never recompute them independently.
type StockAdjustedEvent struct {
	BaseEvent
	TenantID     string `json:"tenant_id"`
	ItemID       string `json:"item_id"`
	SKU          string `json:"sku"`
	Delta        int    `json:"delta"`
	Kind         string `json:"kind"`
	CurrentStock int    `json:"current_stock"`
	InitialStock int    `json:"initial_stock"`
}
