package models

import (
	"encoding/json"
	"time"
)

// Mutation operations
const (
	OpCreate      = "create"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpAdjustStock = "adjustStock"
)

// Mutation statuses
const (
	StatusPending      = "pending"
	StatusInFlight     = "inFlight"
	StatusAcknowledged = "acknowledged"
	StatusFailed       = "failed"
)

// Entity types
const (
	EntityProduct = "product"
	EntityVariant = "variant"
)

// Stock adjustment kinds. A sale carries a negative delta, a refund a
// positive delta bounded by what was actually sold, and a restock a
// positive delta that re-baselines the initial stock to the new total.
const (
	AdjustSale    = "sale"
	AdjustRefund  = "refund"
	AdjustRestock = "restock"
)

// MutationRecord is one pending change in the local durable queue. The
// idempotency key is generated once at enqueue time and never regenerated
// on resend, so the server can deduplicate retries of the same logical
// mutation.
type MutationRecord struct {
	IdempotencyKey string          `db:"idempotency_key" json:"idempotency_key"`
	Seq            int64           `db:"seq" json:"-"`
	EntityType     string          `db:"entity_type" json:"entity_type"`
	EntityID       string          `db:"entity_id" json:"entity_id"`
	Operation      string          `db:"operation" json:"operation"`
	Payload        json.RawMessage `db:"payload" json:"payload"`
	Status         string          `db:"status" json:"-"`
	Attempts       int             `db:"attempts" json:"-"`
	LastAttemptAt  *time.Time      `db:"last_attempt_at" json:"-"`
	NextAttemptAt  *time.Time      `db:"next_attempt_at" json:"-"`
	LastError      string          `db:"last_error" json:"-"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// AdjustPayload is the payload for an adjustStock mutation. Delta is a
// signed change, never an absolute value.
type AdjustPayload struct {
	Delta int    `json:"delta"`
	Kind  string `json:"kind"`
}

// CreatePayload is the payload for a create mutation.
type CreatePayload struct {
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Price        int64  `json:"price"`
	InitialStock int    `json:"initial_stock"`
}

// UpdatePayload is the payload for an update mutation. Stock is absent on
// purpose: stock moves only through signed adjustStock deltas.
type UpdatePayload struct {
	Name  *string `json:"name,omitempty"`
	Price *int64  `json:"price,omitempty"`
}

// InventoryItem is a sellable product or variant. InitialStock is set when
// the item enters the system and re-baselined only by an explicit restock;
// sold quantity is derived from it, never stored independently.
type InventoryItem struct {
	ID           string    `db:"id" json:"id"`
	TenantID     string    `db:"tenant_id" json:"tenant_id"`
	SKU          string    `db:"sku" json:"sku"`
	Name         string    `db:"name" json:"name"`
	Price        int64     `db:"price" json:"price"`
	InitialStock int       `db:"initial_stock" json:"initial_stock"`
	CurrentStock int       `db:"current_stock" json:"current_stock"`
	Refunded     int       `db:"refunded" json:"refunded"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
