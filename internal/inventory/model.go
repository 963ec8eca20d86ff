// Package inventory holds the pure stock-consistency functions shared by
// the agent's optimistic path and the server's authoritative path. Both
// sides apply the same mutation payload through the same functions, so the
// derived quantities can never drift between them.
package inventory

import (
	"fmt"
	"strings"

	"shopsync/internal/models"
)

// ValidationError is a permanent rejection. It carries a protocol reason
// code and must not be retried without user intervention.
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// Reason codes shared with the reconciliation protocol.
const (
	ReasonStockWouldGoNegative = "STOCK_WOULD_GO_NEGATIVE"
	ReasonRefundExceedsSold    = "REFUND_EXCEEDS_SOLD"
	ReasonDuplicateSKU         = "DUPLICATE_SKU"
	ReasonUnknownItem          = "UNKNOWN_ITEM"
	ReasonMalformedPayload     = "MALFORMED_PAYLOAD"
	ReasonItemInactive         = "ITEM_INACTIVE"
)

// SoldQuantity derives units consumed from the baseline, clamped to >= 0.
func SoldQuantity(item *models.InventoryItem) int {
	sold := item.InitialStock - item.CurrentStock
	if sold < 0 {
		return 0
	}
	return sold
}

// MaxRefundable bounds refunds by what was actually sold and not yet
// refunded.
func MaxRefundable(item *models.InventoryItem) int {
	max := SoldQuantity(item) - item.Refunded
	if max < 0 {
		return 0
	}
	return max
}

// ValidateAdjust checks a signed stock delta against the item. A delta that
// would drive stock below zero is rejected, not clamped: clamping silently
// swallows a sale and the books never balance again.
func ValidateAdjust(item *models.InventoryItem, p *models.AdjustPayload) error {
	if !item.Active {
		return &ValidationError{Reason: ReasonItemInactive, Message: fmt.Sprintf("item %s is deleted", item.ID)}
	}
	switch p.Kind {
	case models.AdjustSale:
		if p.Delta >= 0 {
			return &ValidationError{Reason: ReasonMalformedPayload, Message: "sale delta must be negative"}
		}
		if item.CurrentStock+p.Delta < 0 {
			return &ValidationError{
				Reason:  ReasonStockWouldGoNegative,
				Message: fmt.Sprintf("stock %d, delta %d", item.CurrentStock, p.Delta),
			}
		}
	case models.AdjustRefund:
		if p.Delta <= 0 {
			return &ValidationError{Reason: ReasonMalformedPayload, Message: "refund delta must be positive"}
		}
		if p.Delta > MaxRefundable(item) {
			return &ValidationError{
				Reason:  ReasonRefundExceedsSold,
				Message: fmt.Sprintf("refund %d exceeds refundable %d", p.Delta, MaxRefundable(item)),
			}
		}
	case models.AdjustRestock:
		if p.Delta <= 0 {
			return &ValidationError{Reason: ReasonMalformedPayload, Message: "restock delta must be positive"}
		}
	default:
		return &ValidationError{Reason: ReasonMalformedPayload, Message: fmt.Sprintf("unknown adjust kind %q", p.Kind)}
	}
	return nil
}

// ApplyAdjust applies a validated delta and returns the updated item.
// A refund counts against the refunded total; a restock re-baselines
// initial stock to the new total without erasing the sold history that
// in-flight refunds depend on.
func ApplyAdjust(item *models.InventoryItem, p *models.AdjustPayload) (*models.InventoryItem, error) {
	if err := ValidateAdjust(item, p); err != nil {
		return nil, err
	}
	next := *item
	next.CurrentStock += p.Delta
	switch p.Kind {
	case models.AdjustRefund:
		next.Refunded += p.Delta
	case models.AdjustRestock:
		next.InitialStock += p.Delta
	}
	return &next, nil
}

// NormalizeSKU canonicalizes a scanned or typed code for exact-match
// lookup. Lookup ambiguity is resolved by rejecting duplicate SKUs at
// creation time, not by runtime heuristics like "prefer stocked item".
func NormalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

// ValidateCreate checks a create payload before an item enters the system.
func ValidateCreate(p *models.CreatePayload) error {
	if NormalizeSKU(p.SKU) == "" {
		return &ValidationError{Reason: ReasonMalformedPayload, Message: "sku is required"}
	}
	if p.InitialStock < 0 {
		return &ValidationError{Reason: ReasonMalformedPayload, Message: "initial stock must be >= 0"}
	}
	if p.Price < 0 {
		return &ValidationError{Reason: ReasonMalformedPayload, Message: "price must be >= 0"}
	}
	return nil
}
