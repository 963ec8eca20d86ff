package inventory

import (
	"errors"
	"testing"

	"shopsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(initial, current, refunded int) *models.InventoryItem {
	return &models.InventoryItem{
		ID:           "item-1",
		TenantID:     "shop-1",
		SKU:          "WIDGET-1",
		InitialStock: initial,
		CurrentStock: current,
		Refunded:     refunded,
		Active:       true,
	}
}

func TestSoldQuantityDerivation(t *testing.T) {
	it := item(5, 5, 0)

	for _, delta := range []int{-2, -1} {
		next, err := ApplyAdjust(it, &models.AdjustPayload{Delta: delta, Kind: models.AdjustSale})
		require.NoError(t, err)
		it = next
	}

	assert.Equal(t, 3, SoldQuantity(it))
	assert.Equal(t, 3, MaxRefundable(it))

	refunded, err := ApplyAdjust(it, &models.AdjustPayload{Delta: 2, Kind: models.AdjustRefund})
	require.NoError(t, err)
	assert.Equal(t, 1, MaxRefundable(refunded))
}

func TestSaleRejectedNotClamped(t *testing.T) {
	it := item(5, 1, 0)

	_, err := ApplyAdjust(it, &models.AdjustPayload{Delta: -2, Kind: models.AdjustSale})
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, ReasonStockWouldGoNegative, verr.Reason)

	// The item is untouched: no partial or clamped application.
	assert.Equal(t, 1, it.CurrentStock)
}

func TestRefundBound(t *testing.T) {
	it := item(10, 7, 2) // sold 3, refunded 2, refundable 1

	_, err := ApplyAdjust(it, &models.AdjustPayload{Delta: 2, Kind: models.AdjustRefund})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, ReasonRefundExceedsSold, verr.Reason)

	next, err := ApplyAdjust(it, &models.AdjustPayload{Delta: 1, Kind: models.AdjustRefund})
	require.NoError(t, err)
	assert.Equal(t, 8, next.CurrentStock)
	assert.Equal(t, 0, MaxRefundable(next))
}

func TestRestockRebaselines(t *testing.T) {
	it := item(5, 2, 0) // sold 3

	next, err := ApplyAdjust(it, &models.AdjustPayload{Delta: 10, Kind: models.AdjustRestock})
	require.NoError(t, err)

	assert.Equal(t, 12, next.CurrentStock)
	assert.Equal(t, 15, next.InitialStock)
	// Sold history survives the restock so in-flight refunds stay bounded.
	assert.Equal(t, 3, SoldQuantity(next))
}

func TestAdjustKindValidation(t *testing.T) {
	it := item(5, 5, 0)

	cases := []models.AdjustPayload{
		{Delta: 2, Kind: models.AdjustSale},     // sale must be negative
		{Delta: -1, Kind: models.AdjustRefund},  // refund must be positive
		{Delta: -1, Kind: models.AdjustRestock}, // restock must be positive
		{Delta: -1, Kind: "transfer"},
	}
	for _, p := range cases {
		_, err := ApplyAdjust(it, &p)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), "payload %+v", p)
		assert.Equal(t, ReasonMalformedPayload, verr.Reason)
	}
}

func TestInactiveItemRejected(t *testing.T) {
	it := item(5, 5, 0)
	it.Active = false

	_, err := ApplyAdjust(it, &models.AdjustPayload{Delta: -1, Kind: models.AdjustSale})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, ReasonItemInactive, verr.Reason)
}

func TestNormalizeSKU(t *testing.T) {
	assert.Equal(t, "ABC-123", NormalizeSKU("  abc-123 "))
	assert.Equal(t, "", NormalizeSKU("   "))
}

func TestValidateCreate(t *testing.T) {
	require.NoError(t, ValidateCreate(&models.CreatePayload{SKU: "A", InitialStock: 0}))

	for _, p := range []models.CreatePayload{
		{SKU: " ", InitialStock: 1},
		{SKU: "A", InitialStock: -1},
		{SKU: "A", Price: -5},
	} {
		err := ValidateCreate(&p)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), "payload %+v", p)
	}
}
