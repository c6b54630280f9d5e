package settlement

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// TestVWAP_AddsOntoExistingHolding verifies the buy-side volume-weighted
// average cost formula against a hand-computed example.
func TestVWAP_AddsOntoExistingHolding(t *testing.T) {
	oldQty := decimal.NewFromFloat(2)
	oldAvg := decimal.NewFromFloat(100)
	qty := decimal.NewFromFloat(2)
	price := decimal.NewFromFloat(120)
	newQty := oldQty.Add(qty)

	got := vwap(oldQty, oldAvg, qty, price, newQty)

	// (2*100 + 2*120) / 4 = 110
	assert.True(t, got.Equal(decimal.NewFromFloat(110)), "expected 110, got %s", got)
}

// TestVWAP_FirstFillEqualsFillPrice covers the degenerate case used when no
// prior holding exists, confirming the formula would reduce to the fill
// price alone (settleBuyer bypasses vwap entirely in that case, but this
// pins the expectation if oldQty is ever passed as zero).
func TestVWAP_FirstFillEqualsFillPrice(t *testing.T) {
	got := vwap(decimal.Zero, decimal.Zero, decimal.NewFromFloat(3), decimal.NewFromFloat(50), decimal.NewFromFloat(3))
	assert.True(t, got.Equal(decimal.NewFromFloat(50)), "expected 50, got %s", got)
}
