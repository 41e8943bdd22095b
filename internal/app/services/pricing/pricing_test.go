package pricing

import (
	"math"
	"testing"

	"github.com/akta-mmi/redistribution_core/internal/app/domain/kiosk"
	"github.com/akta-mmi/redistribution_core/internal/app/domain/redistribution"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCalculateOversupply(t *testing.T) {
	// Source holds 150, destination 30: 150 > 2*30 selects oversupply.
	got := Calculate(
		[]redistribution.Item{{SKU: "water-500ml", Quantity: 10}},
		map[string]int{"water-500ml": 150},
		map[string]int{"water-500ml": 30},
		map[string]kiosk.Prices{"water-500ml": {Acquired: 1.50, Suggested: 3.00}},
		DefaultRatios(),
	)

	if len(got.Items) != 1 {
		t.Fatalf("expected one line, got %d", len(got.Items))
	}
	line := got.Items[0]
	if !line.Oversupply {
		t.Fatal("expected oversupply classification")
	}
	if !almostEqual(line.UnitPrice, 2.55) {
		t.Fatalf("expected unit price 2.55 (3.00 x 0.85), got %v", line.UnitPrice)
	}
	if !almostEqual(got.TotalCost, 15.0) {
		t.Fatalf("expected cost 15.00, got %v", got.TotalCost)
	}
	if !almostEqual(got.TotalRevenue, 25.5) {
		t.Fatalf("expected revenue 25.50, got %v", got.TotalRevenue)
	}
	if !almostEqual(got.NetValue, 10.5) {
		t.Fatalf("expected net 10.50, got %v", got.NetValue)
	}
}

func TestCalculateUndersupply(t *testing.T) {
	// Source 20, destination 120: 20 <= 2*120 selects undersupply.
	got := Calculate(
		[]redistribution.Item{{SKU: "soda-330ml", Quantity: 4}},
		map[string]int{"soda-330ml": 20},
		map[string]int{"soda-330ml": 120},
		map[string]kiosk.Prices{"soda-330ml": {Acquired: 2.00, Suggested: 4.00}},
		DefaultRatios(),
	)

	line := got.Items[0]
	if line.Oversupply {
		t.Fatal("expected undersupply classification")
	}
	if !almostEqual(line.UnitPrice, 2.10) {
		t.Fatalf("expected unit price 2.10 (2.00 x 1.05), got %v", line.UnitPrice)
	}
}

func TestCalculateBoundaryIsUndersupply(t *testing.T) {
	// Exactly twice the destination stock is not oversupply.
	got := Calculate(
		[]redistribution.Item{{SKU: "s", Quantity: 1}},
		map[string]int{"s": 60},
		map[string]int{"s": 30},
		map[string]kiosk.Prices{"s": {Acquired: 1, Suggested: 2}},
		DefaultRatios(),
	)
	if got.Items[0].Oversupply {
		t.Fatal("expected 60 vs 30 to classify as undersupply")
	}
}

func TestCalculateUnknownSKUPricesAtZero(t *testing.T) {
	got := Calculate(
		[]redistribution.Item{{SKU: "missing", Quantity: 3}},
		nil, nil, nil,
		DefaultRatios(),
	)
	if !almostEqual(got.TotalRevenue, 0) || !almostEqual(got.TotalCost, 0) {
		t.Fatalf("expected zero totals, got %+v", got)
	}
}

func TestCalculateZeroRatiosFallBackToDefaults(t *testing.T) {
	got := Calculate(nil, nil, nil, nil, Ratios{})
	if got.OversupplyRatio != DefaultOversupplyRatio || got.UndersupplyRatio != DefaultUndersupplyRatio {
		t.Fatalf("expected default ratios, got %+v", got)
	}
}

func TestCalculateMixedItems(t *testing.T) {
	got := Calculate(
		[]redistribution.Item{
			{SKU: "a", Quantity: 2},
			{SKU: "b", Quantity: 5},
		},
		map[string]int{"a": 100, "b": 10},
		map[string]int{"a": 10, "b": 50},
		map[string]kiosk.Prices{
			"a": {Acquired: 1.00, Suggested: 2.00},
			"b": {Acquired: 0.50, Suggested: 1.00},
		},
		DefaultRatios(),
	)

	// a: oversupply 2.00*0.85=1.70 x2 = 3.40; b: undersupply 0.50*1.05=0.525 x5 = 2.625
	if !almostEqual(got.TotalRevenue, 3.40+2.625) {
		t.Fatalf("unexpected revenue %v", got.TotalRevenue)
	}
	if !almostEqual(got.TotalCost, 2.00+2.50) {
		t.Fatalf("unexpected cost %v", got.TotalCost)
	}
	if !almostEqual(got.NetValue, got.TotalRevenue-got.TotalCost) {
		t.Fatalf("net must be revenue minus cost, got %v", got.NetValue)
	}
}
