// Package pricing computes the value of a redistribution from inventory
// levels and product prices. It is pure and reusable for what-if quotes.
package pricing

import (
	"github.com/akta-mmi/redistribution_core/internal/app/domain/kiosk"
	"github.com/akta-mmi/redistribution_core/internal/app/domain/redistribution"
)

// Default ratios applied when configuration does not override them.
const (
	DefaultOversupplyRatio  = 0.85
	DefaultUndersupplyRatio = 1.05
)

// Ratios are the configured pricing multipliers.
type Ratios struct {
	Oversupply  float64
	Undersupply float64
}

// DefaultRatios returns the standard multipliers.
func DefaultRatios() Ratios {
	return Ratios{Oversupply: DefaultOversupplyRatio, Undersupply: DefaultUndersupplyRatio}
}

func (r Ratios) orDefaults() Ratios {
	if r.Oversupply <= 0 {
		r.Oversupply = DefaultOversupplyRatio
	}
	if r.Undersupply <= 0 {
		r.Undersupply = DefaultUndersupplyRatio
	}
	return r
}

// Calculate prices each line of a transfer. A SKU is in oversupply when the
// source holds more than twice the destination's stock; oversupply lines move
// at a discount off the list price, undersupply lines at a markup over cost.
func Calculate(
	items []redistribution.Item,
	fromInventory map[string]int,
	toInventory map[string]int,
	prices map[string]kiosk.Prices,
	ratios Ratios,
) redistribution.Pricing {
	ratios = ratios.orDefaults()

	result := redistribution.Pricing{
		Items:            make([]redistribution.ItemPricing, 0, len(items)),
		OversupplyRatio:  ratios.Oversupply,
		UndersupplyRatio: ratios.Undersupply,
	}

	for _, item := range items {
		price := prices[item.SKU]
		fromQty := fromInventory[item.SKU]
		toQty := toInventory[item.SKU]

		oversupply := fromQty > toQty*2
		var unitPrice float64
		if oversupply {
			unitPrice = price.Suggested * ratios.Oversupply
		} else {
			unitPrice = price.Acquired * ratios.Undersupply
		}

		lineTotal := unitPrice * float64(item.Quantity)
		result.Items = append(result.Items, redistribution.ItemPricing{
			SKU:        item.SKU,
			Quantity:   item.Quantity,
			UnitPrice:  unitPrice,
			LineTotal:  lineTotal,
			Oversupply: oversupply,
		})

		result.TotalCost += price.Acquired * float64(item.Quantity)
		result.TotalRevenue += lineTotal
	}

	result.NetValue = result.TotalRevenue - result.TotalCost
	return result
}
