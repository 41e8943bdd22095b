// Package kiosk defines kiosk, product, and inventory records.
package kiosk

import "time"

// Kiosk is a physical point of sale holding inventory.
type Kiosk struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// InventoryRecord is the stocked quantity of one SKU at one kiosk.
type InventoryRecord struct {
	KioskID     string    `json:"kiosk_id"`
	SKU         string    `json:"sku"`
	Quantity    int       `json:"quantity"`
	Threshold   int       `json:"threshold,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// Product is a sellable item with its cost basis and list price.
type Product struct {
	ID             string  `json:"id"`
	SKU            string  `json:"sku"`
	Name           string  `json:"name"`
	AcquiredPrice  float64 `json:"acquired_price"`
	SuggestedPrice float64 `json:"suggested_price"`
}

// Prices pairs a product's cost basis with its list price for pricing math.
type Prices struct {
	Acquired  float64 `json:"acquired"`
	Suggested float64 `json:"suggested"`
}

// Admin maps a user to the wallet used when attesting approvals.
type Admin struct {
	UserID    string    `json:"user_id"`
	Wallet    string    `json:"wallet"`
	CreatedAt time.Time `json:"created_at"`
}

// Roles recognized by the request layer.
const (
	RoleKiosk = "kiosk"
	RoleAdmin = "admin"
)
