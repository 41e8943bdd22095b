// Package redistribution defines the core transfer request model.
package redistribution

import "time"

// Status values for a redistribution lifecycle.
const (
	StatusRequested  = "requested"
	StatusApproved   = "approved"
	StatusSubmitted  = "submitted"
	StatusFulfilled  = "fulfilled"
	StatusReconciled = "reconciled"
	StatusFailed     = "failed"
	StatusTimedOut   = "timed_out"
)

// Item is a single line of a transfer request.
type Item struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// ItemPricing carries the per-line pricing outcome.
type ItemPricing struct {
	SKU        string  `json:"sku"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	LineTotal  float64 `json:"line_total"`
	Oversupply bool    `json:"oversupply"`
}

// Pricing aggregates the computed value of a redistribution.
type Pricing struct {
	Items            []ItemPricing `json:"items"`
	TotalCost        float64       `json:"total_cost"`
	TotalRevenue     float64       `json:"total_revenue"`
	NetValue         float64       `json:"net_value"`
	OversupplyRatio  float64       `json:"oversupply_ratio"`
	UndersupplyRatio float64       `json:"undersupply_ratio"`
}

// Redistribution is a request to move inventory between two kiosks, attested
// on the ledger once approved.
type Redistribution struct {
	ID            string     `json:"id"`
	FromKioskID   string     `json:"from_kiosk_id"`
	ToKioskID     string     `json:"to_kiosk_id"`
	Items         []Item     `json:"items"`
	Pricing       *Pricing   `json:"pricing,omitempty"`
	ClientReqID   string     `json:"client_req_id"`
	Signature     string     `json:"signature,omitempty"`
	PublicKey     string     `json:"public_key,omitempty"`
	CreatedBy     string     `json:"created_by"`
	Status        string     `json:"status"`
	BlockchainRef string     `json:"blockchain_ref,omitempty"`
	TxID          string     `json:"tx_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the status admits no further transitions.
func Terminal(status string) bool {
	switch status {
	case StatusReconciled, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}
