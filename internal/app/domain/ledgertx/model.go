// Package ledgertx tracks submitted ledger transactions through confirmation.
package ledgertx

import "time"

// Status values for a tracked transaction.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
	StatusTimedOut  = "timed_out"
)

// Transaction records one submission to the ledger and its eventual outcome.
type Transaction struct {
	ID               string     `json:"id"`
	CommandID        string     `json:"command_id"`
	RedistributionID string     `json:"redistribution_id"`
	TxID             string     `json:"tx_id"`
	Chain            string     `json:"chain"`
	ChainID          string     `json:"chain_id"`
	BlockchainRef    string     `json:"blockchain_ref"`
	Status           string     `json:"status"`
	Block            uint64     `json:"block,omitempty"`
	ConfirmedRound   uint64     `json:"confirmed_round,omitempty"`
	Fee              float64    `json:"fee,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ConfirmedAt      *time.Time `json:"confirmed_at,omitempty"`
}

// Filter narrows List queries.
type Filter struct {
	Status           string
	RedistributionID string
	Chain            string
}
