// Package command defines the durable work items produced by approvals and
// consumed by the dispatcher.
package command

import (
	"time"

	"github.com/akta-mmi/redistribution_core/internal/app/domain/redistribution"
)

// Status values for a command lifecycle.
const (
	StatusPending          = "pending"
	StatusProcessing       = "processing"
	StatusSubmitted        = "submitted"
	StatusCompleted        = "completed"
	StatusFailed           = "failed"
	StatusRejected         = "rejected"
	StatusSettlementFailed = "settlement_failed"
)

// Command types.
const (
	TypeSubmitRedistribution = "submit_redistribution"
)

// Payload is the frozen snapshot of the redistribution captured at approval
// time. The dispatcher acts on this copy, not on the live row.
type Payload struct {
	RedistributionID string                `json:"redistribution_id"`
	AdminWallet      string                `json:"admin_wallet,omitempty"`
	FromKioskID      string                `json:"from_kiosk_id"`
	ToKioskID        string                `json:"to_kiosk_id"`
	Items            []redistribution.Item `json:"items"`
	Signature        string                `json:"signature,omitempty"`
	PublicKey        string                `json:"public_key,omitempty"`
}

// Command is one unit of dispatcher work.
type Command struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	ClientReqID      string     `json:"client_req_id"`
	Type             string     `json:"type"`
	Payload          Payload    `json:"payload"`
	RedistributionID string     `json:"redistribution_id"`
	Status           string     `json:"status"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
}
