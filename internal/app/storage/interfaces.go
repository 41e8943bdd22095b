package storage

import (
	"context"
	"errors"
	"time"

	"github.com/akta-mmi/redistribution_core/internal/app/domain/command"
	"github.com/akta-mmi/redistribution_core/internal/app/domain/kiosk"
	"github.com/akta-mmi/redistribution_core/internal/app/domain/ledgertx"
	"github.com/akta-mmi/redistribution_core/internal/app/domain/redistribution"
)

// ErrNotFound is returned when a requested record does not exist. Lookups
// that can legitimately come up empty (duplicate checks, txid probes) wrap it
// so callers can test with errors.Is.
var ErrNotFound = errors.New("record not found")

// RedistributionFilter narrows redistribution listings.
type RedistributionFilter struct {
	Status      string
	FromKioskID string
	ToKioskID   string
}

// RedistributionStore persists redistribution requests.
type RedistributionStore interface {
	CreateRedistribution(ctx context.Context, r redistribution.Redistribution) (redistribution.Redistribution, error)
	UpdateRedistribution(ctx context.Context, r redistribution.Redistribution) (redistribution.Redistribution, error)
	GetRedistribution(ctx context.Context, id string) (redistribution.Redistribution, error)
	ListRedistributions(ctx context.Context, filter RedistributionFilter, limit, offset int) ([]redistribution.Redistribution, error)
	// FindDuplicateRedistribution returns the earlier request with the same
	// creator and client request id, or ErrNotFound when none exists.
	FindDuplicateRedistribution(ctx context.Context, createdBy, clientReqID string) (redistribution.Redistribution, error)
}

// CommandStore persists dispatcher work items.
type CommandStore interface {
	CreateCommand(ctx context.Context, cmd command.Command) (command.Command, error)
	UpdateCommand(ctx context.Context, cmd command.Command) (command.Command, error)
	GetCommand(ctx context.Context, id string) (command.Command, error)
	ListPendingCommands(ctx context.Context) ([]command.Command, error)
	// ListUnsettledCommands returns commands stuck at submitted, oldest first,
	// so an interrupted settlement can be resumed without resubmitting.
	ListUnsettledCommands(ctx context.Context) ([]command.Command, error)
	// ClaimCommand flips a command from pending to processing. It returns
	// false when another worker already holds the command.
	ClaimCommand(ctx context.Context, id string) (bool, error)
	// FindDuplicateCommand returns the earlier command with the same user and
	// client request id, or ErrNotFound when none exists.
	FindDuplicateCommand(ctx context.Context, userID, clientReqID string) (command.Command, error)
}

// TransactionStore persists ledger transaction records.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx ledgertx.Transaction) (ledgertx.Transaction, error)
	GetTransactionByTxID(ctx context.Context, txid string) (ledgertx.Transaction, error)
	UpdateTransactionByTxID(ctx context.Context, tx ledgertx.Transaction) (ledgertx.Transaction, error)
	ListTransactions(ctx context.Context, filter ledgertx.Filter, limit, offset int) ([]ledgertx.Transaction, error)
	ListPendingTransactions(ctx context.Context) ([]ledgertx.Transaction, error)
	ListPendingTransactionsOlderThan(ctx context.Context, cutoff time.Time) ([]ledgertx.Transaction, error)
}

// KioskStore persists kiosks and their inventory.
type KioskStore interface {
	GetKiosk(ctx context.Context, id string) (kiosk.Kiosk, error)
	Inventory(ctx context.Context, kioskID string) (map[string]int, error)
	InventoryRecord(ctx context.Context, kioskID, sku string) (kiosk.InventoryRecord, error)
	// AdjustInventory applies delta to the stocked quantity. Decrements clamp
	// at zero; increments create the row when absent.
	AdjustInventory(ctx context.Context, kioskID, sku string, delta int) error
}

// ProductStore resolves product pricing by SKU.
type ProductStore interface {
	GetProductBySKU(ctx context.Context, sku string) (kiosk.Product, error)
	ProductPrices(ctx context.Context, skus []string) (map[string]kiosk.Prices, error)
}

// AdminStore resolves the attestation wallet for an admin user.
type AdminStore interface {
	GetAdminByUserID(ctx context.Context, userID string) (kiosk.Admin, error)
}

// RoleStore resolves the role assigned to a user.
type RoleStore interface {
	Role(ctx context.Context, userID string) (string, error)
}
