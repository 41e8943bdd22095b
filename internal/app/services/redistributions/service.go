// Package redistributions implements the request layer: creation with
// validation and pricing, admin approval, and read access for the API.
package redistributions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/akta-mmi/redistribution_core/internal/errors"

	"github.com/akta-mmi/redistribution_core/internal/app/domain/command"
	"github.com/akta-mmi/redistribution_core/internal/app/domain/kiosk"
	"github.com/akta-mmi/redistribution_core/internal/app/domain/ledgertx"
	"github.com/akta-mmi/redistribution_core/internal/app/domain/redistribution"
	"github.com/akta-mmi/redistribution_core/internal/app/services/pricing"
	"github.com/akta-mmi/redistribution_core/internal/app/storage"
	"github.com/akta-mmi/redistribution_core/pkg/logger"
)

// Service manages redistribution requests and their approval commands.
type Service struct {
	redistributions storage.RedistributionStore
	commands        storage.CommandStore
	transactions    storage.TransactionStore
	kiosks          storage.KioskStore
	products        storage.ProductStore
	admins          storage.AdminStore
	roles           storage.RoleStore
	ratios          pricing.Ratios
	log             *logger.Logger
}

// New constructs the redistribution service.
func New(
	redistributions storage.RedistributionStore,
	commands storage.CommandStore,
	transactions storage.TransactionStore,
	kiosks storage.KioskStore,
	products storage.ProductStore,
	admins storage.AdminStore,
	roles storage.RoleStore,
	ratios pricing.Ratios,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.NewDefault("redistributions")
	}
	return &Service{
		redistributions: redistributions,
		commands:        commands,
		transactions:    transactions,
		kiosks:          kiosks,
		products:        products,
		admins:          admins,
		roles:           roles,
		ratios:          ratios,
		log:             log,
	}
}

// CreateInput is a redistribution request as received from a kiosk client.
type CreateInput struct {
	FromKioskID string
	ToKioskID   string
	Items       []redistribution.Item
	ClientReqID string
	Signature   string
	PublicKey   string
}

// Create validates and prices a new redistribution request. A repeated
// client request id from the same creator returns the original row.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (redistribution.Redistribution, error) {
	role, err := s.roles.Role(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return redistribution.Redistribution{}, err
	}
	if role != kiosk.RoleKiosk {
		return redistribution.Redistribution{}, apperrors.Forbidden("kiosk role required")
	}

	if existing, err := s.redistributions.FindDuplicateRedistribution(ctx, userID, in.ClientReqID); err == nil {
		s.log.WithField("client_req_id", in.ClientReqID).Info("duplicate redistribution request, returning original")
		return existing, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return redistribution.Redistribution{}, err
	}

	if err := validateCreate(in); err != nil {
		return redistribution.Redistribution{}, err
	}

	if _, err := s.kiosks.GetKiosk(ctx, in.FromKioskID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return redistribution.Redistribution{}, apperrors.NotFound("kiosk not found")
		}
		return redistribution.Redistribution{}, err
	}
	if _, err := s.kiosks.GetKiosk(ctx, in.ToKioskID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return redistribution.Redistribution{}, apperrors.NotFound("kiosk not found")
		}
		return redistribution.Redistribution{}, err
	}

	fromInventory, err := s.kiosks.Inventory(ctx, in.FromKioskID)
	if err != nil {
		return redistribution.Redistribution{}, err
	}
	toInventory, err := s.kiosks.Inventory(ctx, in.ToKioskID)
	if err != nil {
		return redistribution.Redistribution{}, err
	}

	for _, item := range in.Items {
		if fromInventory[item.SKU] < item.Quantity {
			return redistribution.Redistribution{}, apperrors.BadRequest(
				fmt.Sprintf("insufficient inventory for %s", item.SKU))
		}
	}

	skus := make([]string, 0, len(in.Items))
	for _, item := range in.Items {
		skus = append(skus, item.SKU)
	}
	prices, err := s.products.ProductPrices(ctx, skus)
	if err != nil {
		return redistribution.Redistribution{}, err
	}

	priced := pricing.Calculate(in.Items, fromInventory, toInventory, prices, s.ratios)

	created, err := s.redistributions.CreateRedistribution(ctx, redistribution.Redistribution{
		FromKioskID: in.FromKioskID,
		ToKioskID:   in.ToKioskID,
		Items:       in.Items,
		Pricing:     &priced,
		ClientReqID: in.ClientReqID,
		Signature:   in.Signature,
		PublicKey:   in.PublicKey,
		CreatedBy:   userID,
		Status:      redistribution.StatusRequested,
	})
	if err != nil {
		return redistribution.Redistribution{}, err
	}

	s.log.WithField("redistribution_id", created.ID).
		WithField("from_kiosk", created.FromKioskID).
		WithField("to_kiosk", created.ToKioskID).
		Info("redistribution created")
	return created, nil
}

func validateCreate(in CreateInput) error {
	if strings.TrimSpace(in.FromKioskID) == "" || strings.TrimSpace(in.ToKioskID) == "" {
		return apperrors.BadRequest("from_kiosk_id and to_kiosk_id are required")
	}
	if in.FromKioskID == in.ToKioskID {
		return apperrors.BadRequest("source and destination kiosks must differ")
	}
	if len(in.Items) == 0 {
		return apperrors.BadRequest("items are required")
	}
	for _, item := range in.Items {
		if strings.TrimSpace(item.SKU) == "" {
			return apperrors.BadRequest("item sku is required")
		}
		if item.Quantity <= 0 {
			return apperrors.BadRequest("item quantity must be positive")
		}
	}
	return nil
}

// ApproveInput carries the admin's approval request.
type ApproveInput struct {
	AdminWallet string
	ClientReqID string
}

// ApproveResult reports the command created (or found) by an approval.
type ApproveResult struct {
	CommandID        string `json:"command_id"`
	RedistributionID string `json:"redistribution_id"`
	Status           string `json:"status"`
}

// Approve transitions a requested redistribution to approved and enqueues
// exactly one command carrying a frozen payload snapshot. Approving a
// redistribution that is not requested is a conflict with no side effects.
func (s *Service) Approve(ctx context.Context, userID, redistributionID string, in ApproveInput) (ApproveResult, error) {
	role, err := s.roles.Role(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return ApproveResult{}, err
	}
	if role != kiosk.RoleAdmin {
		return ApproveResult{}, apperrors.Forbidden("admin role required")
	}

	admin, err := s.admins.GetAdminByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ApproveResult{}, apperrors.NotFound("admin wallet not found")
		}
		return ApproveResult{}, err
	}
	if in.AdminWallet != "" && admin.Wallet != in.AdminWallet {
		return ApproveResult{}, apperrors.BadRequest("admin wallet address mismatch")
	}

	r, err := s.redistributions.GetRedistribution(ctx, redistributionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ApproveResult{}, apperrors.NotFound("redistribution not found")
		}
		return ApproveResult{}, err
	}
	// The replay check precedes the status gate: a repeated approval with the
	// same idempotency key returns the original command even though the
	// redistribution has already left the requested state.
	clientReqID := in.ClientReqID
	if clientReqID == "" {
		clientReqID = "approve-" + redistributionID
	}
	if existing, err := s.commands.FindDuplicateCommand(ctx, userID, clientReqID); err == nil {
		return ApproveResult{
			CommandID:        existing.ID,
			RedistributionID: redistributionID,
			Status:           redistribution.StatusApproved,
		}, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return ApproveResult{}, err
	}

	if r.Status != redistribution.StatusRequested {
		return ApproveResult{}, apperrors.Conflict(
			fmt.Sprintf("cannot approve redistribution with status %s", r.Status))
	}

	r.Status = redistribution.StatusApproved
	if _, err := s.redistributions.UpdateRedistribution(ctx, r); err != nil {
		return ApproveResult{}, err
	}

	cmd, err := s.commands.CreateCommand(ctx, command.Command{
		UserID:           userID,
		ClientReqID:      clientReqID,
		Type:             command.TypeSubmitRedistribution,
		RedistributionID: redistributionID,
		Status:           command.StatusPending,
		Payload: command.Payload{
			RedistributionID: redistributionID,
			AdminWallet:      admin.Wallet,
			FromKioskID:      r.FromKioskID,
			ToKioskID:        r.ToKioskID,
			Items:            r.Items,
			Signature:        r.Signature,
			PublicKey:        r.PublicKey,
		},
	})
	if err != nil {
		return ApproveResult{}, err
	}

	s.log.WithField("redistribution_id", redistributionID).
		WithField("command_id", cmd.ID).
		Info("redistribution approved")
	return ApproveResult{
		CommandID:        cmd.ID,
		RedistributionID: redistributionID,
		Status:           redistribution.StatusApproved,
	}, nil
}

// Get returns one redistribution by id.
func (s *Service) Get(ctx context.Context, id string) (redistribution.Redistribution, error) {
	r, err := s.redistributions.GetRedistribution(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return redistribution.Redistribution{}, apperrors.NotFound("redistribution not found")
	}
	return r, err
}

// List returns redistributions matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter storage.RedistributionFilter, limit, offset int) ([]redistribution.Redistribution, error) {
	return s.redistributions.ListRedistributions(ctx, filter, limit, offset)
}

// Command returns one command, restricted to its creator unless the caller
// is an admin.
func (s *Service) Command(ctx context.Context, userID, commandID string) (command.Command, error) {
	cmd, err := s.commands.GetCommand(ctx, commandID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return command.Command{}, apperrors.NotFound("command not found")
		}
		return command.Command{}, err
	}

	if cmd.UserID != userID {
		role, err := s.roles.Role(ctx, userID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return command.Command{}, err
		}
		if role != kiosk.RoleAdmin {
			return command.Command{}, apperrors.Forbidden("access denied")
		}
	}
	return cmd, nil
}

// Transaction returns one ledger transaction by txid.
func (s *Service) Transaction(ctx context.Context, txid string) (ledgertx.Transaction, error) {
	tx, err := s.transactions.GetTransactionByTxID(ctx, txid)
	if errors.Is(err, storage.ErrNotFound) {
		return ledgertx.Transaction{}, apperrors.NotFound("transaction not found")
	}
	return tx, err
}

// Transactions lists ledger transactions matching the filter, newest first.
// Admin only.
func (s *Service) Transactions(ctx context.Context, userID string, filter ledgertx.Filter, limit, offset int) ([]ledgertx.Transaction, error) {
	role, err := s.roles.Role(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if role != kiosk.RoleAdmin {
		return nil, apperrors.Forbidden("admin role required")
	}
	return s.transactions.ListTransactions(ctx, filter, limit, offset)
}
