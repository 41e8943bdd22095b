package redistributions

import (
	"context"
	"testing"

	apperrors "github.com/akta-mmi/redistribution_core/internal/errors"

	"github.com/akta-mmi/redistribution_core/internal/app/domain/kiosk"
	"github.com/akta-mmi/redistribution_core/internal/app/domain/redistribution"
	"github.com/akta-mmi/redistribution_core/internal/app/services/pricing"
	"github.com/akta-mmi/redistribution_core/internal/app/storage/memory"
)

func newFixture(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	store.SeedKiosk(kiosk.Kiosk{ID: "kiosk-a", Name: "Station A"})
	store.SeedKiosk(kiosk.Kiosk{ID: "kiosk-b", Name: "Station B"})
	store.SeedInventory("kiosk-a", "water-500ml", 150)
	store.SeedInventory("kiosk-b", "water-500ml", 30)
	store.SeedProduct(kiosk.Product{SKU: "water-500ml", Name: "Water", AcquiredPrice: 1.50, SuggestedPrice: 3.00})
	store.SeedRole("kiosk-user", kiosk.RoleKiosk)
	store.SeedAdmin(kiosk.Admin{UserID: "admin-user", Wallet: "WALLET123"})

	svc := New(store, store, store, store, store, store, store, pricing.DefaultRatios(), nil)
	return svc, store
}

func createInput() CreateInput {
	return CreateInput{
		FromKioskID: "kiosk-a",
		ToKioskID:   "kiosk-b",
		Items:       []redistribution.Item{{SKU: "water-500ml", Quantity: 10}},
		ClientReqID: "req-1",
	}
}

func TestCreateComputesPricing(t *testing.T) {
	svc, _ := newFixture(t)

	r, err := svc.Create(context.Background(), "kiosk-user", createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.Status != redistribution.StatusRequested {
		t.Fatalf("expected requested, got %s", r.Status)
	}
	if r.Pricing == nil {
		t.Fatal("expected pricing to be stored")
	}
	// 150 > 2*30 selects oversupply: 3.00 * 0.85 = 2.55 per unit.
	if got := r.Pricing.Items[0].UnitPrice; got != 2.55 {
		t.Fatalf("expected unit price 2.55, got %v", got)
	}
}

func TestCreateDuplicateReturnsOriginal(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, "kiosk-user", createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := svc.Create(ctx, "kiosk-user", createInput())
	if err != nil {
		t.Fatalf("duplicate create: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected original row %s, got %s", first.ID, second.ID)
	}
}

func TestCreateRequiresKioskRole(t *testing.T) {
	svc, _ := newFixture(t)

	_, err := svc.Create(context.Background(), "admin-user", createInput())
	coded := apperrors.FromError(err)
	if coded.Code != "forbidden" {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCreateInsufficientInventory(t *testing.T) {
	svc, _ := newFixture(t)

	in := createInput()
	in.Items[0].Quantity = 1000
	_, err := svc.Create(context.Background(), "kiosk-user", in)
	coded := apperrors.FromError(err)
	if coded.Code != "bad_request" {
		t.Fatalf("expected bad_request, got %v", err)
	}
}

func TestCreateUnknownKiosk(t *testing.T) {
	svc, _ := newFixture(t)

	in := createInput()
	in.ToKioskID = "kiosk-z"
	_, err := svc.Create(context.Background(), "kiosk-user", in)
	coded := apperrors.FromError(err)
	if coded.Code != "not_found" {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()

	in := createInput()
	in.ToKioskID = in.FromKioskID
	if _, err := svc.Create(ctx, "kiosk-user", in); apperrors.FromError(err).Code != "bad_request" {
		t.Fatalf("expected bad_request for same kiosk, got %v", err)
	}

	in = createInput()
	in.Items = nil
	if _, err := svc.Create(ctx, "kiosk-user", in); apperrors.FromError(err).Code != "bad_request" {
		t.Fatalf("expected bad_request for empty items, got %v", err)
	}

	in = createInput()
	in.Items[0].Quantity = 0
	if _, err := svc.Create(ctx, "kiosk-user", in); apperrors.FromError(err).Code != "bad_request" {
		t.Fatalf("expected bad_request for zero quantity, got %v", err)
	}
}

func TestApproveCreatesFrozenCommand(t *testing.T) {
	svc, store := newFixture(t)
	ctx := context.Background()

	r, err := svc.Create(ctx, "kiosk-user", createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	result, err := svc.Approve(ctx, "admin-user", r.ID, ApproveInput{AdminWallet: "WALLET123"})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if result.Status != redistribution.StatusApproved {
		t.Fatalf("expected approved, got %s", result.Status)
	}

	updated, err := store.GetRedistribution(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if updated.Status != redistribution.StatusApproved {
		t.Fatalf("expected redistribution approved, got %s", updated.Status)
	}

	cmd, err := store.GetCommand(ctx, result.CommandID)
	if err != nil {
		t.Fatalf("get command: %v", err)
	}
	if cmd.Payload.RedistributionID != r.ID {
		t.Fatal("payload must reference the redistribution")
	}
	if cmd.Payload.AdminWallet != "WALLET123" {
		t.Fatalf("expected admin wallet in payload, got %q", cmd.Payload.AdminWallet)
	}
	if len(cmd.Payload.Items) != 1 || cmd.Payload.Items[0].SKU != "water-500ml" {
		t.Fatalf("expected frozen item snapshot, got %+v", cmd.Payload.Items)
	}
}

func TestApproveIdempotent(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()

	r, err := svc.Create(ctx, "kiosk-user", createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := svc.Approve(ctx, "admin-user", r.ID, ApproveInput{ClientReqID: "approve-1"})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	// Replay with the same client request id returns the original command
	// even though the redistribution is no longer in requested state.
	second, err := svc.Approve(ctx, "admin-user", r.ID, ApproveInput{ClientReqID: "approve-1"})
	if err != nil {
		t.Fatalf("replay approve: %v", err)
	}
	if second.CommandID != first.CommandID {
		t.Fatalf("expected original command %s, got %s", first.CommandID, second.CommandID)
	}
}

func TestApproveNonRequestedConflictNoSideEffects(t *testing.T) {
	svc, store := newFixture(t)
	ctx := context.Background()

	r, err := svc.Create(ctx, "kiosk-user", createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	r.Status = redistribution.StatusSubmitted
	if _, err := store.UpdateRedistribution(ctx, r); err != nil {
		t.Fatalf("update: %v", err)
	}

	_, err = svc.Approve(ctx, "admin-user", r.ID, ApproveInput{})
	if apperrors.FromError(err).Code != "conflict" {
		t.Fatalf("expected conflict, got %v", err)
	}

	pending, err := store.ListPendingCommands(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no commands created, got %d", len(pending))
	}
}

func TestApproveWalletMismatch(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()

	r, err := svc.Create(ctx, "kiosk-user", createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = svc.Approve(ctx, "admin-user", r.ID, ApproveInput{AdminWallet: "OTHER"})
	if apperrors.FromError(err).Code != "bad_request" {
		t.Fatalf("expected bad_request, got %v", err)
	}
}

func TestApproveRequiresAdminRole(t *testing.T) {
	svc, _ := newFixture(t)

	_, err := svc.Approve(context.Background(), "kiosk-user", "any", ApproveInput{})
	if apperrors.FromError(err).Code != "forbidden" {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCommandAccessControl(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()

	r, err := svc.Create(ctx, "kiosk-user", createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	result, err := svc.Approve(ctx, "admin-user", r.ID, ApproveInput{})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}

	// The creator (admin-user) and admins can read the command.
	if _, err := svc.Command(ctx, "admin-user", result.CommandID); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	// A kiosk user who does not own it cannot.
	_, err = svc.Command(ctx, "kiosk-user", result.CommandID)
	if apperrors.FromError(err).Code != "forbidden" {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
