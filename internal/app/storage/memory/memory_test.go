package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/akta-mmi/redistribution_core/internal/app/domain/command"
	"github.com/akta-mmi/redistribution_core/internal/app/domain/ledgertx"
	"github.com/akta-mmi/redistribution_core/internal/app/storage"
)

func TestClaimCommandSingleWinner(t *testing.T) {
	store := New()
	ctx := context.Background()

	cmd, err := store.CreateCommand(ctx, command.Command{Status: command.StatusPending})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := store.ClaimCommand(ctx, cmd.ID)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	got, err := store.GetCommand(ctx, cmd.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != command.StatusProcessing {
		t.Fatalf("expected processing, got %s", got.Status)
	}
}

func TestAdjustInventoryClampsAtZero(t *testing.T) {
	store := New()
	ctx := context.Background()

	store.SeedInventory("kiosk-a", "water-500ml", 3)

	if err := store.AdjustInventory(ctx, "kiosk-a", "water-500ml", -10); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	inv, err := store.Inventory(ctx, "kiosk-a")
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	if inv["water-500ml"] != 0 {
		t.Fatalf("expected clamp at zero, got %d", inv["water-500ml"])
	}

	// Incrementing an absent row creates it.
	if err := store.AdjustInventory(ctx, "kiosk-b", "water-500ml", 10); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	inv, err = store.Inventory(ctx, "kiosk-b")
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	if inv["water-500ml"] != 10 {
		t.Fatalf("expected 10, got %d", inv["water-500ml"])
	}
}

func TestFindDuplicateCommandReturnsEarliest(t *testing.T) {
	store := New()
	ctx := context.Background()

	first, err := store.CreateCommand(ctx, command.Command{UserID: "u1", ClientReqID: "req-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := store.CreateCommand(ctx, command.Command{UserID: "u1", ClientReqID: "req-1"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup, err := store.FindDuplicateCommand(ctx, "u1", "req-1")
	if err != nil {
		t.Fatalf("find duplicate: %v", err)
	}
	if dup.ID != first.ID {
		t.Fatalf("expected earliest command %s, got %s", first.ID, dup.ID)
	}

	if _, err := store.FindDuplicateCommand(ctx, "u1", ""); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty client req id, got %v", err)
	}
}

func TestListPendingTransactionsOlderThan(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.CreateTransaction(ctx, ledgertx.Transaction{
		TxID:   "tx-1",
		Status: ledgertx.StatusPending,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	old, err := store.ListPendingTransactionsOlderThan(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(old) != 0 {
		t.Fatalf("expected no transactions older than the cutoff, got %d", len(old))
	}

	recent, err := store.ListPendingTransactionsOlderThan(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected one transaction before a future cutoff, got %d", len(recent))
	}
}
