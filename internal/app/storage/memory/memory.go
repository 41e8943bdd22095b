package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/akta-mmi/redistribution_core/internal/app/domain/command"
	"github.com/akta-mmi/redistribution_core/internal/app/domain/kiosk"
	"github.com/akta-mmi/redistribution_core/internal/app/domain/ledgertx"
	"github.com/akta-mmi/redistribution_core/internal/app/domain/redistribution"
	"github.com/akta-mmi/redistribution_core/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu              sync.RWMutex
	nextID          int64
	redistributions map[string]redistribution.Redistribution
	commands        map[string]command.Command
	transactions    map[string]ledgertx.Transaction
	txByID          map[string]string // ledger txid -> record id
	kiosks          map[string]kiosk.Kiosk
	inventory       map[string]kiosk.InventoryRecord // kioskID|sku
	products        map[string]kiosk.Product         // by SKU
	admins          map[string]kiosk.Admin           // by user id
	roles           map[string]string                // user id -> role
}

var _ storage.RedistributionStore = (*Store)(nil)
var _ storage.CommandStore = (*Store)(nil)
var _ storage.TransactionStore = (*Store)(nil)
var _ storage.KioskStore = (*Store)(nil)
var _ storage.ProductStore = (*Store)(nil)
var _ storage.AdminStore = (*Store)(nil)
var _ storage.RoleStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:          1,
		redistributions: make(map[string]redistribution.Redistribution),
		commands:        make(map[string]command.Command),
		transactions:    make(map[string]ledgertx.Transaction),
		txByID:          make(map[string]string),
		kiosks:          make(map[string]kiosk.Kiosk),
		inventory:       make(map[string]kiosk.InventoryRecord),
		products:        make(map[string]kiosk.Product),
		admins:          make(map[string]kiosk.Admin),
		roles:           make(map[string]string),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func invKey(kioskID, sku string) string {
	return kioskID + "|" + sku
}

// RedistributionStore implementation ------------------------------------------

func (s *Store) CreateRedistribution(_ context.Context, r redistribution.Redistribution) (redistribution.Redistribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = s.nextIDLocked()
	} else if _, exists := s.redistributions[r.ID]; exists {
		return redistribution.Redistribution{}, fmt.Errorf("redistribution %s already exists", r.ID)
	}

	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	r.Items = cloneItems(r.Items)
	r.Pricing = clonePricing(r.Pricing)

	s.redistributions[r.ID] = r
	return cloneRedistribution(r), nil
}

func (s *Store) UpdateRedistribution(_ context.Context, r redistribution.Redistribution) (redistribution.Redistribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.redistributions[r.ID]
	if !ok {
		return redistribution.Redistribution{}, fmt.Errorf("redistribution %s: %w", r.ID, storage.ErrNotFound)
	}

	r.CreatedAt = original.CreatedAt
	r.UpdatedAt = time.Now().UTC()
	r.Items = cloneItems(r.Items)
	r.Pricing = clonePricing(r.Pricing)

	s.redistributions[r.ID] = r
	return cloneRedistribution(r), nil
}

func (s *Store) GetRedistribution(_ context.Context, id string) (redistribution.Redistribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.redistributions[id]
	if !ok {
		return redistribution.Redistribution{}, fmt.Errorf("redistribution %s: %w", id, storage.ErrNotFound)
	}
	return cloneRedistribution(r), nil
}

func (s *Store) ListRedistributions(_ context.Context, filter storage.RedistributionFilter, limit, offset int) ([]redistribution.Redistribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []redistribution.Redistribution
	for _, r := range s.redistributions {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.FromKioskID != "" && r.FromKioskID != filter.FromKioskID {
			continue
		}
		if filter.ToKioskID != "" && r.ToKioskID != filter.ToKioskID {
			continue
		}
		out = append(out, cloneRedistribution(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, limit, offset), nil
}

func (s *Store) FindDuplicateRedistribution(_ context.Context, createdBy, clientReqID string) (redistribution.Redistribution, error) {
	if clientReqID == "" {
		return redistribution.Redistribution{}, storage.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *redistribution.Redistribution
	for _, r := range s.redistributions {
		if r.CreatedBy != createdBy || r.ClientReqID != clientReqID {
			continue
		}
		if found == nil || r.CreatedAt.Before(found.CreatedAt) {
			c := cloneRedistribution(r)
			found = &c
		}
	}
	if found == nil {
		return redistribution.Redistribution{}, storage.ErrNotFound
	}
	return *found, nil
}

// CommandStore implementation -------------------------------------------------

func (s *Store) CreateCommand(_ context.Context, cmd command.Command) (command.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cmd.ID == "" {
		cmd.ID = s.nextIDLocked()
	} else if _, exists := s.commands[cmd.ID]; exists {
		return command.Command{}, fmt.Errorf("command %s already exists", cmd.ID)
	}

	now := time.Now().UTC()
	cmd.CreatedAt = now
	cmd.UpdatedAt = now
	cmd.Payload.Items = cloneItems(cmd.Payload.Items)

	s.commands[cmd.ID] = cmd
	return cloneCommand(cmd), nil
}

func (s *Store) UpdateCommand(_ context.Context, cmd command.Command) (command.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.commands[cmd.ID]
	if !ok {
		return command.Command{}, fmt.Errorf("command %s: %w", cmd.ID, storage.ErrNotFound)
	}

	cmd.CreatedAt = original.CreatedAt
	cmd.UpdatedAt = time.Now().UTC()
	cmd.Payload.Items = cloneItems(cmd.Payload.Items)

	s.commands[cmd.ID] = cmd
	return cloneCommand(cmd), nil
}

func (s *Store) GetCommand(_ context.Context, id string) (command.Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cmd, ok := s.commands[id]
	if !ok {
		return command.Command{}, fmt.Errorf("command %s: %w", id, storage.ErrNotFound)
	}
	return cloneCommand(cmd), nil
}

func (s *Store) ListPendingCommands(ctx context.Context) ([]command.Command, error) {
	return s.listCommandsByStatus(command.StatusPending), nil
}

func (s *Store) ListUnsettledCommands(ctx context.Context) ([]command.Command, error) {
	return s.listCommandsByStatus(command.StatusSubmitted), nil
}

func (s *Store) listCommandsByStatus(status string) []command.Command {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []command.Command
	for _, cmd := range s.commands {
		if cmd.Status == status {
			out = append(out, cloneCommand(cmd))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) ClaimCommand(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, ok := s.commands[id]
	if !ok {
		return false, fmt.Errorf("command %s: %w", id, storage.ErrNotFound)
	}
	if cmd.Status != command.StatusPending {
		return false, nil
	}
	cmd.Status = command.StatusProcessing
	cmd.UpdatedAt = time.Now().UTC()
	s.commands[id] = cmd
	return true, nil
}

func (s *Store) FindDuplicateCommand(_ context.Context, userID, clientReqID string) (command.Command, error) {
	if clientReqID == "" {
		return command.Command{}, storage.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *command.Command
	for _, cmd := range s.commands {
		if cmd.UserID != userID || cmd.ClientReqID != clientReqID {
			continue
		}
		if found == nil || cmd.CreatedAt.Before(found.CreatedAt) {
			c := cloneCommand(cmd)
			found = &c
		}
	}
	if found == nil {
		return command.Command{}, storage.ErrNotFound
	}
	return *found, nil
}

// TransactionStore implementation ---------------------------------------------

func (s *Store) CreateTransaction(_ context.Context, tx ledgertx.Transaction) (ledgertx.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.TxID == "" {
		return ledgertx.Transaction{}, fmt.Errorf("transaction txid is required")
	}
	if _, exists := s.txByID[tx.TxID]; exists {
		return ledgertx.Transaction{}, fmt.Errorf("transaction %s already exists", tx.TxID)
	}
	if tx.ID == "" {
		tx.ID = s.nextIDLocked()
	}

	tx.CreatedAt = time.Now().UTC()
	s.transactions[tx.ID] = tx
	s.txByID[tx.TxID] = tx.ID
	return tx, nil
}

func (s *Store) GetTransactionByTxID(_ context.Context, txid string) (ledgertx.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.txByID[txid]
	if !ok {
		return ledgertx.Transaction{}, fmt.Errorf("transaction %s: %w", txid, storage.ErrNotFound)
	}
	return s.transactions[id], nil
}

func (s *Store) UpdateTransactionByTxID(_ context.Context, tx ledgertx.Transaction) (ledgertx.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.txByID[tx.TxID]
	if !ok {
		return ledgertx.Transaction{}, fmt.Errorf("transaction %s: %w", tx.TxID, storage.ErrNotFound)
	}

	original := s.transactions[id]
	tx.ID = original.ID
	tx.CreatedAt = original.CreatedAt
	s.transactions[id] = tx
	return tx, nil
}

func (s *Store) ListTransactions(_ context.Context, filter ledgertx.Filter, limit, offset int) ([]ledgertx.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledgertx.Transaction
	for _, tx := range s.transactions {
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		if filter.RedistributionID != "" && tx.RedistributionID != filter.RedistributionID {
			continue
		}
		if filter.Chain != "" && tx.Chain != filter.Chain {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, limit, offset), nil
}

func (s *Store) ListPendingTransactions(ctx context.Context) ([]ledgertx.Transaction, error) {
	return s.listPendingBefore(time.Time{}), nil
}

func (s *Store) ListPendingTransactionsOlderThan(_ context.Context, cutoff time.Time) ([]ledgertx.Transaction, error) {
	return s.listPendingBefore(cutoff), nil
}

func (s *Store) listPendingBefore(cutoff time.Time) []ledgertx.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledgertx.Transaction
	for _, tx := range s.transactions {
		if tx.Status != ledgertx.StatusPending {
			continue
		}
		if !cutoff.IsZero() && !tx.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// KioskStore implementation ---------------------------------------------------

// SeedKiosk registers a kiosk, for tests and local development.
func (s *Store) SeedKiosk(k kiosk.Kiosk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	s.kiosks[k.ID] = k
}

// SeedInventory sets the stocked quantity of one SKU at one kiosk.
func (s *Store) SeedInventory(kioskID, sku string, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inventory[invKey(kioskID, sku)] = kiosk.InventoryRecord{
		KioskID:     kioskID,
		SKU:         sku,
		Quantity:    quantity,
		LastUpdated: time.Now().UTC(),
	}
}

// SeedProduct registers a product by SKU.
func (s *Store) SeedProduct(p kiosk.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.products[p.SKU] = p
}

// SeedAdmin registers an admin wallet mapping and the admin role.
func (s *Store) SeedAdmin(a kiosk.Admin) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.admins[a.UserID] = a
	s.roles[a.UserID] = kiosk.RoleAdmin
}

// SeedTransaction stores a transaction record verbatim, keeping whatever
// CreatedAt the caller set. Tests use it to backdate pending transactions.
func (s *Store) SeedTransaction(tx ledgertx.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = s.nextIDLocked()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	s.transactions[tx.ID] = tx
	s.txByID[tx.TxID] = tx.ID
}

// SeedRole assigns a role to a user.
func (s *Store) SeedRole(userID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roles[userID] = role
}

func (s *Store) GetKiosk(_ context.Context, id string) (kiosk.Kiosk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.kiosks[id]
	if !ok {
		return kiosk.Kiosk{}, fmt.Errorf("kiosk %s: %w", id, storage.ErrNotFound)
	}
	return k, nil
}

func (s *Store) Inventory(_ context.Context, kioskID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int)
	for key, rec := range s.inventory {
		if strings.HasPrefix(key, kioskID+"|") {
			out[rec.SKU] = rec.Quantity
		}
	}
	return out, nil
}

func (s *Store) InventoryRecord(_ context.Context, kioskID, sku string) (kiosk.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.inventory[invKey(kioskID, sku)]
	if !ok {
		return kiosk.InventoryRecord{}, fmt.Errorf("inventory %s/%s: %w", kioskID, sku, storage.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) AdjustInventory(_ context.Context, kioskID, sku string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := invKey(kioskID, sku)
	rec, ok := s.inventory[key]
	if !ok {
		if delta < 0 {
			// Nothing stocked; a decrement clamps at zero.
			delta = 0
		}
		rec = kiosk.InventoryRecord{KioskID: kioskID, SKU: sku}
	}

	rec.Quantity += delta
	if rec.Quantity < 0 {
		rec.Quantity = 0
	}
	rec.LastUpdated = time.Now().UTC()
	s.inventory[key] = rec
	return nil
}

// ProductStore implementation -------------------------------------------------

func (s *Store) GetProductBySKU(_ context.Context, sku string) (kiosk.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[sku]
	if !ok {
		return kiosk.Product{}, fmt.Errorf("product %s: %w", sku, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) ProductPrices(_ context.Context, skus []string) (map[string]kiosk.Prices, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]kiosk.Prices, len(skus))
	for _, sku := range skus {
		p, ok := s.products[sku]
		if !ok {
			continue
		}
		out[sku] = kiosk.Prices{Acquired: p.AcquiredPrice, Suggested: p.SuggestedPrice}
	}
	return out, nil
}

// AdminStore / RoleStore implementation ---------------------------------------

func (s *Store) GetAdminByUserID(_ context.Context, userID string) (kiosk.Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.admins[userID]
	if !ok {
		return kiosk.Admin{}, fmt.Errorf("admin %s: %w", userID, storage.ErrNotFound)
	}
	return a, nil
}

func (s *Store) Role(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.roles[userID]
	if !ok {
		return "", fmt.Errorf("role for %s: %w", userID, storage.ErrNotFound)
	}
	return role, nil
}

// Helpers ----------------------------------------------------------------------

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneItems(items []redistribution.Item) []redistribution.Item {
	if items == nil {
		return nil
	}
	out := make([]redistribution.Item, len(items))
	copy(out, items)
	return out
}

func clonePricing(p *redistribution.Pricing) *redistribution.Pricing {
	if p == nil {
		return nil
	}
	c := *p
	if p.Items != nil {
		c.Items = make([]redistribution.ItemPricing, len(p.Items))
		copy(c.Items, p.Items)
	}
	return &c
}

func cloneRedistribution(r redistribution.Redistribution) redistribution.Redistribution {
	r.Items = cloneItems(r.Items)
	r.Pricing = clonePricing(r.Pricing)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		r.CompletedAt = &t
	}
	return r
}

func cloneCommand(cmd command.Command) command.Command {
	cmd.Payload.Items = cloneItems(cmd.Payload.Items)
	if cmd.ProcessedAt != nil {
		t := *cmd.ProcessedAt
		cmd.ProcessedAt = &t
	}
	return cmd
}
