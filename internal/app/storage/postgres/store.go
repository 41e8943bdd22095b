package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/akta-mmi/redistribution_core/internal/app/domain/command"
	"github.com/akta-mmi/redistribution_core/internal/app/domain/kiosk"
	"github.com/akta-mmi/redistribution_core/internal/app/domain/ledgertx"
	"github.com/akta-mmi/redistribution_core/internal/app/domain/redistribution"
	"github.com/akta-mmi/redistribution_core/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.RedistributionStore = (*Store)(nil)
var _ storage.CommandStore = (*Store)(nil)
var _ storage.TransactionStore = (*Store)(nil)
var _ storage.KioskStore = (*Store)(nil)
var _ storage.ProductStore = (*Store)(nil)
var _ storage.AdminStore = (*Store)(nil)
var _ storage.RoleStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- RedistributionStore ----------------------------------------------------

const redistributionColumns = `id, from_kiosk_id, to_kiosk_id, items, pricing, client_req_id,
	signature, public_key, created_by, status, blockchain_ref, tx_id, created_at, updated_at, completed_at`

func (s *Store) CreateRedistribution(ctx context.Context, r redistribution.Redistribution) (redistribution.Redistribution, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	itemsJSON, err := json.Marshal(r.Items)
	if err != nil {
		return redistribution.Redistribution{}, err
	}
	pricingJSON, err := marshalPricing(r.Pricing)
	if err != nil {
		return redistribution.Redistribution{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO redistributions (id, from_kiosk_id, to_kiosk_id, items, pricing, client_req_id,
			signature, public_key, created_by, status, blockchain_ref, tx_id, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, r.ID, r.FromKioskID, r.ToKioskID, itemsJSON, pricingJSON, r.ClientReqID,
		r.Signature, r.PublicKey, r.CreatedBy, r.Status, r.BlockchainRef, r.TxID,
		r.CreatedAt, r.UpdatedAt, toNullTimePtr(r.CompletedAt))
	if err != nil {
		return redistribution.Redistribution{}, err
	}
	return r, nil
}

func (s *Store) UpdateRedistribution(ctx context.Context, r redistribution.Redistribution) (redistribution.Redistribution, error) {
	r.UpdatedAt = time.Now().UTC()

	pricingJSON, err := marshalPricing(r.Pricing)
	if err != nil {
		return redistribution.Redistribution{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE redistributions
		SET status = $2, pricing = $3, blockchain_ref = $4, tx_id = $5, updated_at = $6, completed_at = $7
		WHERE id = $1
	`, r.ID, r.Status, pricingJSON, r.BlockchainRef, r.TxID, r.UpdatedAt, toNullTimePtr(r.CompletedAt))
	if err != nil {
		return redistribution.Redistribution{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return redistribution.Redistribution{}, fmt.Errorf("redistribution %s: %w", r.ID, storage.ErrNotFound)
	}
	return r, nil
}

func (s *Store) GetRedistribution(ctx context.Context, id string) (redistribution.Redistribution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+redistributionColumns+`
		FROM redistributions
		WHERE id = $1
	`, id)

	r, err := scanRedistribution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return redistribution.Redistribution{}, fmt.Errorf("redistribution %s: %w", id, storage.ErrNotFound)
	}
	return r, err
}

func (s *Store) ListRedistributions(ctx context.Context, filter storage.RedistributionFilter, limit, offset int) ([]redistribution.Redistribution, error) {
	query := `
		SELECT ` + redistributionColumns + `
		FROM redistributions
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR from_kiosk_id = $2)
		  AND ($3 = '' OR to_kiosk_id = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, query, filter.Status, filter.FromKioskID, filter.ToKioskID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []redistribution.Redistribution
	for rows.Next() {
		r, err := scanRedistribution(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *Store) FindDuplicateRedistribution(ctx context.Context, createdBy, clientReqID string) (redistribution.Redistribution, error) {
	if clientReqID == "" {
		return redistribution.Redistribution{}, storage.ErrNotFound
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+redistributionColumns+`
		FROM redistributions
		WHERE created_by = $1 AND client_req_id = $2
		ORDER BY created_at ASC
		LIMIT 1
	`, createdBy, clientReqID)

	r, err := scanRedistribution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return redistribution.Redistribution{}, storage.ErrNotFound
	}
	return r, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRedistribution(row rowScanner) (redistribution.Redistribution, error) {
	var (
		r           redistribution.Redistribution
		itemsRaw    []byte
		pricingRaw  []byte
		completedAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.FromKioskID, &r.ToKioskID, &itemsRaw, &pricingRaw, &r.ClientReqID,
		&r.Signature, &r.PublicKey, &r.CreatedBy, &r.Status, &r.BlockchainRef, &r.TxID,
		&r.CreatedAt, &r.UpdatedAt, &completedAt)
	if err != nil {
		return redistribution.Redistribution{}, err
	}
	if len(itemsRaw) > 0 {
		if err := json.Unmarshal(itemsRaw, &r.Items); err != nil {
			return redistribution.Redistribution{}, err
		}
	}
	if len(pricingRaw) > 0 {
		r.Pricing = &redistribution.Pricing{}
		if err := json.Unmarshal(pricingRaw, r.Pricing); err != nil {
			return redistribution.Redistribution{}, err
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return r, nil
}

// --- CommandStore -----------------------------------------------------------

const commandColumns = `id, user_id, client_req_id, type, payload, redistribution_id,
	status, error_message, created_at, updated_at, processed_at`

func (s *Store) CreateCommand(ctx context.Context, cmd command.Command) (command.Command, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	cmd.CreatedAt = now
	cmd.UpdatedAt = now

	payloadJSON, err := json.Marshal(cmd.Payload)
	if err != nil {
		return command.Command{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO command_queue (id, user_id, client_req_id, type, payload, redistribution_id,
			status, error_message, created_at, updated_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, cmd.ID, cmd.UserID, cmd.ClientReqID, cmd.Type, payloadJSON, cmd.RedistributionID,
		cmd.Status, cmd.ErrorMessage, cmd.CreatedAt, cmd.UpdatedAt, toNullTimePtr(cmd.ProcessedAt))
	if err != nil {
		return command.Command{}, err
	}
	return cmd, nil
}

func (s *Store) UpdateCommand(ctx context.Context, cmd command.Command) (command.Command, error) {
	cmd.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE command_queue
		SET status = $2, error_message = $3, updated_at = $4, processed_at = $5
		WHERE id = $1
	`, cmd.ID, cmd.Status, cmd.ErrorMessage, cmd.UpdatedAt, toNullTimePtr(cmd.ProcessedAt))
	if err != nil {
		return command.Command{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return command.Command{}, fmt.Errorf("command %s: %w", cmd.ID, storage.ErrNotFound)
	}
	return cmd, nil
}

func (s *Store) GetCommand(ctx context.Context, id string) (command.Command, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+commandColumns+`
		FROM command_queue
		WHERE id = $1
	`, id)

	cmd, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return command.Command{}, fmt.Errorf("command %s: %w", id, storage.ErrNotFound)
	}
	return cmd, err
}

func (s *Store) ListPendingCommands(ctx context.Context) ([]command.Command, error) {
	return s.listCommandsByStatus(ctx, command.StatusPending)
}

func (s *Store) ListUnsettledCommands(ctx context.Context) ([]command.Command, error) {
	return s.listCommandsByStatus(ctx, command.StatusSubmitted)
}

func (s *Store) listCommandsByStatus(ctx context.Context, status string) ([]command.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commandColumns+`
		FROM command_queue
		WHERE status = $1
		ORDER BY created_at ASC
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []command.Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, cmd)
	}
	return result, rows.Err()
}

// ClaimCommand relies on the conditional update to serialize competing
// workers; exactly one caller observes an affected row.
func (s *Store) ClaimCommand(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE command_queue
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4
	`, id, command.StatusProcessing, time.Now().UTC(), command.StatusPending)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *Store) FindDuplicateCommand(ctx context.Context, userID, clientReqID string) (command.Command, error) {
	if clientReqID == "" {
		return command.Command{}, storage.ErrNotFound
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+commandColumns+`
		FROM command_queue
		WHERE user_id = $1 AND client_req_id = $2
		ORDER BY created_at ASC
		LIMIT 1
	`, userID, clientReqID)

	cmd, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return command.Command{}, storage.ErrNotFound
	}
	return cmd, err
}

func scanCommand(row rowScanner) (command.Command, error) {
	var (
		cmd         command.Command
		payloadRaw  []byte
		processedAt sql.NullTime
	)
	err := row.Scan(&cmd.ID, &cmd.UserID, &cmd.ClientReqID, &cmd.Type, &payloadRaw, &cmd.RedistributionID,
		&cmd.Status, &cmd.ErrorMessage, &cmd.CreatedAt, &cmd.UpdatedAt, &processedAt)
	if err != nil {
		return command.Command{}, err
	}
	if len(payloadRaw) > 0 {
		if err := json.Unmarshal(payloadRaw, &cmd.Payload); err != nil {
			return command.Command{}, err
		}
	}
	if processedAt.Valid {
		t := processedAt.Time
		cmd.ProcessedAt = &t
	}
	return cmd, nil
}

// --- TransactionStore -------------------------------------------------------

const transactionColumns = `id, command_id, redistribution_id, tx_id, chain, chain_id,
	blockchain_ref, status, block, confirmed_round, fee, created_at, confirmed_at`

func (s *Store) CreateTransaction(ctx context.Context, tx ledgertx.Transaction) (ledgertx.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blockchain_transactions (id, command_id, redistribution_id, tx_id, chain, chain_id,
			blockchain_ref, status, block, confirmed_round, fee, created_at, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, tx.ID, tx.CommandID, tx.RedistributionID, tx.TxID, tx.Chain, tx.ChainID,
		tx.BlockchainRef, tx.Status, tx.Block, tx.ConfirmedRound, tx.Fee,
		tx.CreatedAt, toNullTimePtr(tx.ConfirmedAt))
	if err != nil {
		return ledgertx.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) GetTransactionByTxID(ctx context.Context, txid string) (ledgertx.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM blockchain_transactions
		WHERE tx_id = $1
	`, txid)

	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledgertx.Transaction{}, fmt.Errorf("transaction %s: %w", txid, storage.ErrNotFound)
	}
	return tx, err
}

func (s *Store) UpdateTransactionByTxID(ctx context.Context, tx ledgertx.Transaction) (ledgertx.Transaction, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE blockchain_transactions
		SET status = $2, block = $3, confirmed_round = $4, fee = $5, confirmed_at = $6
		WHERE tx_id = $1
	`, tx.TxID, tx.Status, tx.Block, tx.ConfirmedRound, tx.Fee, toNullTimePtr(tx.ConfirmedAt))
	if err != nil {
		return ledgertx.Transaction{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ledgertx.Transaction{}, fmt.Errorf("transaction %s: %w", tx.TxID, storage.ErrNotFound)
	}
	return tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, filter ledgertx.Filter, limit, offset int) ([]ledgertx.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM blockchain_transactions
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR redistribution_id = $2)
		  AND ($3 = '' OR chain = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`, filter.Status, filter.RedistributionID, filter.Chain, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ledgertx.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

func (s *Store) ListPendingTransactions(ctx context.Context) ([]ledgertx.Transaction, error) {
	return s.listPendingBefore(ctx, time.Time{})
}

func (s *Store) ListPendingTransactionsOlderThan(ctx context.Context, cutoff time.Time) ([]ledgertx.Transaction, error) {
	return s.listPendingBefore(ctx, cutoff)
}

func (s *Store) listPendingBefore(ctx context.Context, cutoff time.Time) ([]ledgertx.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM blockchain_transactions
		WHERE status = $1
		ORDER BY created_at ASC
	`
	args := []any{ledgertx.StatusPending}
	if !cutoff.IsZero() {
		query = `
		SELECT ` + transactionColumns + `
		FROM blockchain_transactions
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
	`
		args = append(args, cutoff.UTC())
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ledgertx.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

func scanTransaction(row rowScanner) (ledgertx.Transaction, error) {
	var (
		tx          ledgertx.Transaction
		confirmedAt sql.NullTime
	)
	err := row.Scan(&tx.ID, &tx.CommandID, &tx.RedistributionID, &tx.TxID, &tx.Chain, &tx.ChainID,
		&tx.BlockchainRef, &tx.Status, &tx.Block, &tx.ConfirmedRound, &tx.Fee,
		&tx.CreatedAt, &confirmedAt)
	if err != nil {
		return ledgertx.Transaction{}, err
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		tx.ConfirmedAt = &t
	}
	return tx, nil
}

// --- KioskStore -------------------------------------------------------------

func (s *Store) GetKiosk(ctx context.Context, id string) (kiosk.Kiosk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, location, created_at
		FROM kiosks
		WHERE id = $1
	`, id)

	var k kiosk.Kiosk
	err := row.Scan(&k.ID, &k.Name, &k.Location, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return kiosk.Kiosk{}, fmt.Errorf("kiosk %s: %w", id, storage.ErrNotFound)
	}
	return k, err
}

func (s *Store) Inventory(ctx context.Context, kioskID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, quantity
		FROM kiosk_inventory
		WHERE kiosk_id = $1
	`, kioskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			sku string
			qty int
		)
		if err := rows.Scan(&sku, &qty); err != nil {
			return nil, err
		}
		out[sku] = qty
	}
	return out, rows.Err()
}

func (s *Store) InventoryRecord(ctx context.Context, kioskID, sku string) (kiosk.InventoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT kiosk_id, sku, quantity, threshold, last_updated
		FROM kiosk_inventory
		WHERE kiosk_id = $1 AND sku = $2
	`, kioskID, sku)

	var rec kiosk.InventoryRecord
	err := row.Scan(&rec.KioskID, &rec.SKU, &rec.Quantity, &rec.Threshold, &rec.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return kiosk.InventoryRecord{}, fmt.Errorf("inventory %s/%s: %w", kioskID, sku, storage.ErrNotFound)
	}
	return rec, err
}

// AdjustInventory upserts the stocked quantity, clamping at zero so a
// decrement never drives a row negative.
func (s *Store) AdjustInventory(ctx context.Context, kioskID, sku string, delta int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kiosk_inventory (kiosk_id, sku, quantity, threshold, last_updated)
		VALUES ($1, $2, GREATEST($3, 0), 0, $4)
		ON CONFLICT (kiosk_id, sku)
		DO UPDATE SET quantity = GREATEST(kiosk_inventory.quantity + $3, 0), last_updated = $4
	`, kioskID, sku, delta, time.Now().UTC())
	return err
}

// --- ProductStore -----------------------------------------------------------

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (kiosk.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sku, name, acquired_price, suggested_price
		FROM products
		WHERE sku = $1
	`, sku)

	var p kiosk.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.AcquiredPrice, &p.SuggestedPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return kiosk.Product{}, fmt.Errorf("product %s: %w", sku, storage.ErrNotFound)
	}
	return p, err
}

func (s *Store) ProductPrices(ctx context.Context, skus []string) (map[string]kiosk.Prices, error) {
	out := make(map[string]kiosk.Prices, len(skus))
	if len(skus) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, acquired_price, suggested_price
		FROM products
		WHERE sku = ANY($1)
	`, pq.Array(skus))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			sku    string
			prices kiosk.Prices
		)
		if err := rows.Scan(&sku, &prices.Acquired, &prices.Suggested); err != nil {
			return nil, err
		}
		out[sku] = prices
	}
	return out, rows.Err()
}

// --- AdminStore / RoleStore -------------------------------------------------

func (s *Store) GetAdminByUserID(ctx context.Context, userID string) (kiosk.Admin, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, wallet, created_at
		FROM admin_wallets
		WHERE user_id = $1
	`, userID)

	var a kiosk.Admin
	err := row.Scan(&a.UserID, &a.Wallet, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return kiosk.Admin{}, fmt.Errorf("admin %s: %w", userID, storage.ErrNotFound)
	}
	return a, err
}

func (s *Store) Role(ctx context.Context, userID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT role
		FROM user_roles
		WHERE user_id = $1
	`, userID)

	var role string
	err := row.Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("role for %s: %w", userID, storage.ErrNotFound)
	}
	return role, err
}

// --- helpers ----------------------------------------------------------------

func toNullTimePtr(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func marshalPricing(p *redistribution.Pricing) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}
