// Package migrations applies the relational schema for the redistribution core.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	name string
	ddl  string
}

// Schema order matters: command_queue and blockchain_transactions reference
// redistributions; kiosk_inventory references kiosks.
var all = []migration{
	{
		name: "create_kiosks",
		ddl: `
			CREATE TABLE IF NOT EXISTS kiosks (
				id         TEXT PRIMARY KEY,
				name       TEXT NOT NULL DEFAULT '',
				location   TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
	},
	{
		name: "create_kiosk_inventory",
		ddl: `
			CREATE TABLE IF NOT EXISTS kiosk_inventory (
				kiosk_id     TEXT NOT NULL REFERENCES kiosks(id),
				sku          TEXT NOT NULL,
				quantity     INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
				threshold    INTEGER NOT NULL DEFAULT 0,
				last_updated TIMESTAMPTZ NOT NULL DEFAULT now(),
				PRIMARY KEY (kiosk_id, sku)
			)`,
	},
	{
		name: "create_products",
		ddl: `
			CREATE TABLE IF NOT EXISTS products (
				id              TEXT PRIMARY KEY,
				sku             TEXT NOT NULL UNIQUE,
				name            TEXT NOT NULL DEFAULT '',
				acquired_price  NUMERIC(12,4) NOT NULL DEFAULT 0,
				suggested_price NUMERIC(12,4) NOT NULL DEFAULT 0
			)`,
	},
	{
		name: "create_admin_wallets",
		ddl: `
			CREATE TABLE IF NOT EXISTS admin_wallets (
				user_id    TEXT PRIMARY KEY,
				wallet     TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
	},
	{
		name: "create_user_roles",
		ddl: `
			CREATE TABLE IF NOT EXISTS user_roles (
				user_id TEXT PRIMARY KEY,
				role    TEXT NOT NULL
			)`,
	},
	{
		name: "create_redistributions",
		ddl: `
			CREATE TABLE IF NOT EXISTS redistributions (
				id            TEXT PRIMARY KEY,
				from_kiosk_id TEXT NOT NULL,
				to_kiosk_id   TEXT NOT NULL,
				items         JSONB NOT NULL,
				pricing       JSONB,
				client_req_id TEXT NOT NULL DEFAULT '',
				signature     TEXT NOT NULL DEFAULT '',
				public_key    TEXT NOT NULL DEFAULT '',
				created_by    TEXT NOT NULL,
				status        TEXT NOT NULL DEFAULT 'requested',
				blockchain_ref TEXT NOT NULL DEFAULT '',
				tx_id         TEXT NOT NULL DEFAULT '',
				created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
				completed_at  TIMESTAMPTZ
			);
			CREATE INDEX IF NOT EXISTS idx_redistributions_status ON redistributions (status);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_redistributions_dedupe
				ON redistributions (created_by, client_req_id) WHERE client_req_id <> ''`,
	},
	{
		name: "create_command_queue",
		ddl: `
			CREATE TABLE IF NOT EXISTS command_queue (
				id                TEXT PRIMARY KEY,
				user_id           TEXT NOT NULL,
				client_req_id     TEXT NOT NULL DEFAULT '',
				type              TEXT NOT NULL,
				payload           JSONB NOT NULL,
				redistribution_id TEXT NOT NULL REFERENCES redistributions(id),
				status            TEXT NOT NULL DEFAULT 'pending',
				error_message     TEXT NOT NULL DEFAULT '',
				created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
				processed_at      TIMESTAMPTZ
			);
			CREATE INDEX IF NOT EXISTS idx_command_queue_status ON command_queue (status, created_at);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_command_queue_dedupe
				ON command_queue (user_id, client_req_id) WHERE client_req_id <> ''`,
	},
	{
		name: "create_blockchain_transactions",
		ddl: `
			CREATE TABLE IF NOT EXISTS blockchain_transactions (
				id                TEXT PRIMARY KEY,
				command_id        TEXT NOT NULL,
				redistribution_id TEXT NOT NULL REFERENCES redistributions(id),
				tx_id             TEXT NOT NULL UNIQUE,
				chain             TEXT NOT NULL,
				chain_id          TEXT NOT NULL,
				blockchain_ref    TEXT NOT NULL,
				status            TEXT NOT NULL DEFAULT 'pending',
				block             BIGINT NOT NULL DEFAULT 0,
				confirmed_round   BIGINT NOT NULL DEFAULT 0,
				fee               DOUBLE PRECISION NOT NULL DEFAULT 0,
				created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
				confirmed_at      TIMESTAMPTZ
			);
			CREATE INDEX IF NOT EXISTS idx_blockchain_transactions_status
				ON blockchain_transactions (status, created_at)`,
	},
}

// Apply runs every migration in order. Statements are idempotent so Apply is
// safe to run at every startup.
func Apply(ctx context.Context, db *sql.DB) error {
	for _, m := range all {
		if _, err := db.ExecContext(ctx, m.ddl); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
	}
	return nil
}
