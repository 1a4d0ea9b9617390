package postgres

import (
	"context"
	"database/sql"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		sku TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		price_cents BIGINT NOT NULL CHECK (price_cents >= 0),
		cost_cents BIGINT,
		active BOOLEAN NOT NULL DEFAULT true,
		on_hand BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT products_sku_key UNIQUE (sku),
		CONSTRAINT products_on_hand_check CHECK (on_hand >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products(id),
		type TEXT NOT NULL CHECK (type IN ('IN', 'OUT', 'ADJUST')),
		delta BIGINT NOT NULL CHECK (delta <> 0),
		note TEXT NOT NULL DEFAULT '',
		actor_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS stock_movements_product_idx ON stock_movements (product_id, id)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id BIGSERIAL PRIMARY KEY,
		code TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		payment_method TEXT NOT NULL CHECK (payment_method IN ('PIX', 'CASH', 'CARD')),
		total_cents BIGINT NOT NULL CHECK (total_cents >= 0),
		buyer_name TEXT,
		status TEXT NOT NULL CHECK (status IN ('PAID', 'CANCELED')),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT sales_code_key UNIQUE (code)
	)`,
	`CREATE INDEX IF NOT EXISTS sales_created_idx ON sales (created_at)`,
	`CREATE INDEX IF NOT EXISTS sales_seller_idx ON sales (seller_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		id BIGSERIAL PRIMARY KEY,
		sale_id BIGINT NOT NULL REFERENCES sales(id),
		product_id BIGINT NOT NULL REFERENCES products(id),
		qty BIGINT NOT NULL CHECK (qty > 0),
		unit_cents BIGINT NOT NULL,
		total_cents BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS sale_items_sale_idx ON sale_items (sale_id)`,
	`CREATE INDEX IF NOT EXISTS sale_items_product_idx ON sale_items (product_id)`,
	`CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates any missing tables. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
