/*
handle.go - Opening and migrating the shared SQLite database.

WAL MODE:
  Opened with WAL for concurrent readers and a single writer, same as
  the teacher's store/sqlite/sqlite.go.

STORAGE DENIAL:
  Open returns (nil, err) if the file cannot be created/opened at all
  (bad path, permissions, read-only filesystem). It deliberately does
  NOT panic or log.Fatal - the caller (cmd/posync) decides whether that
  is fatal for its use case. cmd/posync serve treats an Open error as
  the signal to fall back to queue.NewMemoryBackend().
*/
package durable

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the single persistence type implementing the queue, catalog,
// sales, and returns domains. One *sql.DB backs all of them, mirroring
// the teacher's single sqlite.Store spanning unrelated tables.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates or opens the database at path ("" or ":memory:" for an
// ephemeral store, used heavily by tests).
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("durable: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("durable: ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("durable: migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// migrate creates every table/index this store needs. Additive only:
// no ALTER/DROP ever appears here. Schema version is tracked only for
// documentation purposes - CREATE IF NOT EXISTS makes re-running safe
// regardless.
func (s *Store) migrate() error {
	schema := `
	PRAGMA journal_mode=WAL;

	CREATE TABLE IF NOT EXISTS schema_meta (
		k TEXT PRIMARY KEY,
		v TEXT NOT NULL
	);
	INSERT OR IGNORE INTO schema_meta (k, v) VALUES ('queue_version', '1');
	INSERT OR IGNORE INTO schema_meta (k, v) VALUES ('catalog_version', '4');

	-- Queue DB (schema v1): offline_sales, indexed on next_attempt_at and created_at.
	CREATE TABLE IF NOT EXISTS offline_sales (
		local_id TEXT PRIMARY KEY,
		idempotency_key TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL,
		method TEXT NOT NULL,
		headers_json TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_attempt_at TEXT NOT NULL,
		last_error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_offline_sales_next_attempt ON offline_sales(next_attempt_at);
	CREATE INDEX IF NOT EXISTS idx_offline_sales_created_at ON offline_sales(created_at);

	-- Catalog DB (schema v4): products, inventory, customers, stores, sync_meta, sales, offline_returns.
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		barcode TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL DEFAULT '0'
	);
	CREATE INDEX IF NOT EXISTS idx_products_name ON products(name);
	CREATE INDEX IF NOT EXISTS idx_products_barcode ON products(barcode);

	CREATE TABLE IF NOT EXISTS inventory (
		store_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (store_id, product_id)
	);
	CREATE INDEX IF NOT EXISTS idx_inventory_store ON inventory(store_id);

	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		phone TEXT NOT NULL DEFAULT '',
		loyalty_points INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_customers_phone ON customers(phone);

	CREATE TABLE IF NOT EXISTS stores (
		id TEXT PRIMARY KEY,
		currency TEXT NOT NULL DEFAULT 'USD',
		tax_rate TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_meta (
		store_id TEXT PRIMARY KEY,
		last_sync_at TEXT NOT NULL,
		product_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		receipt_number TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL DEFAULT '',
		store_id TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		discount TEXT NOT NULL,
		tax TEXT NOT NULL,
		total TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		status TEXT NOT NULL,
		items_json TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		is_offline INTEGER NOT NULL DEFAULT 0,
		synced_at TEXT,
		server_id TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_sales_store ON sales(store_id);
	CREATE INDEX IF NOT EXISTS idx_sales_occurred_at ON sales(occurred_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sales_idempotency ON sales(idempotency_key) WHERE idempotency_key != '';

	CREATE TABLE IF NOT EXISTS offline_returns (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL,
		store_id TEXT NOT NULL,
		return_type TEXT NOT NULL,
		items_json TEXT NOT NULL,
		swap_items_json TEXT NOT NULL DEFAULT '[]',
		idempotency_key TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		potential_loss TEXT NOT NULL DEFAULT '0',
		synced_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_offline_returns_store ON offline_returns(store_id);
	CREATE INDEX IF NOT EXISTS idx_offline_returns_sale ON offline_returns(sale_id);
	`

	_, err := s.db.Exec(schema)
	return err
}
