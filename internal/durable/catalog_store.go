/*
catalog_store.go - durable persistence for products, inventory,
customers, stores, and sync metadata (spec §3 "CatalogEntity", "SyncMeta").
*/
package durable

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// UpsertProduct inserts or replaces a product row.
func (s *Store) UpsertProduct(ctx context.Context, p Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, barcode, price) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, barcode = excluded.barcode, price = excluded.price
	`, p.ID, p.Name, p.Barcode, p.Price.String())
	if err != nil {
		return fmt.Errorf("durable: upsert product: %w", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT id, name, barcode, price FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("durable: get product: %w", err)
	}
	return p, nil
}

// ScanProducts runs fn over every product row in id order, stopping
// as soon as fn returns false. This is the cursor-with-early-termination
// shape spec §4.C and §9 require for local search: a forward cursor
// over *sql.Rows that the caller can stop at any time by returning
// false, instead of materializing the whole catalog into a slice.
func (s *Store) ScanProducts(ctx context.Context, fn func(Product) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, barcode, price FROM products ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("durable: scan products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return fmt.Errorf("durable: scan product row: %w", err)
		}
		if !fn(*p) {
			break
		}
	}
	return rows.Err()
}

func scanProduct(row scannable) (*Product, error) {
	var p Product
	var price string
	if err := row.Scan(&p.ID, &p.Name, &p.Barcode, &price); err != nil {
		return nil, err
	}
	p.Price = MustParseDecimal(price)
	return &p, nil
}

// UpsertInventory writes the absolute quantity for (storeID, productID).
func (s *Store) UpsertInventory(ctx context.Context, row InventoryRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory (store_id, product_id, quantity) VALUES (?, ?, ?)
		ON CONFLICT(store_id, product_id) DO UPDATE SET quantity = excluded.quantity
	`, row.StoreID, row.ProductID, row.Quantity)
	if err != nil {
		return fmt.Errorf("durable: upsert inventory: %w", err)
	}
	return nil
}

func (s *Store) GetInventory(ctx context.Context, storeID, productID string) (*InventoryRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row InventoryRow
	err := s.db.QueryRowContext(ctx,
		`SELECT store_id, product_id, quantity FROM inventory WHERE store_id = ? AND product_id = ?`,
		storeID, productID,
	).Scan(&row.StoreID, &row.ProductID, &row.Quantity)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("durable: get inventory: %w", err)
	}
	return &row, nil
}

func (s *Store) ListInventoryForStore(ctx context.Context, storeID string) ([]InventoryRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT store_id, product_id, quantity FROM inventory WHERE store_id = ?`, storeID)
	if err != nil {
		return nil, fmt.Errorf("durable: list inventory: %w", err)
	}
	defer rows.Close()

	var out []InventoryRow
	for rows.Next() {
		var row InventoryRow
		if err := rows.Scan(&row.StoreID, &row.ProductID, &row.Quantity); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// UpsertCustomer inserts or replaces a customer row.
func (s *Store) UpsertCustomer(ctx context.Context, c Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, phone, loyalty_points, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET phone = excluded.phone, loyalty_points = excluded.loyalty_points, updated_at = excluded.updated_at
	`, c.ID, c.Phone, c.LoyaltyPoints, c.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("durable: upsert customer: %w", err)
	}
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c Customer
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `SELECT id, phone, loyalty_points, updated_at FROM customers WHERE id = ?`, id).
		Scan(&c.ID, &c.Phone, &c.LoyaltyPoints, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("durable: get customer: %w", err)
	}
	c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertStore inserts or replaces a store record.
func (s *Store) UpsertStore(ctx context.Context, rec StoreRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stores (id, currency, tax_rate, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET currency = excluded.currency, tax_rate = excluded.tax_rate, updated_at = excluded.updated_at
	`, rec.ID, rec.Currency, rec.TaxRate.String(), rec.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("durable: upsert store: %w", err)
	}
	return nil
}

func (s *Store) GetStore(ctx context.Context, id string) (*StoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec StoreRecord
	var taxRate, updatedAt string
	err := s.db.QueryRowContext(ctx, `SELECT id, currency, tax_rate, updated_at FROM stores WHERE id = ?`, id).
		Scan(&rec.ID, &rec.Currency, &taxRate, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("durable: get store: %w", err)
	}
	rec.TaxRate = MustParseDecimal(taxRate)
	rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetSyncMeta returns freshness metadata for a store, or nil if none
// has ever been recorded (spec §3: "a store is stale iff ... no entry exists").
func (s *Store) GetSyncMeta(ctx context.Context, storeID string) (*SyncMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var m SyncMeta
	var lastSyncAt string
	err := s.db.QueryRowContext(ctx, `SELECT store_id, last_sync_at, product_count FROM sync_meta WHERE store_id = ?`, storeID).
		Scan(&m.StoreID, &lastSyncAt, &m.ProductCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("durable: get sync meta: %w", err)
	}
	m.LastSyncAt, err = time.Parse(time.RFC3339, lastSyncAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// PutSyncMeta records a fresh sync timestamp for a store.
func (s *Store) PutSyncMeta(ctx context.Context, m SyncMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_meta (store_id, last_sync_at, product_count) VALUES (?, ?, ?)
		ON CONFLICT(store_id) DO UPDATE SET last_sync_at = excluded.last_sync_at, product_count = excluded.product_count
	`, m.StoreID, m.LastSyncAt.UTC().Format(time.RFC3339), m.ProductCount)
	if err != nil {
		return fmt.Errorf("durable: put sync meta: %w", err)
	}
	return nil
}

// MustParseDecimal parses s as a decimal, returning zero on failure -
// grounded on generic/types.go's MustParseDecimal. Used for columns
// this package itself wrote and also by the api handlers on request
// fields, where an unparsable string silently becomes zero.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
