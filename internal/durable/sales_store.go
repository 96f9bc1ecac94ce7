/*
sales_store.go - durable persistence for cached sales and offline
return/swap records (spec §3 "CachedSale", "OfflineReturnRecord"),
plus the rolling-window prune routine (spec §4.C).
*/
package durable

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// MaxCachedSalesPerStore is spec §3's N = 10 000.
const MaxCachedSalesPerStore = 10000

// InsertSale writes a new cached sale. Fails with
// ErrDuplicateIdempotencyKey if the idempotency key collides.
func (s *Store) InsertSale(ctx context.Context, sale CachedSale) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertSaleLocked(ctx, sale)
}

func (s *Store) insertSaleLocked(ctx context.Context, sale CachedSale) error {
	itemsJSON, err := json.Marshal(sale.Items)
	if err != nil {
		return fmt.Errorf("durable: marshal sale items: %w", err)
	}
	isOffline := 0
	if sale.IsOffline {
		isOffline = 1
	}
	var syncedAt any
	if sale.SyncedAt != nil {
		syncedAt = sale.SyncedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sales
			(id, receipt_number, idempotency_key, store_id, subtotal, discount, tax, total,
			 payment_method, status, items_json, occurred_at, is_offline, synced_at, server_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sale.ID, sale.ReceiptNumber, sale.IdempotencyKey, sale.StoreID,
		sale.Subtotal.String(), sale.Discount.String(), sale.Tax.String(), sale.Total.String(),
		sale.PaymentMethod, string(sale.Status), string(itemsJSON),
		sale.OccurredAt.UTC().Format(time.RFC3339Nano), isOffline, syncedAt, sale.ServerID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("durable: insert sale: %w", err)
	}
	return nil
}

// InsertSaleBatch writes many sales atomically (used by snapshot import).
func (s *Store) InsertSaleBatch(ctx context.Context, sales []CachedSale) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sale := range sales {
		if err := s.insertSaleLocked(ctx, sale); err != nil {
			return err
		}
	}
	return nil
}

// UpdateSale persists mutations to an existing cached sale (used after
// recording a return, or after the server assigns a serverId post-sync).
func (s *Store) UpdateSale(ctx context.Context, sale CachedSale) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	itemsJSON, err := json.Marshal(sale.Items)
	if err != nil {
		return fmt.Errorf("durable: marshal sale items: %w", err)
	}
	var syncedAt any
	if sale.SyncedAt != nil {
		syncedAt = sale.SyncedAt.UTC().Format(time.RFC3339Nano)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sales SET
			receipt_number = ?, status = ?, items_json = ?, synced_at = ?, server_id = ?
		WHERE id = ?
	`, sale.ReceiptNumber, string(sale.Status), string(itemsJSON), syncedAt, sale.ServerID, sale.ID)
	if err != nil {
		return fmt.Errorf("durable: update sale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*CachedSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, saleSelectColumns+` FROM sales WHERE id = ?`, id)
	sale, err := scanSale(row)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("durable: get sale: %w", err)
	}
	return sale, nil
}

// GetSaleByIdempotencyKey looks up the cached sale sharing an outbound
// queue record's idempotency key, used to reconcile serverId/syncedAt
// once the Sync Worker's replay of that record reaches a sale-complete
// endpoint.
func (s *Store) GetSaleByIdempotencyKey(ctx context.Context, key string) (*CachedSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, saleSelectColumns+` FROM sales WHERE idempotency_key = ?`, key)
	sale, err := scanSale(row)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("durable: get sale by idempotency key: %w", err)
	}
	return sale, nil
}

// ReconcileSale assigns serverID and syncedAt to the cached sale whose
// idempotencyKey matches a just-drained queue record. Not every queued
// transaction is a sale (e.g. returns share the same queue but not the
// sales table), so a miss is not an error: it just means this record
// had nothing to reconcile.
func (s *Store) ReconcileSale(ctx context.Context, idempotencyKey, serverID string, syncedAt time.Time) error {
	if idempotencyKey == "" {
		return nil
	}
	sale, err := s.GetSaleByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	sale.ServerID = serverID
	sale.SyncedAt = &syncedAt
	return s.UpdateSale(ctx, *sale)
}

// SalesForStore returns every cached sale for a store, newest first.
func (s *Store) SalesForStore(ctx context.Context, storeID string) ([]CachedSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.salesForStoreLocked(ctx, storeID)
}

func (s *Store) salesForStoreLocked(ctx context.Context, storeID string) ([]CachedSale, error) {
	rows, err := s.db.QueryContext(ctx, saleSelectColumns+` FROM sales WHERE store_id = ? ORDER BY occurred_at DESC`, storeID)
	if err != nil {
		return nil, fmt.Errorf("durable: sales for store: %w", err)
	}
	defer rows.Close()

	var out []CachedSale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("durable: scan sale row: %w", err)
		}
		out = append(out, *sale)
	}
	return out, rows.Err()
}

// PruneSalesForStore enforces the rolling window: loads every sale for
// storeID, sorts by occurredAt descending (already the query order),
// and deletes everything beyond position N (spec §4.C, invariant 4).
func (s *Store) PruneSalesForStore(ctx context.Context, storeID string, limit int) (evicted int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sales, err := s.salesForStoreLocked(ctx, storeID)
	if err != nil {
		return 0, err
	}
	if len(sales) <= limit {
		return 0, nil
	}

	// Already ordered newest-first by the query; guard with an explicit
	// sort so this routine's correctness doesn't silently depend on the
	// SQL ORDER BY clause above staying in sync with this comment.
	sort.Slice(sales, func(i, j int) bool { return sales[i].OccurredAt.After(sales[j].OccurredAt) })

	toEvict := sales[limit:]
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("durable: begin prune tx: %w", err)
	}
	defer tx.Rollback()

	for _, sale := range toEvict {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sales WHERE id = ?`, sale.ID); err != nil {
			return 0, fmt.Errorf("durable: evict sale: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("durable: commit prune tx: %w", err)
	}
	return len(toEvict), nil
}

const saleSelectColumns = `
	SELECT id, receipt_number, idempotency_key, store_id, subtotal, discount, tax, total,
	       payment_method, status, items_json, occurred_at, is_offline, synced_at, server_id`

func scanSale(row scannable) (*CachedSale, error) {
	var (
		sale                                            CachedSale
		idempotencyKey, serverID                        sql.NullString
		subtotal, discount, tax, total                  string
		status, itemsJSON, occurredAt                   string
		isOffline                                       int
		syncedAt                                        sql.NullString
	)
	if err := row.Scan(&sale.ID, &sale.ReceiptNumber, &idempotencyKey, &sale.StoreID,
		&subtotal, &discount, &tax, &total, &sale.PaymentMethod, &status, &itemsJSON,
		&occurredAt, &isOffline, &syncedAt, &serverID); err != nil {
		return nil, err
	}
	sale.IdempotencyKey = idempotencyKey.String
	sale.ServerID = serverID.String
	sale.Subtotal = MustParseDecimal(subtotal)
	sale.Discount = MustParseDecimal(discount)
	sale.Tax = MustParseDecimal(tax)
	sale.Total = MustParseDecimal(total)
	sale.Status = SaleStatus(status)
	sale.IsOffline = isOffline != 0

	if err := json.Unmarshal([]byte(itemsJSON), &sale.Items); err != nil {
		return nil, fmt.Errorf("unmarshal sale items: %w", err)
	}
	var err error
	if sale.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt); err != nil {
		return nil, err
	}
	if syncedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, syncedAt.String)
		if err != nil {
			return nil, err
		}
		sale.SyncedAt = &t
	}
	return &sale, nil
}

// InsertReturn persists a return or swap record against a prior sale.
func (s *Store) InsertReturn(ctx context.Context, rec OfflineReturnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	itemsJSON, err := json.Marshal(rec.Items)
	if err != nil {
		return fmt.Errorf("durable: marshal return items: %w", err)
	}
	swapJSON, err := json.Marshal(rec.SwapItems)
	if err != nil {
		return fmt.Errorf("durable: marshal swap items: %w", err)
	}
	var syncedAt any
	if rec.SyncedAt != nil {
		syncedAt = rec.SyncedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO offline_returns
			(id, sale_id, store_id, return_type, items_json, swap_items_json,
			 idempotency_key, created_at, potential_loss, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.SaleID, rec.StoreID, string(rec.Type), string(itemsJSON), string(swapJSON),
		rec.IdempotencyKey, rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.PotentialLoss.String(), syncedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("durable: insert return: %w", err)
	}
	return nil
}

// MarkReturnSynced sets syncedAt; syncedAt is monotonic (null -> timestamp).
func (s *Store) MarkReturnSynced(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE offline_returns SET synced_at = ? WHERE id = ? AND synced_at IS NULL`,
		at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("durable: mark return synced: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ReturnsForSale returns every return/swap recorded against a sale.
func (s *Store) ReturnsForSale(ctx context.Context, saleID string) ([]OfflineReturnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, store_id, return_type, items_json, swap_items_json,
		       idempotency_key, created_at, potential_loss, synced_at
		FROM offline_returns WHERE sale_id = ? ORDER BY created_at ASC
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("durable: returns for sale: %w", err)
	}
	defer rows.Close()

	var out []OfflineReturnRecord
	for rows.Next() {
		rec, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanReturn(row scannable) (*OfflineReturnRecord, error) {
	var (
		rec                                     OfflineReturnRecord
		returnType, itemsJSON, swapJSON          string
		idempotencyKey                           sql.NullString
		createdAt, potentialLoss                 string
		syncedAt                                 sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.SaleID, &rec.StoreID, &returnType, &itemsJSON, &swapJSON,
		&idempotencyKey, &createdAt, &potentialLoss, &syncedAt); err != nil {
		return nil, err
	}
	rec.Type = ReturnType(returnType)
	rec.IdempotencyKey = idempotencyKey.String
	rec.PotentialLoss = MustParseDecimal(potentialLoss)

	if err := json.Unmarshal([]byte(itemsJSON), &rec.Items); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(swapJSON), &rec.SwapItems); err != nil {
		return nil, err
	}
	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if syncedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, syncedAt.String)
		if err != nil {
			return nil, err
		}
		rec.SyncedAt = &t
	}
	return &rec, nil
}
