/*
Package catalog implements the Catalog Cache (spec §4.C, component C):
local product/inventory/customer/store entity stores, cursor-driven
local search, rolling-window sale eviction, and staleness detection.

Grounded on durable.ScanProducts's cursor-with-early-termination shape
and durable.PruneSalesForStore's rolling-window delete, generalized
into the query-facing operations spec §4.C names.
*/
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/posync/internal/durable"
)

// StaleAfter is the freshness window from spec §3: a store is stale
// iff now-lastSyncAt exceeds this, or no SyncMeta entry exists at all.
const StaleAfter = time.Hour

// ErrReturnExceedsSale is returned when a return or swap decision's
// quantity would push an item's quantityReturned past its original
// sale quantity (spec §8 invariant 5).
var ErrReturnExceedsSale = errors.New("catalog: return quantity exceeds remaining sale quantity")

// Cache is the Till-side handle onto the catalog cache. store may be
// nil when the durable store could not be opened (spec §7): every
// mutating operation below becomes a no-op, and reads behave as if the
// cache were empty, rather than panicking.
type Cache struct {
	store *durable.Store
	now   func() time.Time
}

// New constructs a Cache backed by a durable store.
func New(store *durable.Store) *Cache {
	return &Cache{store: store, now: time.Now}
}

// UpsertProduct writes or replaces a product row.
func (c *Cache) UpsertProduct(ctx context.Context, p durable.Product) error {
	if c.store == nil {
		return nil
	}
	return c.store.UpsertProduct(ctx, p)
}

// GetProduct looks up a single product by id.
func (c *Cache) GetProduct(ctx context.Context, id string) (*durable.Product, error) {
	if c.store == nil {
		return nil, durable.ErrRecordNotFound
	}
	return c.store.GetProduct(ctx, id)
}

// SearchProducts iterates the product store with an open cursor,
// matching q case-insensitively against name and case-sensitively
// against barcode, stopping as soon as max rows have been collected
// (spec §4.C "Local product search").
func (c *Cache) SearchProducts(ctx context.Context, q string, max int) ([]durable.Product, error) {
	if max <= 0 || c.store == nil {
		return nil, nil
	}
	needle := strings.ToLower(q)

	var out []durable.Product
	err := c.store.ScanProducts(ctx, func(p durable.Product) bool {
		if strings.Contains(strings.ToLower(p.Name), needle) || strings.Contains(p.Barcode, q) {
			out = append(out, p)
		}
		return len(out) < max
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateLocalInventory applies delta to the stored quantity for
// (storeID, productID), clamping at zero. Used only for optimistic UI
// during offline sales; authoritative stock comes from the server on
// next sync (spec §4.C).
func (c *Cache) UpdateLocalInventory(ctx context.Context, storeID, productID string, delta int) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	row, err := c.store.GetInventory(ctx, storeID, productID)
	if err != nil && !durable.IsNotFound(err) {
		return 0, err
	}
	current := 0
	if row != nil {
		current = row.Quantity
	}
	next := current + delta
	if next < 0 {
		next = 0
	}
	if err := c.store.UpsertInventory(ctx, durable.InventoryRow{StoreID: storeID, ProductID: productID, Quantity: next}); err != nil {
		return 0, err
	}
	return next, nil
}

// GetInventory returns the stored quantity for (storeID, productID).
func (c *Cache) GetInventory(ctx context.Context, storeID, productID string) (*durable.InventoryRow, error) {
	if c.store == nil {
		return nil, durable.ErrRecordNotFound
	}
	return c.store.GetInventory(ctx, storeID, productID)
}

// ListInventoryForStore returns every inventory row for a store.
func (c *Cache) ListInventoryForStore(ctx context.Context, storeID string) ([]durable.InventoryRow, error) {
	if c.store == nil {
		return nil, nil
	}
	return c.store.ListInventoryForStore(ctx, storeID)
}

// UpsertCustomer writes or replaces a customer row.
func (c *Cache) UpsertCustomer(ctx context.Context, cust durable.Customer) error {
	if c.store == nil {
		return nil
	}
	cust.UpdatedAt = c.now()
	return c.store.UpsertCustomer(ctx, cust)
}

// GetCustomer looks up a customer by id, used to find loyalty points
// mid-sale.
func (c *Cache) GetCustomer(ctx context.Context, id string) (*durable.Customer, error) {
	if c.store == nil {
		return nil, durable.ErrRecordNotFound
	}
	return c.store.GetCustomer(ctx, id)
}

// AdjustLoyaltyPoints applies delta to a customer's points, clamped at
// zero like UpdateLocalInventory.
func (c *Cache) AdjustLoyaltyPoints(ctx context.Context, customerID string, delta int) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	cust, err := c.store.GetCustomer(ctx, customerID)
	if err != nil {
		return 0, err
	}
	next := cust.LoyaltyPoints + delta
	if next < 0 {
		next = 0
	}
	cust.LoyaltyPoints = next
	cust.UpdatedAt = c.now()
	if err := c.store.UpsertCustomer(ctx, *cust); err != nil {
		return 0, err
	}
	return next, nil
}

// UpsertStore writes or replaces a store record.
func (c *Cache) UpsertStore(ctx context.Context, rec durable.StoreRecord) error {
	if c.store == nil {
		return nil
	}
	rec.UpdatedAt = c.now()
	return c.store.UpsertStore(ctx, rec)
}

// GetStore looks up a store record by id.
func (c *Cache) GetStore(ctx context.Context, id string) (*durable.StoreRecord, error) {
	if c.store == nil {
		return nil, durable.ErrRecordNotFound
	}
	return c.store.GetStore(ctx, id)
}

// IsStale reports whether storeID's catalog cache needs a refresh:
// either no sync has ever completed, or the last one is older than
// StaleAfter. A nil store (spec §7) is always stale: there is no cache
// to be fresh.
func (c *Cache) IsStale(ctx context.Context, storeID string) (bool, error) {
	if c.store == nil {
		return true, nil
	}
	meta, err := c.store.GetSyncMeta(ctx, storeID)
	if err != nil {
		return false, err
	}
	if meta == nil {
		return true, nil
	}
	return c.now().Sub(meta.LastSyncAt) > StaleAfter, nil
}

// MarkSynced records a successful full catalog sync.
func (c *Cache) MarkSynced(ctx context.Context, storeID string, productCount int) error {
	if c.store == nil {
		return nil
	}
	return c.store.PutSyncMeta(ctx, durable.SyncMeta{StoreID: storeID, LastSyncAt: c.now(), ProductCount: productCount})
}

// RecordSale inserts a completed or offline sale, then prunes the
// store's cache back to durable.MaxCachedSalesPerStore if the insert
// pushed it over the rolling-window cap (spec §3, §4.C, §9 Open
// Question (c): pruning runs on insert only, not on boot — see
// DESIGN.md).
func (c *Cache) RecordSale(ctx context.Context, sale durable.CachedSale) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.InsertSale(ctx, sale); err != nil {
		return err
	}
	_, err := c.store.PruneSalesForStore(ctx, sale.StoreID, durable.MaxCachedSalesPerStore)
	return err
}

// SalesForStore returns a store's cached sales, most recent first.
func (c *Cache) SalesForStore(ctx context.Context, storeID string) ([]durable.CachedSale, error) {
	if c.store == nil {
		return nil, nil
	}
	return c.store.SalesForStore(ctx, storeID)
}

// GetSale looks up a single cached sale, used to validate returns
// against the original line items.
func (c *Cache) GetSale(ctx context.Context, id string) (*durable.CachedSale, error) {
	if c.store == nil {
		return nil, durable.ErrRecordNotFound
	}
	return c.store.GetSale(ctx, id)
}

// RecordReturn persists a return or swap against a prior cached sale
// and folds its effect back into that sale: every decision's quantity
// accumulates into the matching line item's QuantityReturned, which
// must never exceed the item's original Quantity, and the sale
// transitions to RETURNED the moment every item is fully returned
// (spec §3 "OfflineReturnRecord", §8 invariant 5). A nil store means
// there is no original sale to validate against, so this returns
// ErrRecordNotFound via GetSale rather than the silent no-op the other
// mutating methods on Cache use.
func (c *Cache) RecordReturn(ctx context.Context, saleID string, returnType durable.ReturnType, decisions []durable.ReturnItemDecision, swapItems []durable.SwapItem, idempotencyKey string) (*durable.OfflineReturnRecord, error) {
	sale, err := c.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}

	byProduct := make(map[string]int, len(sale.Items))
	for i, item := range sale.Items {
		byProduct[item.ProductID] = i
	}

	potentialLoss := decimal.Zero
	for _, d := range decisions {
		idx, ok := byProduct[d.ProductID]
		if !ok {
			return nil, fmt.Errorf("catalog: return references product %q not on sale %q", d.ProductID, saleID)
		}
		item := &sale.Items[idx]
		if item.QuantityReturned+d.Quantity > item.Quantity {
			return nil, ErrReturnExceedsSale
		}
		item.QuantityReturned += d.Quantity
		if d.RestockAction == durable.RestockDiscard {
			potentialLoss = potentialLoss.Add(d.RefundAmount)
		}
	}

	fullyReturned := true
	for _, item := range sale.Items {
		if item.QuantityReturned < item.Quantity {
			fullyReturned = false
			break
		}
	}
	if fullyReturned {
		sale.Status = durable.SaleReturned
	}

	rec := durable.OfflineReturnRecord{
		ID:             "ret_" + uuid.NewString(),
		SaleID:         saleID,
		StoreID:        sale.StoreID,
		Type:           returnType,
		Items:          decisions,
		SwapItems:      swapItems,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      c.now(),
		PotentialLoss:  potentialLoss,
	}
	if c.store == nil {
		return &rec, nil
	}
	if err := c.store.InsertReturn(ctx, rec); err != nil {
		return nil, err
	}
	if err := c.store.UpdateSale(ctx, *sale); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ReturnsForSale returns every return/swap recorded against a sale.
func (c *Cache) ReturnsForSale(ctx context.Context, saleID string) ([]durable.OfflineReturnRecord, error) {
	if c.store == nil {
		return nil, nil
	}
	return c.store.ReturnsForSale(ctx, saleID)
}
