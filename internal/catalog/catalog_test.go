package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/posync/internal/durable"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	s, err := durable.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s)
}

// TestLocalSearch covers spec §8 scenario S5.
func TestLocalSearch(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	products := []durable.Product{
		{ID: "p1", Name: "Coca-Cola 500ml", Barcode: "1234567890", Price: decimal.NewFromInt(2)},
		{ID: "p2", Name: "Sprite 500ml", Barcode: "2000000001", Price: decimal.NewFromInt(2)},
		{ID: "p3", Name: "Water 1L", Barcode: "3000000001", Price: decimal.NewFromInt(1)},
		{ID: "p4", Name: "Diet Coke 330ml", Barcode: "4000000001", Price: decimal.NewFromInt(2)},
		{ID: "p5", Name: "Orange Juice", Barcode: "5000000001", Price: decimal.NewFromInt(3)},
	}
	for _, p := range products {
		require.NoError(t, c.UpsertProduct(ctx, p))
	}

	results, err := c.SearchProducts(ctx, "coca", 20)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "p1", results[0].ID)

	results, err = c.SearchProducts(ctx, "7890", 20)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "p1", results[0].ID)

	results, err = c.SearchProducts(ctx, "pepsi", 20)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestLocalSearchStopsAtCap(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		require.NoError(t, c.UpsertProduct(ctx, durable.Product{
			ID: paddedID(i), Name: "Widget", Barcode: paddedID(i), Price: decimal.NewFromInt(1),
		}))
	}

	results, err := c.SearchProducts(ctx, "widget", 5)
	require.NoError(t, err)
	require.Len(t, results, 5)
}

func TestUpdateLocalInventoryClampsAtZero(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	n, err := c.UpdateLocalInventory(ctx, "st_1", "p1", -3)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	n, err = c.UpdateLocalInventory(ctx, "st_1", "p1", 10)
	require.NoError(t, err)
	require.Equal(t, 10, n)

	n, err = c.UpdateLocalInventory(ctx, "st_1", "p1", -15)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestAdjustLoyaltyPointsClampsAtZero(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.UpsertCustomer(ctx, durable.Customer{ID: "cust_1", Phone: "555-0100", LoyaltyPoints: 5}))

	n, err := c.AdjustLoyaltyPoints(ctx, "cust_1", -20)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	n, err = c.AdjustLoyaltyPoints(ctx, "cust_1", 12)
	require.NoError(t, err)
	require.Equal(t, 12, n)
}

// TestIsStale covers spec §3's freshness rule: stale if no entry
// exists, or if now-lastSyncAt > 1h.
func TestIsStale(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	stale, err := c.IsStale(ctx, "st_1")
	require.NoError(t, err)
	require.True(t, stale, "no sync meta at all should be stale")

	require.NoError(t, c.MarkSynced(ctx, "st_1", 42))
	stale, err = c.IsStale(ctx, "st_1")
	require.NoError(t, err)
	require.False(t, stale)

	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	stale, err = c.IsStale(ctx, "st_1")
	require.NoError(t, err)
	require.True(t, stale)
}

// TestRollingSaleWindow exercises the catalog-level wrapper around the
// durable rolling-window eviction (spec §8 scenario S6).
func TestRollingSaleWindow(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	base := time.Now().Add(-24 * time.Hour)
	for i := 0; i < durable.MaxCachedSalesPerStore+5; i++ {
		sale := durable.CachedSale{
			ID:             paddedID(i),
			ReceiptNumber:  paddedID(i),
			IdempotencyKey: "idem_" + paddedID(i),
			StoreID:        "st_1",
			Subtotal:       decimal.NewFromInt(10),
			Total:          decimal.NewFromInt(10),
			Status:         durable.SaleCompleted,
			OccurredAt:     base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, c.RecordSale(ctx, sale))
	}

	sales, err := c.SalesForStore(ctx, "st_1")
	require.NoError(t, err)
	require.Len(t, sales, durable.MaxCachedSalesPerStore)

	_, err = c.GetSale(ctx, paddedID(0))
	require.ErrorIs(t, err, durable.ErrRecordNotFound)
}

// TestRecordReturnInvariant5 covers spec §8 invariant 5: quantityReturned
// never exceeds an item's original quantity, and a sale transitions to
// RETURNED only once every item on it is fully returned.
func TestRecordReturnInvariant5(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	sale := durable.CachedSale{
		ID:      "sale_1",
		StoreID: "st_1",
		Status:  durable.SaleCompleted,
		Items: []durable.SaleItem{
			{ProductID: "p1", Quantity: 2, UnitPrice: decimal.NewFromInt(5), LineTotal: decimal.NewFromInt(10)},
			{ProductID: "p2", Quantity: 1, UnitPrice: decimal.NewFromInt(3), LineTotal: decimal.NewFromInt(3)},
		},
	}
	require.NoError(t, c.RecordSale(ctx, sale))

	// Partial return of p1 only: sale stays COMPLETED.
	_, err := c.RecordReturn(ctx, "sale_1", durable.ReturnTypeReturn, []durable.ReturnItemDecision{
		{ProductID: "p1", Quantity: 1, RestockAction: durable.RestockRestock, RefundType: durable.RefundFull, RefundAmount: decimal.NewFromInt(5)},
	}, nil, "ret_idem_1")
	require.NoError(t, err)

	got, err := c.GetSale(ctx, "sale_1")
	require.NoError(t, err)
	require.Equal(t, durable.SaleCompleted, got.Status)
	require.Equal(t, 1, got.Items[0].QuantityReturned)

	// A decision that would push quantityReturned past the original
	// quantity is rejected outright, leaving the sale untouched.
	_, err = c.RecordReturn(ctx, "sale_1", durable.ReturnTypeReturn, []durable.ReturnItemDecision{
		{ProductID: "p1", Quantity: 2, RestockAction: durable.RestockRestock, RefundType: durable.RefundFull, RefundAmount: decimal.NewFromInt(10)},
	}, nil, "ret_idem_2")
	require.ErrorIs(t, err, ErrReturnExceedsSale)

	got, err = c.GetSale(ctx, "sale_1")
	require.NoError(t, err)
	require.Equal(t, 1, got.Items[0].QuantityReturned, "rejected decision must not mutate the sale")

	// Returning the remainder of p1 and all of p2 fully returns the
	// sale, flipping its status to RETURNED.
	_, err = c.RecordReturn(ctx, "sale_1", durable.ReturnTypeReturn, []durable.ReturnItemDecision{
		{ProductID: "p1", Quantity: 1, RestockAction: durable.RestockRestock, RefundType: durable.RefundFull, RefundAmount: decimal.NewFromInt(5)},
		{ProductID: "p2", Quantity: 1, RestockAction: durable.RestockDiscard, RefundType: durable.RefundFull, RefundAmount: decimal.NewFromInt(3)},
	}, nil, "ret_idem_3")
	require.NoError(t, err)

	got, err = c.GetSale(ctx, "sale_1")
	require.NoError(t, err)
	require.Equal(t, durable.SaleReturned, got.Status)
	require.Equal(t, 2, got.Items[0].QuantityReturned)
	require.Equal(t, 1, got.Items[1].QuantityReturned)

	recs, err := c.ReturnsForSale(ctx, "sale_1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
}

func paddedID(i int) string {
	const digits = "0123456789"
	s := make([]byte, 6)
	for pos := len(s) - 1; pos >= 0; pos-- {
		s[pos] = digits[i%10]
		i /= 10
	}
	return string(s)
}
