package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/warp/posync/internal/catalog"
	"github.com/warp/posync/internal/durable"
	"github.com/warp/posync/internal/fetch"
	"github.com/warp/posync/internal/lifecycle"
	"github.com/warp/posync/internal/queue"
)

type fakeSyncer struct{ drained bool }

func (f *fakeSyncer) Drain(ctx context.Context) { f.drained = true }

func newTestHandler(t *testing.T) (*Handler, *chi.Mux) {
	t.Helper()
	store, err := durable.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	q := queue.New(store, make(chan struct{}, 1))
	c := catalog.New(store)
	lc := lifecycle.New("v1", zerolog.Nop())
	cache, err := fetch.OpenCacheStore(t.TempDir()+"/cache.db", "v1")
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	h := NewHandler(q, c, &fakeSyncer{}, lc, cache, zerolog.Nop())
	return h, NewRouter(h)
}

func TestEnqueueAndListQueue(t *testing.T) {
	_, r := newTestHandler(t)

	body, _ := json.Marshal(EnqueueRequestDTO{
		StoreID: "store-1",
		URL:     "/api/pos/sales",
		Method:  "POST",
		Items:   []ItemDTO{{ProductID: "p1", Quantity: 1, UnitPrice: 2.5, LineTotal: 2.5}},
		Payload: []byte(`{"total":2.5}`),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/queue", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	listRec := httptest.NewRecorder()
	r.ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)

	var got []QueuedTransactionDTO
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.NotEmpty(t, got[0].LocalID)
	require.Equal(t, "/api/pos/sales", got[0].URL)
	require.Equal(t, "POST", got[0].Method)
}

func TestEnqueueRejectsInvalidPayload(t *testing.T) {
	_, r := newTestHandler(t)

	body, _ := json.Marshal(EnqueueRequestDTO{StoreID: "", URL: "/x", Method: "POST"})
	req := httptest.NewRequest(http.MethodPost, "/api/queue", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProductSearchRoundTrip(t *testing.T) {
	h, r := newTestHandler(t)

	require.NoError(t, h.Catalog.UpsertProduct(context.Background(), durable.Product{
		ID: "p1", Name: "Coca-Cola 500ml", Barcode: "1234567890", Price: durable.MustParseDecimal("1.99"),
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/products/search?q=coca", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []ProductDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, "p1", got[0].ID)
}

func TestInventoryAdjustClampsAtZero(t *testing.T) {
	_, r := newTestHandler(t)

	body, _ := json.Marshal(AdjustRequestDTO{Delta: -5})
	req := httptest.NewRequest(http.MethodPost, "/api/inventory/store-1/p1/adjust", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 0, got["quantity"])
}

func TestTriggerSyncDrains(t *testing.T) {
	h, r := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sync/trigger", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.True(t, h.Sync.(*fakeSyncer).drained)
}

func TestCreateSaleThenListSales(t *testing.T) {
	_, r := newTestHandler(t)

	body, _ := json.Marshal(SaleCreateRequestDTO{
		ReceiptNumber: "R-1",
		StoreID:       "store-1",
		Subtotal:      "10.00",
		Tax:           "1.00",
		Total:         "11.00",
		PaymentMethod: "CASH",
		Items:         []SaleItemDTO{{ProductID: "p1", Quantity: 2, UnitPrice: "5.00", LineTotal: "10.00"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/sales", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created SaleDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	require.Equal(t, "COMPLETED", created.Status)

	listReq := httptest.NewRequest(http.MethodGet, "/api/sales/store-1", nil)
	listRec := httptest.NewRecorder()
	r.ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)

	var got []SaleDTO
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, created.ID, got[0].ID)
}

func TestCreateReturnFullyReturnedTransitionsSaleStatus(t *testing.T) {
	h, r := newTestHandler(t)

	sale := durable.CachedSale{
		ID:      "sale-1",
		StoreID: "store-1",
		Status:  durable.SaleCompleted,
		Items: []durable.SaleItem{
			{ProductID: "p1", Quantity: 2, UnitPrice: durable.MustParseDecimal("5.00"), LineTotal: durable.MustParseDecimal("10.00")},
		},
	}
	require.NoError(t, h.Catalog.RecordSale(context.Background(), sale))

	body, _ := json.Marshal(ReturnRequestDTO{
		Type: "RETURN",
		Items: []ReturnItemDecisionDTO{
			{ProductID: "p1", Quantity: 2, RestockAction: "RESTOCK", RefundType: "FULL", RefundAmount: "10.00"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/sales/store-1/sale-1/returns", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	got, err := h.Catalog.GetSale(context.Background(), "sale-1")
	require.NoError(t, err)
	require.Equal(t, durable.SaleReturned, got.Status)
}

func TestCreateReturnRejectsOverReturn(t *testing.T) {
	h, r := newTestHandler(t)

	sale := durable.CachedSale{
		ID:      "sale-1",
		StoreID: "store-1",
		Status:  durable.SaleCompleted,
		Items: []durable.SaleItem{
			{ProductID: "p1", Quantity: 1, UnitPrice: durable.MustParseDecimal("5.00"), LineTotal: durable.MustParseDecimal("5.00")},
		},
	}
	require.NoError(t, h.Catalog.RecordSale(context.Background(), sale))

	body, _ := json.Marshal(ReturnRequestDTO{
		Type: "RETURN",
		Items: []ReturnItemDecisionDTO{
			{ProductID: "p1", Quantity: 2, RestockAction: "RESTOCK", RefundType: "FULL", RefundAmount: "10.00"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/sales/store-1/sale-1/returns", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestControlDispatchClearCache(t *testing.T) {
	_, r := newTestHandler(t)

	body, _ := json.Marshal(ControlRequestDTO{Type: "CLEAR_CACHE"})
	req := httptest.NewRequest(http.MethodPost, "/control", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestControlDispatchGetVersion(t *testing.T) {
	_, r := newTestHandler(t)

	body, _ := json.Marshal(ControlRequestDTO{Type: "GET_VERSION"})
	req := httptest.NewRequest(http.MethodPost, "/control", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got lifecycle.ControlMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "v1", got.Version)
}

func TestControlDispatchRejectsUnknownType(t *testing.T) {
	_, r := newTestHandler(t)

	body, _ := json.Marshal(ControlRequestDTO{Type: "BOGUS"})
	req := httptest.NewRequest(http.MethodPost, "/control", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
