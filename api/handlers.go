/*
handlers.go - HTTP API handlers for the till's local surface

Exposes the offline queue, catalog cache, and lifecycle control channel
over REST + SSE. Handles HTTP request/response and JSON serialization;
delegates every actual decision to internal/queue, internal/catalog,
internal/sync and internal/lifecycle.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (duplicate idempotency key)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/warp/posync/internal/catalog"
	"github.com/warp/posync/internal/durable"
	"github.com/warp/posync/internal/fetch"
	"github.com/warp/posync/internal/lifecycle"
	"github.com/warp/posync/internal/queue"
)

// Syncer is the subset of internal/sync.Engine the till API needs to
// expose a manual trigger endpoint (mirrors lifecycle.Syncer).
type Syncer interface {
	Drain(ctx context.Context)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Queue      *queue.Queue
	Catalog    *catalog.Cache
	Sync       Syncer
	Lifecycle  *lifecycle.Controller
	Cache      *fetch.CacheStore
	Log        zerolog.Logger

	escalationThreshold int
}

// NewHandler creates a new handler with the given dependencies. cache
// may be nil (e.g. in tests that don't exercise CLEAR_CACHE/DISABLE);
// ControlDispatch reports 500 rather than panicking if so.
func NewHandler(q *queue.Queue, c *catalog.Cache, s Syncer, lc *lifecycle.Controller, cache *fetch.CacheStore, log zerolog.Logger) *Handler {
	return &Handler{Queue: q, Catalog: c, Sync: s, Lifecycle: lc, Cache: cache, Log: log, escalationThreshold: 5}
}

// =============================================================================
// QUEUE ENDPOINTS
// =============================================================================

// ListQueue returns every queued transaction.
// GET /api/queue
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Queue.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list queue", err)
		return
	}
	writeJSON(w, http.StatusOK, toQueuedTransactionDTOs(txs))
}

// EnqueueTransaction validates and enqueues a new outbound request.
// POST /api/queue
func (h *Handler) EnqueueTransaction(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	items := make([]queue.Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = queue.Item{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice, LineTotal: it.LineTotal}
	}

	localID, errs, err := h.Queue.Enqueue(r.Context(), queue.Request{
		StoreID:        req.StoreID,
		URL:            req.URL,
		Method:         req.Method,
		Headers:        req.Headers,
		IdempotencyKey: req.IdempotencyKey,
		Items:          items,
		Payload:        req.Payload,
	})
	if len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": errs})
		return
	}
	if err != nil {
		if durable.IsDuplicate(err) {
			writeError(w, http.StatusConflict, "idempotency key already queued", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to enqueue", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"localId": localID})
}

// QueueCount returns the number of queued transactions.
// GET /api/queue/count
func (h *Handler) QueueCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.Queue.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count queue", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// EscalatedCount returns the number of queue entries at or past the
// escalation threshold attempt count.
// GET /api/queue/escalated
func (h *Handler) EscalatedCount(w http.ResponseWriter, r *http.Request) {
	threshold := h.escalationThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			threshold = v
		}
	}
	count, err := h.Queue.EscalatedCount(r.Context(), threshold)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count escalated queue entries", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// GetQueueItem returns a single queued transaction.
// GET /api/queue/{id}
func (h *Handler) GetQueueItem(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Queue.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if durable.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "queue entry not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load queue entry", err)
		return
	}
	writeJSON(w, http.StatusOK, toQueuedTransactionDTO(*tx))
}

// EditQueuePayload edits a queued transaction's payload before replay.
// PUT /api/queue/{id}/payload
func (h *Handler) EditQueuePayload(w http.ResponseWriter, r *http.Request) {
	var req EditPayloadRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := h.Queue.EditPayload(r.Context(), chi.URLParam(r, "id"), req.Payload); err != nil {
		if durable.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "queue entry not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to edit payload", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExpediteQueueItem resets a queue entry's backoff so it replays next
// drain cycle.
// POST /api/queue/{id}/expedite
func (h *Handler) ExpediteQueueItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Queue.Expedite(r.Context(), chi.URLParam(r, "id")); err != nil {
		if durable.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "queue entry not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to expedite", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteQueueItem removes a queued transaction, e.g. after an
// operator decides to abandon a stuck entry.
// DELETE /api/queue/{id}
func (h *Handler) DeleteQueueItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Queue.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		if durable.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "queue entry not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete queue entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CATALOG ENDPOINTS
// =============================================================================

// SearchProducts performs a local, early-terminating catalog search.
// GET /api/products/search?q=...&max=...
func (h *Handler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	max := 20
	if raw := r.URL.Query().Get("max"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			max = v
		}
	}
	products, err := h.Catalog.SearchProducts(r.Context(), r.URL.Query().Get("q"), max)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTOs(products))
}

// GetProduct returns a single cached product.
// GET /api/products/{id}
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Catalog.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if durable.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "product not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load product", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

// UpsertProduct writes or replaces a cached product, typically from a
// full-catalog sync response.
// PUT /api/products/{id}
func (h *Handler) UpsertProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	req.ID = chi.URLParam(r, "id")
	p := durable.Product{ID: req.ID, Name: req.Name, Barcode: req.Barcode, Price: durable.MustParseDecimal(req.Price)}
	if err := h.Catalog.UpsertProduct(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to upsert product", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListInventory returns every inventory row for a store.
// GET /api/inventory/{storeID}
func (h *Handler) ListInventory(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Catalog.ListInventoryForStore(r.Context(), chi.URLParam(r, "storeID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list inventory", err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryDTOs(rows))
}

// GetInventoryRow returns a single store/product inventory row.
// GET /api/inventory/{storeID}/{productID}
func (h *Handler) GetInventoryRow(w http.ResponseWriter, r *http.Request) {
	row, err := h.Catalog.GetInventory(r.Context(), chi.URLParam(r, "storeID"), chi.URLParam(r, "productID"))
	if err != nil {
		if durable.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "inventory row not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load inventory", err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryDTO(*row))
}

// AdjustInventory applies a signed delta to local inventory, e.g. a
// provisional decrement at time of offline sale.
// POST /api/inventory/{storeID}/{productID}/adjust
func (h *Handler) AdjustInventory(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	newQty, err := h.Catalog.UpdateLocalInventory(r.Context(), chi.URLParam(r, "storeID"), chi.URLParam(r, "productID"), req.Delta)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to adjust inventory", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"quantity": newQty})
}

// UpsertCustomer writes or replaces a cached customer record.
// PUT /api/customers/{id}
func (h *Handler) UpsertCustomer(w http.ResponseWriter, r *http.Request) {
	var req CustomerDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	req.ID = chi.URLParam(r, "id")
	c := durable.Customer{ID: req.ID, Phone: req.Phone, LoyaltyPoints: req.LoyaltyPoints}
	if err := h.Catalog.UpsertCustomer(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to upsert customer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetCustomer returns a cached customer record.
// GET /api/customers/{id}
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.Catalog.GetCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if durable.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "customer not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(*c))
}

// AdjustLoyalty applies a signed delta to a customer's loyalty points,
// clamped at zero.
// POST /api/customers/{id}/loyalty
func (h *Handler) AdjustLoyalty(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	newPoints, err := h.Catalog.AdjustLoyaltyPoints(r.Context(), chi.URLParam(r, "id"), req.Delta)
	if err != nil {
		if durable.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "customer not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to adjust loyalty points", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"loyaltyPoints": newPoints})
}

// UpsertStore writes or replaces cached store metadata.
// PUT /api/stores/{id}
func (h *Handler) UpsertStore(w http.ResponseWriter, r *http.Request) {
	var req StoreDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	req.ID = chi.URLParam(r, "id")
	rec := durable.StoreRecord{ID: req.ID, Currency: req.Currency, TaxRate: durable.MustParseDecimal(req.TaxRate)}
	if err := h.Catalog.UpsertStore(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to upsert store", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetStore returns cached store metadata.
// GET /api/stores/{id}
func (h *Handler) GetStore(w http.ResponseWriter, r *http.Request) {
	s, err := h.Catalog.GetStore(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if durable.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "store not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load store", err)
		return
	}
	writeJSON(w, http.StatusOK, toStoreDTO(*s))
}

// StoreStale reports whether a store's catalog cache is past the
// staleness threshold.
// GET /api/stores/{id}/stale
func (h *Handler) StoreStale(w http.ResponseWriter, r *http.Request) {
	stale, err := h.Catalog.IsStale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check staleness", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stale": stale})
}

// ListSales returns cached sales for a store.
// GET /api/sales/{storeID}
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := h.Catalog.SalesForStore(r.Context(), chi.URLParam(r, "storeID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sales", err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTOs(sales))
}

// GetSale returns a single cached sale.
// GET /api/sales/{storeID}/{id}
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	s, err := h.Catalog.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if durable.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "sale not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load sale", err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(*s))
}

// CreateSale records a completed or offline sale, the till-side trigger
// for spec §3's "CachedSale inserted when a sale completes."
// POST /api/sales
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req SaleCreateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.StoreID == "" {
		writeError(w, http.StatusBadRequest, "storeId is required", nil)
		return
	}

	id := req.ID
	if id == "" {
		id = "sale_" + uuid.NewString()
	}
	items := make([]durable.SaleItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = durable.SaleItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: durable.MustParseDecimal(it.UnitPrice),
			LineTotal: durable.MustParseDecimal(it.LineTotal),
		}
	}

	sale := durable.CachedSale{
		ID:             id,
		ReceiptNumber:  req.ReceiptNumber,
		IdempotencyKey: req.IdempotencyKey,
		StoreID:        req.StoreID,
		Subtotal:       durable.MustParseDecimal(req.Subtotal),
		Discount:       durable.MustParseDecimal(req.Discount),
		Tax:            durable.MustParseDecimal(req.Tax),
		Total:          durable.MustParseDecimal(req.Total),
		PaymentMethod:  req.PaymentMethod,
		Status:         durable.SaleCompleted,
		Items:          items,
		OccurredAt:     time.Now(),
		IsOffline:      req.IsOffline,
	}
	if req.IsOffline {
		sale.Status = durable.SalePendingSync
	}

	if err := h.Catalog.RecordSale(r.Context(), sale); err != nil {
		if durable.IsDuplicate(err) {
			writeError(w, http.StatusConflict, "sale already recorded", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to record sale", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSaleDTO(sale))
}

// CreateReturn authors a return or swap against a prior sale, enforcing
// spec §8 invariant 5's return accounting.
// POST /api/sales/{storeID}/{id}/returns
func (h *Handler) CreateReturn(w http.ResponseWriter, r *http.Request) {
	var req ReturnRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	decisions := make([]durable.ReturnItemDecision, len(req.Items))
	for i, d := range req.Items {
		decisions[i] = durable.ReturnItemDecision{
			ProductID:     d.ProductID,
			Quantity:      d.Quantity,
			RestockAction: durable.RestockAction(d.RestockAction),
			RefundType:    durable.RefundType(d.RefundType),
			RefundAmount:  durable.MustParseDecimal(d.RefundAmount),
		}
	}
	swapItems := make([]durable.SwapItem, len(req.SwapItems))
	for i, s := range req.SwapItems {
		swapItems[i] = durable.SwapItem{
			ProductID: s.ProductID,
			Quantity:  s.Quantity,
			UnitPrice: durable.MustParseDecimal(s.UnitPrice),
		}
	}

	rec, err := h.Catalog.RecordReturn(r.Context(), chi.URLParam(r, "id"), durable.ReturnType(req.Type), decisions, swapItems, req.IdempotencyKey)
	if err != nil {
		switch {
		case durable.IsNotFound(err):
			writeError(w, http.StatusNotFound, "sale not found", err)
		case durable.IsDuplicate(err):
			writeError(w, http.StatusConflict, "return already recorded", err)
		case errors.Is(err, catalog.ErrReturnExceedsSale):
			writeError(w, http.StatusBadRequest, "return exceeds sale quantity", err)
		default:
			writeError(w, http.StatusInternalServerError, "failed to record return", err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, toReturnRecordDTO(*rec))
}

// ListReturns returns every return/swap recorded against a sale.
// GET /api/sales/{storeID}/{id}/returns
func (h *Handler) ListReturns(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Catalog.ReturnsForSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list returns", err)
		return
	}
	writeJSON(w, http.StatusOK, toReturnRecordDTOs(recs))
}

// =============================================================================
// SYNC & LIFECYCLE ENDPOINTS
// =============================================================================

// TriggerSync kicks an immediate drain of the outbound queue, the HTTP
// analogue of the TRY_SYNC control message.
// POST /api/sync/trigger
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	h.Sync.Drain(r.Context())
	w.WriteHeader(http.StatusAccepted)
}

// Control serves the SSE control channel a till UI client attaches to
// for SYNC_COMPLETED and NOTIFICATION pushes from the Sync Worker
// (spec §4.F).
// GET /control
func (h *Handler) Control(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id, ch := h.Lifecycle.Attach()
	defer h.Lifecycle.Detach(id)

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-ch:
			if !open {
				return
			}
			w.Write([]byte("data: "))
			enc.Encode(msg)
			flusher.Flush()
		}
	}
}

// ControlDispatch handles the inbound half of the §4.F control channel:
// the client->worker messages SKIP_WAITING, GET_VERSION, CLEAR_CACHE,
// DISABLE and TRY_SYNC, dispatched by message type.
// POST /control
func (h *Handler) ControlDispatch(w http.ResponseWriter, r *http.Request) {
	var req ControlRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	switch req.Type {
	case lifecycle.MsgSkipWaiting:
		writeJSON(w, http.StatusOK, h.Lifecycle.HandleSkipWaiting())
	case lifecycle.MsgGetVersion:
		writeJSON(w, http.StatusOK, lifecycle.ControlMessage{Type: lifecycle.MsgGetVersion, Version: h.Lifecycle.Version()})
	case lifecycle.MsgClearCache:
		if h.Cache == nil {
			writeError(w, http.StatusInternalServerError, "cache store unavailable", nil)
			return
		}
		if err := h.Lifecycle.HandleClearCache(h.Cache); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to clear cache", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case lifecycle.MsgDisable:
		if h.Cache == nil {
			writeError(w, http.StatusInternalServerError, "cache store unavailable", nil)
			return
		}
		if err := h.Lifecycle.HandleDisable(h.Cache); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to disable", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case lifecycle.MsgTrySync:
		h.Lifecycle.HandleTrySync(r.Context(), h.Sync)
		w.WriteHeader(http.StatusAccepted)
	default:
		writeError(w, http.StatusBadRequest, "unknown control message type", nil)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
