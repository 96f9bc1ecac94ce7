/*
dto.go - Data Transfer Objects for the Till's local API.

Decouples the durable package's storage rows from the wire shape so
field renames in internal/durable don't ripple into the till UI, and
so request bodies get their own validation-friendly shape.
*/
package api

import (
	"time"

	"github.com/warp/posync/internal/durable"
)

// QueuedTransactionDTO represents one outbound queue entry.
type QueuedTransactionDTO struct {
	LocalID        string `json:"localId"`
	IdempotencyKey string `json:"idempotencyKey"`
	URL            string `json:"url"`
	Method         string `json:"method"`
	CreatedAt      string `json:"createdAt"`
	Attempts       int    `json:"attempts"`
	NextAttemptAt  string `json:"nextAttemptAt"`
	LastError      string `json:"lastError,omitempty"`
}

func toQueuedTransactionDTO(tx durable.QueuedTransaction) QueuedTransactionDTO {
	return QueuedTransactionDTO{
		LocalID:        tx.LocalID,
		IdempotencyKey: tx.IdempotencyKey,
		URL:            tx.URL,
		Method:         tx.Method,
		CreatedAt:      tx.CreatedAt.Format(time.RFC3339),
		Attempts:       tx.Attempts,
		NextAttemptAt:  tx.NextAttemptAt.Format(time.RFC3339),
		LastError:      tx.LastError,
	}
}

func toQueuedTransactionDTOs(txs []durable.QueuedTransaction) []QueuedTransactionDTO {
	dtos := make([]QueuedTransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toQueuedTransactionDTO(tx)
	}
	return dtos
}

// EnqueueRequestDTO is the request body for POST /api/queue.
type EnqueueRequestDTO struct {
	StoreID        string            `json:"storeId"`
	URL            string            `json:"url"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	Items          []ItemDTO         `json:"items"`
	Payload        []byte            `json:"payload"`
}

// ItemDTO mirrors queue.Item on the wire.
type ItemDTO struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
	LineTotal float64 `json:"lineTotal"`
}

// EditPayloadRequestDTO is the request body for PUT /api/queue/{id}/payload.
type EditPayloadRequestDTO struct {
	Payload []byte `json:"payload"`
}

// ProductDTO represents a catalog product.
type ProductDTO struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Barcode string `json:"barcode"`
	Price   string `json:"price"`
}

func toProductDTO(p durable.Product) ProductDTO {
	return ProductDTO{ID: p.ID, Name: p.Name, Barcode: p.Barcode, Price: p.Price.String()}
}

func toProductDTOs(ps []durable.Product) []ProductDTO {
	dtos := make([]ProductDTO, len(ps))
	for i, p := range ps {
		dtos[i] = toProductDTO(p)
	}
	return dtos
}

// InventoryDTO represents one store/product inventory row.
type InventoryDTO struct {
	StoreID   string `json:"storeId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func toInventoryDTO(r durable.InventoryRow) InventoryDTO {
	return InventoryDTO{StoreID: r.StoreID, ProductID: r.ProductID, Quantity: r.Quantity}
}

func toInventoryDTOs(rs []durable.InventoryRow) []InventoryDTO {
	dtos := make([]InventoryDTO, len(rs))
	for i, r := range rs {
		dtos[i] = toInventoryDTO(r)
	}
	return dtos
}

// AdjustRequestDTO is the body for inventory/loyalty delta adjustments.
type AdjustRequestDTO struct {
	Delta int `json:"delta"`
}

// CustomerDTO represents a catalog customer.
type CustomerDTO struct {
	ID            string `json:"id"`
	Phone         string `json:"phone"`
	LoyaltyPoints int    `json:"loyaltyPoints"`
}

func toCustomerDTO(c durable.Customer) CustomerDTO {
	return CustomerDTO{ID: c.ID, Phone: c.Phone, LoyaltyPoints: c.LoyaltyPoints}
}

// StoreDTO represents store metadata.
type StoreDTO struct {
	ID       string `json:"id"`
	Currency string `json:"currency"`
	TaxRate  string `json:"taxRate"`
}

func toStoreDTO(s durable.StoreRecord) StoreDTO {
	return StoreDTO{ID: s.ID, Currency: s.Currency, TaxRate: s.TaxRate.String()}
}

// SaleItemDTO represents one line item of a cached sale.
type SaleItemDTO struct {
	ProductID        string `json:"productId"`
	Quantity         int    `json:"quantity"`
	UnitPrice        string `json:"unitPrice"`
	LineTotal        string `json:"lineTotal"`
	QuantityReturned int    `json:"quantityReturned"`
}

func toSaleItemDTO(it durable.SaleItem) SaleItemDTO {
	return SaleItemDTO{
		ProductID:        it.ProductID,
		Quantity:         it.Quantity,
		UnitPrice:        it.UnitPrice.String(),
		LineTotal:        it.LineTotal.String(),
		QuantityReturned: it.QuantityReturned,
	}
}

// SaleDTO represents a cached sale.
type SaleDTO struct {
	ID             string        `json:"id"`
	ReceiptNumber  string        `json:"receiptNumber"`
	IdempotencyKey string        `json:"idempotencyKey,omitempty"`
	StoreID        string        `json:"storeId"`
	Subtotal       string        `json:"subtotal"`
	Discount       string        `json:"discount"`
	Tax            string        `json:"tax"`
	Total          string        `json:"total"`
	PaymentMethod  string        `json:"paymentMethod"`
	Status         string        `json:"status"`
	Items          []SaleItemDTO `json:"items"`
	OccurredAt     string        `json:"occurredAt"`
	IsOffline      bool          `json:"isOffline"`
	ServerID       string        `json:"serverId,omitempty"`
}

func toSaleDTO(s durable.CachedSale) SaleDTO {
	items := make([]SaleItemDTO, len(s.Items))
	for i, it := range s.Items {
		items[i] = toSaleItemDTO(it)
	}
	return SaleDTO{
		ID:             s.ID,
		ReceiptNumber:  s.ReceiptNumber,
		IdempotencyKey: s.IdempotencyKey,
		StoreID:        s.StoreID,
		Subtotal:       s.Subtotal.String(),
		Discount:       s.Discount.String(),
		Tax:            s.Tax.String(),
		Total:          s.Total.String(),
		PaymentMethod:  s.PaymentMethod,
		Status:         string(s.Status),
		Items:          items,
		OccurredAt:     s.OccurredAt.Format(time.RFC3339),
		IsOffline:      s.IsOffline,
		ServerID:       s.ServerID,
	}
}

func toSaleDTOs(ss []durable.CachedSale) []SaleDTO {
	dtos := make([]SaleDTO, len(ss))
	for i, s := range ss {
		dtos[i] = toSaleDTO(s)
	}
	return dtos
}

// SaleCreateRequestDTO is the request body for POST /api/sales.
type SaleCreateRequestDTO struct {
	ID             string        `json:"id,omitempty"`
	ReceiptNumber  string        `json:"receiptNumber"`
	IdempotencyKey string        `json:"idempotencyKey,omitempty"`
	StoreID        string        `json:"storeId"`
	Subtotal       string        `json:"subtotal"`
	Discount       string        `json:"discount"`
	Tax            string        `json:"tax"`
	Total          string        `json:"total"`
	PaymentMethod  string        `json:"paymentMethod"`
	Items          []SaleItemDTO `json:"items"`
	IsOffline      bool          `json:"isOffline"`
}

// ReturnItemDecisionDTO mirrors durable.ReturnItemDecision on the wire.
type ReturnItemDecisionDTO struct {
	ProductID     string `json:"productId"`
	Quantity      int    `json:"quantity"`
	RestockAction string `json:"restockAction"`
	RefundType    string `json:"refundType"`
	RefundAmount  string `json:"refundAmount"`
}

// SwapItemDTO mirrors durable.SwapItem on the wire.
type SwapItemDTO struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

// ReturnRequestDTO is the request body for POST
// /api/sales/{storeID}/{id}/returns.
type ReturnRequestDTO struct {
	Type           string                  `json:"type"`
	Items          []ReturnItemDecisionDTO `json:"items"`
	SwapItems      []SwapItemDTO           `json:"swapItems,omitempty"`
	IdempotencyKey string                  `json:"idempotencyKey,omitempty"`
}

// ReturnRecordDTO represents a persisted return/swap record.
type ReturnRecordDTO struct {
	ID            string `json:"id"`
	SaleID        string `json:"saleId"`
	StoreID       string `json:"storeId"`
	Type          string `json:"type"`
	CreatedAt     string `json:"createdAt"`
	PotentialLoss string `json:"potentialLoss"`
}

func toReturnRecordDTO(rec durable.OfflineReturnRecord) ReturnRecordDTO {
	return ReturnRecordDTO{
		ID:            rec.ID,
		SaleID:        rec.SaleID,
		StoreID:       rec.StoreID,
		Type:          string(rec.Type),
		CreatedAt:     rec.CreatedAt.Format(time.RFC3339),
		PotentialLoss: rec.PotentialLoss.String(),
	}
}

func toReturnRecordDTOs(recs []durable.OfflineReturnRecord) []ReturnRecordDTO {
	dtos := make([]ReturnRecordDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toReturnRecordDTO(rec)
	}
	return dtos
}

// ControlRequestDTO is the request body for POST /control (spec §4.F
// client->worker control messages).
type ControlRequestDTO struct {
	Type string `json:"type"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}
