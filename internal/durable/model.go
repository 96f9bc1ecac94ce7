/*
Package durable is the single persistence layer shared by the Till and
the Sync Worker (spec §4.A). It owns every byte of state the rest of
the system cares about: the offline queue, the catalog cache, cached
sales, and offline return records. Nothing outside this package talks
to SQLite directly.

SCHEMA VERSIONING:
  Schema versions only ever add tables/indices; migrate() is safe to
  run on every startup (CREATE TABLE IF NOT EXISTS throughout) and
  never rewrites existing rows.

FAILURE SEMANTICS:
  Open() returns a nil *Store together with the underlying error when
  the database file cannot be opened at all; cmd/posync serve treats
  that error as the signal to fall back to an in-memory queue (the
  "storage denial is not failure" policy from spec §7). Once open, write
  failures are returned as
  errors; callers decide whether that's user-visible (queue) or a
  silent no-op (catalog).

SEE ALSO:
  internal/queue, internal/catalog — typed wrappers around this store.
*/
package durable

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// QUEUE DOMAIN
// =============================================================================

// QueuedTransaction is a durable, replayable outbound request awaiting
// server acknowledgement (spec §3 "QueuedTransaction").
type QueuedTransaction struct {
	LocalID        string
	IdempotencyKey string
	URL            string
	Method         string
	Headers        map[string]string
	Payload        []byte
	CreatedAt      time.Time
	Attempts       int
	NextAttemptAt  time.Time
	LastError      string
}

// =============================================================================
// CATALOG DOMAIN
// =============================================================================

type Product struct {
	ID      string
	Name    string
	Barcode string
	Price   decimal.Decimal
}

type InventoryRow struct {
	StoreID   string
	ProductID string
	Quantity  int
}

type Customer struct {
	ID            string
	Phone         string
	LoyaltyPoints int
	UpdatedAt     time.Time
}

type StoreRecord struct {
	ID        string
	Currency  string
	TaxRate   decimal.Decimal
	UpdatedAt time.Time
}

// SyncMeta tracks catalog freshness per store (spec §3 "SyncMeta").
type SyncMeta struct {
	StoreID      string
	LastSyncAt   time.Time
	ProductCount int
}

// =============================================================================
// SALES & RETURNS DOMAIN
// =============================================================================

type SaleStatus string

const (
	SaleCompleted   SaleStatus = "COMPLETED"
	SaleReturned    SaleStatus = "RETURNED"
	SalePendingSync SaleStatus = "PENDING_SYNC"
)

type SaleItem struct {
	ProductID        string
	Quantity         int
	UnitPrice        decimal.Decimal
	LineTotal        decimal.Decimal
	QuantityReturned int
}

// CachedSale is a full local snapshot of a completed or offline sale
// (spec §3 "CachedSale").
type CachedSale struct {
	ID             string
	ReceiptNumber  string
	IdempotencyKey string
	StoreID        string
	Subtotal       decimal.Decimal
	Discount       decimal.Decimal
	Tax            decimal.Decimal
	Total          decimal.Decimal
	PaymentMethod  string
	Status         SaleStatus
	Items          []SaleItem
	OccurredAt     time.Time
	IsOffline      bool
	SyncedAt       *time.Time
	ServerID       string
}

type RestockAction string

const (
	RestockRestock RestockAction = "RESTOCK"
	RestockDiscard RestockAction = "DISCARD"
)

type RefundType string

const (
	RefundNone    RefundType = "NONE"
	RefundFull    RefundType = "FULL"
	RefundPartial RefundType = "PARTIAL"
)

type ReturnType string

const (
	ReturnTypeReturn ReturnType = "RETURN"
	ReturnTypeSwap   ReturnType = "SWAP"
)

// ReturnItemDecision is the per-item outcome of a return or swap line.
type ReturnItemDecision struct {
	ProductID     string
	Quantity      int
	RestockAction RestockAction
	RefundType    RefundType
	RefundAmount  decimal.Decimal
}

// SwapItem is a line item being swapped *in*, resolving the spec's
// §9 Open Question (a) in favor of a single shape: see DESIGN.md.
type SwapItem struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// OfflineReturnRecord is a return or swap authored against a prior
// cached sale (spec §3 "OfflineReturnRecord").
type OfflineReturnRecord struct {
	ID             string
	SaleID         string
	StoreID        string
	Type           ReturnType
	Items          []ReturnItemDecision
	SwapItems      []SwapItem
	IdempotencyKey string
	CreatedAt      time.Time
	PotentialLoss  decimal.Decimal
	SyncedAt       *time.Time
}
