/*
validate.go - pure validation for enqueue requests (spec §4.B).

Deliberately side-effect free: Validate never touches the store, never
generates IDs, and always returns the full set of problems rather than
stopping at the first one, so the UI collaborator can show every error
inline in one pass (spec §6 "UI layer... must treat... Reads queue
state").
*/
package queue

import (
	"strconv"

	"github.com/warp/posync/internal/durable"
)

// Item mirrors one line of an offline sale/return payload.
type Item struct {
	ProductID string
	Quantity  int
	UnitPrice float64
	LineTotal float64
}

// Request is the payload passed to Enqueue before it becomes a
// durable.QueuedTransaction.
type Request struct {
	StoreID        string
	URL            string
	Method         string
	Headers        map[string]string
	IdempotencyKey string // optional; generated if empty
	Items          []Item
	Payload        []byte
}

// Validate checks a Request per spec §4.B: store id present and
// non-empty, at least one item, per-item quantity > 0, unit price >= 0,
// line total >= 0. Returns every violation found, not just the first.
func Validate(req Request) (valid bool, errs []durable.ValidationError) {
	if req.StoreID == "" {
		errs = append(errs, durable.ValidationError{Field: "storeId", Reason: "must be present and non-empty"})
	}
	if len(req.Items) == 0 {
		errs = append(errs, durable.ValidationError{Field: "items", Reason: "at least one item is required"})
	}
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			errs = append(errs, durable.ValidationError{Field: itemField(i, "quantity"), Reason: "must be greater than zero"})
		}
		if item.UnitPrice < 0 {
			errs = append(errs, durable.ValidationError{Field: itemField(i, "unitPrice"), Reason: "must be non-negative"})
		}
		if item.LineTotal < 0 {
			errs = append(errs, durable.ValidationError{Field: itemField(i, "lineTotal"), Reason: "must be non-negative"})
		}
	}
	return len(errs) == 0, errs
}

func itemField(i int, name string) string {
	return "items[" + strconv.Itoa(i) + "]." + name
}
