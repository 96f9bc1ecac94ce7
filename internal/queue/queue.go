/*
Package queue implements the Offline Queue (spec §4.B, component B):
durable outbound sales/returns awaiting server acknowledgement, with
per-record backoff, idempotency, and priority expedition.

Grounded on generic/store.go's framing of the store as the single
source of truth for pending work, generalized from append-only ledger
semantics to the mutate/delete lifecycle spec §3 actually requires for
a retry queue.
*/
package queue

import (
	"context"
	"time"

	"github.com/warp/posync/internal/durable"
)

// DefaultEscalationThreshold is spec §4.B's default for escalatedCount.
const DefaultEscalationThreshold = 5

// Queue is the Till-side handle onto the offline queue.
type Queue struct {
	backend Backend
	now     func() time.Time

	// syncSignal is pinged (non-blocking) after every successful
	// enqueue, standing in for "ask the platform to register the sync
	// tag and also post TRY_SYNC for immediate best-effort" (spec §4.E
	// trigger 4). Buffered size 1: duplicate pending signals coalesce,
	// since the Sync Worker only needs to know "there is new work",
	// not how many enqueues produced it.
	syncSignal chan struct{}
}

// Option configures a Queue at construction.
type Option func(*Queue)

// WithClock overrides the time source (tests only).
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New constructs a Queue. backend is typically a *durable.Store; pass
// NewMemoryBackend() when the durable store could not be opened.
func New(backend Backend, syncSignal chan struct{}, opts ...Option) *Queue {
	q := &Queue{backend: backend, syncSignal: syncSignal, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue validates req, assigns a localId (and idempotencyKey if
// absent), writes a fresh record with attempts=0/nextAttemptAt=now,
// and signals the Sync Worker. Returns the validation errors instead
// of writing anything if req is invalid.
func (q *Queue) Enqueue(ctx context.Context, req Request) (localID string, errs []durable.ValidationError, err error) {
	valid, errs := Validate(req)
	if !valid {
		return "", errs, nil
	}

	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = NewIdempotencyKey()
	}
	localID = NewLocalID()
	now := q.now()

	tx := durable.QueuedTransaction{
		LocalID:        localID,
		IdempotencyKey: idempotencyKey,
		URL:            req.URL,
		Method:         req.Method,
		Headers:        req.Headers,
		Payload:        req.Payload,
		CreatedAt:      now,
		Attempts:       0,
		NextAttemptAt:  now,
	}
	if err := q.backend.EnqueueRecord(ctx, tx); err != nil {
		return "", nil, err
	}

	q.signalSync()
	return localID, nil, nil
}

// List returns every queue record (read-only view for the UI).
func (q *Queue) List(ctx context.Context) ([]durable.QueuedTransaction, error) {
	return q.backend.ListQueue(ctx)
}

// Count returns the number of pending queue records.
func (q *Queue) Count(ctx context.Context) (int, error) {
	return q.backend.CountQueue(ctx)
}

// GetByID returns a single record, or durable.ErrRecordNotFound.
func (q *Queue) GetByID(ctx context.Context, localID string) (*durable.QueuedTransaction, error) {
	return q.backend.GetQueueRecord(ctx, localID)
}

// Expedite sets nextAttemptAt=now so the next drain picks it up
// immediately.
func (q *Queue) Expedite(ctx context.Context, localID string) error {
	if err := q.backend.ExpediteQueueRecord(ctx, localID, q.now()); err != nil {
		return err
	}
	q.signalSync()
	return nil
}

// EditPayload replaces the payload and resets attempts/nextAttemptAt,
// the "fix and retry" UX after a non-retriable validation error.
func (q *Queue) EditPayload(ctx context.Context, localID string, newPayload []byte) error {
	if err := q.backend.EditQueuePayload(ctx, localID, newPayload, q.now()); err != nil {
		return err
	}
	q.signalSync()
	return nil
}

// Delete removes a record unconditionally.
func (q *Queue) Delete(ctx context.Context, localID string) error {
	return q.backend.DeleteQueueRecord(ctx, localID)
}

// EscalatedCount counts records with attempts >= threshold. threshold
// <= 0 selects DefaultEscalationThreshold.
func (q *Queue) EscalatedCount(ctx context.Context, threshold int) (int, error) {
	if threshold <= 0 {
		threshold = DefaultEscalationThreshold
	}
	return q.backend.EscalatedCount(ctx, threshold)
}

func (q *Queue) signalSync() {
	if q.syncSignal == nil {
		return
	}
	select {
	case q.syncSignal <- struct{}{}:
	default:
		// A drain is already pending; this enqueue will be picked up
		// by that drain or the next one.
	}
}
