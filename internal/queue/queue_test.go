package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/posync/internal/durable"
)

func newTestQueue(t *testing.T) (*Queue, chan struct{}) {
	t.Helper()
	s, err := durable.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	sig := make(chan struct{}, 1)
	return New(s, sig), sig
}

func validRequest() Request {
	return Request{
		StoreID: "st_1",
		URL:     "/api/pos/sales",
		Method:  "POST",
		Items:   []Item{{ProductID: "p1", Quantity: 2, UnitPrice: 10, LineTotal: 20}},
		Payload: []byte(`{"storeId":"st_1"}`),
	}
}

func TestEnqueueValidatesAndSignals(t *testing.T) {
	q, sig := newTestQueue(t)
	ctx := context.Background()

	localID, errs, err := q.Enqueue(ctx, validRequest())
	require.NoError(t, err)
	require.Empty(t, errs)
	require.NotEmpty(t, localID)

	select {
	case <-sig:
	default:
		t.Fatal("expected enqueue to signal the sync worker")
	}

	n, err := q.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestEnqueueRejectsInvalidPayload(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	req := validRequest()
	req.StoreID = ""
	req.Items[0].Quantity = 0

	localID, errs, err := q.Enqueue(ctx, req)
	require.NoError(t, err)
	require.Empty(t, localID)
	require.Len(t, errs, 2)

	n, err := q.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

// TestEditAndRetry covers spec §8 scenario S4.
func TestEditAndRetry(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	localID, _, err := q.Enqueue(ctx, validRequest())
	require.NoError(t, err)

	require.NoError(t, q.backend.RecordAttemptFailure(ctx, localID, 3, "validation", time.Now().Add(time.Hour)))

	rec, err := q.GetByID(ctx, localID)
	require.NoError(t, err)
	require.Equal(t, 3, rec.Attempts)

	require.NoError(t, q.EditPayload(ctx, localID, []byte(`{"storeId":"st_1","fixed":true}`)))

	rec, err = q.GetByID(ctx, localID)
	require.NoError(t, err)
	require.Equal(t, 0, rec.Attempts)
	require.False(t, rec.NextAttemptAt.After(time.Now()))
}

func TestExpedite(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	localID, _, err := q.Enqueue(ctx, validRequest())
	require.NoError(t, err)
	require.NoError(t, q.backend.ExpediteQueueRecord(ctx, localID, time.Now().Add(time.Hour)))

	require.NoError(t, q.Expedite(ctx, localID))
	rec, err := q.GetByID(ctx, localID)
	require.NoError(t, err)
	require.False(t, rec.NextAttemptAt.After(time.Now()))
}

func TestEscalatedCountDefaultsToFive(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	localID, _, err := q.Enqueue(ctx, validRequest())
	require.NoError(t, err)
	require.NoError(t, q.backend.RecordAttemptFailure(ctx, localID, 5, "fail", time.Now()))

	n, err := q.EscalatedCount(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestDuplicateIdempotencyKeyRejected(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	req := validRequest()
	req.IdempotencyKey = "fixed_key"
	_, errs, err := q.Enqueue(ctx, req)
	require.NoError(t, err)
	require.Empty(t, errs)

	_, _, err = q.Enqueue(ctx, req)
	require.ErrorIs(t, err, durable.ErrDuplicateIdempotencyKey)
}

// TestMemoryBackendFallback exercises the in-memory Backend used when
// the durable store is unavailable (spec §7).
func TestMemoryBackendFallback(t *testing.T) {
	q := New(NewMemoryBackend(), nil)
	ctx := context.Background()

	localID, errs, err := q.Enqueue(ctx, validRequest())
	require.NoError(t, err)
	require.Empty(t, errs)

	n, err := q.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, q.Delete(ctx, localID))
	n, err = q.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
