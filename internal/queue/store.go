package queue

import (
	"context"
	"time"

	"github.com/warp/posync/internal/durable"
)

// Backend is the persistence surface the Queue needs. durable.Store
// satisfies it directly; memStore is the in-memory fallback used when
// the durable store could not be opened (spec §7 "durable-store
// unavailable... silent fallback to in-memory queue").
type Backend interface {
	EnqueueRecord(ctx context.Context, tx durable.QueuedTransaction) error
	ListQueue(ctx context.Context) ([]durable.QueuedTransaction, error)
	CountQueue(ctx context.Context) (int, error)
	GetQueueRecord(ctx context.Context, localID string) (*durable.QueuedTransaction, error)
	DueQueueRecords(ctx context.Context, asOf time.Time) ([]durable.QueuedTransaction, error)
	ExpediteQueueRecord(ctx context.Context, localID string, now time.Time) error
	EditQueuePayload(ctx context.Context, localID string, payload []byte, now time.Time) error
	RecordAttemptFailure(ctx context.Context, localID string, attempts int, lastError string, nextAttemptAt time.Time) error
	DeleteQueueRecord(ctx context.Context, localID string) error
	EscalatedCount(ctx context.Context, threshold int) (int, error)
}
