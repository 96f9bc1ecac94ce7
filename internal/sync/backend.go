package sync

import (
	"context"
	"time"

	"github.com/warp/posync/internal/durable"
)

// Backend is the queue persistence surface the Engine drains against.
// durable.Store and internal/queue's in-memory fallback both satisfy
// it, matching the spec's "durable store unavailable" fallback story.
type Backend interface {
	DueQueueRecords(ctx context.Context, asOf time.Time) ([]durable.QueuedTransaction, error)
	RecordAttemptFailure(ctx context.Context, localID string, attempts int, lastError string, nextAttemptAt time.Time) error
	DeleteQueueRecord(ctx context.Context, localID string) error

	// ReconcileSale assigns serverId/syncedAt to the cached sale sharing
	// a replayed record's idempotency key, wiring §3's "CachedSale...
	// synced_at/serverId assigned once the server acknowledges it" to
	// the drain loop's terminal-success path. Not every queue record is
	// a sale (e.g. returns), so a no-match is not an error.
	ReconcileSale(ctx context.Context, idempotencyKey, serverID string, syncedAt time.Time) error
}

// Notifier delivers SYNC_COMPLETED and related broadcasts to attached
// clients (spec §4.F); internal/lifecycle.Controller implements it.
type Notifier interface {
	BroadcastSyncCompleted(attempted, synced int)
}
