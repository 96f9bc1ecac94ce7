/*
memstore.go - in-memory fallback Backend, used only when the durable
store could not be opened (private-mode-equivalent storage denial).

Grounded on generic/store/memory.go's Memory type: a sync.RWMutex-
guarded map plus a parallel idempotency-key set, so uniqueness is
enforced the same way the durable store enforces it with a UNIQUE
index.
*/
package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/posync/internal/durable"
)

type memStore struct {
	mu          sync.RWMutex
	records     map[string]durable.QueuedTransaction
	idempotency map[string]bool
	order       []string // insertion order; ListQueue and DueQueueRecords sort by LocalID
}

// NewMemoryBackend constructs the in-memory fallback queue store.
func NewMemoryBackend() Backend {
	return &memStore{
		records:     make(map[string]durable.QueuedTransaction),
		idempotency: make(map[string]bool),
	}
}

func (m *memStore) EnqueueRecord(_ context.Context, tx durable.QueuedTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return durable.ErrDuplicateIdempotencyKey
	}
	m.records[tx.LocalID] = tx
	m.order = append(m.order, tx.LocalID)
	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
	return nil
}

func (m *memStore) ListQueue(_ context.Context) ([]durable.QueuedTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]durable.QueuedTransaction, 0, len(m.order))
	for _, id := range m.order {
		if tx, ok := m.records[id]; ok {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalID < out[j].LocalID })
	return out, nil
}

func (m *memStore) CountQueue(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

func (m *memStore) GetQueueRecord(_ context.Context, localID string) (*durable.QueuedTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.records[localID]
	if !ok {
		return nil, durable.ErrRecordNotFound
	}
	return &tx, nil
}

func (m *memStore) DueQueueRecords(_ context.Context, asOf time.Time) ([]durable.QueuedTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []durable.QueuedTransaction
	for _, id := range m.order {
		tx, ok := m.records[id]
		if ok && !tx.NextAttemptAt.After(asOf) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalID < out[j].LocalID })
	return out, nil
}

func (m *memStore) ExpediteQueueRecord(_ context.Context, localID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.records[localID]
	if !ok {
		return durable.ErrRecordNotFound
	}
	tx.NextAttemptAt = now
	m.records[localID] = tx
	return nil
}

func (m *memStore) EditQueuePayload(_ context.Context, localID string, payload []byte, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.records[localID]
	if !ok {
		return durable.ErrRecordNotFound
	}
	tx.Payload = payload
	tx.Attempts = 0
	tx.NextAttemptAt = now
	tx.LastError = ""
	m.records[localID] = tx
	return nil
}

func (m *memStore) RecordAttemptFailure(_ context.Context, localID string, attempts int, lastError string, nextAttemptAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.records[localID]
	if !ok {
		return durable.ErrRecordNotFound
	}
	tx.Attempts = attempts
	tx.LastError = lastError
	tx.NextAttemptAt = nextAttemptAt
	m.records[localID] = tx
	return nil
}

func (m *memStore) DeleteQueueRecord(_ context.Context, localID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx, ok := m.records[localID]; ok {
		if tx.IdempotencyKey != "" {
			delete(m.idempotency, tx.IdempotencyKey)
		}
		delete(m.records, localID)
	}
	for i, id := range m.order {
		if id == localID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memStore) EscalatedCount(_ context.Context, threshold int) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, tx := range m.records {
		if tx.Attempts >= threshold {
			n++
		}
	}
	return n, nil
}

// ReconcileSale is a no-op: the in-memory fallback only ever stands in
// for the offline queue, never the catalog cache, so there is no
// CachedSale here to assign a serverId to. This lets memStore satisfy
// internal/sync.Backend alongside *durable.Store.
func (m *memStore) ReconcileSale(_ context.Context, _, _ string, _ time.Time) error {
	return nil
}
