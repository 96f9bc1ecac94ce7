/*
queue_store.go - durable persistence for the offline queue (spec §3/§4.B).

Append-only in spirit but not in the teacher's strict sense: a queue
record IS mutated in place (attempts/nextAttemptAt/lastError bookkeeping,
payload edit) and IS deleted on terminal success, because spec §3
explicitly defines that lifecycle. What's preserved from the teacher is
the idempotency-key-uniqueness enforcement via a UNIQUE index translated
into durable.ErrDuplicateIdempotencyKey, exactly as appendTx() in
store/sqlite/sqlite.go translates a UNIQUE violation into a sentinel
error the caller can react to without parsing driver-specific text.
*/
package durable

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EnqueueRecord inserts a brand new queue record. Fails with
// ErrDuplicateIdempotencyKey if the idempotency key is already present.
func (s *Store) EnqueueRecord(ctx context.Context, tx QueuedTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	headersJSON, err := json.Marshal(tx.Headers)
	if err != nil {
		return fmt.Errorf("durable: marshal headers: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO offline_sales
			(local_id, idempotency_key, url, method, headers_json, payload,
			 created_at, attempts, next_attempt_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.LocalID, tx.IdempotencyKey, tx.URL, tx.Method, string(headersJSON), tx.Payload,
		tx.CreatedAt.UTC().Format(time.RFC3339Nano), tx.Attempts,
		tx.NextAttemptAt.UTC().Format(time.RFC3339Nano), nullString(tx.LastError),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("durable: enqueue: %w", err)
	}
	return nil
}

// ListQueue returns every queue record, ordered by local_id (store-
// iteration order - spec §4.E explicitly says ordering need not be FIFO).
func (s *Store) ListQueue(ctx context.Context) ([]QueuedTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT local_id, idempotency_key, url, method, headers_json, payload,
		       created_at, attempts, next_attempt_at, last_error
		FROM offline_sales
		ORDER BY local_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("durable: list queue: %w", err)
	}
	defer rows.Close()
	return scanQueueRows(rows)
}

// CountQueue returns the number of pending queue records.
func (s *Store) CountQueue(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offline_sales`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("durable: count queue: %w", err)
	}
	return n, nil
}

// GetQueueRecord loads a single record by localId.
func (s *Store) GetQueueRecord(ctx context.Context, localID string) (*QueuedTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT local_id, idempotency_key, url, method, headers_json, payload,
		       created_at, attempts, next_attempt_at, last_error
		FROM offline_sales WHERE local_id = ?
	`, localID)
	tx, err := scanQueueRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("durable: get queue record: %w", err)
	}
	return tx, nil
}

// DueQueueRecords returns records with next_attempt_at <= asOf, the set
// the Sync Engine's drain pass actually replays.
func (s *Store) DueQueueRecords(ctx context.Context, asOf time.Time) ([]QueuedTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT local_id, idempotency_key, url, method, headers_json, payload,
		       created_at, attempts, next_attempt_at, last_error
		FROM offline_sales
		WHERE next_attempt_at <= ?
		ORDER BY local_id ASC
	`, asOf.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("durable: due queue records: %w", err)
	}
	defer rows.Close()
	return scanQueueRows(rows)
}

// ExpediteQueueRecord sets next_attempt_at to now.
func (s *Store) ExpediteQueueRecord(ctx context.Context, localID string, now time.Time) error {
	return s.updateQueueRecord(ctx, localID, `UPDATE offline_sales SET next_attempt_at = ? WHERE local_id = ?`,
		now.UTC().Format(time.RFC3339Nano), localID)
}

// EditQueuePayload replaces the payload and resets attempts/next_attempt_at.
func (s *Store) EditQueuePayload(ctx context.Context, localID string, payload []byte, now time.Time) error {
	return s.updateQueueRecord(ctx, localID, `
		UPDATE offline_sales
		SET payload = ?, attempts = 0, next_attempt_at = ?, last_error = NULL
		WHERE local_id = ?
	`, payload, now.UTC().Format(time.RFC3339Nano), localID)
}

// RecordAttemptFailure increments attempts, stores lastError, and sets
// the next eligible attempt time (spec §4.E step 3 - caller computes
// the capped-backoff delay and passes the resulting nextAttemptAt).
func (s *Store) RecordAttemptFailure(ctx context.Context, localID string, attempts int, lastError string, nextAttemptAt time.Time) error {
	return s.updateQueueRecord(ctx, localID, `
		UPDATE offline_sales
		SET attempts = ?, last_error = ?, next_attempt_at = ?
		WHERE local_id = ?
	`, attempts, lastError, nextAttemptAt.UTC().Format(time.RFC3339Nano), localID)
}

// DeleteQueueRecord removes a record unconditionally (spec §4.B delete,
// and §4.E step 2 on terminal success).
func (s *Store) DeleteQueueRecord(ctx context.Context, localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM offline_sales WHERE local_id = ?`, localID)
	if err != nil {
		return fmt.Errorf("durable: delete queue record: %w", err)
	}
	return nil
}

// EscalatedCount returns the number of records with attempts >= threshold.
func (s *Store) EscalatedCount(ctx context.Context, threshold int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offline_sales WHERE attempts >= ?`, threshold).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("durable: escalated count: %w", err)
	}
	return n, nil
}

func (s *Store) updateQueueRecord(ctx context.Context, localID string, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("durable: update queue record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("durable: rows affected: %w", err)
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanQueueRow(row scannable) (*QueuedTransaction, error) {
	var (
		tx                          QueuedTransaction
		headersJSON                 string
		createdAt, nextAttemptAt    string
		lastError                   sql.NullString
	)
	if err := row.Scan(&tx.LocalID, &tx.IdempotencyKey, &tx.URL, &tx.Method, &headersJSON,
		&tx.Payload, &createdAt, &tx.Attempts, &nextAttemptAt, &lastError); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(headersJSON), &tx.Headers); err != nil {
		return nil, fmt.Errorf("durable: unmarshal headers: %w", err)
	}
	var err error
	if tx.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if tx.NextAttemptAt, err = time.Parse(time.RFC3339Nano, nextAttemptAt); err != nil {
		return nil, err
	}
	tx.LastError = lastError.String
	return &tx, nil
}

func scanQueueRows(rows *sql.Rows) ([]QueuedTransaction, error) {
	var out []QueuedTransaction
	for rows.Next() {
		tx, err := scanQueueRow(rows)
		if err != nil {
			return nil, fmt.Errorf("durable: scan queue row: %w", err)
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueConstraintError matches the go-sqlite3 unique-constraint
// error text, the same string-matching translation the teacher's
// store/sqlite/sqlite.go performs.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
