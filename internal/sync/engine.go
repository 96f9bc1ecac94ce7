/*
Package sync implements the Sync Engine (spec §4.E, component E): the
queue drain loop, its four triggers, and the capped-backoff failure
bookkeeping.

Grounded on api/scheduler.go's ticker-driven background goroutine
shape (Start/Stop/run, wg sync.WaitGroup, buffered stop channel),
generalized from "reconciliation once an hour" to "drain on four
trigger kinds."
*/
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/warp/posync/internal/durable"
)

// Engine drives the Till's offline queue to zero against a remote
// backend, one drain pass at a time.
type Engine struct {
	backend  Backend
	client   *http.Client
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time

	// syncTagCh is the channel triggers 1 and 4 feed (spec §4.E trigger
	// list): the background-sync signal and enqueue's immediate
	// best-effort signal, both sent by queue.Queue. The TRY_SYNC control
	// message (trigger 2) does not use it: it calls Drain directly.
	// Buffered size 1 so duplicate signals coalesce into one pending
	// drain.
	syncTagCh chan struct{}

	heartbeat time.Duration
	stop      chan struct{}
	wg        sync.WaitGroup
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithHeartbeat overrides the hourly heartbeat interval (used by
// cmd/posync serve's --heartbeat flag and by tests).
func WithHeartbeat(d time.Duration) Option {
	return func(e *Engine) { e.heartbeat = d }
}

// WithClock overrides the time source (tests only).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New constructs an Engine. client should use an internal/fetch
// Interceptor as its Transport so replay traffic gets the same
// classify/cache treatment as live Till traffic.
func New(backend Backend, client *http.Client, syncTagCh chan struct{}, notifier Notifier, log zerolog.Logger, opts ...Option) *Engine {
	if client == nil {
		client = http.DefaultClient
	}
	e := &Engine{
		backend:   backend,
		client:    client,
		notifier:  notifier,
		log:       log,
		now:       time.Now,
		syncTagCh: syncTagCh,
		heartbeat: time.Hour,
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the background goroutine driving the four triggers.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.run()
}

// Stop terminates the background goroutine and waits for the current
// drain (if any) to finish. A drain completes or aborts as a unit;
// there is no cross-drain cancellation (spec §4.E "Cancellation").
func (e *Engine) Stop() {
	close(e.stop)
	e.wg.Wait()
}

func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-e.syncTagCh:
			e.Drain(context.Background())
		case <-ticker.C:
			e.Drain(context.Background())
		}
	}
}

// Drain runs one full pass over every due queue record. Safe to call
// directly (manual "drain" CLI command) or from the background loop.
func (e *Engine) Drain(ctx context.Context) {
	due, err := e.backend.DueQueueRecords(ctx, e.now())
	if err != nil {
		e.log.Error().Err(err).Msg("sync: list due records failed")
		return
	}
	if len(due) == 0 {
		return
	}

	synced := 0
	for _, tx := range due {
		if e.replayOne(ctx, tx) {
			synced++
		}
	}

	e.log.Info().Int("attempted", len(due)).Int("synced", synced).Msg("sync: drain complete")
	if e.notifier != nil {
		e.notifier.BroadcastSyncCompleted(len(due), synced)
	}
}

// replayOne replays a single queue record and applies the step
// 2/3 outcome from spec §4.E. Returns true iff the record reached a
// terminal success state (deleted).
func (e *Engine) replayOne(ctx context.Context, tx durable.QueuedTransaction) bool {
	status, body, lastErr := e.send(ctx, tx)

	if isTerminalSuccess(status, lastErr) {
		now := e.now()
		if err := e.backend.ReconcileSale(ctx, tx.IdempotencyKey, serverIDFromResponse(body), now); err != nil {
			e.log.Error().Err(err).Str("localId", tx.LocalID).Msg("sync: reconcile sale failed")
		}
		if err := e.backend.DeleteQueueRecord(ctx, tx.LocalID); err != nil {
			e.log.Error().Err(err).Str("localId", tx.LocalID).Msg("sync: delete after terminal success failed")
		}
		return true
	}

	attempts := tx.Attempts + 1
	delay := NextDelay(attempts)
	reason := classifyFailure(status, lastErr)
	if err := e.backend.RecordAttemptFailure(ctx, tx.LocalID, attempts, reason, e.now().Add(delay)); err != nil {
		e.log.Error().Err(err).Str("localId", tx.LocalID).Msg("sync: record attempt failure failed")
	}
	return false
}

// isTerminalSuccess implements spec §4.E step 2: 2xx or 409 both
// count, since 409 means the server already applied this idempotency
// key.
func isTerminalSuccess(status int, err error) bool {
	if err != nil {
		return false
	}
	return (status >= 200 && status < 300) || status == http.StatusConflict
}

func classifyFailure(status int, err error) string {
	if err != nil {
		return err.Error()
	}
	return http.StatusText(status)
}

// send replays one queued request. A short in-process retry via
// cenkalti/backoff/v4 (at most 3 tries within 2s) absorbs transient
// dial/DNS errors within this one attempt; it does NOT replace the
// persisted cross-attempt backoff recorded in nextAttemptAt; see DESIGN.md.
func (e *Engine) send(ctx context.Context, tx durable.QueuedTransaction) (status int, body []byte, err error) {
	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = 2 * time.Second
	expo.MaxInterval = 2 * time.Second
	policy := backoff.WithMaxRetries(expo, 2)

	operation := func() error {
		req, buildErr := http.NewRequestWithContext(ctx, tx.Method, tx.URL, bytes.NewReader(tx.Payload))
		if buildErr != nil {
			return backoff.Permanent(buildErr)
		}
		for k, v := range tx.Headers {
			req.Header.Set(k, v)
		}
		req.Header.Set("Idempotency-Key", tx.IdempotencyKey)

		resp, sendErr := e.client.Do(req)
		if sendErr != nil {
			return sendErr
		}
		defer resp.Body.Close()
		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return readErr
		}
		status = resp.StatusCode
		body = data
		return nil
	}

	err = backoff.Retry(operation, policy)
	return status, body, err
}

// serverIDFromResponse extracts an "id" field from a terminal-success
// response body, if present. Not every backend echoes one back (the
// in-process reference backend.Mock doesn't), so a missing/unparseable
// body just means ReconcileSale assigns an empty serverId.
func serverIDFromResponse(body []byte) string {
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.ID
}
