package lifecycle

import (
	"context"

	"github.com/warp/posync/internal/fetch"
)

// Syncer is the subset of internal/sync.Engine the controller needs to
// carry out TRY_SYNC.
type Syncer interface {
	Drain(ctx context.Context)
}

// HandleSkipWaiting implements the SKIP_WAITING message: there is no
// separate "waiting" worker generation in this single-process design,
// so this simply answers with the current version, mirroring the
// browser semantics of "the new worker is already in control."
func (c *Controller) HandleSkipWaiting() ControlMessage {
	return ControlMessage{Type: MsgGetVersion, Version: c.version}
}

// HandleClearCache drops every entry from both named caches.
func (c *Controller) HandleClearCache(cache *fetch.CacheStore) error {
	return cache.ClearAll()
}

// HandleDisable flips the runtime DISABLE flag so the fetch
// interceptor passes every request straight through, then clears
// caches (spec §4.F "Flip a runtime flag... and clear caches").
func (c *Controller) HandleDisable(cache *fetch.CacheStore) error {
	c.disabled.Store(true)
	return cache.ClearAll()
}

// HandleEnable reverses HandleDisable, turning the interceptor back on
// without restarting the process. It is not part of the control-message
// table, and no HTTP route or CLI command calls it.
func (c *Controller) HandleEnable() {
	c.disabled.Store(false)
}

// HandleTrySync kicks an immediate drain (spec §4.F TRY_SYNC).
func (c *Controller) HandleTrySync(ctx context.Context, engine Syncer) {
	engine.Drain(ctx)
}
