package fetch

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// MaxCacheEntryAge is the daily-sweep threshold from spec §4.D/§9.
const MaxCacheEntryAge = 7 * 24 * time.Hour

// GCLoop runs a daily sweep of the offline-api cache until ctx is
// cancelled, grounded on api/scheduler.go's ticker-driven background
// goroutine shape.
func GCLoop(ctx context.Context, cache *CacheStore, log zerolog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted, err := cache.GCExpired(MaxCacheEntryAge)
			if err != nil {
				log.Error().Err(err).Msg("cache GC sweep failed")
				continue
			}
			log.Info().Int("evicted", evicted).Msg("cache GC sweep complete")
		}
	}
}
