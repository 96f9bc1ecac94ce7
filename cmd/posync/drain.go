package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/posync/internal/durable"
	"github.com/warp/posync/internal/fetch"
	"github.com/warp/posync/internal/lifecycle"
	"github.com/warp/posync/internal/sync"
)

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Run one manual drain pass over the offline queue and exit",
	Long: `drain performs exactly one pass of the Sync Engine's drain
algorithm (spec §4.E step 1-3) against whatever is currently due, then
exits. Useful for cron-driven sync on a host that doesn't want to keep
the serve process running, or for operator-triggered retries.`,
	RunE: runDrain,
}

func init() {
	drainCmd.Flags().String("cache-db", "posync-cache.db", "Fetch interceptor cache store path")
	drainCmd.Flags().String("cache-version", "v1", "Cache version tag")
}

func runDrain(cmd *cobra.Command, args []string) error {
	dbPath, _ := cmd.Root().PersistentFlags().GetString("db")
	cacheDB, _ := cmd.Flags().GetString("cache-db")
	cacheVersion, _ := cmd.Flags().GetString("cache-version")

	store, err := durable.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open durable store: %w", err)
	}
	defer store.Close()

	cache, err := fetch.OpenCacheStore(cacheDB, cacheVersion)
	if err != nil {
		return fmt.Errorf("open cache store: %w", err)
	}
	defer cache.Close()

	lc := lifecycle.New(cacheVersion, logger)
	httpClient := &http.Client{
		Transport: fetch.NewInterceptor(http.DefaultTransport, cache, lc.DisabledFlag(), logger),
		Timeout:   30 * time.Second,
	}

	engine := sync.New(store, httpClient, make(chan struct{}, 1), lc, logger)
	engine.Drain(context.Background())
	return nil
}
