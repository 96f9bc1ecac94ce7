package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/posync/internal/durable"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print offline queue depth, escalation count, and catalog staleness",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().Int("escalation-threshold", 5, "Attempt count at or above which a queue entry is considered escalated")
	statusCmd.Flags().String("store-id", "", "Store id to report catalog staleness for (optional)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	dbPath, _ := cmd.Root().PersistentFlags().GetString("db")
	threshold, _ := cmd.Flags().GetInt("escalation-threshold")
	storeID, _ := cmd.Flags().GetString("store-id")

	store, err := durable.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open durable store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	count, err := store.CountQueue(ctx)
	if err != nil {
		return fmt.Errorf("count queue: %w", err)
	}
	escalated, err := store.EscalatedCount(ctx, threshold)
	if err != nil {
		return fmt.Errorf("count escalated: %w", err)
	}

	fmt.Printf("queue depth:      %d\n", count)
	fmt.Printf("escalated (>=%d): %d\n", threshold, escalated)

	if storeID != "" {
		meta, err := store.GetSyncMeta(ctx, storeID)
		if err != nil {
			return fmt.Errorf("get sync meta: %w", err)
		}
		if meta == nil {
			fmt.Printf("catalog (%s):     never synced\n", storeID)
		} else {
			stale := time.Since(meta.LastSyncAt) > time.Hour
			fmt.Printf("catalog (%s):     last synced %s, stale=%v\n", storeID, meta.LastSyncAt.Format(time.RFC3339), stale)
		}
	}
	return nil
}
