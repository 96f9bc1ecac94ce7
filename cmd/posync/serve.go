package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/posync/api"
	"github.com/warp/posync/internal/backend"
	"github.com/warp/posync/internal/catalog"
	"github.com/warp/posync/internal/durable"
	"github.com/warp/posync/internal/fetch"
	"github.com/warp/posync/internal/lifecycle"
	"github.com/warp/posync/internal/queue"
	"github.com/warp/posync/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Till HTTP API and the Sync Worker",
	Long: `serve starts the Till (foreground, serving the local UI over
HTTP) and the Sync Worker (background, draining the offline queue
against the remote backend) as two goroutines sharing one durable
store, exactly as spec'd: a graceful SIGINT/SIGTERM drains in-flight
requests and stops the worker before exit.

Queued requests carry their own absolute target URL (set by whatever
enqueued them), so serve itself never dials a single "the backend" —
--with-mock-backend just gives local development something to enqueue
against.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", 8080, "HTTP server port")
	serveCmd.Flags().Bool("with-mock-backend", false, "Also run the in-process reference backend (for local development)")
	serveCmd.Flags().Int("mock-backend-port", 8081, "Port for --with-mock-backend")
	serveCmd.Flags().String("cache-db", "posync-cache.db", "Fetch interceptor cache store path")
	serveCmd.Flags().String("cache-version", "v1", "Cache version tag, bump to invalidate on deploy")
	serveCmd.Flags().Duration("heartbeat", time.Hour, "Sync worker heartbeat interval")
}

func runServe(cmd *cobra.Command, args []string) error {
	dbPath, _ := cmd.Root().PersistentFlags().GetString("db")
	port, _ := cmd.Flags().GetInt("port")
	withMock, _ := cmd.Flags().GetBool("with-mock-backend")
	mockPort, _ := cmd.Flags().GetInt("mock-backend-port")
	cacheDB, _ := cmd.Flags().GetString("cache-db")
	cacheVersion, _ := cmd.Flags().GetString("cache-version")
	heartbeat, _ := cmd.Flags().GetDuration("heartbeat")

	store, err := durable.Open(dbPath)
	if err != nil {
		logger.Warn().Err(err).Msg("durable store unavailable, falling back to in-memory queue (spec §7)")
	}
	if store != nil {
		defer store.Close()
	}

	cache, err := fetch.OpenCacheStore(cacheDB, cacheVersion)
	if err != nil {
		return fmt.Errorf("open cache store: %w", err)
	}
	defer cache.Close()
	if err := cache.Activate(); err != nil {
		logger.Warn().Err(err).Msg("cache activation failed")
	}

	lc := lifecycle.New(cacheVersion, logger)

	if withMock {
		mockSrv := &http.Server{Addr: fmt.Sprintf(":%d", mockPort), Handler: backend.NewMock()}
		go func() {
			logger.Info().Int("port", mockPort).Msg("mock backend serving")
			if err := mockSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("mock backend failed")
			}
		}()
		defer mockSrv.Close()
	}

	httpClient := &http.Client{
		Transport: fetch.NewInterceptor(http.DefaultTransport, cache, lc.DisabledFlag(), logger),
		Timeout:   30 * time.Second,
	}

	var qBackend queue.Backend = store
	var syncBackend sync.Backend = store
	if store == nil {
		mem := queue.NewMemoryBackend()
		qBackend = mem
		syncBackend = mem.(sync.Backend)
	}

	syncSignal := make(chan struct{}, 1)
	q := queue.New(qBackend, syncSignal)
	cat := catalog.New(store)

	engine := sync.New(syncBackend, httpClient, syncSignal, lc, logger, sync.WithHeartbeat(heartbeat))
	engine.Start()
	defer engine.Stop()

	go fetch.GCLoop(context.Background(), cache, logger)

	handler := api.NewHandler(q, cat, engine, lc, cache, logger)
	router := api.NewRouter(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Int("port", port).Msg("till serving")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("till server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info().Msg("stopped")
	return nil
}
