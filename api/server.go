/*
server.go - HTTP router and middleware configuration

Configures the HTTP router (chi), middleware stack, and route
definitions connecting the Till's local UI to the offline queue and
catalog cache, plus the SSE control channel to the Sync Worker.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the till UI, dev server only

ROUTE GROUPS:
  /api/queue/*       Offline outbound queue (list, enqueue, edit, expedite, delete)
  /api/products/*    Catalog search and upsert
  /api/inventory/*   Local inventory adjustments
  /api/customers/*   Customer cache and loyalty adjustments
  /api/stores/*      Store metadata and staleness
  /api/sales/*       Sale authoring, return/swap authoring, sales history
  /control           SSE control channel (GET) + inbound dispatch (POST)
  /*                 Static files (till UI), falls back to a status page

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/posync: process startup
*/
package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with every Till-facing route wired.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/queue", func(r chi.Router) {
			r.Get("/", h.ListQueue)
			r.Post("/", h.EnqueueTransaction)
			r.Get("/count", h.QueueCount)
			r.Get("/escalated", h.EscalatedCount)
			r.Get("/{id}", h.GetQueueItem)
			r.Put("/{id}/payload", h.EditQueuePayload)
			r.Post("/{id}/expedite", h.ExpediteQueueItem)
			r.Delete("/{id}", h.DeleteQueueItem)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/search", h.SearchProducts)
			r.Get("/{id}", h.GetProduct)
			r.Put("/{id}", h.UpsertProduct)
		})

		r.Route("/inventory", func(r chi.Router) {
			r.Get("/{storeID}", h.ListInventory)
			r.Get("/{storeID}/{productID}", h.GetInventoryRow)
			r.Post("/{storeID}/{productID}/adjust", h.AdjustInventory)
		})

		r.Route("/customers", func(r chi.Router) {
			r.Put("/{id}", h.UpsertCustomer)
			r.Get("/{id}", h.GetCustomer)
			r.Post("/{id}/loyalty", h.AdjustLoyalty)
		})

		r.Route("/stores", func(r chi.Router) {
			r.Put("/{id}", h.UpsertStore)
			r.Get("/{id}", h.GetStore)
			r.Get("/{id}/stale", h.StoreStale)
		})

		r.Route("/sales", func(r chi.Router) {
			r.Post("/", h.CreateSale)
			r.Get("/{storeID}", h.ListSales)
			r.Get("/{storeID}/{id}", h.GetSale)
			r.Post("/{storeID}/{id}/returns", h.CreateReturn)
			r.Get("/{storeID}/{id}/returns", h.ListReturns)
		})

		r.Post("/sync/trigger", h.TriggerSync)
	})

	r.Route("/control", func(r chi.Router) {
		r.Get("/", h.Control)
		r.Post("/", h.ControlDispatch)
	})

	// Serve static files (till UI). First try ./web/dist (development),
	// then fall back to a status page describing the API.
	staticDir := "./web/dist"
	if _, err := os.Stat(staticDir); os.IsNotExist(err) {
		exe, _ := os.Executable()
		staticDir = filepath.Join(filepath.Dir(exe), "web", "dist")
	}

	if _, err := os.Stat(staticDir); err == nil {
		fileServer := http.FileServer(http.Dir(staticDir))
		r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
			fullPath := filepath.Join(staticDir, r.URL.Path)
			if _, err := os.Stat(fullPath); os.IsNotExist(err) {
				http.ServeFile(w, r, filepath.Join(staticDir, "index.html"))
				return
			}
			fileServer.ServeHTTP(w, r)
		})
	} else {
		r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>posync</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>posync Till API</h1>
<p>The till UI is not built yet. Run <code>cd web && npm install && npm run build</code></p>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/queue">/api/queue</a> - Offline outbound queue</li>
<li><a href="/api/products/search?q=">/api/products/search</a> - Catalog search</li>
</ul>
</body>
</html>`))
		})
	}

	return r
}
