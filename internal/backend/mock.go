/*
Package backend stands in for the remote "server API" collaborator
(spec §6) — an in-process reference implementation of the idempotent
sales endpoint the Sync Engine replays against. Not mandated by the
spec, but needed for the test suite and for `cmd/posync serve
--with-mock-backend` to be runnable standalone without a real backend.

Grounded on api/handlers.go's Handler shape (constructor-injected
store, writeJSON/writeError helpers) and its 2xx/4xx/409/500 status
conventions.
*/
package backend

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
)

// Mock is a minimal idempotent sales backend: first write for a given
// Idempotency-Key returns 201, any repeat returns 409 with the
// original response body (spec §6 "return 409 Conflict with the
// previously-stored result... or a shape the core treats as terminal
// success").
type Mock struct {
	mu      sync.Mutex
	applied map[string][]byte

	router chi.Router
}

// NewMock constructs a mock backend server.
func NewMock() *Mock {
	m := &Mock{applied: make(map[string][]byte)}
	r := chi.NewRouter()
	r.Post("/api/pos/sales", m.handleCreateSale)
	r.Post("/api/pos/returns", m.handleCreateReturn)
	m.router = r
	return m
}

// ServeHTTP implements http.Handler.
func (m *Mock) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.router.ServeHTTP(w, r)
}

func (m *Mock) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	m.handleIdempotent(w, r, map[string]string{"status": "accepted"})
}

func (m *Mock) handleCreateReturn(w http.ResponseWriter, r *http.Request) {
	m.handleIdempotent(w, r, map[string]string{"status": "accepted"})
}

func (m *Mock) handleIdempotent(w http.ResponseWriter, r *http.Request, firstWriteBody map[string]string) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing Idempotency-Key header")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.applied[key]; ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write(prior)
		return
	}

	body, _ := json.Marshal(firstWriteBody)
	m.applied[key] = body
	writeJSON(w, http.StatusCreated, firstWriteBody)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
