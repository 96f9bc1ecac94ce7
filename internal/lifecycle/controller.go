/*
Package lifecycle implements Lifecycle & Control (spec §4.F, component
F): the bidirectional control channel between Till and Sync Worker,
the DISABLE flag the fetch interceptor consults, and development-mode
self-disable.

Grounded on api/server.go's constructor-injected dependency style and
generalized from a request/response HTTP handler into a registry of
attached client channels, since this component's job is fan-out
broadcast (worker -> every client) rather than request/response.
*/
package lifecycle

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Message types exchanged over the control channel (spec §4.F table).
const (
	MsgSkipWaiting   = "SKIP_WAITING"
	MsgGetVersion    = "GET_VERSION"
	MsgClearCache    = "CLEAR_CACHE"
	MsgDisable       = "DISABLE"
	MsgTrySync       = "TRY_SYNC"
	MsgSyncCompleted = "SYNC_COMPLETED"
	MsgNotification  = "NOTIFICATION"
)

// ControlMessage is the JSON envelope carried over the SSE channel.
type ControlMessage struct {
	Type      string `json:"type"`
	Version   string `json:"version,omitempty"`
	Attempted int    `json:"attempted,omitempty"`
	Synced    int    `json:"synced,omitempty"`
	Title     string `json:"title,omitempty"`
	Body      string `json:"body,omitempty"`
}

// Controller owns the set of attached client connections and the
// runtime DISABLE flag (spec §4.F).
type Controller struct {
	mu      sync.Mutex
	clients map[string]chan ControlMessage

	disabled atomic.Bool
	version  string
	log      zerolog.Logger

	nextID int
}

// New constructs a Controller for the given cache-version tag.
func New(version string, log zerolog.Logger) *Controller {
	return &Controller{
		clients: make(map[string]chan ControlMessage),
		version: version,
		log:     log,
	}
}

// Attach registers a new client connection (one per SSE request) and
// returns its id plus the channel it should read broadcasts from.
// Callers must call Detach when the connection closes.
func (c *Controller) Attach() (id string, ch chan ControlMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id = strconv.Itoa(c.nextID)
	ch = make(chan ControlMessage, 8)
	c.clients[id] = ch
	return id, ch
}

// Detach removes and closes a client's channel.
func (c *Controller) Detach(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.clients[id]; ok {
		close(ch)
		delete(c.clients, id)
	}
}

// broadcast delivers msg to every attached client, the Go stand-in for
// clients.matchAll().forEach(c => c.postMessage(msg)). A slow or
// closed client channel is skipped rather than blocking the rest.
func (c *Controller) broadcast(msg ControlMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range c.clients {
		select {
		case ch <- msg:
		default:
			c.log.Warn().Msg("lifecycle: dropping control message, client channel full")
		}
	}
}

// BroadcastSyncCompleted implements internal/sync.Notifier.
func (c *Controller) BroadcastSyncCompleted(attempted, synced int) {
	c.broadcast(ControlMessage{Type: MsgSyncCompleted, Attempted: attempted, Synced: synced})
}

// Notify pushes a system-notification payload to every client.
func (c *Controller) Notify(title, body string) {
	c.broadcast(ControlMessage{Type: MsgNotification, Title: title, Body: body})
}

// Disabled reports whether DISABLE has been flipped; internal/fetch's
// Interceptor polls this via the *atomic.Bool returned by DisabledFlag.
func (c *Controller) Disabled() bool {
	return c.disabled.Load()
}

// DisabledFlag exposes the underlying flag directly, so the fetch
// interceptor can be constructed with it without importing lifecycle.
func (c *Controller) DisabledFlag() *atomic.Bool {
	return &c.disabled
}

// Version returns the current cache-version tag (GET_VERSION reply).
func (c *Controller) Version() string {
	return c.version
}

// IsDevHost implements spec §4.F's development-mode self-disable
// check: origin is local/loopback.
func IsDevHost(host string) bool {
	h := host
	if hostOnly, _, err := net.SplitHostPort(host); err == nil {
		h = hostOnly
	}
	return h == "localhost" || strings.HasPrefix(h, "127.") || h == "::1"
}
