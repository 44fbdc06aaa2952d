// Package ws implements a Server-Sent Events (SSE) hub that streams
// committed audit entries to connected clients.
package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/GoCodeAlone/pciledger/audit"
)

// Event is a typed real-time event broadcast to connected clients.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// EventAudit is the type of events carrying an audit entry.
const EventAudit = "audit"

// client represents a single SSE connection.
type client struct {
	ch chan []byte
}

// Hub manages SSE client connections and broadcasts events.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewHub creates a Hub ready to accept connections.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Close ends every open stream. New connections are refused afterwards.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Attach subscribes the hub to rec so every committed entry is broadcast.
func (h *Hub) Attach(rec *audit.Recorder) (detach func()) {
	return rec.Subscribe(func(e audit.Entry) {
		h.Broadcast(Event{Type: EventAudit, Payload: e})
	})
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to all connected clients.
func (h *Hub) Broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("hub broadcast marshal", "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.ch <- data:
		default:
			// Slow client: drop rather than block the recorder.
			h.logger.Debug("sse client slow, event dropped", "type", event.Type)
		}
	}
}

// ServeSSE handles an SSE connection request.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	select {
	case <-h.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	c := &client{ch: make(chan []byte, 64)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
	}()

	fmt.Fprintf(w, "data: {\"type\":\"connected\"}\n\n") //nolint:errcheck
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case data := <-c.ch:
			// Each SSE "data:" line must not contain newlines
			for _, line := range strings.Split(string(data), "\n") {
				fmt.Fprintf(w, "data: %s\n", line) //nolint:errcheck
			}
			fmt.Fprintln(w) //nolint:errcheck
			flusher.Flush()
		}
	}
}
