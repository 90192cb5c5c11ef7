package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"maintlink/logging"
	"maintlink/status"
)

// SSE event types.
const (
	eventSnapshot = "snapshot"
	eventStatus   = "status"
	eventStats    = "stats"
)

// sseEvent is one message for the browser main window.
type sseEvent struct {
	Type string
	Data interface{}
}

// statusPayload is the JSON body of status events.
type statusPayload struct {
	Label string `json:"label"`
}

type sseClient struct {
	id     string
	events chan sseEvent
}

// eventHub is the browser main window. It is a hub subscriber that copies
// every event to the connected SSE streams, dropping events for streams
// whose buffer is full.
type eventHub struct {
	clients    map[string]*sseClient
	register   chan *sseClient
	unregister chan *sseClient
	broadcast  chan sseEvent
	mu         sync.RWMutex
	done       chan struct{}
	stopped    atomic.Bool
	nextID     atomic.Uint64
}

func newEventHub() *eventHub {
	hub := &eventHub{
		clients:    make(map[string]*sseClient),
		register:   make(chan *sseClient),
		unregister: make(chan *sseClient),
		broadcast:  make(chan sseEvent, 256),
		done:       make(chan struct{}),
	}
	go hub.run()
	return hub
}

func (h *eventHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.events)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				select {
				case client.events <- event:
				default:
					logging.DebugLog("web-sse", "client %s buffer full, dropping %s event", client.id, event.Type)
				}
			}
			h.mu.RUnlock()

		case <-h.done:
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.events)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Broadcast queues an event for every stream. It never blocks.
func (h *eventHub) Broadcast(event sseEvent) {
	select {
	case h.broadcast <- event:
	default:
		logging.DebugLog("web-sse", "broadcast channel full, dropping %s event", event.Type)
	}
}

func (h *eventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop ends every stream. It is safe to call more than once.
func (h *eventHub) Stop() {
	if h.stopped.CompareAndSwap(false, true) {
		close(h.done)
	}
}

func (h *eventHub) Alive() bool { return !h.stopped.Load() }

func (h *eventHub) OnSnapshot(snap status.Snapshot) {
	h.Broadcast(sseEvent{Type: eventSnapshot, Data: snap})
}

func (h *eventHub) OnStatus(label string) {
	h.Broadcast(sseEvent{Type: eventStatus, Data: statusPayload{Label: label}})
}

func (h *eventHub) OnStats(update status.StatsUpdate) {
	h.Broadcast(sseEvent{Type: eventStats, Data: update})
}

// add registers a stream. It returns false once the hub has stopped.
func (h *eventHub) add(c *sseClient) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *eventHub) remove(c *sseClient) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func writeEvent(w http.ResponseWriter, f http.Flusher, event sseEvent) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	f.Flush()
}

// handleSSE serves GET /api/events. The stream opens with the current status,
// snapshot and stats so a freshly loaded page is never blank. An optional
// ?types=status,stats filter limits the event types.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	var typeFilter map[string]bool
	if types := r.URL.Query().Get("types"); types != "" {
		typeFilter = make(map[string]bool)
		for _, t := range strings.Split(types, ",") {
			typeFilter[strings.TrimSpace(t)] = true
		}
	}
	want := func(t string) bool { return typeFilter == nil || typeFilter[t] }

	client := &sseClient{
		id:     fmt.Sprintf("sse-%d", s.events.nextID.Add(1)),
		events: make(chan sseEvent, 64),
	}
	if !s.events.add(client) {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.events.remove(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	hub := s.ctl.Hub()
	if label := hub.LastStatus(); label != "" && want(eventStatus) {
		writeEvent(w, flusher, sseEvent{Type: eventStatus, Data: statusPayload{Label: label}})
	}
	if snap, ok := hub.LastSnapshot(); ok && want(eventSnapshot) {
		writeEvent(w, flusher, sseEvent{Type: eventSnapshot, Data: snap})
	}
	if want(eventStats) {
		writeEvent(w, flusher, sseEvent{Type: eventStats, Data: hub.Stats()})
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case event, ok := <-client.events:
			if !ok {
				return
			}
			if !want(event.Type) {
				continue
			}
			writeEvent(w, flusher, event)

		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
