// Package sse provides Server-Sent Events broadcasting for memoryd.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// WriteTimeout is the timeout for writing to SSE clients.
	// Prevents blocking on stale connections.
	WriteTimeout = 2 * time.Second
)

// EventType names the event taxonomy broadcast over SSE. Dashboard clients
// switch on this field to decide which part of their view to refresh.
type EventType string

const (
	EventNewObservation        EventType = "new_observation"
	EventNewSummary            EventType = "new_summary"
	EventNewPrompt             EventType = "new_prompt"
	EventProcessingStatus      EventType = "processing_status"
	EventInitialLoad           EventType = "initial_load"
	EventPlanAssociationChange EventType = "plan_association_changed"
)

// Event is the typed envelope broadcast for every taxonomy member. Payload
// is left as interface{} since each EventType carries a different shape
// (an observation row, a processing-status snapshot, a plan association).
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Client represents a connected SSE client.
type Client struct {
	Writer  http.ResponseWriter
	Flusher http.Flusher
	Done    chan struct{}
	ID      string
}

// SnapshotFunc reports the state a newly connected client needs replayed
// immediately: the distinct projects with activity, and whether any
// session is currently processing.
type SnapshotFunc func() (projects []string, processing bool)

// Broadcaster manages SSE client connections and message broadcasting.
type Broadcaster struct {
	clients  map[string]*Client
	mu       sync.RWMutex
	nextID   int
	snapshot SnapshotFunc
}

// NewBroadcaster creates a new SSE broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*Client),
	}
}

// SetSnapshotProvider wires the function HandleSSE calls to build a new
// client's initial_load/processing_status frames. Wired once at daemon
// startup, after the store and session manager it reads from exist.
func (b *Broadcaster) SetSnapshotProvider(fn SnapshotFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = fn
}

// AddClient adds a new SSE client connection.
func (b *Broadcaster) AddClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	b.mu.Lock()
	b.nextID++
	id := fmt.Sprintf("client-%d", b.nextID)
	client := &Client{
		ID:      id,
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}
	b.clients[id] = client
	clientCount := len(b.clients)
	b.mu.Unlock()

	log.Debug().
		Str("clientId", id).
		Int("totalClients", clientCount).
		Msg("SSE client connected")

	return client, nil
}

// RemoveClient removes a client connection.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	delete(b.clients, client.ID)
	clientCount := len(b.clients)
	b.mu.Unlock()

	close(client.Done)

	log.Debug().
		Str("clientId", client.ID).
		Int("totalClients", clientCount).
		Msg("SSE client disconnected")
}

// removeClientByID removes a client by ID (for dead client cleanup).
func (b *Broadcaster) removeClientByID(id string) {
	b.mu.Lock()
	client, exists := b.clients[id]
	if exists {
		delete(b.clients, id)
	}
	clientCount := len(b.clients)
	b.mu.Unlock()

	if exists && client.Done != nil {
		select {
		case <-client.Done:
			// Already closed
		default:
			close(client.Done)
		}
	}

	log.Debug().
		Str("clientId", id).
		Int("totalClients", clientCount).
		Msg("Dead SSE client removed")
}

// Broadcast sends a message to all connected clients.
// Uses non-blocking writes with timeout to prevent stale connections from blocking.
func (b *Broadcaster) Broadcast(data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal SSE data")
		return
	}

	message := fmt.Sprintf("data: %s\n\n", jsonData)

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, client := range b.clients {
		clients = append(clients, client)
	}
	b.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	// Use a channel to collect dead clients from concurrent writes
	deadClientsCh := make(chan string, len(clients))
	var wg sync.WaitGroup

	for _, client := range clients {
		select {
		case <-client.Done:
			continue
		default:
			wg.Add(1)
			go func(c *Client) {
				defer wg.Done()
				b.writeToClient(c, message, deadClientsCh)
			}(client)
		}
	}

	// Wait for all writes to complete (with their individual timeouts)
	wg.Wait()
	close(deadClientsCh)

	// Remove dead clients
	for clientID := range deadClientsCh {
		b.removeClientByID(clientID)
	}
}

// writeToClient writes a message to a single client with timeout.
func (b *Broadcaster) writeToClient(client *Client, message string, deadCh chan<- string) {
	// Use a timeout channel to prevent blocking on stale connections
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, err := client.Writer.Write([]byte(message))
		if err != nil {
			log.Debug().
				Str("clientId", client.ID).
				Err(err).
				Msg("Failed to write to SSE client, marking for removal")
			deadCh <- client.ID
			return
		}
		client.Flusher.Flush()
	}()

	select {
	case <-done:
		// Write completed successfully
	case <-time.After(WriteTimeout):
		log.Warn().
			Str("clientId", client.ID).
			Dur("timeout", WriteTimeout).
			Msg("SSE write timed out, marking client for removal")
		deadCh <- client.ID
	case <-client.Done:
		// Client disconnected during write
	}
}

// BroadcastEvent wraps payload in the typed Event envelope and broadcasts
// it. Callers should use this rather than Broadcast for anything in the
// EventType taxonomy, so every dashboard client sees a consistent shape.
func (b *Broadcaster) BroadcastEvent(eventType EventType, payload interface{}) {
	b.Broadcast(Event{Type: eventType, Payload: payload})
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HandleSSE handles an SSE connection request.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client, err := b.AddClient(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.RemoveClient(client)

	// Send initial connection message
	fmt.Fprintf(w, "data: {\"type\":\"connected\",\"clientId\":\"%s\"}\n\n", client.ID)
	client.Flusher.Flush()

	b.writeInitialFrames(client)

	// Wait for client disconnect
	<-r.Context().Done()
}

// writeInitialFrames replays the current project list and processing
// snapshot to a just-connected client, so its dashboard doesn't start
// blank until the next write anywhere in the system.
func (b *Broadcaster) writeInitialFrames(client *Client) {
	b.mu.RLock()
	snapshot := b.snapshot
	b.mu.RUnlock()
	if snapshot == nil {
		return
	}

	projects, processing := snapshot()

	for _, ev := range []Event{
		{Type: EventInitialLoad, Payload: map[string]interface{}{"projects": projects}},
		{Type: EventProcessingStatus, Payload: map[string]interface{}{"processing": processing}},
	} {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if _, err := client.Writer.Write([]byte(fmt.Sprintf("data: %s\n\n", data))); err != nil {
			return
		}
		client.Flusher.Flush()
	}
}
