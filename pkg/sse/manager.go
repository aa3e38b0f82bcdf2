// Package sse streams change events to connected browsers over
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// Event is one SSE frame. Name becomes the "event:" field, Data is
// JSON-encoded into the "data:" field.
type Event struct {
	Name string
	Data interface{}
}

type client struct {
	accountID string
	ch        chan Event
}

// Manager keeps a registry of connected clients per account and fans
// events out to them. Slow clients are dropped rather than blocking the
// publisher.
type Manager struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}

	heartbeat time.Duration
}

// NewManager creates a Manager. Heartbeats keep proxies from closing
// idle connections.
func NewManager() *Manager {
	return &Manager{
		clients:   make(map[string]map[*client]struct{}),
		heartbeat: 25 * time.Second,
	}
}

func (m *Manager) register(accountID string) *client {
	c := &client{accountID: accountID, ch: make(chan Event, 16)}
	m.mu.Lock()
	if m.clients[accountID] == nil {
		m.clients[accountID] = make(map[*client]struct{})
	}
	m.clients[accountID][c] = struct{}{}
	count := len(m.clients[accountID])
	m.mu.Unlock()
	log.Printf("[SSE] Client connected for account %s (%d active)", accountID, count)
	return c
}

func (m *Manager) unregister(c *client) {
	m.mu.Lock()
	if set, ok := m.clients[c.accountID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(m.clients, c.accountID)
		}
	}
	m.mu.Unlock()
	log.Printf("[SSE] Client disconnected for account %s", c.accountID)
}

// SendToAccount delivers an event to every client of one account.
// Clients whose buffer is full miss the event; they catch up on the
// next list fetch.
func (m *Manager) SendToAccount(accountID, name string, data interface{}) {
	m.mu.RLock()
	set := m.clients[accountID]
	for c := range set {
		select {
		case c.ch <- Event{Name: name, Data: data}:
		default:
		}
	}
	m.mu.RUnlock()
}

// ClientCount reports connected clients for one account.
func (m *Manager) ClientCount(accountID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients[accountID])
}

// Stream serves one SSE connection for accountID until the request
// context is done. Callers must have authenticated the account already.
func (m *Manager) Stream(w http.ResponseWriter, r *http.Request, accountID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	c := m.register(accountID)
	defer m.unregister(c)

	fmt.Fprint(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case event := <-c.ch:
			payload, err := json.Marshal(event.Data)
			if err != nil {
				log.Printf("[SSE] Failed to encode %s event: %v", event.Name, err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Name, payload)
			flusher.Flush()
		}
	}
}
