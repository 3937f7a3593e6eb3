// Package live pushes wizard state to a device's open browser tabs over WebSocket.
package live

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ashureev/usba/internal/telemetry"
)

const sendBuffer = 8

// Client is one open tab. Messages are queued on send and written by the
// connection's writer goroutine.
type Client struct {
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient() *Client {
	return &Client{
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub tracks open tabs per device and fans out state updates.
type Hub struct {
	mu       sync.RWMutex
	active   map[string]map[string]*Client
	versions map[string]uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active:   make(map[string]map[string]*Client),
		versions: make(map[string]uint64),
	}
}

// Register adds a tab for a device, replacing any previous connection with
// the same tab ID.
func (h *Hub) Register(userID, tabID string) *Client {
	c := newClient()
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[userID]; !exists {
		h.active[userID] = make(map[string]*Client)
	}
	if existing, exists := h.active[userID][tabID]; exists {
		existing.close()
		telemetry.DecLiveConnections()
	}
	h.active[userID][tabID] = c
	telemetry.IncLiveConnections()
	slog.Info("Live connection registered", "user_id", userID, "tab_id", tabID)
	return c
}

// Unregister removes c if it is still the current connection for the tab.
func (h *Hub) Unregister(userID, tabID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.close()
	tabs, ok := h.active[userID]
	if !ok {
		return
	}
	if current, exists := tabs[tabID]; exists && current == c {
		delete(tabs, tabID)
		telemetry.DecLiveConnections()
		if len(tabs) == 0 {
			delete(h.active, userID)
			delete(h.versions, userID)
		}
		slog.Info("Live connection unregistered", "user_id", userID, "tab_id", tabID)
	}
}

// Connections returns the number of open tabs for a device.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[userID])
}

// Publish sends payload to every tab of userID. Versions at or below the
// last one sent are dropped, as are messages to tabs whose queue is full.
func (h *Hub) Publish(userID string, version uint64, payload any) {
	h.mu.Lock()
	tabs := h.active[userID]
	if len(tabs) == 0 || version <= h.versions[userID] {
		h.mu.Unlock()
		return
	}
	h.versions[userID] = version
	targets := make([]*Client, 0, len(tabs))
	for _, c := range tabs {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	data, err := json.Marshal(envelope{Type: "state", Data: payload})
	if err != nil {
		slog.Error("Failed to encode live update", "error", err, "user_id", userID)
		return
	}
	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			slog.Warn("Live client queue full, dropping update", "user_id", userID)
		}
	}
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}
