// file: internal/realtime/events.go
// version: 2.0.0
// guid: 9e8d7f6a-5c4b-3a21-0f9e-8d7c6b5a4392

// Package realtime fans queue events out to Server-Sent Events clients.
package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/jdfalk/paced-downloader/internal/logging"
	"github.com/jdfalk/paced-downloader/internal/models"
)

// EventType defines the type of real-time event
type EventType string

const (
	EventItemQueued   EventType = "item.queued"
	EventItemStatus   EventType = "item.status"
	EventItemProgress EventType = "item.progress"
	EventItemRemoved  EventType = "item.removed"
	EventQueueStats   EventType = "queue.stats"
)

// clientBuffer is the per-client backlog before events are dropped.
const clientBuffer = 100

// HeartbeatInterval keeps idle SSE connections open through proxies.
var HeartbeatInterval = 15 * time.Second

// Event is one message sent to clients. Events with an empty ID go to everyone.
type Event struct {
	Type      EventType      `json:"type"`
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Client is a connected SSE consumer.
type Client struct {
	ID      string
	Channel chan *Event
	items   map[string]bool
	mu      sync.RWMutex
}

// NewClient creates a client that receives every event until it subscribes.
func NewClient(id string) *Client {
	return &Client{
		ID:      id,
		Channel: make(chan *Event, clientBuffer),
		items:   make(map[string]bool),
	}
}

// Subscribe narrows delivery to the given item.
func (c *Client) Subscribe(itemID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[itemID] = true
}

// Unsubscribe drops an item subscription.
func (c *Client) Unsubscribe(itemID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, itemID)
}

// wants reports whether the event should reach this client.
func (c *Client) wants(e *Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return e.ID == "" || len(c.items) == 0 || c.items[e.ID]
}

// IsSubscribed checks if the client follows itemID explicitly.
func (c *Client) IsSubscribed(itemID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.items[itemID]
}

// EventHub manages SSE connections and event distribution. A nil hub
// accepts and discards every publish call.
type EventHub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	dropped atomic.Int64
	nextID  atomic.Int64
	logger  *log.Logger
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[string]*Client),
		logger:  logging.WithPrefix("realtime"),
	}
}

// RegisterClient adds a client.
func (h *EventHub) RegisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.logger.Debug("client registered", "client", client.ID, "clients", len(h.clients))
}

// UnregisterClient removes a client and closes its channel.
func (h *EventHub) UnregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		close(client.Channel)
		delete(h.clients, clientID)
		h.logger.Debug("client unregistered", "client", clientID, "clients", len(h.clients))
	}
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were discarded for slow clients.
func (h *EventHub) Dropped() int64 {
	return h.dropped.Load()
}

// Broadcast delivers event to every interested client without blocking.
func (h *EventHub) Broadcast(event *Event) {
	if h == nil || event == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if !client.wants(event) {
			continue
		}
		select {
		case client.Channel <- event:
		default:
			h.dropped.Add(1)
			h.logger.Warn("client channel full, dropping event", "client", client.ID, "type", event.Type)
		}
	}
}

func (h *EventHub) publish(t EventType, id string, data map[string]any) {
	if h == nil {
		return
	}
	h.Broadcast(&Event{Type: t, ID: id, Timestamp: time.Now().UTC(), Data: data})
}

// ItemQueued announces a newly tracked item.
func (h *EventHub) ItemQueued(it models.DownloadItem) {
	h.publish(EventItemQueued, it.ID, map[string]any{
		"title":   it.Title,
		"artist":  it.Artist,
		"album":   it.Album,
		"quality": it.Quality.String(),
		"status":  it.Status.String(),
	})
}

// ItemStatus announces a state transition.
func (h *EventHub) ItemStatus(it models.DownloadItem) {
	data := map[string]any{
		"status":      it.Status.String(),
		"retry_count": it.RetryCount,
		"progress":    it.Progress,
	}
	if it.LastErrorMessage != "" {
		data["error"] = it.LastErrorMessage
	}
	h.publish(EventItemStatus, it.ID, data)
}

// ItemProgress announces transferred bytes.
func (h *EventHub) ItemProgress(id string, downloaded, total int64) {
	h.publish(EventItemProgress, id, map[string]any{
		"bytes_downloaded": downloaded,
		"bytes_total":      total,
		"percentage":       percentage(downloaded, total),
	})
}

// ItemRemoved announces that an item is no longer tracked.
func (h *EventHub) ItemRemoved(id string) {
	h.publish(EventItemRemoved, id, nil)
}

// QueueStats announces aggregate queue counters.
func (h *EventHub) QueueStats(data map[string]any) {
	h.publish(EventQueueStats, "", data)
}

// HandleSSE streams events to one HTTP client until it disconnects.
// The optional "item" query parameter limits the stream to one item.
func (h *EventHub) HandleSSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache, no-transform")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	clientID := fmt.Sprintf("client-%d", h.nextID.Add(1))
	client := NewClient(clientID)
	if itemID := c.Query("item"); itemID != "" {
		client.Subscribe(itemID)
	}
	h.RegisterClient(client)
	defer h.UnregisterClient(clientID)

	if !writeSSE(c, &Event{
		Type:      "connection.established",
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"client_id": clientID},
	}) {
		return
	}

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, ok := <-client.Channel:
			if !ok || !writeSSE(c, event) {
				return
			}
		case <-ticker.C:
			if !writeSSE(c, &Event{Type: "heartbeat", Timestamp: time.Now().UTC()}) {
				return
			}
		}
	}
}

func writeSSE(c *gin.Context, event *Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		return true
	}
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
		return false
	}
	c.Writer.Flush()
	return true
}

func percentage(current, total int64) int {
	if total <= 0 {
		return 0
	}
	p := int(current * 100 / total)
	if p > 100 {
		return 100
	}
	return p
}
