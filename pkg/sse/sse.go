package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// Event is one server-sent event. Group scopes delivery (a guild id); an
// empty Group reaches every client.
type Event struct {
	Type  string `json:"type"`
	Group string `json:"group,omitempty"`
	Data  any    `json:"data,omitempty"`
}

type Client struct {
	id    string
	group string // "" = all groups
	ch    chan string
	done  chan struct{}
}

// Hub fans events out to connected clients. Slow clients drop messages
// rather than block publishers.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	seq      atomic.Int64
	interval time.Duration
	retryMs  int
	buffer   int
}

func NewHub(interval time.Duration) *Hub {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Hub{clients: make(map[string]*Client), interval: interval, retryMs: 5000, buffer: 64}
}

func (h *Hub) AddClient(id, group string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := &Client{id: id, group: group, ch: make(chan string, h.buffer), done: make(chan struct{})}
	h.clients[id] = c
	return c
}

func (h *Hub) RemoveClient(id string) {
	h.mu.Lock()
	if c, ok := h.clients[id]; ok {
		close(c.done)
		delete(h.clients, id)
	}
	h.mu.Unlock()
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	for id, c := range h.clients {
		close(c.done)
		delete(h.clients, id)
	}
	h.mu.Unlock()
}

// Publish delivers ev to clients subscribed to ev.Group and to clients
// subscribed to everything.
func (h *Hub) Publish(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	msg := format(h.seq.Add(1), ev.Type, b)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.group != "" && ev.Group != "" && c.group != ev.Group {
			continue
		}
		select {
		case c.ch <- msg:
		default:
		}
	}
}

func format(id int64, typ string, data []byte) string {
	return fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", id, typ, data)
}

// Serve streams events to the request until the client goes away or the
// hub closes it. The "group" query parameter narrows the stream.
func (h *Hub) Serve(c *gin.Context, clientID string) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	fmt.Fprintf(c.Writer, "retry: %d\n\n", h.retryMs)
	flusher.Flush()

	client := h.AddClient(clientID, c.Query("group"))
	defer h.RemoveClient(clientID)

	ping := time.NewTicker(h.interval)
	defer ping.Stop()

	for {
		select {
		case <-client.done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			fmt.Fprintf(c.Writer, "event: ping\ndata: {}\n\n")
			flusher.Flush()
		case msg := <-client.ch:
			if _, err := c.Writer.Write([]byte(msg)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
