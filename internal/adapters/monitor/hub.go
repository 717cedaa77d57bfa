// Package monitor streams hub events to websocket clients.
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/ports"
)

// Message is the envelope written to every websocket client.
type Message struct {
	Type string          `json:"type"`
	Data domain.HubEvent `json:"data"`
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Hub fans hub events out to every connected websocket. It is an EventSink, so
// the event pipeline drives it.
type Hub struct {
	mu           sync.RWMutex
	clients      map[*wsClient]struct{}
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// monitor is served on the local metrics listener
			CheckOrigin: func(*http.Request) bool { return true },
		},
		writeTimeout: 2 * time.Second,
	}
}

func (h *Hub) add(conn *websocket.Conn) *wsClient {
	c := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Clients returns the number of connected websockets.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and keeps reading until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := h.add(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(client)
			return
		}
	}
}

func (h *Hub) Name() string { return "websocket_monitor" }

// WriteBatch marshals each event once and writes it to every client. Clients that
// fail a write are dropped.
func (h *Hub) WriteBatch(events []domain.HubEvent) error {
	for _, ev := range events {
		b, err := json.Marshal(Message{Type: string(ev.Kind), Data: ev})
		if err != nil {
			return err
		}

		var dead []*wsClient
		h.mu.RLock()
		for c := range h.clients {
			c.mu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				dead = append(dead, c)
			}
			c.mu.Unlock()
		}
		h.mu.RUnlock()

		for _, c := range dead {
			h.remove(c)
		}
	}
	return nil
}

var _ ports.EventSink = (*Hub)(nil)
