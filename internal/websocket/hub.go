// Package websocket relays one workflow execution's event stream to any
// number of subscribed front-end clients, scoped by execution ID so a
// dashboard can watch several runs at once without cross-talk.
package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gofiber/websocket/v2"

	"github.com/edgeflow/edgeflow/internal/executor"
)

// Client represents one subscribed WebSocket connection.
type Client struct {
	ID          string
	ExecutionID string
	Conn        *websocket.Conn
	Send        chan executor.Event
	Hub         *Hub
}

// Hub fans out executor.Event values to every client subscribed to the
// matching execution ID.
type Hub struct {
	clients    map[string]*Client
	byExecID   map[string]map[string]bool
	broadcast  chan executionEvent
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

type executionEvent struct {
	executionID string
	event       executor.Event
}

// NewHub creates an empty Hub. Call Run in its own goroutine before
// registering any client.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		byExecID:   make(map[string]map[string]bool),
		broadcast:  make(chan executionEvent, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub's main loop; it never returns.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case ee := <-h.broadcast:
			h.broadcastEvent(ee)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	if h.byExecID[client.ExecutionID] == nil {
		h.byExecID[client.ExecutionID] = map[string]bool{}
	}
	h.byExecID[client.ExecutionID][client.ID] = true
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		delete(h.byExecID[client.ExecutionID], client.ID)
		close(client.Send)
	}
}

func (h *Hub) broadcastEvent(ee executionEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id := range h.byExecID[ee.executionID] {
		client := h.clients[id]
		select {
		case client.Send <- ee.event:
		default:
		}
	}
}

// Broadcast relays one executor.Event to every client subscribed to
// executionID.
func (h *Hub) Broadcast(executionID string, e executor.Event) {
	h.broadcast <- executionEvent{executionID: executionID, event: e}
}

// Pipe drains events off an execution's channel and broadcasts each one,
// returning once the channel closes. Intended to run in its own
// goroutine alongside executor.Execute.
func (h *Hub) Pipe(executionID string, events <-chan executor.Event) {
	for e := range events {
		h.Broadcast(executionID, e)
	}
}

// ClientCount returns the number of clients subscribed to executionID.
func (h *Hub) ClientCount(executionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byExecID[executionID])
}

// HandleWebSocket subscribes a new connection to executionID's event
// stream until the connection closes.
func (h *Hub) HandleWebSocket(c *websocket.Conn, executionID string) {
	client := &Client{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		Conn:        c,
		Send:        make(chan executor.Event, 256),
		Hub:         h,
	}

	h.register <- client

	go client.writePump()
	client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	for {
		messageType, _, err := c.Conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType == websocket.CloseMessage {
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.Send:
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
