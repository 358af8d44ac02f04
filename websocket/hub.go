package websocket

import (
	"fetchrelay/types"
	"log"
	"sync"
)

// Hub interface defines the methods for managing realtime connections
type Hub interface {
	Run()
	Stop()
	Publish(userID string, event types.Event)
	RegisterClient(client *Client)
	UnregisterClient(client *Client)
	ClientCount(userID string) int
}

// envelope is an event addressed to one user
type envelope struct {
	userID string
	event  types.Event
}

// hub maintains the set of active clients and fans events out to them
type hub struct {
	// Registered clients mapped by user ID
	clients map[string]map[*Client]bool

	// Events waiting to be delivered, in publish order
	broadcast chan envelope

	register   chan *Client
	unregister chan *Client

	done     chan struct{}
	stopOnce sync.Once

	mu sync.RWMutex
}

// NewHub creates a new realtime hub
func NewHub() Hub {
	return &hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main event loop. It returns after Stop.
func (h *hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.userID] == nil {
				h.clients[client.userID] = make(map[*Client]bool)
			}
			h.clients[client.userID][client] = true
			h.mu.Unlock()
			log.Printf("WebSocket client connected for user %s", client.userID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			log.Printf("WebSocket client disconnected for user %s", client.userID)

		case msg := <-h.broadcast:
			h.mu.Lock()
			if clients, ok := h.clients[msg.userID]; ok {
				for client := range clients {
					select {
					case client.send <- msg.event:
					default:
						// stale or slow, prune it now
						h.remove(client)
					}
				}
			}
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for _, clients := range h.clients {
				for client := range clients {
					h.remove(client)
				}
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop shuts the event loop down and closes every client
func (h *hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Publish queues an event for every connection of userID
func (h *hub) Publish(userID string, event types.Event) {
	select {
	case h.broadcast <- envelope{userID: userID, event: event}:
	case <-h.done:
	default:
		log.Printf("WebSocket broadcast channel full, dropping %s event for user %s", event.Type, userID)
	}
}

// RegisterClient registers a new client with the hub
func (h *hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

// UnregisterClient unregisters a client from the hub
func (h *hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of live connections for userID
func (h *hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// remove drops client and closes its send channel. Caller holds mu.
func (h *hub) remove(client *Client) {
	clients, ok := h.clients[client.userID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.userID)
	}
}
