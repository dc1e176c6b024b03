package ws

import (
	"log/slog"
	"sync"

	"github.com/aviz85/purim/internal/song"
)

// FeedAll subscribes a client to every song's updates.
const FeedAll = "all"

// Hub fans song updates out to browser clients. Clients subscribe to a
// single task id, or to FeedAll for the recent-songs list.
type Hub interface {
	Run()
	Broadcast(u song.Update)
	RegisterClient(client *Client)
	UnregisterClient(client *Client)
}

type hub struct {
	// Registered clients mapped by task id (or FeedAll)
	clients map[string]map[*Client]bool

	broadcast  chan song.Update
	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub() Hub {
	return &hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan song.Update, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub's main event loop
func (h *hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.feed] == nil {
				h.clients[client.feed] = make(map[*Client]bool)
			}
			h.clients[client.feed][client] = true
			h.mu.Unlock()
			slog.Debug("websocket client connected", "feed", client.feed)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.feed]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.clients, client.feed)
					}
				}
			}
			h.mu.Unlock()
			slog.Debug("websocket client disconnected", "feed", client.feed)

		case update := <-h.broadcast:
			h.mu.Lock()
			h.deliver(update.TaskID, update)
			h.deliver(FeedAll, update)
			h.mu.Unlock()
		}
	}
}

// deliver pushes the update to one feed, dropping clients whose send
// buffer is full. Callers hold h.mu.
func (h *hub) deliver(feed string, update song.Update) {
	clients, ok := h.clients[feed]
	if !ok {
		return
	}
	for client := range clients {
		select {
		case client.send <- update:
		default:
			close(client.send)
			delete(clients, client)
		}
	}
	if len(clients) == 0 {
		delete(h.clients, feed)
	}
}

// Broadcast queues an update for fan-out. A full broadcast channel drops
// the message rather than blocking the caller.
func (h *hub) Broadcast(u song.Update) {
	select {
	case h.broadcast <- u:
	default:
		slog.Warn("websocket broadcast channel full, dropping update", "task_id", u.TaskID)
	}
}

// RegisterClient registers a new client with the hub
func (h *hub) RegisterClient(client *Client) {
	h.register <- client
}

// UnregisterClient unregisters a client from the hub
func (h *hub) UnregisterClient(client *Client) {
	h.unregister <- client
}
