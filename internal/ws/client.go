package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aviz85/purim/internal/song"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The API is already CORS-open; mirror that here.
		return true
	},
}

// Client represents one browser connection subscribed to a feed.
type Client struct {
	hub  Hub
	conn *websocket.Conn
	send chan song.Update
	feed string
}

// NewClient creates a client for the given feed (a task id or FeedAll).
func NewClient(hub Hub, conn *websocket.Conn, feed string) *Client {
	if feed == "" {
		feed = FeedAll
	}
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan song.Update, 256),
		feed: feed,
	}
}

// StartPumps starts the read and write pumps for the client.
func (c *Client) StartPumps() {
	go c.writePump()
	go c.readPump()
}

// readPump drains the connection; clients never send anything we act
// on, but reading is what surfaces disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("websocket read error", "err", err)
			}
			break
		}
	}
}

// writePump forwards queued updates and keeps the connection alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case update, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(update); err != nil {
				slog.Debug("websocket write error", "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Upgrader returns the shared WebSocket upgrader.
func Upgrader() websocket.Upgrader {
	return upgrader
}
