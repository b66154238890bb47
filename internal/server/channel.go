package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsChannel adapts one websocket connection to the reload.Channel interface.
// Writes are serialized: the broadcaster fans out on goroutines and gorilla
// connections allow a single concurrent writer.
type wsChannel struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	return &wsChannel{conn: conn}
}

// Send delivers one notification payload within the timeout bound.
func (c *wsChannel) Send(payload string, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

// Close shuts the connection down.
func (c *wsChannel) Close() error {
	return c.conn.Close()
}
