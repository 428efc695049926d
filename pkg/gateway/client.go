package gateway

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024

	sendBufferSize = 256
)

// client is one websocket connection attached to a workflow room.
type client struct {
	hub *Hub

	conn         *websocket.Conn
	connectionID string
	userID       string
	workflowID   string
	sessionID    string

	send chan ServerMessage
}

// readPump reads frames until the connection drops and hands them to the hub.
// It owns all reads on the connection.
func (c *client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage

		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		c.hub.handleInbound(c, msg)
	}
}

// writePump owns all writes on the connection, draining the send channel and
// keeping the connection alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})

				return
			}

			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue drops the frame when the client cannot keep up; a slow consumer
// must not stall the room.
func (c *client) enqueue(msg ServerMessage) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}
