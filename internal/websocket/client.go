package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The HTTP API answers every origin, so the socket does too.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one connected player
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	// done is closed by the hub when it shuts down, stopped when writePump
	// has returned
	done    chan struct{}
	stopped chan struct{}
}

// ClientMessage is a frame received from a player
type ClientMessage struct {
	Type string `json:"type"`
}

// NewClient creates a new websocket client
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:    make(chan []byte, 64),
		logger:  logger.With("client_id", id),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(MessageTypeError, map[string]string{"error": "invalid message format"})
			continue
		}

		switch msg.Type {
		case MessageTypePing:
			c.reply(MessageTypePong, nil)
		default:
			c.logger.Debug("unknown message type", "type", msg.Type)
			c.reply(MessageTypeError, map[string]string{"error": "unknown message type"})
		}
	}
}

// writePump sends one frame per queued message and keeps the peer alive
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.stopped)
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.closeGoingAway()
			return
		}
	}
}

// closeGoingAway tells the peer the server is leaving. Closing the
// connection afterwards ends readPump, which may still be replying, so the
// send channel stays open.
func (c *Client) closeGoingAway() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (c *Client) reply(messageType string, data interface{}) {
	payload, err := json.Marshal(Message{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		c.logger.Error("failed to marshal reply", "error", err)
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// ServeWs upgrades the request and attaches the player to hub
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	if !hub.Register(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()

	client.logger.Debug("websocket connected")
}
