package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocket timeout constants following Gorilla best practices
// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is same-host; cross-origin access goes through the
	// reverse proxy which strips the Origin header
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client represents a WebSocket dashboard connection.
type Client struct {
	server    *Server
	conn      *websocket.Conn
	sendMsg   chan interface{}
	id        string
	closeOnce sync.Once
}

// handleWebSocket upgrades the connection and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		server:  s,
		conn:    conn,
		sendMsg: make(chan interface{}, clientSendBuffer),
		id:      uuid.New().String(),
	}

	select {
	case s.register <- client:
	case <-s.ctx.Done():
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// trySend queues a message for the client without blocking. Returns false
// if the client's buffer is full and the message was dropped.
func (c *Client) trySend(msg interface{}) bool {
	select {
	case c.sendMsg <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

// readPump handles inbound messages until the connection drops.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.server.logger.Warnw("WebSocket read error",
					"error", err.Error(),
					"client_id", c.id)
			}
			break
		}

		var msg ControlMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			c.server.logger.Warnw("JSON unmarshal error",
				"error", err.Error(),
				"client_id", c.id)
			continue
		}

		c.routeMessage(&msg)
	}
}

// routeMessage dispatches inbound WebSocket messages.
func (c *Client) routeMessage(msg *ControlMessage) {
	switch msg.Type {
	case "job_control":
		c.handleJobControl(msg)
	case "ping":
		// Deadline refresh is handled by the pong handler
	default:
		c.server.logger.Debugw("Unknown message type",
			"type", msg.Type,
			"client_id", c.id)
	}
}

// handleJobControl applies a dashboard-initiated tracking action. Callbacks
// installed here broadcast to every connected client, not just the one that
// issued the action.
func (c *Client) handleJobControl(msg *ControlMessage) {
	s := c.server
	if msg.JobID == "" {
		s.logger.Warnw("Job control without job id", "action", msg.Action, "client_id", c.id)
		return
	}

	switch msg.Action {
	case "start":
		s.registry.Start(msg.JobID, msg.Context, s.JobCallbacks(msg.JobID))
	case "stop":
		s.registry.Stop(msg.JobID)
		s.broadcastJobList()
	case "pause":
		s.registry.Pause(msg.JobID)
		s.broadcastJobList()
	case "resume":
		if !s.registry.Resume(msg.JobID, s.JobCallbacks(msg.JobID)) {
			s.registry.Start(msg.JobID, msg.Context, s.JobCallbacks(msg.JobID))
		}
	default:
		s.logger.Debugw("Unknown job control action",
			"action", msg.Action,
			"client_id", c.id)
	}
}

// writePump writes queued messages and keepalive pings to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.server.ctx.Done():
			return
		case msg, ok := <-c.sendMsg:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.logger.Debugw("WebSocket write failed",
					"error", err.Error(),
					"client_id", c.id)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
