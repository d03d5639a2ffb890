package api

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// ProtocolVersion1 is the only editor protocol spoken so far.
	ProtocolVersion1 = "zonesync-editor-v1"

	sendBufferSize = 256
)

// EditorConnection is one browser map attached over a websocket.
type EditorConnection struct {
	conn     *websocket.Conn
	userID   int64
	username string
	version  string
	hub      *EditorHub

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// WebSocketMessage is the envelope for every frame in both directions.
// Several messages written in one frame are separated by newlines.
type WebSocketMessage struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WebSocketError represents an error message sent over WebSocket
type WebSocketError struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func newEditorConnection(conn *websocket.Conn, hub *EditorHub, userID int64, username, version string) *EditorConnection {
	return &EditorConnection{
		conn:     conn,
		userID:   userID,
		username: username,
		version:  version,
		hub:      hub,
		send:     make(chan []byte, sendBufferSize),
	}
}

// enqueue queues a frame for the write pump. It reports false once the
// connection is closed or its buffer is full.
func (c *EditorConnection) enqueue(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// close stops the write pump. Safe to call more than once.
func (c *EditorConnection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *EditorConnection) sendMessage(msgType, id string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(WebSocketMessage{Type: msgType, ID: id, Data: raw})
	if err != nil {
		return err
	}
	if !c.enqueue(frame) {
		return errConnectionClosed
	}
	return nil
}

// sendError sends an error message to the client
func (c *EditorConnection) sendError(id, errorMsg, code string) {
	frame, err := json.Marshal(WebSocketError{
		Type:    "error",
		ID:      id,
		Error:   errorMsg,
		Message: errorMsg,
		Code:    code,
	})
	if err != nil {
		log.Printf("[Editor] Failed to marshal error message: %v", err)
		return
	}
	if !c.enqueue(frame) {
		log.Printf("[Editor] Failed to send error message to user %d: connection closed or full", c.userID)
	}
}

// EditorHub tracks every open editor connection.
type EditorHub struct {
	connections map[*EditorConnection]bool
	broadcast   chan []byte
	register    chan *EditorConnection
	unregister  chan *EditorConnection
	done        chan struct{}
	mu          sync.RWMutex
}

// NewEditorHub creates a new editor hub
func NewEditorHub() *EditorHub {
	return &EditorHub{
		connections: make(map[*EditorConnection]bool),
		broadcast:   make(chan []byte, sendBufferSize),
		register:    make(chan *EditorConnection),
		unregister:  make(chan *EditorConnection),
		done:        make(chan struct{}),
	}
}

// Run starts the hub's main loop. It returns when ctx is done.
func (h *EditorHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for conn := range h.connections {
				conn.close()
				delete(h.connections, conn)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn] = true
			h.mu.Unlock()
			log.Printf("[Editor] Connection registered: user_id=%d, version=%s", conn.userID, conn.version)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
			}
			h.mu.Unlock()
			conn.close()
			log.Printf("[Editor] Connection unregistered: user_id=%d", conn.userID)

		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.connections {
				if !conn.enqueue(message) {
					conn.close()
					delete(h.connections, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// add registers conn. It reports false once the hub has stopped.
func (h *EditorHub) add(conn *EditorConnection) bool {
	select {
	case h.register <- conn:
		return true
	case <-h.done:
		return false
	}
}

// remove unregisters conn and closes its send queue.
func (h *EditorHub) remove(conn *EditorConnection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
		conn.close()
	}
}

// Broadcast sends a message to every connected editor. It is dropped once
// the hub has stopped.
func (h *EditorHub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// BroadcastZoneEvent tells every editor that a stored zone changed so open
// zone lists can refresh.
func (h *EditorHub) BroadcastZoneEvent(event string, zoneID int64) {
	data, _ := json.Marshal(map[string]interface{}{"event": event, "zone_id": zoneID})
	frame, err := json.Marshal(WebSocketMessage{Type: "zone_event", Data: data})
	if err != nil {
		log.Printf("[Editor] Failed to marshal zone event: %v", err)
		return
	}
	h.Broadcast(frame)
}

// Count returns the number of registered connections.
func (h *EditorHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// negotiateVersion selects the highest supported protocol version
func negotiateVersion(requested string) string {
	if requested == "" {
		return ProtocolVersion1
	}

	supportedVersions := []string{ProtocolVersion1}
	for _, supported := range supportedVersions {
		for _, candidate := range strings.Split(requested, ",") {
			if strings.TrimSpace(candidate) == supported {
				return supported
			}
		}
	}
	return ""
}

// writePump handles outgoing messages to the WebSocket connection
func (c *EditorConnection) writePump(pingPeriod, writeWait time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil {
			log.Printf("[Editor] Failed to close connection: %v", err)
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Printf("[Editor] Failed to set write deadline: %v", err)
				return
			}
			if !ok {
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					log.Printf("[Editor] Failed to write close message: %v", err)
				}
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(message); err != nil {
				_ = w.Close()
				return
			}

			// Flush queued messages into the same frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				if _, err := w.Write([]byte{'\n'}); err != nil {
					_ = w.Close()
					return
				}
				if _, err := w.Write(<-c.send); err != nil {
					_ = w.Close()
					return
				}
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Printf("[Editor] Failed to set write deadline for ping: %v", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes client frames and passes them to handle until the
// connection fails or the client goes away.
func (c *EditorConnection) readPump(maxMessageSize int64, pongWait time.Duration, handle func(*WebSocketMessage)) {
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("[Editor] Failed to set read deadline: %v", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("[Editor] WebSocket error for user %d: %v", c.userID, err)
			}
			return
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			c.sendError("", "Invalid message format", "InvalidMessageFormat")
			continue
		}
		handle(&msg)
	}
}
