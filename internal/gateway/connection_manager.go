package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionManager tracks this instance's WebSocket connections and their
// channel subscriptions, and fans channel events out to them. Cross-instance
// fan-out happens on the broadcast bus; the manager only ever touches local
// connections.
type ConnectionManager struct {
	channels map[string]map[*Connection]bool
	mu       sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcastTask
	onMessage   func(conn *Connection, message []byte)
}

// Connection is one WebSocket client.
type Connection struct {
	ID       string
	UserID   string
	Username string

	conn    *websocket.Conn
	send    chan []byte
	manager *ConnectionManager

	ConnectedAt time.Time
}

// ConnectionConfig holds WebSocket tuning knobs.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastTask struct {
	channel string
	data    []byte
}

// DefaultConnectionConfig returns the default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development; restrict in production.
			return true
		},
	}
}

func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		channels: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastTask, 1000),
	}
}

// SetMessageHandler registers the callback for inbound client frames. Must
// be set before connections are accepted.
func (cm *ConnectionManager) SetMessageHandler(h func(conn *Connection, message []byte)) {
	cm.onMessage = h
}

// Run processes queued broadcasts until ctx is cancelled.
func (cm *ConnectionManager) Run(ctx context.Context) error {
	log.Info().Msg("connection manager started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return nil
		case task := <-cm.broadcastCh:
			cm.deliver(task)
		}
	}
}

// Upgrade turns an authenticated HTTP request into a managed WebSocket
// connection and starts its pumps.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request, userID, username string) (*Connection, error) {
	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	conn := &Connection{
		ID:          uuid.NewString(),
		UserID:      userID,
		Username:    username,
		conn:        ws,
		send:        make(chan []byte, 256),
		manager:     cm,
		ConnectedAt: time.Now(),
	}

	go conn.writePump()
	go conn.readPump()

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", userID).
		Msg("websocket connection established")
	return conn, nil
}

// Subscribe adds the connection to a channel.
func (cm *ConnectionManager) Subscribe(conn *Connection, channel string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.channels[channel] == nil {
		cm.channels[channel] = make(map[*Connection]bool)
	}
	cm.channels[channel][conn] = true
}

// Unsubscribe removes the connection from a channel.
func (cm *ConnectionManager) Unsubscribe(conn *Connection, channel string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.removeLocked(conn, channel)
}

func (cm *ConnectionManager) removeLocked(conn *Connection, channel string) {
	if conns, ok := cm.channels[channel]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(cm.channels, channel)
		}
	}
}

// dropConnection removes the connection from every channel and closes its
// send queue.
func (cm *ConnectionManager) dropConnection(conn *Connection) {
	cm.mu.Lock()
	for channel := range cm.channels {
		cm.removeLocked(conn, channel)
	}
	cm.mu.Unlock()

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Msg("connection unregistered")
}

// Broadcast queues raw event bytes for every local subscriber of a channel.
func (cm *ConnectionManager) Broadcast(channel string, data []byte) {
	select {
	case cm.broadcastCh <- broadcastTask{channel: channel, data: data}:
	default:
		log.Warn().Str("channel", channel).Msg("broadcast queue full, dropping event")
	}
}

func (cm *ConnectionManager) deliver(task broadcastTask) {
	cm.mu.RLock()
	conns := cm.channels[task.channel]
	targets := make([]*Connection, 0, len(conns))
	for conn := range conns {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		conn.enqueue(task.data)
	}
}

// Send delivers event bytes to a single connection (direct acks, history
// replies, error notices).
func (cm *ConnectionManager) Send(conn *Connection, data []byte) {
	conn.enqueue(data)
}

func (c *Connection) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		// Slow or dead client; close it rather than block the fan-out.
		log.Warn().
			Str("connection_id", c.ID).
			Str("user_id", c.UserID).
			Msg("send buffer full, closing connection")
		c.manager.dropConnection(c)
		c.conn.Close()
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write to websocket")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.manager.dropConnection(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected websocket close")
			}
			return
		}
		if c.manager.onMessage != nil {
			c.manager.onMessage(c, message)
		}
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}
