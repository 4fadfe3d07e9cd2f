package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection roles. A bridge pushes platform events inbound; an observer
// receives snapshot notifications outbound.
const (
	RoleBridge   = "bridge"
	RoleObserver = "observer"
)

// Connection wraps a WebSocket with a single-writer goroutine so
// concurrent notification fan-out never races on the socket.
type Connection struct {
	id           string
	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration
	guildID      string
	role         string
	identified   bool
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
	mu           sync.RWMutex
}

// NewConnection creates a connection wrapper and starts its write loop
func NewConnection(conn *websocket.Conn, cfg Config) *Connection {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.NewString(),
		conn:         conn,
		writeCh:      make(chan []byte, cfg.BufferSize),
		writeTimeout: cfg.WriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// writeLoop drains writeCh until the connection context is cancelled.
// The channel is never closed; WriteJSON may race with Close and a
// closed channel would turn that race into a send panic.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues a payload for delivery
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close shuts the connection down exactly once
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// SetIdentity records the connection's guild and role after validation
func (c *Connection) SetIdentity(guildID, role string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guildID = guildID
	c.role = role
	c.identified = true
}

// ID returns the connection's unique id
func (c *Connection) ID() string {
	return c.id
}

// IsIdentified reports whether SetIdentity has been called
func (c *Connection) IsIdentified() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identified
}

// GuildID returns the guild this connection serves
func (c *Connection) GuildID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.guildID
}

// Role returns the connection role
func (c *Connection) Role() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}
