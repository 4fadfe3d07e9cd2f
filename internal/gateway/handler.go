package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"partyfinder/pkg/interfaces"
	"partyfinder/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The bridge and observers connect from known hosts; origin
		// enforcement belongs to the deployment's proxy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades WebSocket connections and feeds bridge events into the
// coordinator's event sink.
type Handler struct {
	registry *Registry
	sink     interfaces.EventSink
	config   Config
}

// NewHandler creates a gateway handler
func NewHandler(registry *Registry, sink interfaces.EventSink, cfg Config) *Handler {
	return &Handler{
		registry: registry,
		sink:     sink,
		config:   cfg.withDefaults(),
	}
}

// HandleWebSocket validates the connect request, upgrades it, and starts
// the connection lifecycle.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	guildID := r.URL.Query().Get("guild_id")
	role := r.URL.Query().Get("role")

	if guildID == "" || role == "" {
		http.Error(w, "Missing required query parameters: guild_id, role", http.StatusBadRequest)
		return
	}
	if !types.IsValidID(guildID) {
		http.Error(w, "Invalid guild_id format", http.StatusBadRequest)
		return
	}
	if role != RoleBridge && role != RoleObserver {
		http.Error(w, "Invalid role: must be 'bridge' or 'observer'", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	gwConn := NewConnection(conn, h.config)
	gwConn.SetIdentity(guildID, role)

	if err := h.registry.Register(gwConn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = gwConn.Close()
		return
	}

	go h.handleConnection(gwConn)
}

// handleConnection runs the read pump with ping/pong heartbeat monitoring
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.Unregister(conn)
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(h.config.WriteTimeout)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if messageType != websocket.TextMessage {
			continue
		}
		if conn.Role() != RoleBridge {
			log.Printf("Ignoring message from observer %s", conn.ID())
			continue
		}

		h.dispatchEvent(conn, data)
	}
}

// dispatchEvent decodes a bridge event and routes it to the sink. Events
// for unknown entities are the sink's concern; malformed payloads are
// dropped here.
func (h *Handler) dispatchEvent(conn *Connection, data []byte) {
	var event types.GatewayEvent
	if err := json.Unmarshal(data, &event); err != nil {
		log.Printf("Malformed event from bridge %s: %v", conn.ID(), err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch event.Type {
	case types.EventTypeOccupancy:
		if err := h.sink.HandleOccupancy(ctx, event.VoiceID, event.Occupants); err != nil {
			log.Printf("Occupancy event failed voice=%s: %v", event.VoiceID, err)
		}
	case types.EventTypeChannelDeleted:
		if err := h.sink.HandleChannelDeleted(ctx, event.ChannelID); err != nil {
			log.Printf("Channel deleted event failed channel=%s: %v", event.ChannelID, err)
		}
	default:
		log.Printf("Unknown event type '%s' from bridge %s", event.Type, conn.ID())
	}
}
