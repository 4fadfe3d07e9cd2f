package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"partyfinder/pkg/types"
)

// mockSink records dispatched events
type mockSink struct {
	mu        sync.Mutex
	occupancy map[string][]string
	deleted   []string
}

func newMockSink() *mockSink {
	return &mockSink{occupancy: make(map[string][]string)}
}

func (m *mockSink) HandleOccupancy(ctx context.Context, voiceID string, occupants []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.occupancy[voiceID] = occupants
	return nil
}

func (m *mockSink) HandleChannelDeleted(ctx context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, channelID)
	return nil
}

func (m *mockSink) occupancyFor(voiceID string) ([]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	occ, ok := m.occupancy[voiceID]
	return occ, ok
}

func (m *mockSink) deletedChannels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

func newGatewayServer(t *testing.T) (*Registry, *mockSink, *httptest.Server) {
	t.Helper()
	return newGatewayServerWithConfig(t, DefaultConfig())
}

func newGatewayServerWithConfig(t *testing.T, cfg Config) (*Registry, *mockSink, *httptest.Server) {
	t.Helper()
	registry := NewRegistry()
	sink := newMockSink()
	handler := NewHandler(registry, sink, cfg)
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)
	return registry, sink, server
}

func dial(t *testing.T, server *httptest.Server, guildID, role string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?guild_id=" + guildID + "&role=" + role
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial should succeed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// waitFor polls cond until it returns true or the deadline passes
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestHandleWebSocket_RejectsBadRequests(t *testing.T) {
	_, _, server := newGatewayServer(t)

	cases := []struct {
		name  string
		query string
	}{
		{"missing params", ""},
		{"bad role", "?guild_id=guild-1&role=admin"},
		{"bad guild id", "?guild_id=bad%20id&role=bridge"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(server.URL + tc.query)
			if err != nil {
				t.Fatalf("Request should complete: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestBridge_OccupancyEventDispatched(t *testing.T) {
	_, sink, server := newGatewayServer(t)
	conn := dial(t, server, "guild-1", RoleBridge)

	event := types.GatewayEvent{
		Type:      types.EventTypeOccupancy,
		GuildID:   "guild-1",
		VoiceID:   "voice-1",
		Occupants: []string{"m1", "m2"},
		Timestamp: time.Now(),
	}
	if err := conn.WriteJSON(event); err != nil {
		t.Fatalf("WriteJSON should succeed: %v", err)
	}

	waitFor(t, func() bool {
		occ, ok := sink.occupancyFor("voice-1")
		return ok && len(occ) == 2
	}, "Occupancy event should reach the sink")
}

func TestBridge_ChannelDeletedDispatched(t *testing.T) {
	_, sink, server := newGatewayServer(t)
	conn := dial(t, server, "guild-1", RoleBridge)

	event := types.GatewayEvent{
		Type:      types.EventTypeChannelDeleted,
		GuildID:   "guild-1",
		ChannelID: "voice-9",
		Timestamp: time.Now(),
	}
	if err := conn.WriteJSON(event); err != nil {
		t.Fatalf("WriteJSON should succeed: %v", err)
	}

	waitFor(t, func() bool {
		deleted := sink.deletedChannels()
		return len(deleted) == 1 && deleted[0] == "voice-9"
	}, "Deletion event should reach the sink")
}

func TestBridge_MalformedEventIgnored(t *testing.T) {
	_, sink, server := newGatewayServer(t)
	conn := dial(t, server, "guild-1", RoleBridge)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("WriteMessage should succeed: %v", err)
	}

	event := types.GatewayEvent{Type: types.EventTypeOccupancy, VoiceID: "voice-1"}
	if err := conn.WriteJSON(event); err != nil {
		t.Fatalf("WriteJSON should succeed: %v", err)
	}

	// The valid event after the garbage still arrives
	waitFor(t, func() bool {
		_, ok := sink.occupancyFor("voice-1")
		return ok
	}, "Connection should survive a malformed event")
}

func TestObserver_ReceivesNotifications(t *testing.T) {
	registry, _, server := newGatewayServer(t)
	conn := dial(t, server, "guild-1", RoleObserver)

	waitFor(t, func() bool {
		return len(registry.Observers("guild-1")) == 1
	}, "Observer should be registered")

	notifier := NewNotifier(registry)
	notifier.SessionCreated(types.SessionSnapshot{ID: "session-1", GuildID: "guild-1"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg envelope
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Observer should receive the notification: %v", err)
	}
	if msg.Event != "session-created" {
		t.Errorf("Expected event 'session-created', got '%s'", msg.Event)
	}
}

func TestObserver_OtherGuildNotNotified(t *testing.T) {
	registry, _, server := newGatewayServer(t)
	other := dial(t, server, "guild-2", RoleObserver)

	waitFor(t, func() bool {
		return len(registry.Observers("guild-2")) == 1
	}, "Observer should be registered")

	notifier := NewNotifier(registry)
	notifier.SessionCreated(types.SessionSnapshot{ID: "session-1", GuildID: "guild-1"})

	_ = other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var msg json.RawMessage
	if err := other.ReadJSON(&msg); err == nil {
		t.Error("Observer of another guild should not receive the notification")
	}
}

func TestRegistry_UnregisterOnDisconnect(t *testing.T) {
	registry, _, server := newGatewayServer(t)
	conn := dial(t, server, "guild-1", RoleBridge)

	waitFor(t, func() bool {
		return registry.Stats()["bridges"] == 1
	}, "Bridge should be registered")

	_ = conn.Close()

	waitFor(t, func() bool {
		return registry.Stats()["total_connections"] == 0
	}, "Dropped connection should be unregistered")
}

func TestRegistry_NilAndUnidentified(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(nil); err != ErrNilConnection {
		t.Errorf("Expected ErrNilConnection, got %v", err)
	}

	conn := NewConnection(nil, DefaultConfig())
	defer func() { _ = conn.Close() }()
	if err := registry.Register(conn); err != ErrConnectionNotIdentified {
		t.Errorf("Expected ErrConnectionNotIdentified, got %v", err)
	}

	// Unregister of an unknown connection is a no-op
	registry.Unregister(conn)
}

func TestConfig_ZeroFieldsGetDefaults(t *testing.T) {
	conn := NewConnection(nil, Config{})
	defer func() { _ = conn.Close() }()
	if cap(conn.writeCh) != DefaultConfig().BufferSize {
		t.Errorf("Expected default buffer %d, got %d", DefaultConfig().BufferSize, cap(conn.writeCh))
	}

	sized := NewConnection(nil, Config{BufferSize: 3})
	defer func() { _ = sized.Close() }()
	if cap(sized.writeCh) != 3 {
		t.Errorf("Expected configured buffer 3, got %d", cap(sized.writeCh))
	}
}

func TestHandler_PingsAtConfiguredInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PingInterval = 50 * time.Millisecond
	_, _, server := newGatewayServerWithConfig(t, cfg)
	conn := dial(t, server, "guild-1", RoleObserver)

	var mu sync.Mutex
	pings := 0
	conn.SetPingHandler(func(string) error {
		mu.Lock()
		pings++
		mu.Unlock()
		return nil
	})

	// Control frames only surface while a read is in flight
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return pings >= 2
	}, "Server should ping on the configured interval")
}

func TestConnection_ConcurrentWritesDuringClose(t *testing.T) {
	_, _, server := newGatewayServer(t)
	conn := NewConnection(dial(t, server, "guild-1", RoleObserver), DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := conn.WriteJSON(map[string]string{"k": "v"}); err != nil {
					return
				}
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	_ = conn.Close()
	wg.Wait()

	if err := conn.WriteJSON(map[string]string{"k": "v"}); err != ErrConnectionClosed {
		t.Errorf("Expected ErrConnectionClosed after Close, got %v", err)
	}
}
