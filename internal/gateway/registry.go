package gateway

import "sync"

// Registry tracks live connections. Lookups are read-heavy: every
// notification fans out to a guild's observers, so maps are keyed by guild
// with an RWMutex around them.
type Registry struct {
	mu        sync.RWMutex
	all       map[string]*Connection            // connection id -> connection
	bridges   map[string]map[string]*Connection // guild id -> connection id -> connection
	observers map[string]map[string]*Connection // guild id -> connection id -> connection
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		all:       make(map[string]*Connection),
		bridges:   make(map[string]map[string]*Connection),
		observers: make(map[string]map[string]*Connection),
	}
}

// Register adds an identified connection to the guild maps
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsIdentified() {
		return ErrConnectionNotIdentified
	}

	guildID := conn.GuildID()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.all[conn.ID()] = conn

	target := r.observers
	if conn.Role() == RoleBridge {
		target = r.bridges
	}
	if target[guildID] == nil {
		target[guildID] = make(map[string]*Connection)
	}
	target[guildID][conn.ID()] = conn

	return nil
}

// Unregister removes a connection. Safe to call for connections that were
// never registered or were already removed.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.all[conn.ID()]; !exists {
		return
	}
	delete(r.all, conn.ID())

	guildID := conn.GuildID()
	for _, pool := range []map[string]map[string]*Connection{r.bridges, r.observers} {
		if guild, exists := pool[guildID]; exists {
			delete(guild, conn.ID())
			if len(guild) == 0 {
				delete(pool, guildID)
			}
		}
	}
}

// Observers returns the observer connections for a guild
func (r *Registry) Observers(guildID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.observers[guildID]))
	for _, conn := range r.observers[guildID] {
		conns = append(conns, conn)
	}
	return conns
}

// AllObservers returns observer connections across all guilds
func (r *Registry) AllObservers() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Connection
	for _, guild := range r.observers {
		for _, conn := range guild {
			conns = append(conns, conn)
		}
	}
	return conns
}

// Stats returns connection counts for the health endpoint
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bridgeCount := 0
	for _, guild := range r.bridges {
		bridgeCount += len(guild)
	}

	return map[string]int{
		"total_connections": len(r.all),
		"bridges":           bridgeCount,
		"observers":         len(r.all) - bridgeCount,
	}
}
