package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	dbconfig "partyfinder/pkg/database"
	"partyfinder/pkg/interfaces"
	"partyfinder/pkg/types"
)

// Manager implements the Store interface on SQLite. All writes funnel
// through a single goroutine; reads go straight to the pool.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

// writeOperation represents a queued database write
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer goroutine
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if dir := filepath.Dir(config.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Database write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				err = op.operation(m.db) // Retry once
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreUnavailable
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("shutting down: %w", interfaces.ErrStoreUnavailable)
	}
}

// CreateSession inserts a new session record
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(func(db *sql.DB) error {
		joinedJSON, err := json.Marshal(session.Joined)
		if err != nil {
			return fmt.Errorf("failed to marshal joined members: %w", err)
		}

		query := `
			INSERT INTO sessions (id, guild_id, channel_id, host_id, capacity, mode, rank_range, joined_members, closed, voice_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err = db.ExecContext(ctx, query,
			session.ID,
			session.GuildID,
			session.ChannelID,
			session.HostID,
			session.Capacity,
			session.Mode,
			session.RankRange,
			string(joinedJSON),
			session.Closed,
			nullableString(session.VoiceID),
			session.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// GetSession retrieves a session by id
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	query := `
		SELECT id, guild_id, channel_id, host_id, capacity, mode, rank_range, joined_members, closed, voice_id, created_at
		FROM sessions
		WHERE id = ?
	`
	row := m.db.QueryRowContext(ctx, query, sessionID)

	session, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

// UpdateSessionMembers replaces the joined set and closed flag atomically
func (m *Manager) UpdateSessionMembers(ctx context.Context, sessionID string, joined []string, closed bool) error {
	return m.executeWrite(func(db *sql.DB) error {
		joinedJSON, err := json.Marshal(joined)
		if err != nil {
			return fmt.Errorf("failed to marshal joined members: %w", err)
		}

		result, err := db.ExecContext(ctx,
			"UPDATE sessions SET joined_members = ?, closed = ? WHERE id = ?",
			string(joinedJSON), closed, sessionID,
		)
		if err != nil {
			return fmt.Errorf("failed to update session members: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check update result: %w", err)
		}
		if rows == 0 {
			return interfaces.ErrSessionNotFound
		}
		return nil
	})
}

// CloseSession marks a session closed without touching membership
func (m *Manager) CloseSession(ctx context.Context, sessionID string) error {
	return m.executeWrite(func(db *sql.DB) error {
		result, err := db.ExecContext(ctx,
			"UPDATE sessions SET closed = 1 WHERE id = ?", sessionID,
		)
		if err != nil {
			return fmt.Errorf("failed to close session: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check close result: %w", err)
		}
		if rows == 0 {
			return interfaces.ErrSessionNotFound
		}
		return nil
	})
}

// ListOpenSessions returns all sessions not yet closed, newest first
func (m *Manager) ListOpenSessions(ctx context.Context) ([]*types.Session, error) {
	query := `
		SELECT id, guild_id, channel_id, host_id, capacity, mode, rank_range, joined_members, closed, voice_id, created_at
		FROM sessions
		WHERE closed = 0
		ORDER BY created_at DESC
	`
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

// CreateResourceRecord inserts a new resource pair record
func (m *Manager) CreateResourceRecord(ctx context.Context, resource *types.Resource) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO resources (voice_id, text_id, guild_id, owner_id, access_code, locked, panel_message_id, origin_channel_id, user_limit)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			resource.VoiceID,
			resource.TextID,
			resource.GuildID,
			resource.OwnerID,
			resource.AccessCode,
			resource.Locked,
			nullableString(resource.PanelMessageID),
			resource.OriginChannelID,
			resource.UserLimit,
		)
		if err != nil {
			return fmt.Errorf("failed to insert resource: %w", err)
		}
		return nil
	})
}

// GetResourceRecord retrieves a resource pair by voice id
func (m *Manager) GetResourceRecord(ctx context.Context, voiceID string) (*types.Resource, error) {
	query := `
		SELECT voice_id, text_id, guild_id, owner_id, access_code, locked, panel_message_id, origin_channel_id, user_limit
		FROM resources
		WHERE voice_id = ?
	`
	row := m.db.QueryRowContext(ctx, query, voiceID)

	resource, err := scanResource(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrResourceNotFound
		}
		return nil, fmt.Errorf("failed to query resource: %w", err)
	}
	return resource, nil
}

// UpdateResourceRecord overwrites all mutable resource fields
func (m *Manager) UpdateResourceRecord(ctx context.Context, resource *types.Resource) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			UPDATE resources
			SET owner_id = ?, access_code = ?, locked = ?, panel_message_id = ?, user_limit = ?
			WHERE voice_id = ?
		`
		result, err := db.ExecContext(ctx, query,
			resource.OwnerID,
			resource.AccessCode,
			resource.Locked,
			nullableString(resource.PanelMessageID),
			resource.UserLimit,
			resource.VoiceID,
		)
		if err != nil {
			return fmt.Errorf("failed to update resource: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check update result: %w", err)
		}
		if rows == 0 {
			return interfaces.ErrResourceNotFound
		}
		return nil
	})
}

// DeleteResourceRecord removes a resource record. Deleting a record that
// does not exist is a success no-op so cleanup paths stay idempotent.
func (m *Manager) DeleteResourceRecord(ctx context.Context, voiceID string) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, "DELETE FROM resources WHERE voice_id = ?", voiceID)
		if err != nil {
			return fmt.Errorf("failed to delete resource: %w", err)
		}
		return nil
	})
}

// ListResourceRecords returns all resource pair records
func (m *Manager) ListResourceRecords(ctx context.Context) ([]*types.Resource, error) {
	query := `
		SELECT voice_id, text_id, guild_id, owner_id, access_code, locked, panel_message_id, origin_channel_id, user_limit
		FROM resources
	`
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query resources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var resources []*types.Resource
	for rows.Next() {
		resource, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource row: %w", err)
		}
		resources = append(resources, resource)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resource rows: %w", err)
	}
	return resources, nil
}

// GetGuildConfig retrieves per-guild settings
func (m *Manager) GetGuildConfig(ctx context.Context, guildID string) (*types.GuildConfig, error) {
	query := `
		SELECT guild_id, recruit_channel_id, dashboard_message_id
		FROM guild_config
		WHERE guild_id = ?
	`
	row := m.db.QueryRowContext(ctx, query, guildID)

	var config types.GuildConfig
	var dashboardID sql.NullString
	err := row.Scan(&config.GuildID, &config.RecruitChannelID, &dashboardID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrGuildConfigNotFound
		}
		return nil, fmt.Errorf("failed to query guild config: %w", err)
	}
	if dashboardID.Valid {
		config.DashboardMessageID = dashboardID.String
	}
	return &config, nil
}

// UpsertGuildConfig inserts or replaces per-guild settings
func (m *Manager) UpsertGuildConfig(ctx context.Context, config *types.GuildConfig) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO guild_config (guild_id, recruit_channel_id, dashboard_message_id)
			VALUES (?, ?, ?)
			ON CONFLICT(guild_id) DO UPDATE SET
				recruit_channel_id = excluded.recruit_channel_id,
				dashboard_message_id = excluded.dashboard_message_id
		`
		_, err := db.ExecContext(ctx, query,
			config.GuildID,
			config.RecruitChannelID,
			nullableString(config.DashboardMessageID),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert guild config: %w", err)
		}
		return nil
	})
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, "SELECT COUNT(*) FROM sessions LIMIT 1")
	if err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	_ = rows.Close()

	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil // Already closed
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*types.Session, error) {
	var session types.Session
	var joinedJSON string
	var voiceID sql.NullString

	err := row.Scan(
		&session.ID,
		&session.GuildID,
		&session.ChannelID,
		&session.HostID,
		&session.Capacity,
		&session.Mode,
		&session.RankRange,
		&joinedJSON,
		&session.Closed,
		&voiceID,
		&session.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(joinedJSON), &session.Joined); err != nil {
		return nil, fmt.Errorf("failed to unmarshal joined members: %w", err)
	}
	if session.Joined == nil {
		session.Joined = []string{}
	}
	if voiceID.Valid {
		session.VoiceID = voiceID.String
	}
	return &session, nil
}

func scanResource(row scanner) (*types.Resource, error) {
	var resource types.Resource
	var panelID sql.NullString

	err := row.Scan(
		&resource.VoiceID,
		&resource.TextID,
		&resource.GuildID,
		&resource.OwnerID,
		&resource.AccessCode,
		&resource.Locked,
		&panelID,
		&resource.OriginChannelID,
		&resource.UserLimit,
	)
	if err != nil {
		return nil, err
	}
	if panelID.Valid {
		resource.PanelMessageID = panelID.String
	}
	return &resource, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
