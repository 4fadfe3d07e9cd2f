package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	dbconfig "partyfinder/pkg/database"
	"partyfinder/pkg/interfaces"
	"partyfinder/pkg/types"
)

func setupTestDB(t *testing.T) (*Manager, func()) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	config := &dbconfig.Config{
		DatabasePath:    dbPath,
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 30,
	}

	sqliteDB, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	schema := `
	CREATE TABLE sessions (
		id TEXT PRIMARY KEY,
		guild_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		host_id TEXT NOT NULL,
		capacity INTEGER NOT NULL,
		mode TEXT NOT NULL DEFAULT '',
		rank_range TEXT NOT NULL DEFAULT '',
		joined_members TEXT NOT NULL DEFAULT '[]',
		closed INTEGER NOT NULL DEFAULT 0,
		voice_id TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE resources (
		voice_id TEXT PRIMARY KEY,
		text_id TEXT NOT NULL,
		guild_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		access_code TEXT NOT NULL DEFAULT 'unset',
		locked INTEGER NOT NULL DEFAULT 0,
		panel_message_id TEXT,
		origin_channel_id TEXT NOT NULL,
		user_limit INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE guild_config (
		guild_id TEXT PRIMARY KEY,
		recruit_channel_id TEXT NOT NULL,
		dashboard_message_id TEXT
	);

	CREATE INDEX idx_sessions_closed ON sessions(closed);
	CREATE INDEX idx_sessions_guild ON sessions(guild_id);
	CREATE INDEX idx_sessions_voice ON sessions(voice_id);
	CREATE INDEX idx_resources_guild ON resources(guild_id);
	`

	if _, err = sqliteDB.Exec(schema); err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}
	_ = sqliteDB.Close()

	manager, err := NewManager(config)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	cleanup := func() {
		_ = manager.Close()
		_ = os.RemoveAll(tmpDir)
	}

	return manager, cleanup
}

func testSession(id string) *types.Session {
	return &types.Session{
		ID:        id,
		GuildID:   "guild-1",
		ChannelID: "channel-1",
		HostID:    "host-1",
		Capacity:  4,
		Mode:      "ranked",
		RankRange: "gold-plat",
		Joined:    []string{},
		CreatedAt: time.Now(),
	}
}

func testResource(voiceID string) *types.Resource {
	return &types.Resource{
		VoiceID:         voiceID,
		TextID:          voiceID + "-text",
		GuildID:         "guild-1",
		OwnerID:         "host-1",
		AccessCode:      types.DefaultAccessCode,
		OriginChannelID: "channel-1",
		UserLimit:       5,
	}
}

func TestManager_InterfaceCompliance(t *testing.T) {
	var _ interfaces.Store = &Manager{}
}

func TestManager_CreateAndGetSession(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	session := testSession("session-123")
	session.Joined = []string{"member-1", "member-2"}

	if err := manager.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession should succeed: %v", err)
	}

	retrieved, err := manager.GetSession(ctx, "session-123")
	if err != nil {
		t.Fatalf("GetSession should succeed after CreateSession: %v", err)
	}

	if retrieved.HostID != "host-1" {
		t.Errorf("Expected host 'host-1', got '%s'", retrieved.HostID)
	}
	if retrieved.Capacity != 4 {
		t.Errorf("Expected capacity 4, got %d", retrieved.Capacity)
	}
	if len(retrieved.Joined) != 2 {
		t.Errorf("Expected 2 joined members, got %d", len(retrieved.Joined))
	}
	if retrieved.VoiceID != "" {
		t.Errorf("Expected empty voice id, got '%s'", retrieved.VoiceID)
	}
}

func TestManager_GetSessionNotFound(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := manager.GetSession(context.Background(), "nonexistent-session")
	if err != interfaces.ErrSessionNotFound {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_UpdateSessionMembers(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	session := testSession("session-456")
	if err := manager.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession should succeed: %v", err)
	}

	// Fill transition: members and closed flag land in one write
	joined := []string{"m1", "m2", "m3", "m4"}
	if err := manager.UpdateSessionMembers(ctx, "session-456", joined, true); err != nil {
		t.Fatalf("UpdateSessionMembers should succeed: %v", err)
	}

	updated, err := manager.GetSession(ctx, "session-456")
	if err != nil {
		t.Fatalf("GetSession should succeed: %v", err)
	}
	if len(updated.Joined) != 4 {
		t.Errorf("Expected 4 joined members, got %d", len(updated.Joined))
	}
	if !updated.Closed {
		t.Error("Session should be closed after fill update")
	}
}

func TestManager_UpdateSessionMembersNotFound(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()

	err := manager.UpdateSessionMembers(context.Background(), "missing", []string{"m1"}, false)
	if err != interfaces.ErrSessionNotFound {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_CloseSession(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	session := testSession("session-close")
	session.Joined = []string{"m1"}
	if err := manager.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession should succeed: %v", err)
	}

	if err := manager.CloseSession(ctx, "session-close"); err != nil {
		t.Fatalf("CloseSession should succeed: %v", err)
	}

	closed, err := manager.GetSession(ctx, "session-close")
	if err != nil {
		t.Fatalf("GetSession should work for closed sessions: %v", err)
	}
	if !closed.Closed {
		t.Error("Session should be marked closed")
	}
	if len(closed.Joined) != 1 {
		t.Error("CloseSession should not touch membership")
	}
}

func TestManager_ListOpenSessions(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	open := testSession("open-session")
	if err := manager.CreateSession(ctx, open); err != nil {
		t.Fatalf("CreateSession should succeed: %v", err)
	}

	closedSession := testSession("closed-session")
	closedSession.Closed = true
	if err := manager.CreateSession(ctx, closedSession); err != nil {
		t.Fatalf("CreateSession should succeed: %v", err)
	}

	sessions, err := manager.ListOpenSessions(ctx)
	if err != nil {
		t.Fatalf("ListOpenSessions should succeed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 open session, got %d", len(sessions))
	}
	if sessions[0].ID != "open-session" {
		t.Errorf("Expected open session ID 'open-session', got '%s'", sessions[0].ID)
	}
}

func TestManager_ResourceLifecycle(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	resource := testResource("vc-1")

	if err := manager.CreateResourceRecord(ctx, resource); err != nil {
		t.Fatalf("CreateResourceRecord should succeed: %v", err)
	}

	retrieved, err := manager.GetResourceRecord(ctx, "vc-1")
	if err != nil {
		t.Fatalf("GetResourceRecord should succeed: %v", err)
	}
	if retrieved.TextID != "vc-1-text" {
		t.Errorf("Expected text id 'vc-1-text', got '%s'", retrieved.TextID)
	}
	if retrieved.AccessCode != types.DefaultAccessCode {
		t.Errorf("Expected default access code, got '%s'", retrieved.AccessCode)
	}
	if retrieved.PanelMessageID != "" {
		t.Errorf("Expected empty panel message id, got '%s'", retrieved.PanelMessageID)
	}

	retrieved.OwnerID = "new-owner"
	retrieved.AccessCode = "1234"
	retrieved.Locked = true
	retrieved.PanelMessageID = "panel-1"
	if err := manager.UpdateResourceRecord(ctx, retrieved); err != nil {
		t.Fatalf("UpdateResourceRecord should succeed: %v", err)
	}

	updated, err := manager.GetResourceRecord(ctx, "vc-1")
	if err != nil {
		t.Fatalf("GetResourceRecord should succeed: %v", err)
	}
	if updated.OwnerID != "new-owner" || updated.AccessCode != "1234" || !updated.Locked {
		t.Errorf("Update not persisted: %+v", updated)
	}
	if updated.PanelMessageID != "panel-1" {
		t.Errorf("Expected panel message id 'panel-1', got '%s'", updated.PanelMessageID)
	}

	if err := manager.DeleteResourceRecord(ctx, "vc-1"); err != nil {
		t.Fatalf("DeleteResourceRecord should succeed: %v", err)
	}
	if _, err := manager.GetResourceRecord(ctx, "vc-1"); err != interfaces.ErrResourceNotFound {
		t.Errorf("Expected ErrResourceNotFound after delete, got %v", err)
	}
}

func TestManager_DeleteResourceRecordIdempotent(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()

	if err := manager.DeleteResourceRecord(context.Background(), "never-existed"); err != nil {
		t.Errorf("Deleting a missing resource should be a no-op, got %v", err)
	}
}

func TestManager_UpdateResourceRecordNotFound(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()

	err := manager.UpdateResourceRecord(context.Background(), testResource("ghost"))
	if err != interfaces.ErrResourceNotFound {
		t.Errorf("Expected ErrResourceNotFound, got %v", err)
	}
}

func TestManager_ListResourceRecords(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := manager.CreateResourceRecord(ctx, testResource(fmt.Sprintf("vc-%d", i))); err != nil {
			t.Fatalf("CreateResourceRecord should succeed: %v", err)
		}
	}

	resources, err := manager.ListResourceRecords(ctx)
	if err != nil {
		t.Fatalf("ListResourceRecords should succeed: %v", err)
	}
	if len(resources) != 3 {
		t.Errorf("Expected 3 resources, got %d", len(resources))
	}
}

func TestManager_GuildConfigUpsert(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	if _, err := manager.GetGuildConfig(ctx, "guild-1"); err != interfaces.ErrGuildConfigNotFound {
		t.Errorf("Expected ErrGuildConfigNotFound, got %v", err)
	}

	config := &types.GuildConfig{
		GuildID:          "guild-1",
		RecruitChannelID: "recruit-channel",
	}
	if err := manager.UpsertGuildConfig(ctx, config); err != nil {
		t.Fatalf("UpsertGuildConfig should succeed: %v", err)
	}

	stored, err := manager.GetGuildConfig(ctx, "guild-1")
	if err != nil {
		t.Fatalf("GetGuildConfig should succeed: %v", err)
	}
	if stored.RecruitChannelID != "recruit-channel" {
		t.Errorf("Expected recruit channel 'recruit-channel', got '%s'", stored.RecruitChannelID)
	}
	if stored.DashboardMessageID != "" {
		t.Errorf("Expected empty dashboard message id, got '%s'", stored.DashboardMessageID)
	}

	// Second upsert replaces both fields
	config.RecruitChannelID = "other-channel"
	config.DashboardMessageID = "dash-1"
	if err := manager.UpsertGuildConfig(ctx, config); err != nil {
		t.Fatalf("UpsertGuildConfig should succeed: %v", err)
	}

	stored, err = manager.GetGuildConfig(ctx, "guild-1")
	if err != nil {
		t.Fatalf("GetGuildConfig should succeed: %v", err)
	}
	if stored.RecruitChannelID != "other-channel" || stored.DashboardMessageID != "dash-1" {
		t.Errorf("Upsert not applied: %+v", stored)
	}
}

func TestManager_DuplicateSessionRollsBack(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	session := testSession("dup-session")
	if err := manager.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession with valid data should succeed: %v", err)
	}

	duplicate := testSession("dup-session")
	duplicate.HostID = "host-2"
	if err := manager.CreateSession(ctx, duplicate); err == nil {
		t.Error("CreateSession with duplicate ID should fail")
	}

	sessions, err := manager.ListOpenSessions(ctx)
	if err != nil {
		t.Fatalf("ListOpenSessions should work: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("Expected 1 session after failed insert, got %d", len(sessions))
	}
	if len(sessions) > 0 && sessions[0].HostID != "host-1" {
		t.Errorf("Expected original host 'host-1', got '%s'", sessions[0].HostID)
	}
}

func TestManager_ConnectionFailure(t *testing.T) {
	// A regular file where a directory component should be fails for any
	// user, unlike an unwritable absolute path.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	config := &dbconfig.Config{
		DatabasePath:    filepath.Join(blocker, "database.db"),
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 30,
	}

	if _, err := NewManager(config); err == nil {
		t.Error("NewManager should fail with invalid database path")
	}
}

func TestManager_SingleWriterPattern(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	const numWrites = 10
	var wg sync.WaitGroup
	errors := make(chan error, numWrites)

	wg.Add(numWrites)
	for i := 0; i < numWrites; i++ {
		go func(id int) {
			defer wg.Done()
			if err := manager.CreateSession(ctx, testSession(fmt.Sprintf("concurrent-session-%d", id))); err != nil {
				errors <- err
			}
		}(i)
	}

	wg.Wait()
	close(errors)

	for err := range errors {
		t.Errorf("Concurrent write failed: %v", err)
	}

	sessions, err := manager.ListOpenSessions(ctx)
	if err != nil {
		t.Fatalf("ListOpenSessions should work: %v", err)
	}
	if len(sessions) != numWrites {
		t.Errorf("Expected %d sessions, got %d", numWrites, len(sessions))
	}
}

func TestManager_ConcurrentReadAccess(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := manager.CreateSession(ctx, testSession("concurrent-read-session")); err != nil {
		t.Fatalf("CreateSession should succeed: %v", err)
	}

	const numReads = 50
	var wg sync.WaitGroup
	errors := make(chan error, numReads)

	wg.Add(numReads)
	for i := 0; i < numReads; i++ {
		go func() {
			defer wg.Done()
			if _, err := manager.GetSession(ctx, "concurrent-read-session"); err != nil {
				errors <- err
			}
		}()
	}

	wg.Wait()
	close(errors)

	for err := range errors {
		t.Errorf("Concurrent read failed: %v", err)
	}
}

func TestManager_HealthCheck(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()

	if err := manager.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck should succeed for healthy database: %v", err)
	}
}

func TestManager_CleanShutdown(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer func() { _ = cleanup }()

	ctx := context.Background()
	session := testSession("shutdown-test-session")
	if err := manager.CreateSession(ctx, session); err != nil {
		t.Errorf("CreateSession should succeed: %v", err)
	}

	if err := manager.Close(); err != nil {
		t.Errorf("Close should succeed: %v", err)
	}

	if err := manager.CreateSession(ctx, session); !errors.Is(err, interfaces.ErrStoreUnavailable) {
		t.Errorf("Operations after Close() should report the store unavailable, got %v", err)
	}
}
