package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator verifies the database schema matches expectations
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// requiredTables maps each table to the columns it must contain
var requiredTables = map[string][]string{
	"sessions": {
		"id", "guild_id", "channel_id", "host_id", "capacity",
		"mode", "rank_range", "joined_members", "closed", "voice_id", "created_at",
	},
	"resources": {
		"voice_id", "text_id", "guild_id", "owner_id", "access_code",
		"locked", "panel_message_id", "origin_channel_id", "user_limit",
	},
	"guild_config": {
		"guild_id", "recruit_channel_id", "dashboard_message_id",
	},
}

var requiredIndexes = []string{
	"idx_sessions_closed",
	"idx_sessions_guild",
	"idx_sessions_voice",
	"idx_resources_guild",
}

// Validate checks that all required tables, columns, and indexes exist
func (v *SchemaValidator) Validate() error {
	for table, columns := range requiredTables {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
		if err := v.validateColumns(table, columns); err != nil {
			return err
		}
	}

	for _, index := range requiredIndexes {
		exists, err := v.indexExists(index)
		if err != nil {
			return fmt.Errorf("failed to check index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

func (v *SchemaValidator) tableExists(name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	return count > 0, err
}

func (v *SchemaValidator) indexExists(name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", name,
	).Scan(&count)
	return count > 0, err
}

func (v *SchemaValidator) validateColumns(table string, expected []string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("failed to read columns for %s: %w", table, err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return fmt.Errorf("failed to scan column info for %s: %w", table, err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, col := range expected {
		if !present[col] {
			return fmt.Errorf("table %s missing required column %s", table, col)
		}
	}
	return nil
}
