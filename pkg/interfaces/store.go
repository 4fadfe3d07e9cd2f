package interfaces

import (
	"context"

	"partyfinder/pkg/types"
)

// SessionStore persists recruitment session records. Records are only ever
// written by the coordinator goroutine holding the session's logical lock;
// reads for presentation purposes may be concurrent and slightly stale.
type SessionStore interface {
	// CreateSession inserts a new session record.
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession retrieves a session by id. Returns ErrSessionNotFound
	// when no record exists.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// UpdateSessionMembers replaces the joined set and closed flag in one
	// write, so a fill transition is atomic with the join that caused it.
	UpdateSessionMembers(ctx context.Context, sessionID string, joined []string, closed bool) error

	// CloseSession marks a session closed without touching membership.
	CloseSession(ctx context.Context, sessionID string) error

	// ListOpenSessions returns all sessions with closed = false.
	ListOpenSessions(ctx context.Context) ([]*types.Session, error)
}

// ResourceStore persists voice/text resource pair records keyed by voice id.
type ResourceStore interface {
	CreateResourceRecord(ctx context.Context, resource *types.Resource) error

	// GetResourceRecord returns ErrResourceNotFound when no record exists.
	GetResourceRecord(ctx context.Context, voiceID string) (*types.Resource, error)

	UpdateResourceRecord(ctx context.Context, resource *types.Resource) error

	// DeleteResourceRecord is idempotent; deleting a missing record is a
	// success no-op.
	DeleteResourceRecord(ctx context.Context, voiceID string) error

	ListResourceRecords(ctx context.Context) ([]*types.Resource, error)
}

// GuildConfigStore persists per-guild administrative settings.
type GuildConfigStore interface {
	// GetGuildConfig returns ErrGuildConfigNotFound when the guild has
	// never been configured.
	GetGuildConfig(ctx context.Context, guildID string) (*types.GuildConfig, error)

	UpsertGuildConfig(ctx context.Context, config *types.GuildConfig) error
}

// Store is the full persistence surface consumed by the coordinator.
type Store interface {
	SessionStore
	ResourceStore
	GuildConfigStore

	// HealthCheck verifies connectivity and basic read access.
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and releases the connection.
	Close() error
}
