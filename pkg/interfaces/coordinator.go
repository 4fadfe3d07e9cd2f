package interfaces

import (
	"context"

	"partyfinder/pkg/types"
)

// OpenRequest carries the host's finalized recruitment configuration.
type OpenRequest struct {
	GuildID   string
	ChannelID string
	HostID    string
	Capacity  int
	Mode      string
	RankRange string
}

// Coordinator is the mutation surface exposed to the API layer. All state
// changes go through it; the presentation layer only ever receives
// snapshots back.
type Coordinator interface {
	// Recruitment lifecycle.
	OpenRecruitment(ctx context.Context, req OpenRequest) (types.SessionSnapshot, error)
	OpenAdditionalRecruitment(ctx context.Context, voiceID, hostID string, needed int) (types.SessionSnapshot, error)
	Join(ctx context.Context, sessionID, memberID string) (types.SessionSnapshot, error)
	Leave(ctx context.Context, sessionID, memberID string) (types.SessionSnapshot, error)
	Close(ctx context.Context, sessionID, actorID string, moderator bool) (types.SessionSnapshot, error)
	GetSession(ctx context.Context, sessionID string) (types.SessionSnapshot, error)
	ListOpenSessions(ctx context.Context) ([]types.SessionSnapshot, error)

	// Resource operations.
	GrantAccess(ctx context.Context, voiceID, memberID string) error
	ReassignOwner(ctx context.Context, voiceID, newOwnerID string) error
	ToggleLock(ctx context.Context, voiceID string) (bool, error)
	SetAccessCode(ctx context.Context, voiceID, code string) error
	SetUserLimit(ctx context.Context, voiceID string, limit int) error
	Disband(ctx context.Context, voiceID string) error
	GetResource(ctx context.Context, voiceID string) (types.ResourceSnapshot, error)

	// Guild administration.
	SetRecruitChannel(ctx context.Context, guildID, channelID string) error
	RepostDashboard(ctx context.Context, guildID string) error
}

// EventSink receives external platform events from the gateway.
type EventSink interface {
	// HandleOccupancy reports the full current occupant list of a managed
	// voice channel after a connect or disconnect.
	HandleOccupancy(ctx context.Context, voiceID string, occupants []string) error

	// HandleChannelDeleted reports an out-of-band channel deletion.
	HandleChannelDeleted(ctx context.Context, channelID string) error
}
