package interfaces

import (
	"context"

	"partyfinder/pkg/types"
)

// Platform is the external chat/voice backend, reached through the bridge.
// All calls either succeed or fail synchronously; the coordinator never
// retries them. Rendering of panels and dashboards happens on the bridge
// side, so message-posting calls take snapshots, not formatted text.
type Platform interface {
	// CreateVoiceChannel creates a voice room that denies connect/view to
	// everyone by default and returns its id.
	CreateVoiceChannel(ctx context.Context, guildID, name string, userLimit int) (string, error)

	// CreateTextChannel creates a companion text room, same default deny.
	CreateTextChannel(ctx context.Context, guildID, name string) (string, error)

	// DeleteChannel removes a channel. Returns ErrChannelNotFound if the
	// channel is already gone.
	DeleteChannel(ctx context.Context, channelID string) error

	// GrantMemberAccess allows a member to connect to and view a channel.
	// Granting twice is a no-op.
	GrantMemberAccess(ctx context.Context, channelID, memberID string) error

	// SetDefaultJoin opens or closes the channel to members without an
	// explicit grant; used by the lock toggle.
	SetDefaultJoin(ctx context.Context, channelID string, allowed bool) error

	// SetUserLimit changes the connect cap on a voice channel (0 = none).
	SetUserLimit(ctx context.Context, voiceID string, limit int) error

	// ListOccupants returns the members currently connected to a voice
	// channel. Returns ErrChannelNotFound if the channel no longer exists.
	ListOccupants(ctx context.Context, voiceID string) ([]string, error)

	// PostRecruitmentPanel posts a recruitment panel message and returns
	// the new message id, which becomes the session id.
	PostRecruitmentPanel(ctx context.Context, channelID string, snapshot types.SessionSnapshot) (string, error)

	// PostControlPanel posts the resource control surface into the
	// companion text channel and returns the message id.
	PostControlPanel(ctx context.Context, channelID string, snapshot types.ResourceSnapshot) (string, error)

	// PostDashboard posts the "create a recruitment" dashboard message.
	PostDashboard(ctx context.Context, channelID string) (string, error)

	// DeleteMessage removes a message. Returns ErrMessageNotFound if the
	// message is already gone.
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}
