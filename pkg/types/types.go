package types

import (
	"time"
)

// DefaultAccessCode is the sentinel stored before an owner sets a real code.
const DefaultAccessCode = "unset"

// Session close reasons reported to the notification sink.
const (
	CloseReasonFilled          = "filled"
	CloseReasonHost            = "closed_by_host"
	CloseReasonModerator       = "closed_by_moderator"
	CloseReasonResourceGone    = "resource_deleted"
	CloseReasonResourceExpired = "resource_expired"
)

// Session is a recruitment: a host looking for Capacity additional members.
// The ID is the id of the panel message that represents the recruitment, so
// interaction events map back to the session without a secondary index.
type Session struct {
	ID        string    `json:"id"`
	GuildID   string    `json:"guild_id"`
	ChannelID string    `json:"channel_id"`
	HostID    string    `json:"host_id"`
	Capacity  int       `json:"capacity"`
	Mode      string    `json:"mode"`
	RankRange string    `json:"rank_range"`
	Joined    []string  `json:"joined"`
	Closed    bool      `json:"closed"`
	VoiceID   string    `json:"voice_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HasJoined reports whether memberID is in the joined set.
func (s *Session) HasJoined(memberID string) bool {
	for _, id := range s.Joined {
		if id == memberID {
			return true
		}
	}
	return false
}

// Full reports whether the joined set has reached capacity.
func (s *Session) Full() bool {
	return len(s.Joined) >= s.Capacity
}

// Snapshot returns a read-only copy for the presentation layer. The joined
// slice is copied so the live session can keep mutating underneath.
func (s *Session) Snapshot() SessionSnapshot {
	joined := make([]string, len(s.Joined))
	copy(joined, s.Joined)
	return SessionSnapshot{
		ID:        s.ID,
		GuildID:   s.GuildID,
		ChannelID: s.ChannelID,
		HostID:    s.HostID,
		Capacity:  s.Capacity,
		Mode:      s.Mode,
		RankRange: s.RankRange,
		Joined:    joined,
		Closed:    s.Closed,
		VoiceID:   s.VoiceID,
	}
}

// SessionSnapshot is the immutable view of a session handed to the
// presentation layer and the notification sink.
type SessionSnapshot struct {
	ID        string   `json:"id"`
	GuildID   string   `json:"guild_id"`
	ChannelID string   `json:"channel_id"`
	HostID    string   `json:"host_id"`
	Capacity  int      `json:"capacity"`
	Mode      string   `json:"mode"`
	RankRange string   `json:"rank_range"`
	Joined    []string `json:"joined"`
	Closed    bool     `json:"closed"`
	VoiceID   string   `json:"voice_id,omitempty"`
}

// Resource is an active voice room paired with a companion text room. The
// voice id is the primary key; the text room lives and dies with it.
type Resource struct {
	VoiceID         string `json:"voice_id"`
	TextID          string `json:"text_id"`
	GuildID         string `json:"guild_id"`
	OwnerID         string `json:"owner_id"`
	AccessCode      string `json:"access_code"`
	Locked          bool   `json:"locked"`
	PanelMessageID  string `json:"panel_message_id,omitempty"`
	OriginChannelID string `json:"origin_channel_id"`
	UserLimit       int    `json:"user_limit"`
}

// Snapshot returns a read-only copy of the resource. Occupants come from a
// live membership query, not from the record, so the caller supplies them.
func (r *Resource) Snapshot(occupants []string) ResourceSnapshot {
	occ := make([]string, len(occupants))
	copy(occ, occupants)
	return ResourceSnapshot{
		VoiceID:         r.VoiceID,
		TextID:          r.TextID,
		GuildID:         r.GuildID,
		OwnerID:         r.OwnerID,
		AccessCode:      r.AccessCode,
		Locked:          r.Locked,
		PanelMessageID:  r.PanelMessageID,
		OriginChannelID: r.OriginChannelID,
		UserLimit:       r.UserLimit,
		Occupants:       occ,
	}
}

// ResourceSnapshot is the immutable view of a resource pair.
type ResourceSnapshot struct {
	VoiceID         string   `json:"voice_id"`
	TextID          string   `json:"text_id"`
	GuildID         string   `json:"guild_id"`
	OwnerID         string   `json:"owner_id"`
	AccessCode      string   `json:"access_code"`
	Locked          bool     `json:"locked"`
	PanelMessageID  string   `json:"panel_message_id,omitempty"`
	OriginChannelID string   `json:"origin_channel_id"`
	UserLimit       int      `json:"user_limit"`
	Occupants       []string `json:"occupants"`
}

// GuildConfig holds per-guild administrative settings: where recruitment
// dashboards are posted and the id of the last dashboard message so it can
// be replaced instead of stacking up.
type GuildConfig struct {
	GuildID            string `json:"guild_id"`
	RecruitChannelID   string `json:"recruit_channel_id"`
	DashboardMessageID string `json:"dashboard_message_id"`
}

// Gateway event types pushed by the platform bridge.
const (
	EventTypeOccupancy      = "occupancy"
	EventTypeChannelDeleted = "channel_deleted"
)

// GatewayEvent is the wire format for platform events arriving over the
// bridge WebSocket connection.
type GatewayEvent struct {
	Type      string    `json:"type"`
	GuildID   string    `json:"guild_id"`
	VoiceID   string    `json:"voice_id,omitempty"`
	ChannelID string    `json:"channel_id,omitempty"`
	Occupants []string  `json:"occupants,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
