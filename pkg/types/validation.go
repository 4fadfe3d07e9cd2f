package types

import (
	"regexp"
)

// Compiled once at package initialization; ids flow through every event.
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidID checks an opaque platform id (member, channel, message, guild).
func IsValidID(id string) bool {
	if len(id) < 1 || len(id) > 50 {
		return false
	}
	return idRegex.MatchString(id)
}

// Validate ensures a session record meets all structural requirements.
// Membership invariants (joined <= capacity, host not joined) are enforced
// by the state machine; this only guards record construction.
func (s *Session) Validate() error {
	if !IsValidID(s.HostID) {
		return ErrInvalidHost
	}
	if s.Capacity < 1 || s.Capacity > 16 {
		return ErrInvalidCapacity
	}
	if len(s.Mode) < 1 || len(s.Mode) > 100 {
		return ErrInvalidMode
	}
	if !IsValidID(s.GuildID) || !IsValidID(s.ChannelID) {
		return ErrInvalidID
	}
	return nil
}

// Validate ensures a resource record is structurally sound.
func (r *Resource) Validate() error {
	if !IsValidID(r.VoiceID) || !IsValidID(r.TextID) {
		return ErrInvalidID
	}
	if !IsValidID(r.OwnerID) {
		return ErrInvalidID
	}
	if r.UserLimit < 0 || r.UserLimit > 99 {
		return ErrInvalidLimit
	}
	return nil
}
