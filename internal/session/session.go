// Package session implements the recruitment state machine. All transitions
// are pure functions over the session record; the coordinator serializes
// calls per session and handles persistence and side effects.
package session

import (
	"time"

	"partyfinder/pkg/types"
)

// New builds an open session. The id is the panel message id assigned by
// the platform, so it arrives from the caller rather than being generated.
func New(id, guildID, channelID, hostID string, capacity int, mode, rankRange string) (*types.Session, error) {
	s := &types.Session{
		ID:        id,
		GuildID:   guildID,
		ChannelID: channelID,
		HostID:    hostID,
		Capacity:  capacity,
		Mode:      mode,
		RankRange: rankRange,
		Joined:    []string{},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Join adds memberID to the joined set. The host is never a joined member;
// they hold a slot implicitly. Returns true when this join filled the
// session, which also closes it.
func Join(s *types.Session, memberID string) (bool, error) {
	if s.Closed {
		return false, ErrSessionClosed
	}
	if memberID == s.HostID {
		return false, ErrHostSelfJoin
	}
	if s.HasJoined(memberID) {
		return false, ErrAlreadyJoined
	}
	if s.Full() {
		return false, ErrSessionFull
	}

	s.Joined = append(s.Joined, memberID)
	if s.Full() {
		s.Closed = true
		return true, nil
	}
	return false, nil
}

// Leave removes memberID from the joined set. A filled session is closed,
// so leaving cannot reopen it.
func Leave(s *types.Session, memberID string) error {
	if s.Closed {
		return ErrSessionClosed
	}
	if !s.HasJoined(memberID) {
		return ErrNotJoined
	}

	for i, id := range s.Joined {
		if id == memberID {
			s.Joined = append(s.Joined[:i], s.Joined[i+1:]...)
			break
		}
	}
	return nil
}

// Close marks the session closed. Only the host may close their own
// session unless the caller has moderator privileges. Closing an already
// closed session is a no-op.
func Close(s *types.Session, actorID string, moderator bool) error {
	if s.Closed {
		return nil
	}
	if !moderator && actorID != s.HostID {
		return ErrNotHost
	}
	s.Closed = true
	return nil
}
