package interfaces

import "partyfinder/pkg/types"

// Notifier is the fire-and-forget notification sink. Implementations must
// never block the caller on delivery and must swallow their own failures;
// a lost notification never rolls back a core mutation.
type Notifier interface {
	SessionCreated(snapshot types.SessionSnapshot)
	MemberJoined(snapshot types.SessionSnapshot, memberID string)
	MemberLeft(snapshot types.SessionSnapshot, memberID string)

	// SessionFilled is a distinct signal emitted in addition to the
	// closing MemberJoined notification when a join reaches capacity.
	SessionFilled(snapshot types.SessionSnapshot)

	SessionClosed(snapshot types.SessionSnapshot, reason string)
	ResourceUpdated(snapshot types.ResourceSnapshot)
	ResourceDisbanded(voiceID, guildID string)
}
