package gateway

import (
	"log"
	"time"

	"partyfinder/pkg/types"
)

// Notifier implements interfaces.Notifier by fanning snapshot events out
// to a guild's observer connections. Delivery is fire-and-forget: a slow
// or dead observer loses events, it never stalls a mutation.
type Notifier struct {
	registry *Registry
}

// NewNotifier creates a notifier over the gateway registry
func NewNotifier(registry *Registry) *Notifier {
	return &Notifier{registry: registry}
}

// envelope is the outbound notification wire format
type envelope struct {
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

func (n *Notifier) broadcast(guildID, event string, payload interface{}) {
	msg := envelope{
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	go func() {
		for _, conn := range n.registry.Observers(guildID) {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("Notification delivery failed event=%s conn=%s: %v", event, conn.ID(), err)
			}
		}
	}()
}

func (n *Notifier) SessionCreated(s types.SessionSnapshot) {
	n.broadcast(s.GuildID, "session-created", s)
}

func (n *Notifier) MemberJoined(s types.SessionSnapshot, memberID string) {
	n.broadcast(s.GuildID, "member-joined", map[string]interface{}{
		"session": s,
		"member":  memberID,
	})
}

func (n *Notifier) MemberLeft(s types.SessionSnapshot, memberID string) {
	n.broadcast(s.GuildID, "member-left", map[string]interface{}{
		"session": s,
		"member":  memberID,
	})
}

func (n *Notifier) SessionFilled(s types.SessionSnapshot) {
	n.broadcast(s.GuildID, "session-filled", s)
}

func (n *Notifier) SessionClosed(s types.SessionSnapshot, reason string) {
	n.broadcast(s.GuildID, "session-closed", map[string]interface{}{
		"session": s,
		"reason":  reason,
	})
}

func (n *Notifier) ResourceUpdated(r types.ResourceSnapshot) {
	n.broadcast(r.GuildID, "resource-updated", r)
}

func (n *Notifier) ResourceDisbanded(voiceID, guildID string) {
	n.broadcast(guildID, "resource-disbanded", map[string]string{
		"voice_id": voiceID,
	})
}
