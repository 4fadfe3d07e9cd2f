// Package coordinator serializes all session and resource mutations. Every
// operation acquires the entity's key lock before touching the store or the
// platform, so concurrent requests on the same recruitment or voice room
// are linearized while unrelated entities proceed in parallel.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"partyfinder/internal/provisioner"
	"partyfinder/internal/session"
	"partyfinder/pkg/interfaces"
	"partyfinder/pkg/types"
)

const (
	sessionKeyPrefix = "session:"
	voiceKeyPrefix   = "voice:"

	// opTimeout bounds background work triggered by timers and sweeps,
	// which runs without a caller-supplied context.
	opTimeout = 30 * time.Second
)

// Coordinator implements interfaces.Coordinator and interfaces.EventSink
type Coordinator struct {
	store       interfaces.Store
	provisioner *provisioner.Provisioner
	platform    interfaces.Platform
	notifier    interfaces.Notifier

	locks  *keyLocks
	timers *timerSet

	gracePeriod time.Duration

	// voiceSessions maps a voice id to the ids of sessions recruiting for
	// it. A voice room can carry several recruitments over its lifetime;
	// each session links to at most one voice room.
	mu            sync.RWMutex
	voiceSessions map[string]map[string]bool
}

// New creates a coordinator. Call Recover before serving traffic so the
// link index and grace timers reflect persisted state.
func New(store interfaces.Store, prov *provisioner.Provisioner, platform interfaces.Platform, notifier interfaces.Notifier, gracePeriod time.Duration) *Coordinator {
	return &Coordinator{
		store:         store,
		provisioner:   prov,
		platform:      platform,
		notifier:      notifier,
		locks:         newKeyLocks(),
		timers:        newTimerSet(),
		gracePeriod:   gracePeriod,
		voiceSessions: make(map[string]map[string]bool),
	}
}

// Stop cancels all pending grace timers
func (c *Coordinator) Stop() {
	c.timers.StopAll()
}

// OpenRecruitment provisions a voice pair, posts the recruitment panel,
// and records the session keyed by the panel message id.
func (c *Coordinator) OpenRecruitment(ctx context.Context, req interfaces.OpenRequest) (types.SessionSnapshot, error) {
	if err := validateOpenRequest(req); err != nil {
		return types.SessionSnapshot{}, err
	}

	// Voice limit covers the host plus the recruited members.
	name := fmt.Sprintf("party-%s", req.HostID)
	resource, err := c.provisioner.Provision(ctx, req.GuildID, req.HostID, name, req.Capacity+1, req.ChannelID)
	if err != nil {
		return types.SessionSnapshot{}, err
	}

	snapshot, err := c.postAndRecordSession(ctx, req, req.ChannelID, resource.VoiceID)
	if err != nil {
		if cleanupErr := c.provisioner.Disband(ctx, resource.VoiceID); cleanupErr != nil {
			log.Printf("Cleanup after failed recruitment open failed voice=%s: %v", resource.VoiceID, cleanupErr)
		}
		return types.SessionSnapshot{}, err
	}

	c.repostDashboardIfConfigured(ctx, req.GuildID)
	return snapshot, nil
}

// OpenAdditionalRecruitment opens a new recruitment for an existing voice
// room, posted to the channel the room was originally recruited from.
func (c *Coordinator) OpenAdditionalRecruitment(ctx context.Context, voiceID, hostID string, needed int) (types.SessionSnapshot, error) {
	release := c.locks.Acquire(voiceKeyPrefix + voiceID)
	defer release()

	resource, err := c.store.GetResourceRecord(ctx, voiceID)
	if err != nil {
		return types.SessionSnapshot{}, err
	}

	req := interfaces.OpenRequest{
		GuildID:   resource.GuildID,
		ChannelID: resource.OriginChannelID,
		HostID:    hostID,
		Capacity:  needed,
		Mode:      "additional",
	}
	if err := validateOpenRequest(req); err != nil {
		return types.SessionSnapshot{}, err
	}

	return c.postAndRecordSession(ctx, req, resource.OriginChannelID, voiceID)
}

// postAndRecordSession posts the panel message, creates the session record
// under the returned message id, and links it to the voice room.
func (c *Coordinator) postAndRecordSession(ctx context.Context, req interfaces.OpenRequest, channelID, voiceID string) (types.SessionSnapshot, error) {
	pending := types.SessionSnapshot{
		GuildID:   req.GuildID,
		ChannelID: channelID,
		HostID:    req.HostID,
		Capacity:  req.Capacity,
		Mode:      req.Mode,
		RankRange: req.RankRange,
		VoiceID:   voiceID,
	}
	messageID, err := c.platform.PostRecruitmentPanel(ctx, channelID, pending)
	if err != nil {
		return types.SessionSnapshot{}, fmt.Errorf("failed to post recruitment panel: %w", err)
	}

	s, err := session.New(messageID, req.GuildID, channelID, req.HostID, req.Capacity, req.Mode, req.RankRange)
	if err != nil {
		c.deleteMessageBestEffort(ctx, channelID, messageID)
		return types.SessionSnapshot{}, err
	}
	s.VoiceID = voiceID

	if err := c.store.CreateSession(ctx, s); err != nil {
		c.deleteMessageBestEffort(ctx, channelID, messageID)
		return types.SessionSnapshot{}, fmt.Errorf("failed to record session: %w", err)
	}

	c.link(voiceID, s.ID)

	snapshot := s.Snapshot()
	c.notifier.SessionCreated(snapshot)
	return snapshot, nil
}

// Join adds a member to a recruitment. When the session is linked to a
// voice room, the access grant lands before the membership is persisted so
// a recorded member is never left without access.
func (c *Coordinator) Join(ctx context.Context, sessionID, memberID string) (types.SessionSnapshot, error) {
	release := c.locks.Acquire(sessionKeyPrefix + sessionID)
	defer release()

	s, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return types.SessionSnapshot{}, err
	}

	filled, err := session.Join(s, memberID)
	if err != nil {
		return types.SessionSnapshot{}, err
	}

	if s.VoiceID != "" {
		if err := c.provisioner.GrantAccess(ctx, s.VoiceID, memberID); err != nil {
			log.Printf("Access grant failed session=%s voice=%s member=%s: %v", sessionID, s.VoiceID, memberID, err)
			return types.SessionSnapshot{}, err
		}
	}

	if err := c.store.UpdateSessionMembers(ctx, sessionID, s.Joined, s.Closed); err != nil {
		return types.SessionSnapshot{}, err
	}

	snapshot := s.Snapshot()
	c.notifier.MemberJoined(snapshot, memberID)
	if filled {
		c.notifier.SessionFilled(snapshot)
	}
	return snapshot, nil
}

// Leave removes a member from an open recruitment. Access grants stay in
// place; a voluntary departure does not eject the member from the room.
func (c *Coordinator) Leave(ctx context.Context, sessionID, memberID string) (types.SessionSnapshot, error) {
	release := c.locks.Acquire(sessionKeyPrefix + sessionID)
	defer release()

	s, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return types.SessionSnapshot{}, err
	}

	if err := session.Leave(s, memberID); err != nil {
		return types.SessionSnapshot{}, err
	}

	if err := c.store.UpdateSessionMembers(ctx, sessionID, s.Joined, s.Closed); err != nil {
		return types.SessionSnapshot{}, err
	}

	snapshot := s.Snapshot()
	c.notifier.MemberLeft(snapshot, memberID)
	return snapshot, nil
}

// Close ends a recruitment. Closing also disbands the linked voice room,
// which force-closes any other recruitments still attached to it.
func (c *Coordinator) Close(ctx context.Context, sessionID, actorID string, moderator bool) (types.SessionSnapshot, error) {
	// The voice lock is always taken before session locks, so the linked
	// voice id has to be learned before locking. A link never changes
	// once set, making the unlocked read safe.
	peek, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return types.SessionSnapshot{}, err
	}

	if peek.VoiceID != "" {
		releaseVoice := c.locks.Acquire(voiceKeyPrefix + peek.VoiceID)
		defer releaseVoice()
	}
	release := c.locks.Acquire(sessionKeyPrefix + sessionID)
	defer release()

	s, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return types.SessionSnapshot{}, err
	}
	if s.Closed {
		return s.Snapshot(), nil
	}

	if err := session.Close(s, actorID, moderator); err != nil {
		return types.SessionSnapshot{}, err
	}
	if err := c.store.CloseSession(ctx, sessionID); err != nil {
		return types.SessionSnapshot{}, err
	}

	snapshot := s.Snapshot()
	reason := types.CloseReasonHost
	if moderator && actorID != s.HostID {
		reason = types.CloseReasonModerator
	}
	c.notifier.SessionClosed(snapshot, reason)

	if s.VoiceID != "" {
		c.disbandLocked(ctx, s.VoiceID, false, reason, sessionID)
	}
	return snapshot, nil
}

// GetSession returns a point-in-time view of a recruitment
func (c *Coordinator) GetSession(ctx context.Context, sessionID string) (types.SessionSnapshot, error) {
	s, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return types.SessionSnapshot{}, err
	}
	return s.Snapshot(), nil
}

// ListOpenSessions returns snapshots of every open recruitment
func (c *Coordinator) ListOpenSessions(ctx context.Context) ([]types.SessionSnapshot, error) {
	sessions, err := c.store.ListOpenSessions(ctx)
	if err != nil {
		return nil, err
	}
	snapshots := make([]types.SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		snapshots = append(snapshots, s.Snapshot())
	}
	return snapshots, nil
}

// GrantAccess lets a member into a voice room outside the join flow
func (c *Coordinator) GrantAccess(ctx context.Context, voiceID, memberID string) error {
	release := c.locks.Acquire(voiceKeyPrefix + voiceID)
	defer release()

	if err := c.provisioner.GrantAccess(ctx, voiceID, memberID); err != nil {
		return err
	}
	c.notifyResourceUpdated(ctx, voiceID)
	return nil
}

// ReassignOwner hands the room to a member currently connected to it
func (c *Coordinator) ReassignOwner(ctx context.Context, voiceID, newOwnerID string) error {
	release := c.locks.Acquire(voiceKeyPrefix + voiceID)
	defer release()

	resource, err := c.provisioner.ReassignOwner(ctx, voiceID, newOwnerID)
	if err != nil {
		return err
	}
	c.notifyResource(ctx, resource)
	return nil
}

// ToggleLock flips default access on the voice room, returning the new state
func (c *Coordinator) ToggleLock(ctx context.Context, voiceID string) (bool, error) {
	release := c.locks.Acquire(voiceKeyPrefix + voiceID)
	defer release()

	locked, err := c.provisioner.ToggleLock(ctx, voiceID)
	if err != nil {
		return locked, err
	}
	c.notifyResourceUpdated(ctx, voiceID)
	return locked, nil
}

// SetAccessCode updates the party code shown on the control panel
func (c *Coordinator) SetAccessCode(ctx context.Context, voiceID, code string) error {
	release := c.locks.Acquire(voiceKeyPrefix + voiceID)
	defer release()

	resource, err := c.provisioner.SetAccessCode(ctx, voiceID, code)
	if err != nil {
		return err
	}
	c.notifyResource(ctx, resource)
	return nil
}

// SetUserLimit changes the voice room's connect cap
func (c *Coordinator) SetUserLimit(ctx context.Context, voiceID string, limit int) error {
	release := c.locks.Acquire(voiceKeyPrefix + voiceID)
	defer release()

	resource, err := c.provisioner.SetUserLimit(ctx, voiceID, limit)
	if err != nil {
		return err
	}
	c.notifyResource(ctx, resource)
	return nil
}

// Disband tears down a voice room on demand and force-closes any open
// recruitments linked to it
func (c *Coordinator) Disband(ctx context.Context, voiceID string) error {
	release := c.locks.Acquire(voiceKeyPrefix + voiceID)
	defer release()

	return c.disbandLocked(ctx, voiceID, false, types.CloseReasonHost, "")
}

// GetResource returns the room state with live occupancy
func (c *Coordinator) GetResource(ctx context.Context, voiceID string) (types.ResourceSnapshot, error) {
	resource, err := c.store.GetResourceRecord(ctx, voiceID)
	if err != nil {
		return types.ResourceSnapshot{}, err
	}
	occupants, err := c.platform.ListOccupants(ctx, voiceID)
	if err != nil && !errors.Is(err, interfaces.ErrChannelNotFound) {
		return types.ResourceSnapshot{}, err
	}
	return resource.Snapshot(occupants), nil
}

// SetRecruitChannel designates the channel where dashboards are posted.
// Changing it discards the previous dashboard message id.
func (c *Coordinator) SetRecruitChannel(ctx context.Context, guildID, channelID string) error {
	if !types.IsValidID(guildID) || !types.IsValidID(channelID) {
		return types.ErrInvalidID
	}
	return c.store.UpsertGuildConfig(ctx, &types.GuildConfig{
		GuildID:          guildID,
		RecruitChannelID: channelID,
	})
}

// RepostDashboard deletes the previous dashboard message and posts a fresh
// one at the bottom of the recruit channel, recording the new message id.
func (c *Coordinator) RepostDashboard(ctx context.Context, guildID string) error {
	config, err := c.store.GetGuildConfig(ctx, guildID)
	if err != nil {
		return err
	}

	if config.DashboardMessageID != "" {
		if err := c.platform.DeleteMessage(ctx, config.RecruitChannelID, config.DashboardMessageID); err != nil && !errors.Is(err, interfaces.ErrMessageNotFound) {
			log.Printf("Dashboard delete failed guild=%s message=%s: %v", guildID, config.DashboardMessageID, err)
		}
	}

	messageID, err := c.platform.PostDashboard(ctx, config.RecruitChannelID)
	if err != nil {
		return fmt.Errorf("failed to post dashboard: %w", err)
	}

	config.DashboardMessageID = messageID
	return c.store.UpsertGuildConfig(ctx, config)
}

// HandleOccupancy reacts to voice room connect/disconnect reports. An
// empty room arms the grace timer; any occupancy cancels it.
func (c *Coordinator) HandleOccupancy(ctx context.Context, voiceID string, occupants []string) error {
	release := c.locks.Acquire(voiceKeyPrefix + voiceID)
	defer release()

	if _, err := c.store.GetResourceRecord(ctx, voiceID); err != nil {
		if errors.Is(err, interfaces.ErrResourceNotFound) {
			log.Printf("Occupancy event for unmanaged voice=%s ignored", voiceID)
			return nil
		}
		return err
	}

	if len(occupants) == 0 {
		c.armGraceTimer(voiceID)
	} else {
		c.timers.Cancel(voiceID)
	}
	return nil
}

// HandleChannelDeleted reacts to an out-of-band channel deletion. Whether
// the voice room or its companion text channel was removed, the remaining
// half is torn down and linked recruitments are force-closed.
func (c *Coordinator) HandleChannelDeleted(ctx context.Context, channelID string) error {
	if _, err := c.store.GetResourceRecord(ctx, channelID); err == nil {
		release := c.locks.Acquire(voiceKeyPrefix + channelID)
		defer release()
		c.disbandLocked(ctx, channelID, true, types.CloseReasonResourceGone, "")
		return nil
	} else if !errors.Is(err, interfaces.ErrResourceNotFound) {
		return err
	}

	// Not a voice id; check whether a companion text channel was removed.
	resources, err := c.store.ListResourceRecords(ctx)
	if err != nil {
		return err
	}
	for _, resource := range resources {
		if resource.TextID == channelID {
			release := c.locks.Acquire(voiceKeyPrefix + resource.VoiceID)
			defer release()
			c.disbandLocked(ctx, resource.VoiceID, false, types.CloseReasonResourceGone, "")
			return nil
		}
	}

	log.Printf("Deletion event for unmanaged channel=%s ignored", channelID)
	return nil
}

// Reconcile sweeps all resource records and tears down those whose voice
// channel no longer exists on the platform.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	resources, err := c.store.ListResourceRecords(ctx)
	if err != nil {
		return err
	}

	for _, resource := range resources {
		func() {
			release := c.locks.Acquire(voiceKeyPrefix + resource.VoiceID)
			defer release()

			_, err := c.platform.ListOccupants(ctx, resource.VoiceID)
			if errors.Is(err, interfaces.ErrChannelNotFound) {
				log.Printf("Reconcile removing orphaned voice=%s", resource.VoiceID)
				c.disbandLocked(ctx, resource.VoiceID, true, types.CloseReasonResourceGone, "")
			} else if err != nil {
				log.Printf("Reconcile occupancy check failed voice=%s: %v", resource.VoiceID, err)
			}
		}()
	}
	return nil
}

// armGraceTimer schedules the empty-room teardown. Caller holds the voice
// lock.
func (c *Coordinator) armGraceTimer(voiceID string) {
	c.timers.Arm(voiceID, c.gracePeriod, func() {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		c.onGraceExpired(ctx, voiceID)
	})
}

// onGraceExpired runs when a room has been empty for the full grace
// period. Occupancy is re-checked against the platform so a reconnect that
// raced the timer wins.
func (c *Coordinator) onGraceExpired(ctx context.Context, voiceID string) {
	release := c.locks.Acquire(voiceKeyPrefix + voiceID)
	defer release()

	occupants, err := c.platform.ListOccupants(ctx, voiceID)
	if errors.Is(err, interfaces.ErrChannelNotFound) {
		c.disbandLocked(ctx, voiceID, true, types.CloseReasonResourceGone, "")
		return
	}
	if err != nil {
		log.Printf("Grace expiry occupancy check failed voice=%s: %v", voiceID, err)
		return
	}
	if len(occupants) > 0 {
		return
	}

	c.disbandLocked(ctx, voiceID, false, types.CloseReasonResourceExpired, "")
}

// disbandLocked tears down a voice pair and force-closes linked open
// recruitments. Caller holds the voice lock; excludeSessionID names a
// session whose lock the caller already holds (it is skipped, having
// been closed by the caller).
func (c *Coordinator) disbandLocked(ctx context.Context, voiceID string, skipVoiceDelete bool, reason, excludeSessionID string) error {
	c.timers.Cancel(voiceID)

	resource, err := c.store.GetResourceRecord(ctx, voiceID)
	if err != nil {
		if errors.Is(err, interfaces.ErrResourceNotFound) {
			c.unlinkAll(voiceID)
			return nil
		}
		return err
	}

	if skipVoiceDelete {
		err = c.provisioner.DisbandOrphaned(ctx, voiceID)
	} else {
		err = c.provisioner.Disband(ctx, voiceID)
	}
	if err != nil {
		log.Printf("Disband failed voice=%s: %v", voiceID, err)
		return err
	}

	for _, sessionID := range c.linkedSessions(voiceID) {
		if sessionID == excludeSessionID {
			continue
		}
		c.forceCloseSession(ctx, sessionID, reason)
	}
	c.unlinkAll(voiceID)

	c.notifier.ResourceDisbanded(voiceID, resource.GuildID)
	return nil
}

// forceCloseSession closes a recruitment on behalf of the system. Caller
// holds the voice lock; the session lock is taken here, honoring the
// voice-before-session ordering.
func (c *Coordinator) forceCloseSession(ctx context.Context, sessionID, reason string) {
	release := c.locks.Acquire(sessionKeyPrefix + sessionID)
	defer release()

	s, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, interfaces.ErrSessionNotFound) {
			log.Printf("Force close load failed session=%s: %v", sessionID, err)
		}
		return
	}
	if s.Closed {
		return
	}

	if err := c.store.CloseSession(ctx, sessionID); err != nil {
		log.Printf("Force close failed session=%s: %v", sessionID, err)
		return
	}
	s.Closed = true
	c.notifier.SessionClosed(s.Snapshot(), reason)
}

func (c *Coordinator) repostDashboardIfConfigured(ctx context.Context, guildID string) {
	err := c.RepostDashboard(ctx, guildID)
	if err != nil && !errors.Is(err, interfaces.ErrGuildConfigNotFound) {
		log.Printf("Dashboard repost failed guild=%s: %v", guildID, err)
	}
}

func (c *Coordinator) notifyResourceUpdated(ctx context.Context, voiceID string) {
	resource, err := c.store.GetResourceRecord(ctx, voiceID)
	if err != nil {
		return
	}
	c.notifyResource(ctx, resource)
}

func (c *Coordinator) notifyResource(ctx context.Context, resource *types.Resource) {
	occupants, err := c.platform.ListOccupants(ctx, resource.VoiceID)
	if err != nil {
		occupants = nil
	}
	c.notifier.ResourceUpdated(resource.Snapshot(occupants))
}

func (c *Coordinator) deleteMessageBestEffort(ctx context.Context, channelID, messageID string) {
	if err := c.platform.DeleteMessage(ctx, channelID, messageID); err != nil && !errors.Is(err, interfaces.ErrMessageNotFound) {
		log.Printf("Message cleanup failed channel=%s message=%s: %v", channelID, messageID, err)
	}
}

// link records that sessionID recruits for voiceID
func (c *Coordinator) link(voiceID, sessionID string) {
	if voiceID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.voiceSessions[voiceID] == nil {
		c.voiceSessions[voiceID] = make(map[string]bool)
	}
	c.voiceSessions[voiceID][sessionID] = true
}

func (c *Coordinator) linkedSessions(voiceID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.voiceSessions[voiceID]))
	for id := range c.voiceSessions[voiceID] {
		ids = append(ids, id)
	}
	return ids
}

func (c *Coordinator) unlinkAll(voiceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.voiceSessions, voiceID)
}

func validateOpenRequest(req interfaces.OpenRequest) error {
	if !types.IsValidID(req.GuildID) || !types.IsValidID(req.ChannelID) {
		return types.ErrInvalidID
	}
	if !types.IsValidID(req.HostID) {
		return types.ErrInvalidHost
	}
	if req.Capacity < 1 || req.Capacity > 16 {
		return types.ErrInvalidCapacity
	}
	if len(req.Mode) < 1 || len(req.Mode) > 100 {
		return types.ErrInvalidMode
	}
	return nil
}
