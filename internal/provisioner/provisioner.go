// Package provisioner manages paired voice/text resources on the platform.
// Each operation performs the external change first and persists the record
// only after the platform call succeeded, so the store never describes
// channels that were not actually created.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"log"

	"partyfinder/pkg/interfaces"
	"partyfinder/pkg/types"
)

// Provisioner creates, mutates, and tears down voice resource pairs
type Provisioner struct {
	store    interfaces.ResourceStore
	platform interfaces.Platform
}

// New creates a provisioner backed by the given store and platform
func New(store interfaces.ResourceStore, platform interfaces.Platform) *Provisioner {
	return &Provisioner{
		store:    store,
		platform: platform,
	}
}

// Provision creates a voice channel and its companion text channel, grants
// the owner access to both, posts the control panel, and records the pair.
// On partial failure every channel created so far is deleted before the
// error is returned.
func (p *Provisioner) Provision(ctx context.Context, guildID, ownerID, name string, userLimit int, originChannelID string) (*types.Resource, error) {
	voiceID, err := p.platform.CreateVoiceChannel(ctx, guildID, name, userLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: voice channel: %v", ErrProvisionFailed, err)
	}

	textID, err := p.platform.CreateTextChannel(ctx, guildID, name)
	if err != nil {
		p.cleanupChannels(ctx, voiceID)
		return nil, fmt.Errorf("%w: text channel: %v", ErrProvisionFailed, err)
	}

	if err := p.platform.GrantMemberAccess(ctx, voiceID, ownerID); err != nil {
		p.cleanupChannels(ctx, voiceID, textID)
		return nil, fmt.Errorf("%w: owner voice grant: %v", ErrProvisionFailed, err)
	}
	if err := p.platform.GrantMemberAccess(ctx, textID, ownerID); err != nil {
		p.cleanupChannels(ctx, voiceID, textID)
		return nil, fmt.Errorf("%w: owner text grant: %v", ErrProvisionFailed, err)
	}

	resource := &types.Resource{
		VoiceID:         voiceID,
		TextID:          textID,
		GuildID:         guildID,
		OwnerID:         ownerID,
		AccessCode:      types.DefaultAccessCode,
		Locked:          true,
		OriginChannelID: originChannelID,
		UserLimit:       userLimit,
	}

	panelID, err := p.platform.PostControlPanel(ctx, textID, resource.Snapshot(nil))
	if err != nil {
		// The rooms are usable without a control panel; keep them.
		log.Printf("Control panel post failed for voice=%s: %v", voiceID, err)
	} else {
		resource.PanelMessageID = panelID
	}

	if err := p.store.CreateResourceRecord(ctx, resource); err != nil {
		p.cleanupChannels(ctx, voiceID, textID)
		return nil, fmt.Errorf("failed to record resource pair: %w", err)
	}

	return resource, nil
}

// GrantAccess allows a member to connect to the voice channel and view the
// companion text channel. Granting an existing grant is a no-op on the
// platform side, so repeated calls are safe.
func (p *Provisioner) GrantAccess(ctx context.Context, voiceID, memberID string) error {
	resource, err := p.store.GetResourceRecord(ctx, voiceID)
	if err != nil {
		return err
	}

	if err := p.platform.GrantMemberAccess(ctx, resource.VoiceID, memberID); err != nil {
		return fmt.Errorf("failed to grant voice access: %w", err)
	}
	if err := p.platform.GrantMemberAccess(ctx, resource.TextID, memberID); err != nil {
		return fmt.Errorf("failed to grant text access: %w", err)
	}
	return nil
}

// ReassignOwner transfers ownership to a member currently connected to the
// voice channel. Ownership never transfers to someone outside the room.
func (p *Provisioner) ReassignOwner(ctx context.Context, voiceID, newOwnerID string) (*types.Resource, error) {
	resource, err := p.store.GetResourceRecord(ctx, voiceID)
	if err != nil {
		return nil, err
	}

	occupants, err := p.platform.ListOccupants(ctx, voiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list occupants: %w", err)
	}
	if !contains(occupants, newOwnerID) {
		return nil, ErrNotAMember
	}

	resource.OwnerID = newOwnerID
	if err := p.store.UpdateResourceRecord(ctx, resource); err != nil {
		return nil, err
	}
	return resource, nil
}

// SetAccessCode updates the party code shown on the control panel. An
// empty code resets to the default sentinel.
func (p *Provisioner) SetAccessCode(ctx context.Context, voiceID, code string) (*types.Resource, error) {
	resource, err := p.store.GetResourceRecord(ctx, voiceID)
	if err != nil {
		return nil, err
	}

	if code == "" {
		code = types.DefaultAccessCode
	}
	resource.AccessCode = code
	if err := p.store.UpdateResourceRecord(ctx, resource); err != nil {
		return nil, err
	}
	return resource, nil
}

// ToggleLock flips whether members without an explicit grant can connect.
// Returns the new locked state.
func (p *Provisioner) ToggleLock(ctx context.Context, voiceID string) (bool, error) {
	resource, err := p.store.GetResourceRecord(ctx, voiceID)
	if err != nil {
		return false, err
	}

	locked := !resource.Locked
	if err := p.platform.SetDefaultJoin(ctx, resource.VoiceID, !locked); err != nil {
		return resource.Locked, fmt.Errorf("failed to set default join: %w", err)
	}

	resource.Locked = locked
	if err := p.store.UpdateResourceRecord(ctx, resource); err != nil {
		return locked, err
	}
	return locked, nil
}

// SetUserLimit changes the connect cap on the voice channel
func (p *Provisioner) SetUserLimit(ctx context.Context, voiceID string, limit int) (*types.Resource, error) {
	if limit < 0 || limit > 99 {
		return nil, types.ErrInvalidLimit
	}

	resource, err := p.store.GetResourceRecord(ctx, voiceID)
	if err != nil {
		return nil, err
	}

	if err := p.platform.SetUserLimit(ctx, resource.VoiceID, limit); err != nil {
		return nil, fmt.Errorf("failed to set user limit: %w", err)
	}

	resource.UserLimit = limit
	if err := p.store.UpdateResourceRecord(ctx, resource); err != nil {
		return nil, err
	}
	return resource, nil
}

// SetPanelMessage records the control panel message id after a repost
func (p *Provisioner) SetPanelMessage(ctx context.Context, voiceID, messageID string) error {
	resource, err := p.store.GetResourceRecord(ctx, voiceID)
	if err != nil {
		return err
	}
	resource.PanelMessageID = messageID
	return p.store.UpdateResourceRecord(ctx, resource)
}

// Disband deletes both channels and the record. It is idempotent: a
// missing record, or channels already deleted out of band, are success
// no-ops so concurrent cleanup paths cannot fail each other.
func (p *Provisioner) Disband(ctx context.Context, voiceID string) error {
	resource, err := p.store.GetResourceRecord(ctx, voiceID)
	if err != nil {
		if errors.Is(err, interfaces.ErrResourceNotFound) {
			return nil
		}
		return err
	}
	return p.teardown(ctx, resource, true)
}

// DisbandOrphaned tears down a pair whose voice channel is already gone,
// skipping the voice delete call.
func (p *Provisioner) DisbandOrphaned(ctx context.Context, voiceID string) error {
	resource, err := p.store.GetResourceRecord(ctx, voiceID)
	if err != nil {
		if errors.Is(err, interfaces.ErrResourceNotFound) {
			return nil
		}
		return err
	}
	return p.teardown(ctx, resource, false)
}

func (p *Provisioner) teardown(ctx context.Context, resource *types.Resource, deleteVoice bool) error {
	if deleteVoice {
		if err := p.platform.DeleteChannel(ctx, resource.VoiceID); err != nil && !errors.Is(err, interfaces.ErrChannelNotFound) {
			return fmt.Errorf("failed to delete voice channel: %w", err)
		}
	}
	if err := p.platform.DeleteChannel(ctx, resource.TextID); err != nil && !errors.Is(err, interfaces.ErrChannelNotFound) {
		return fmt.Errorf("failed to delete text channel: %w", err)
	}
	return p.store.DeleteResourceRecord(ctx, resource.VoiceID)
}

// cleanupChannels deletes partially created channels during a failed
// provision. Failures here are logged, not returned, because the original
// error is the one the caller needs.
func (p *Provisioner) cleanupChannels(ctx context.Context, channelIDs ...string) {
	for _, id := range channelIDs {
		if err := p.platform.DeleteChannel(ctx, id); err != nil && !errors.Is(err, interfaces.ErrChannelNotFound) {
			log.Printf("Cleanup of channel %s failed: %v", id, err)
		}
	}
}

func contains(ids []string, target string) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}
