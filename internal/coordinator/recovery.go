package coordinator

import (
	"context"
	"errors"
	"log"
	"time"

	"partyfinder/pkg/interfaces"
	"partyfinder/pkg/types"
)

// Recover rebuilds in-memory state from the store after a restart. Links
// between recruitments and voice rooms are restored, and every recorded
// room is checked against the platform: rooms that vanished while the
// process was down are reconciled away, rooms that are empty right now get
// a fresh grace timer. Timers are never restored from persisted state;
// only current occupancy counts.
func (c *Coordinator) Recover(ctx context.Context) error {
	sessions, err := c.store.ListOpenSessions(ctx)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if s.VoiceID != "" {
			c.link(s.VoiceID, s.ID)
		}
	}

	resources, err := c.store.ListResourceRecords(ctx)
	if err != nil {
		return err
	}

	for _, resource := range resources {
		func() {
			release := c.locks.Acquire(voiceKeyPrefix + resource.VoiceID)
			defer release()

			occupants, err := c.platform.ListOccupants(ctx, resource.VoiceID)
			if errors.Is(err, interfaces.ErrChannelNotFound) {
				log.Printf("Recovery removing orphaned voice=%s", resource.VoiceID)
				c.disbandLocked(ctx, resource.VoiceID, true, types.CloseReasonResourceGone, "")
				return
			}
			if err != nil {
				log.Printf("Recovery occupancy check failed voice=%s: %v", resource.VoiceID, err)
				return
			}
			if len(occupants) == 0 {
				c.armGraceTimer(resource.VoiceID)
			}
		}()
	}

	log.Printf("Recovery complete: sessions=%d resources=%d", len(sessions), len(resources))
	return nil
}

// StartReconciler runs the orphan sweep on a fixed interval until ctx is
// cancelled.
func (c *Coordinator) StartReconciler(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sweepCtx, cancel := context.WithTimeout(ctx, opTimeout)
				if err := c.Reconcile(sweepCtx); err != nil {
					log.Printf("Reconcile sweep failed: %v", err)
				}
				cancel()
			case <-ctx.Done():
				return
			}
		}
	}()
}
