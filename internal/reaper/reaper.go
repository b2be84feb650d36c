// Package reaper is a background sweeper of stale player records and
// stale ready-queue entries, running on a fixed period. Both passes are
// safe to run concurrently with every other role.
package reaper

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nimblegames/arena/internal/config"
	"github.com/nimblegames/arena/internal/models"
	"github.com/nimblegames/arena/internal/store"
)

// Reaper runs the queue-hygiene and player-hygiene passes on a fixed
// period.
type Reaper struct {
	st     *store.Store
	cfg    *config.Config
	logger *logrus.Entry
}

func New(st *store.Store, cfg *config.Config, logger *logrus.Entry) *Reaper {
	return &Reaper{st: st, cfg: cfg, logger: logger}
}

// Run blocks, executing sweeps until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	period := time.Duration(r.cfg.ReaperPeriodMs) * time.Millisecond
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs both passes once. Exported so tests and the seed scenarios
// can drive a single sweep deterministically instead of waiting on the
// ticker.
func (r *Reaper) Sweep(ctx context.Context) {
	if err := r.sweepQueue(ctx); err != nil {
		r.logger.WithError(err).Warn("queue hygiene pass failed")
	}
	if err := r.sweepPlayers(ctx); err != nil {
		r.logger.WithError(err).Warn("player hygiene pass failed")
	}
}

// sweepQueue snapshots queue:ready, reads state and heartbeat for every
// entry, and value-deletes any ID whose state isn't READY or whose
// heartbeat has lapsed STALE_MS.
func (r *Reaper) sweepQueue(ctx context.Context) error {
	ids, err := r.st.SnapshotQueue(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	states, err := r.st.GetPlayers(ctx, ids)
	if err != nil {
		return err
	}

	now := store.NowMs()
	staleMs := int64(r.cfg.StaleMs)
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		p := states[id]
		if p == nil || p.State != models.StateReady || p.IsStale(now, staleMs) {
			if err := r.st.RemoveFromQueue(ctx, id); err != nil {
				r.logger.WithError(err).WithField("player_id", id).Warn("failed to remove stale queue entry")
			}
		}
	}
	return nil
}

// sweepPlayers scans player:*, and for any player whose heartbeat has
// lapsed STALE_MS, removes them from the ready queue and resets their
// record to IN_LOBBY. When ReaperSkipInGame is set, players currently
// IN_GAME are left alone.
func (r *Reaper) sweepPlayers(ctx context.Context) error {
	ids, err := r.st.ScanPlayerIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	now := store.NowMs()
	staleMs := int64(r.cfg.StaleMs)
	ttl := time.Duration(r.cfg.PlayerTTLSeconds) * time.Second

	for _, id := range ids {
		p, err := r.st.GetPlayer(ctx, id)
		if err != nil {
			continue // vanished between scan and read; nothing to reap.
		}
		if !p.IsStale(now, staleMs) {
			continue
		}
		if r.cfg.ReaperSkipInGame && p.State == models.StateInGame {
			continue
		}

		if err := r.st.RemoveFromQueue(ctx, id); err != nil {
			r.logger.WithError(err).WithField("player_id", id).Warn("failed to remove stale player from queue")
		}
		if err := r.st.SetPlayerInLobbyUnconditional(ctx, id, ttl); err != nil {
			r.logger.WithError(err).WithField("player_id", id).Warn("failed to reset stale player")
		}
	}
	return nil
}
