// Package matchmaker forms fixed-size batches of ready players and
// places them onto session capacity.
package matchmaker

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nimblegames/arena/internal/config"
	"github.com/nimblegames/arena/internal/ids"
	"github.com/nimblegames/arena/internal/models"
	"github.com/nimblegames/arena/internal/store"
)

// Matchmaker runs the batch-forming main loop. Many instances may run
// concurrently across the fleet; lock:matchmaker serializes the
// batch-forming critical section between them.
type Matchmaker struct {
	st     *store.Store
	cfg    *config.Config
	logger *logrus.Entry
}

func New(st *store.Store, cfg *config.Config, logger *logrus.Entry) *Matchmaker {
	return &Matchmaker{st: st, cfg: cfg, logger: logger}
}

// Run blocks, executing ticks until ctx is canceled.
func (m *Matchmaker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		m.tick(ctx)
	}
}

func (m *Matchmaker) tick(ctx context.Context) {
	lockTTL := time.Duration(m.cfg.MatchmakerLockTTLMs) * time.Millisecond
	acquired, err := m.st.AcquireLock(ctx, store.MatchmakerLockKey, lockTTL)
	if err != nil {
		m.logger.WithError(err).Warn("failed to acquire matchmaker lock")
		m.sleep(ctx, m.cfg.MatchmakerNoCapacityMs)
		return
	}
	if !acquired {
		m.sleep(ctx, m.cfg.MatchmakerIdleMs)
		return
	}

	n := m.cfg.PlayersPerGame

	queueLen, err := m.st.QueueLen(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("failed to read ready queue length")
		return
	}
	if int(queueLen) < n {
		m.sleep(ctx, m.cfg.MatchmakerIdleMs)
		return
	}

	capacity, err := m.st.TotalAvailableSlots(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("failed to read session capacity")
		return
	}

	target := min(int(queueLen)/n, capacity)
	if target <= 0 {
		m.sleep(ctx, m.cfg.MatchmakerNoCapacityMs)
		return
	}

	for i := 0; i < target; i++ {
		if !m.formOneGame(ctx, n) {
			break
		}
	}
}

// formOneGame reserves a slot, collects a batch, and either materializes a
// game or releases the reservation if the batch came up short. Returns
// true if a game was created (the caller's inner loop continues).
func (m *Matchmaker) formOneGame(ctx context.Context, n int) bool {
	sessionID, err := m.st.ReserveSlot(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("failed to reserve session slot")
		return false
	}
	if sessionID == "" {
		return false // no-capacity outcome
	}

	picked, ok, err := CollectBatch(ctx, m.st, n, m.cfg.MaxPullMultiplier)
	if err != nil {
		m.logger.WithError(err).Error("failed to collect batch; releasing reservation")
		_ = m.st.ReleaseReservation(ctx, sessionID)
		return false
	}
	if !ok {
		// Batch starvation: fewer than n currently-ready players found.
		if err := m.st.ReleaseReservation(ctx, sessionID); err != nil {
			m.logger.WithError(err).Error("failed to release reservation after batch starvation")
		}
		return false
	}

	if err := m.materialize(ctx, sessionID, picked); err != nil {
		m.logger.WithError(err).Error("failed to materialize game; releasing reservation")
		_ = m.st.ReleaseReservation(ctx, sessionID)
		return false
	}
	return true
}

func (m *Matchmaker) materialize(ctx context.Context, sessionID string, players []string) error {
	gameID := ids.NewGameID()
	now := store.NowMs()
	durationSec := sampleDurationSeconds(m.cfg.MatchMinSeconds, m.cfg.MatchMaxSeconds)
	endAt := now + int64(math.Round(durationSec*1000))

	game := &models.Game{
		ID:        gameID,
		SessionID: sessionID,
		State:     models.GameRunning,
		StartedAt: now,
		EndAt:     endAt,
		Players:   players,
	}

	if err := m.st.CreateGame(ctx, game, int64(m.cfg.PlayerTTLSeconds)); err != nil {
		return err
	}
	if err := m.st.AppendGameID(ctx, sessionID, gameID); err != nil {
		return err
	}

	// Publish happens after the write group so subscribers never see an
	// event referencing nonexistent keys. A crash between the write
	// group and this publish is tolerated: finalization is driven from
	// the game record itself, not from this event.
	ev := models.MatchEvent{GameID: gameID, SessionID: sessionID, PlayerIDs: players}
	if err := m.st.PublishMatchEvent(ctx, store.TopicMatchFound, ev); err != nil {
		m.logger.WithError(err).Warn("failed to publish match_found event")
	}

	m.logger.WithFields(logrus.Fields{
		"game_id":    gameID,
		"session_id": sessionID,
		"players":    len(players),
	}).Info("match formed")
	return nil
}

func (m *Matchmaker) sleep(ctx context.Context, ms int) {
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(ms) * time.Millisecond):
	}
}
