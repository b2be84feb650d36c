// Package sessionrunner runs one process representing one session:{id}
// with max_slots concurrent games, discovering games handed off by the
// matchmaker and finalizing them once they end.
package sessionrunner

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nimblegames/arena/internal/config"
	"github.com/nimblegames/arena/internal/models"
	"github.com/nimblegames/arena/internal/store"
)

// Runner owns one session:{id} and the set of games currently adopted
// under it. Not safe for concurrent use by more than one goroutine; the
// main loop is expected to run single-threaded.
type Runner struct {
	st        *store.Store
	cfg       *config.Config
	logger    *logrus.Entry
	sessionID string
	maxSlots  int

	tracked map[string]struct{}
}

func New(st *store.Store, cfg *config.Config, logger *logrus.Entry, sessionID string) *Runner {
	return &Runner{
		st:        st,
		cfg:       cfg,
		logger:    logger.WithField("session_id", sessionID),
		sessionID: sessionID,
		maxSlots:  cfg.SessionMaxSlots,
		tracked:   make(map[string]struct{}),
	}
}

// Start performs the crash-recovery sequence: read any pre-existing
// session record, adopt every RUNNING game it lists, and publish
// availability. If no session record exists yet, one is created with
// zero active games.
func (r *Runner) Start(ctx context.Context) error {
	sess, err := r.st.GetSession(ctx, r.sessionID)
	if err == store.ErrNotFound {
		sess = &models.Session{ID: r.sessionID, MaxSlots: r.maxSlots}
		return r.st.UpsertSession(ctx, sess)
	}
	if err != nil {
		return err
	}
	r.maxSlots = sess.MaxSlots

	for _, gameID := range sess.GameIDs {
		game, err := r.st.GetGame(ctx, gameID)
		if err != nil {
			r.logger.WithError(err).WithField("game_id", gameID).Warn("dropping unreadable game on startup")
			continue
		}
		if game.State == models.GameRunning {
			r.tracked[gameID] = struct{}{}
		}
	}
	return r.publishAvailability(ctx, sess)
}

// Run executes the fixed-period main loop until ctx is canceled.
func (r *Runner) Run(ctx context.Context) {
	period := time.Duration(r.cfg.SessionPollMs) * time.Millisecond
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	sess, err := r.st.GetSession(ctx, r.sessionID)
	if err != nil {
		r.logger.WithError(err).Warn("failed to read session during tick")
		return
	}

	r.discover(sess)

	changed := false
	now := store.NowMs()
	for gameID := range r.tracked {
		dropped, err := r.checkGame(ctx, gameID, now)
		if err != nil {
			r.logger.WithError(err).WithField("game_id", gameID).Warn("liveness check failed")
			continue
		}
		if dropped {
			changed = true
		}
	}

	if changed {
		sess, err = r.st.GetSession(ctx, r.sessionID)
		if err != nil {
			r.logger.WithError(err).Warn("failed to reread session after finalization")
			return
		}
		if err := r.publishAvailability(ctx, sess); err != nil {
			r.logger.WithError(err).Warn("failed to publish availability")
		}
	}
}

// discover adopts any game listed in session:{id}.game_ids but not yet
// locally tracked. This is how the matchmaker's AppendGameID hands a
// freshly materialized game off to this runner.
func (r *Runner) discover(sess *models.Session) {
	for _, gameID := range sess.GameIDs {
		if _, ok := r.tracked[gameID]; !ok {
			r.tracked[gameID] = struct{}{}
			r.logger.WithField("game_id", gameID).Info("adopted game")
		}
	}
}

// checkGame reads the game record, drops it locally if it is
// missing, FINISHED, or malformed (a state other than RUNNING), and
// attempts finalization if it has
// reached end_at (or has no end_at at all, fail-safe). Returns true if
// the game was dropped from local tracking, signaling the caller to
// republish availability.
func (r *Runner) checkGame(ctx context.Context, gameID string, now int64) (bool, error) {
	game, err := r.st.GetGame(ctx, gameID)
	if err == store.ErrNotFound {
		delete(r.tracked, gameID)
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if game.State != models.GameRunning {
		delete(r.tracked, gameID)
		return true, nil
	}

	if !game.HasEnded(now) {
		return false, nil
	}

	finalized, err := r.finalize(ctx, game)
	if err != nil {
		return false, err
	}
	if finalized {
		delete(r.tracked, gameID)
	}
	return finalized, nil
}

// finalize acquires lock:finish:{game_id}, and only the acquirer
// performs the atomic FINISHED write group, active_games decrement,
// game_ids removal, and events:match_ended publish. The lock is never
// explicitly released; it expires, and the game's own state (already
// FINISHED by then) prevents a second acquirer from re-finalizing.
func (r *Runner) finalize(ctx context.Context, game *models.Game) (bool, error) {
	lockTTL := time.Duration(r.cfg.FinishLockTTLMs) * time.Millisecond
	acquired, err := r.st.AcquireLock(ctx, store.FinishLockKey(game.ID), lockTTL)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}

	if err := r.st.FinalizeGame(ctx, game, int64(r.cfg.PlayerTTLSeconds)); err != nil {
		return false, err
	}
	if err := r.st.DecrementActiveGames(ctx, game.SessionID); err != nil {
		return false, err
	}
	if err := r.st.RemoveGameID(ctx, game.SessionID, game.ID); err != nil {
		return false, err
	}

	ev := models.MatchEvent{GameID: game.ID, SessionID: game.SessionID, PlayerIDs: game.Players}
	if err := r.st.PublishMatchEvent(ctx, store.TopicMatchEnded, ev); err != nil {
		r.logger.WithError(err).Warn("failed to publish match_ended event")
	}

	r.logger.WithFields(logrus.Fields{
		"game_id": game.ID,
		"players": len(game.Players),
	}).Info("game finalized")
	return true, nil
}

// publishAvailability writes the current slot accounting: UpsertSession
// derives available_slots from active_games and syncs
// sessions:available.
func (r *Runner) publishAvailability(ctx context.Context, sess *models.Session) error {
	sess.MaxSlots = r.maxSlots
	return r.st.UpsertSession(ctx, sess)
}
