package matchmaker

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/nimblegames/arena/internal/config"
	"github.com/nimblegames/arena/internal/models"
	"github.com/nimblegames/arena/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		PlayersPerGame:         4,
		MaxPullMultiplier:      4,
		MatchMinSeconds:        30,
		MatchMaxSeconds:        300,
		MatchmakerIdleMs:       1,
		MatchmakerNoCapacityMs: 1,
		MatchmakerLockTTLMs:    5000,
		PlayerTTLSeconds:       600,
	}
}

// TestTickFormsExactBatch is scenario S1: with players_per_game=4 and one
// idle session (max_slots=1), four READY players should be placed into a
// single game of exactly four, and each player transitions to IN_GAME.
func TestTickFormsExactBatch(t *testing.T) {
	ctx := context.Background()
	s := newStoreForTest(t)
	logger := logrus.NewEntry(logrus.New())
	mm := New(s, testConfig(), logger)

	require.NoError(t, s.UpsertSession(ctx, &models.Session{ID: "sess1", MaxSlots: 1}))

	players := []string{"p1", "p2", "p3", "p4"}
	for _, p := range players {
		require.NoError(t, s.SetPlayerReady(ctx, p, time.Minute))
	}
	require.NoError(t, s.EnqueueMany(ctx, players))

	events, closeFn := s.SubscribeMatchEvents(ctx, store.TopicMatchFound)
	defer closeFn()
	time.Sleep(20 * time.Millisecond)

	mm.tick(ctx)

	select {
	case ev := <-events:
		require.ElementsMatch(t, players, ev.PlayerIDs)
		require.Equal(t, "sess1", ev.SessionID)
	case <-time.After(time.Second):
		t.Fatal("expected a match_found event")
	}

	for _, p := range players {
		got, err := s.GetPlayer(ctx, p)
		require.NoError(t, err)
		require.Equal(t, models.StateInGame, got.State)
	}

	sess, err := s.GetSession(ctx, "sess1")
	require.NoError(t, err)
	require.Equal(t, 1, sess.ActiveGames)
	require.Equal(t, 0, sess.AvailableSlots)
	require.Len(t, sess.GameIDs, 1)
}

// TestTickReleasesReservationOnStarvation covers the failure semantics
// where the collected batch comes up short: the reserved slot must be
// released so sessions:available reflects the original score.
func TestTickReleasesReservationOnStarvation(t *testing.T) {
	ctx := context.Background()
	s := newStoreForTest(t)
	logger := logrus.NewEntry(logrus.New())
	mm := New(s, testConfig(), logger)

	require.NoError(t, s.UpsertSession(ctx, &models.Session{ID: "sess1", MaxSlots: 1}))

	// Only 4 ready entries but a same-tick duplicate queue entry makes the
	// queue length look >= N while fewer than N are truly READY.
	require.NoError(t, s.SetPlayerReady(ctx, "p1", time.Minute))
	require.NoError(t, s.EnqueueMany(ctx, []string{"p1", "p1", "p1", "p1"}))

	mm.tick(ctx)

	sess, err := s.GetSession(ctx, "sess1")
	require.NoError(t, err)
	require.Equal(t, 0, sess.ActiveGames, "reservation must be released after batch starvation")
	require.Equal(t, 1, sess.AvailableSlots)
}
