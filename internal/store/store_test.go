package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/nimblegames/arena/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewFromClient(rdb)
}

func TestPlayerMonotoneLobbyWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SetPlayerReady(ctx, "p1", 10*time.Minute))

	wrote, err := s.SetPlayerInLobbyMonotone(ctx, "p1", 10*time.Minute)
	require.NoError(t, err)
	require.False(t, wrote, "monotone write must not downgrade a READY player")

	p, err := s.GetPlayer(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, models.StateReady, p.State)

	require.NoError(t, s.SetPlayerInGame(ctx, "p1", "g1", "s1", 10*time.Minute))
	wrote, err = s.SetPlayerInLobbyMonotone(ctx, "p1", 10*time.Minute)
	require.NoError(t, err)
	require.False(t, wrote, "monotone write must not downgrade an IN_GAME player")
}

func TestPlayerMonotoneLobbyWriteFreshPlayer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	wrote, err := s.SetPlayerInLobbyMonotone(ctx, "fresh", 10*time.Minute)
	require.NoError(t, err)
	require.True(t, wrote)

	p, err := s.GetPlayer(ctx, "fresh")
	require.NoError(t, err)
	require.Equal(t, models.StateInLobby, p.State)
}

func TestQueuePopAndReturn(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Enqueue(ctx, "a"))
	require.NoError(t, s.Enqueue(ctx, "b"))
	require.NoError(t, s.Enqueue(ctx, "c"))

	ids, err := s.PopHead(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, s.EnqueueMany(ctx, []string{"b"}))

	remaining, err := s.SnapshotQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b"}, remaining)
}

func TestRemoveFromQueueValueBased(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.EnqueueMany(ctx, []string{"a", "b", "a", "c"}))
	require.NoError(t, s.RemoveFromQueue(ctx, "a"))

	remaining, err := s.SnapshotQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, remaining)
}

func TestSessionReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess := &models.Session{ID: "s1", MaxSlots: 2}
	require.NoError(t, s.UpsertSession(ctx, sess))

	sessionID, err := s.ReserveSlot(ctx)
	require.NoError(t, err)
	require.Equal(t, "s1", sessionID)

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 1, got.ActiveGames)
	require.Equal(t, 1, got.AvailableSlots)

	scores, err := s.ListAvailableSessions(ctx)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	require.Equal(t, 1, scores[0].AvailableSlots)

	require.NoError(t, s.ReleaseReservation(ctx, "s1"))
	got, err = s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 0, got.ActiveGames)
	require.Equal(t, 2, got.AvailableSlots)
}

func TestSessionReserveExhaustsCapacity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.UpsertSession(ctx, &models.Session{ID: "s1", MaxSlots: 1}))

	first, err := s.ReserveSlot(ctx)
	require.NoError(t, err)
	require.Equal(t, "s1", first)

	second, err := s.ReserveSlot(ctx)
	require.NoError(t, err)
	require.Empty(t, second, "no session should have capacity left")
}

func TestGameIDAppendAndRemove(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.UpsertSession(ctx, &models.Session{ID: "s1", MaxSlots: 3}))

	require.NoError(t, s.AppendGameID(ctx, "s1", "g1"))
	require.NoError(t, s.AppendGameID(ctx, "s1", "g2"))

	sess, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"g1", "g2"}, sess.GameIDs)

	require.NoError(t, s.RemoveGameID(ctx, "s1", "g1"))
	sess, err = s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, []string{"g2"}, sess.GameIDs)
}

func TestCreateAndFinalizeGame(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	g := &models.Game{ID: "g1", SessionID: "s1", StartedAt: NowMs(), EndAt: NowMs() + 1000, Players: []string{"p1", "p2"}}
	require.NoError(t, s.CreateGame(ctx, g, 600))

	got, err := s.GetGame(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, models.GameRunning, got.State)
	require.ElementsMatch(t, []string{"p1", "p2"}, got.Players)

	p1, err := s.GetPlayer(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, models.StateInGame, p1.State)
	require.Equal(t, "g1", p1.GameID)

	require.NoError(t, s.FinalizeGame(ctx, got, 600))

	finished, err := s.GetGame(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, models.GameFinished, finished.State)

	p1, err = s.GetPlayer(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, models.StateInLobby, p1.State)
	require.Empty(t, p1.GameID)
}

func TestAcquireLockIsExclusiveWhileHeld(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ok, err := s.AcquireLock(ctx, "lock:finish:g1", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.AcquireLock(ctx, "lock:finish:g1", 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok, "a second acquirer must not win while the lock is held")
}

func TestPublishAndSubscribeMatchEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestStore(t)

	ch, closeFn := s.SubscribeMatchEvents(ctx, TopicMatchFound)
	defer closeFn()

	// give the subscription a moment to register with miniredis's pubsub.
	time.Sleep(20 * time.Millisecond)

	ev := models.MatchEvent{GameID: "g1", SessionID: "s1", PlayerIDs: []string{"p1", "p2"}}
	require.NoError(t, s.PublishMatchEvent(ctx, TopicMatchFound, ev))

	select {
	case got := <-ch:
		require.Equal(t, ev, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}
