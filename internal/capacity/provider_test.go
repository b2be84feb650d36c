package capacity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/nimblegames/arena/internal/config"
	"github.com/nimblegames/arena/internal/models"
	"github.com/nimblegames/arena/internal/store"
)

func newStoreForTest(t *testing.T) *store.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return store.NewFromClient(rdb)
}

func testConfig() *config.Config {
	return &config.Config{
		PlayersPerGame:      10,
		SlotsPerSession:     1,
		MinSessions:         1,
		MaxSessions:         5,
		ScaleUpThreshold:    0.8,
		ScaleDownThreshold:  0.3,
		ScaleUpCooldownMs:   30000,
		ScaleDownCooldownMs: 300000,
		ScaleUpBatch:        5,
		ScaleDownBatch:      3,
		CapacityPollMs:      5000,
	}
}

// TestBootstrapCreatesMinSessions covers the bootstrap rule: with zero
// sessions and min_sessions=1, a tick provisions one runner.
func TestBootstrapCreatesMinSessions(t *testing.T) {
	ctx := context.Background()
	s := newStoreForTest(t)
	backend := NewFakeBackend()
	logger := logrus.NewEntry(logrus.New())
	p := New(s, testConfig(), backend, logger)

	p.Tick(ctx)

	require.Equal(t, 1, backend.Count())
}

// TestStarvationOverrideBypassesCooldown covers the starvation
// override: a saturated queue with zero available slots scales up
// immediately even though the cooldown hasn't elapsed.
func TestStarvationOverrideBypassesCooldown(t *testing.T) {
	ctx := context.Background()
	s := newStoreForTest(t)
	backend := NewFakeBackend()
	cfg := testConfig()
	logger := logrus.NewEntry(logrus.New())
	p := New(s, cfg, backend, logger)

	require.NoError(t, s.UpsertSession(ctx, &models.Session{ID: "s1", MaxSlots: 1, ActiveGames: 1}))
	require.NoError(t, s.EnqueueMany(ctx, repeat("p", cfg.PlayersPerGame)))

	// Simulate an immediately-prior scale-up so the cooldown would
	// normally block a second one this tick.
	p.lastScaleUp = time.Now()
	p.haveLastScaleUp = true

	p.Tick(ctx)

	require.Equal(t, 1, backend.Count(), "starvation override must create despite an active cooldown")
}

// TestScaleUpRespectsCooldown covers the scale-up cooldown: a
// high-utilization tick within the cooldown window does not create
// more runners.
func TestScaleUpRespectsCooldown(t *testing.T) {
	ctx := context.Background()
	s := newStoreForTest(t)
	backend := NewFakeBackend()
	cfg := testConfig()
	logger := logrus.NewEntry(logrus.New())
	p := New(s, cfg, backend, logger)

	require.NoError(t, s.UpsertSession(ctx, &models.Session{ID: "s1", MaxSlots: 1, ActiveGames: 1}))
	require.NoError(t, backend.Create(ctx, "s1", nil))
	p.lastScaleUp = time.Now()
	p.haveLastScaleUp = true

	p.Tick(ctx)

	require.Equal(t, 1, backend.Count(), "scale-up during cooldown must be suppressed")
}

// TestScaleDownRequiresSustainedLowUsage covers the sustained-low-usage
// timer: a single low-utilization tick starts the timer but does not
// destroy anything; only after the cooldown elapses are idle runners
// destroyed.
func TestScaleDownRequiresSustainedLowUsage(t *testing.T) {
	ctx := context.Background()
	s := newStoreForTest(t)
	backend := NewFakeBackend()
	cfg := testConfig()
	cfg.MinSessions = 1
	cfg.ScaleDownCooldownMs = 10
	logger := logrus.NewEntry(logrus.New())
	p := New(s, cfg, backend, logger)

	for _, id := range []string{"s1", "s2"} {
		require.NoError(t, s.UpsertSession(ctx, &models.Session{ID: id, MaxSlots: 1, ActiveGames: 0}))
		require.NoError(t, backend.Create(ctx, id, nil))
	}

	p.Tick(ctx)
	require.Equal(t, 2, backend.Count(), "first low-usage tick only starts the timer")

	time.Sleep(20 * time.Millisecond)
	p.Tick(ctx)
	require.Equal(t, 1, backend.Count(), "sustained low usage destroys idle runners down to min_sessions")
}

// TestReconciliationGuardsEmptyList covers the reconciliation guard: a
// backend outage that returns an empty list() must not delete store
// entries.
func TestReconciliationGuardsEmptyList(t *testing.T) {
	ctx := context.Background()
	s := newStoreForTest(t)
	backend := NewFakeBackend()
	cfg := testConfig()
	logger := logrus.NewEntry(logrus.New())
	p := New(s, cfg, backend, logger)

	require.NoError(t, s.UpsertSession(ctx, &models.Session{ID: "s1", MaxSlots: 2, ActiveGames: 1}))
	require.NoError(t, backend.Create(ctx, "s1", nil))

	restore := backend.SimulateEmptyListOutage()
	p.Tick(ctx)
	restore()

	_, err := s.GetSession(ctx, "s1")
	require.NoError(t, err, "an empty backend.List() must not trigger deletion of the session record")
}

// TestReconciliationDeletesOrphanedSessions covers the non-guarded path:
// a session the backend no longer lists is removed from the store.
func TestReconciliationDeletesOrphanedSessions(t *testing.T) {
	ctx := context.Background()
	s := newStoreForTest(t)
	backend := NewFakeBackend()
	cfg := testConfig()
	logger := logrus.NewEntry(logrus.New())
	p := New(s, cfg, backend, logger)

	require.NoError(t, s.UpsertSession(ctx, &models.Session{ID: "s1", MaxSlots: 2, ActiveGames: 1}))
	require.NoError(t, s.UpsertSession(ctx, &models.Session{ID: "s2", MaxSlots: 2, ActiveGames: 0}))
	require.NoError(t, backend.Create(ctx, "s1", nil)) // s2 was never provisioned by the backend.

	p.Tick(ctx)

	_, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	_, err = s.GetSession(ctx, "s2")
	require.ErrorIs(t, err, store.ErrNotFound)
}

// TestHighUtilizationTickResetsScaleDownTimer covers the rule that any
// tick with high utilization resets the sustained-low-usage scale-down
// timer. A low tick starts the timer; an intervening high-utilization
// tick must restart it, so a low tick right afterward must not destroy
// anything even though the original timer (had it not been reset)
// would already have aged past the cooldown.
func TestHighUtilizationTickResetsScaleDownTimer(t *testing.T) {
	ctx := context.Background()
	s := newStoreForTest(t)
	backend := NewFakeBackend()
	cfg := testConfig()
	cfg.ScaleDownCooldownMs = 30
	logger := logrus.NewEntry(logrus.New())
	p := New(s, cfg, backend, logger)

	sessions := map[string]*models.Session{
		"s1": {ID: "s1", MaxSlots: 1, ActiveGames: 0},
		"s2": {ID: "s2", MaxSlots: 1, ActiveGames: 0},
	}
	for id, sess := range sessions {
		require.NoError(t, s.UpsertSession(ctx, sess))
		require.NoError(t, backend.Create(ctx, id, nil))
	}

	low := Metrics{TotalSessions: 2, TotalSlots: 2, UsedSlots: 0, Utilization: 0}
	require.NoError(t, p.applyPolicy(ctx, low, sessions))
	require.Equal(t, 2, backend.Count(), "first low tick only starts the timer")

	// Age the original timer well past the cooldown...
	time.Sleep(40 * time.Millisecond)

	// ...then a high-utilization tick must reset it instead of leaving the
	// aged-out timer in place.
	high := Metrics{TotalSessions: 2, TotalSlots: 2, UsedSlots: 2, Utilization: 1.0}
	require.NoError(t, p.applyPolicy(ctx, high, sessions))

	// A low tick immediately afterward must only restart the timer again,
	// not destroy anything, because the high tick reset it moments ago.
	require.NoError(t, p.applyPolicy(ctx, low, sessions))
	require.Equal(t, 2, backend.Count(), "an intervening high-utilization tick must restart the sustained-low-usage timer")
}

func repeat(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = prefix + string(rune('a'+i))
	}
	return out
}
