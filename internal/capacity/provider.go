// Package capacity implements the role that watches demand signals
// and grows or shrinks the pool of session runners against a
// pluggable Backend.
package capacity

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nimblegames/arena/internal/config"
	"github.com/nimblegames/arena/internal/ids"
	"github.com/nimblegames/arena/internal/models"
	"github.com/nimblegames/arena/internal/store"
)

// Metrics are the demand signals sampled every poll_interval.
type Metrics struct {
	QueueLength   int
	TotalSessions int
	TotalSlots    int
	UsedSlots     int
	Utilization   float64
}

// Provider runs the capacity policy loop: bootstrap, starvation
// override, scale up, scale down, and reconciliation against the
// backend's own view of the fleet.
type Provider struct {
	st      *store.Store
	cfg     *config.Config
	backend Backend
	logger  *logrus.Entry

	lastScaleUp     time.Time
	lowUsageSince   time.Time
	haveLastScaleUp bool
	lowUsageActive  bool
}

func New(st *store.Store, cfg *config.Config, backend Backend, logger *logrus.Entry) *Provider {
	return &Provider{st: st, cfg: cfg, backend: backend, logger: logger}
}

// Run blocks, executing ticks until ctx is canceled.
func (p *Provider) Run(ctx context.Context) {
	period := time.Duration(p.cfg.CapacityPollMs) * time.Millisecond
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one sample-and-reconcile pass. Exported so tests and the
// seed scenarios can drive ticks deterministically.
func (p *Provider) Tick(ctx context.Context) {
	sessions, err := p.loadSessions(ctx)
	if err != nil {
		p.logger.WithError(err).Warn("failed to load sessions")
		return
	}

	metrics, err := p.computeMetrics(ctx, sessions)
	if err != nil {
		p.logger.WithError(err).Warn("failed to compute demand metrics")
		return
	}

	if err := p.applyPolicy(ctx, metrics, sessions); err != nil {
		p.logger.WithError(err).Warn("failed to apply scaling policy")
	}

	if err := p.reconcile(ctx, sessions); err != nil {
		p.logger.WithError(err).Warn("failed to reconcile store with backend")
	}
}

func (p *Provider) loadSessions(ctx context.Context) (map[string]*models.Session, error) {
	ids, err := p.st.ScanSessionIDs(ctx)
	if err != nil {
		return nil, err
	}
	return p.st.GetSessions(ctx, ids)
}

func (p *Provider) computeMetrics(ctx context.Context, sessions map[string]*models.Session) (Metrics, error) {
	queueLen, err := p.st.QueueLen(ctx)
	if err != nil {
		return Metrics{}, err
	}

	m := Metrics{QueueLength: int(queueLen), TotalSessions: len(sessions)}
	for _, sess := range sessions {
		m.TotalSlots += sess.MaxSlots
		m.UsedSlots += sess.ActiveGames
	}
	if m.TotalSlots > 0 {
		m.Utilization = float64(m.UsedSlots) / float64(m.TotalSlots)
	}
	return m, nil
}

// applyPolicy runs the bootstrap, starvation-override, scale-up, and
// scale-down rules in that order.
func (p *Provider) applyPolicy(ctx context.Context, m Metrics, sessions map[string]*models.Session) error {
	if m.TotalSessions < p.cfg.MinSessions {
		return p.createN(ctx, p.cfg.MinSessions-m.TotalSessions)
	}

	availableSlots := m.TotalSlots - m.UsedSlots
	starving := m.QueueLength >= p.cfg.PlayersPerGame && availableSlots == 0 && m.TotalSessions < p.cfg.MaxSessions
	if starving {
		p.logger.Warn("starvation override: queue saturated with no available slots")
		return p.createN(ctx, 1)
	}

	if m.Utilization > p.cfg.ScaleUpThreshold {
		// Any tick with high utilization resets the sustained-low-usage
		// timer: a low stretch interrupted by a spike must restart its
		// cooldown from scratch.
		p.lowUsageActive = false
		return p.scaleUp(ctx, m)
	}

	if m.Utilization < p.cfg.ScaleDownThreshold && m.TotalSessions > p.cfg.MinSessions {
		return p.scaleDown(ctx, sessions)
	}

	// Utilization is back in the healthy band; reset the sustained-low
	// timer so a later dip must accumulate its own cooldown.
	p.lowUsageActive = false
	return nil
}

func (p *Provider) scaleUp(ctx context.Context, m Metrics) error {
	cooldown := time.Duration(p.cfg.ScaleUpCooldownMs) * time.Millisecond
	if p.haveLastScaleUp && time.Since(p.lastScaleUp) < cooldown {
		return nil
	}

	playersInGame := m.UsedSlots * p.cfg.PlayersPerGame
	slotsPerSession := p.cfg.SlotsPerSession
	if slotsPerSession <= 0 {
		slotsPerSession = 1
	}
	needed := int(math.Ceil(float64(playersInGame+m.QueueLength) / float64(p.cfg.PlayersPerGame) / float64(slotsPerSession)))
	needed = clamp(needed, p.cfg.MinSessions, p.cfg.MaxSessions)

	toCreate := needed - m.TotalSessions
	if toCreate <= 0 {
		return nil
	}
	if toCreate > p.cfg.ScaleUpBatch {
		toCreate = p.cfg.ScaleUpBatch
	}
	return p.createN(ctx, toCreate)
}

func (p *Provider) createN(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	for i := 0; i < n; i++ {
		id := ids.NewSessionID()
		if err := p.backend.Create(ctx, id, nil); err != nil {
			p.logger.WithError(err).WithField("session_id", id).Warn("backend create failed; will retry next tick")
			continue
		}
		p.logger.WithField("session_id", id).Info("provisioned session runner")
	}
	p.lastScaleUp = time.Now()
	p.haveLastScaleUp = true
	return nil
}

func (p *Provider) scaleDown(ctx context.Context, sessions map[string]*models.Session) error {
	cooldown := time.Duration(p.cfg.ScaleDownCooldownMs) * time.Millisecond
	if !p.lowUsageActive {
		p.lowUsageActive = true
		p.lowUsageSince = time.Now()
		return nil
	}
	if time.Since(p.lowUsageSince) < cooldown {
		return nil
	}

	idle := make([]string, 0, len(sessions))
	for id, sess := range sessions {
		if sess.ActiveGames == 0 {
			idle = append(idle, id)
		}
	}
	// Highest IDs first, by plain string comparison of the session IDs.
	sort.Sort(sort.Reverse(sort.StringSlice(idle)))

	budget := len(sessions) - p.cfg.MinSessions
	if budget > p.cfg.ScaleDownBatch {
		budget = p.cfg.ScaleDownBatch
	}
	if budget > len(idle) {
		budget = len(idle)
	}

	for i := 0; i < budget; i++ {
		id := idle[i]
		if err := p.backend.Destroy(ctx, id); err != nil {
			p.logger.WithError(err).WithField("session_id", id).Warn("backend destroy failed; will retry next tick")
			continue
		}
		if err := p.st.DeleteSession(ctx, id); err != nil {
			p.logger.WithError(err).WithField("session_id", id).Warn("failed to delete session record after destroy")
		}
		delete(sessions, id)
		p.logger.WithField("session_id", id).Info("decommissioned idle session runner")
	}
	return nil
}

// reconcile deletes store entries the backend no longer has, then
// rebuilds sessions:available from the truth of each remaining
// session's slot accounting. The empty-list() guard prevents a backend
// outage from looking like every runner vanished.
func (p *Provider) reconcile(ctx context.Context, sessions map[string]*models.Session) error {
	instances, err := p.backend.List(ctx)
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		p.logger.Warn("backend.List() returned empty; skipping deletion step to avoid a catastrophic wipe")
		return p.st.RebuildAvailableIndex(ctx, sessions)
	}

	known := make(map[string]bool, len(instances))
	for _, inst := range instances {
		known[inst.ID] = true
	}

	for id := range sessions {
		if !known[id] {
			if err := p.st.DeleteSession(ctx, id); err != nil {
				p.logger.WithError(err).WithField("session_id", id).Warn("failed to delete orphaned session record")
				continue
			}
			delete(sessions, id)
		}
	}

	return p.st.RebuildAvailableIndex(ctx, sessions)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
