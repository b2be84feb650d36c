package matchmaker

import (
	"context"

	"github.com/nimblegames/arena/internal/models"
	"github.com/nimblegames/arena/internal/store"
)

// classifyCandidates is the pure half of the stale-queue algorithm:
// given a batch of popped IDs and their known player state, it sorts
// them into newly picked players (up to n total) and leftovers to
// return to the tail. Everything neither picked nor returned — any ID
// whose state isn't READY — is discarded as stale.
//
// alreadyPicked guards against duplicate queue hints for the same
// player (repeated READY_UP calls produce duplicate entries) counting
// as distinct players — without it a duplicate hint could inflate
// picked past the player set's true size, since game:{id}:players is a
// set and would silently collapse the duplicate, violating the
// exact-N guarantee on a formed game.
func classifyCandidates(candidateIDs []string, states map[string]*models.Player, n int, picked []string, alreadyPicked map[string]bool) (updatedPicked, leftover []string) {
	for _, id := range candidateIDs {
		p, ok := states[id]
		if !ok || p.State != models.StateReady {
			continue
		}
		if alreadyPicked[id] {
			continue
		}
		if len(picked) < n {
			picked = append(picked, id)
			alreadyPicked[id] = true
		} else {
			leftover = append(leftover, id)
		}
	}
	return picked, leftover
}

// CollectBatch pops up to
// min(2·(n-|picked|), MAX_PULL-inspected) IDs at a time, classifies them,
// and keep going until n players are picked or MAX_PULL candidates have
// been inspected. Leftovers are returned to the tail to preserve rough
// FIFO order; if the pass comes up short, the partial picked set is
// returned to the tail too and ok is false so the caller releases its
// reservation.
func CollectBatch(ctx context.Context, st *store.Store, n, maxPullMultiplier int) (picked []string, ok bool, err error) {
	maxPull := maxPullMultiplier * n
	inspected := 0
	var toReturn []string
	alreadyPicked := make(map[string]bool, n)

	for len(picked) < n && inspected < maxPull {
		popCount := min(2*(n-len(picked)), maxPull-inspected)
		ids, err := st.PopHead(ctx, int64(popCount))
		if err != nil {
			return nil, false, err
		}
		if len(ids) == 0 {
			break
		}
		inspected += len(ids)

		states, err := st.GetPlayers(ctx, ids)
		if err != nil {
			return nil, false, err
		}

		var extra []string
		picked, extra = classifyCandidates(ids, states, n, picked, alreadyPicked)
		toReturn = append(toReturn, extra...)
	}

	if len(toReturn) > 0 {
		if err := st.EnqueueMany(ctx, toReturn); err != nil {
			return nil, false, err
		}
	}

	if len(picked) < n {
		if err := st.EnqueueMany(ctx, picked); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	return picked, true, nil
}
