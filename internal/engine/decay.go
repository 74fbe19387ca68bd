package engine

// Decay/reconnection sweep.
//
// Per relationship, evaluated against the sweep watermark (the
// last_interaction_at seen by the previous sweep):
//   - reconnected -> active once a decay interval has passed
//   - dormant -> reconnected when last_interaction_at moved past the
//     watermark and the new activity is within the dormancy window
//   - active -> dormant when now - last_interaction_at > dormancy_after
//   - dormant and unpinned: drop one tier when
//     now - max(last_interaction_at, demoted_at) > demote_after
// Each row is read and written in its own short transaction under the
// agent's lock, so ingestion for other agents is never blocked.

import (
	"context"
	"errors"

	"github.com/lazypower/rapport/internal/store"
)

// SweepResult counts the transitions made by one sweep.
type SweepResult struct {
	Scanned     int `json:"scanned"`
	Dormant     int `json:"dormant"`
	Reconnected int `json:"reconnected"`
	Reactivated int `json:"reactivated"`
	Demoted     int `json:"demoted"`
	Failed      int `json:"failed"`
}

// Changed is the number of relationships whose status or tier changed.
func (r SweepResult) Changed() int {
	return r.Dormant + r.Reconnected + r.Reactivated + r.Demoted
}

type decayOutcome struct {
	dormant, reconnected, reactivated, demoted bool
}

// Sweep runs one decay/reconnection pass over every relationship. Per-row
// failures are counted and the sweep continues; the first is returned.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	ids, err := e.DB.ListAgentIDs(ctx)
	if err != nil {
		return res, e.storageFailure("sweep", err)
	}

	now := e.Now().UnixMilli()
	var firstErr error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++

		var out decayOutcome
		unlock := e.locks.Lock(id)
		_, _, err := e.DB.UpdateRelationship(ctx, id, now, func(r *store.Relationship) (bool, error) {
			var changed bool
			out, changed = e.decayStep(r, now)
			return changed, nil
		})
		unlock()

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return res, err
			}
			res.Failed++
			e.stats.storageFailures.Add(1)
			if firstErr == nil {
				firstErr = err
			}
			e.Log.Error("decay: update failed", "agent", id, "err", err)
			continue
		}
		if out.dormant {
			res.Dormant++
		}
		if out.reconnected {
			res.Reconnected++
			e.Log.Info("decay: reconnected", "agent", id)
		}
		if out.reactivated {
			res.Reactivated++
		}
		if out.demoted {
			res.Demoted++
			e.Log.Info("decay: demoted", "agent", id)
		}
	}

	e.stats.sweeps.Add(1)
	if firstErr != nil {
		return res, storageErr("sweep", firstErr)
	}
	return res, nil
}

// decayStep applies the sweep rules to one relationship at time now.
func (e *Engine) decayStep(r *store.Relationship, now int64) (decayOutcome, bool) {
	var out decayOutcome
	changed := false
	dormancy := e.cfg.Decay.DormancyAfter.Milliseconds()
	demoteAfter := e.cfg.Decay.DemoteAfter.Milliseconds()
	interval := e.cfg.Decay.Interval.Milliseconds()

	last := r.LastInteractionAt
	moved := r.SweptLastInteractionAt != nil && last > *r.SweptLastInteractionAt

	setStatus := func(s store.Status) {
		r.Status = s
		r.StatusChangedAt = &now
		changed = true
	}

	switch r.Status {
	case store.StatusReconnected:
		// Ticks land a little early or late; a tenth of the interval of
		// slack keeps the status to exactly one timer sweep.
		if r.StatusChangedAt == nil || now-*r.StatusChangedAt >= interval-interval/10 {
			setStatus(store.StatusActive)
			out.reactivated = true
		}
	case store.StatusDormant:
		if moved && now-last <= dormancy {
			setStatus(store.StatusReconnected)
			out.reconnected = true
		}
	default:
		if now-last > dormancy {
			setStatus(store.StatusDormant)
			out.dormant = true
		}
	}

	if r.Status == store.StatusDormant && !r.Pinned && r.Tier > TierStranger {
		since := last
		if r.DemotedAt != nil && *r.DemotedAt > since {
			since = *r.DemotedAt
		}
		if now-since > demoteAfter {
			r.Tier--
			r.DemotedAt = &now
			out.demoted = true
			changed = true
		}
	}

	if r.SweptLastInteractionAt == nil || *r.SweptLastInteractionAt != last {
		r.SweptLastInteractionAt = &last
		changed = true
	}
	return out, changed
}
