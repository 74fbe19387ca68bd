package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lazypower/rapport/internal/store"
)

// Event is one interaction reported by a platform wrapper.
type Event struct {
	EventID     string     `json:"event_id,omitempty"` // platform post id; generated when empty
	AgentID     string     `json:"agent_id"`           // platform-scoped handle, e.g. "moltx:SlopLauncher"
	DisplayName string     `json:"display_name,omitempty"`
	Kind        store.Kind `json:"kind"`
	Content     string     `json:"content,omitempty"`
	Weight      *float64   `json:"weight,omitempty"` // defaults to the configured weight for Kind
	OccurredAt  time.Time  `json:"occurred_at,omitempty"`
}

// Record appends an interaction to the ledger and updates the agent's
// relationship in the same transaction. Recording an event id that is
// already stored is a no-op that returns the current relationship; reusing
// another agent's event id is a validation error.
func (e *Engine) Record(ctx context.Context, ev Event) (*store.Relationship, error) {
	ev, err := e.normalizeEvent(ev)
	if err != nil {
		e.stats.invalid.Add(1)
		e.Log.Warn("record: dropped invalid event", "agent", ev.AgentID, "err", err)
		return nil, err
	}

	unlock := e.locks.Lock(ev.AgentID)
	defer unlock()

	owner, err := e.DB.InteractionOwner(ctx, ev.EventID)
	if err != nil {
		return nil, e.storageFailure("record interaction", err)
	}
	if owner != "" {
		return e.duplicate(ctx, ev, owner)
	}

	now := e.Now().UnixMilli()
	in := &store.Interaction{
		EventID:    ev.EventID,
		AgentID:    ev.AgentID,
		Kind:       ev.Kind,
		Content:    ev.Content,
		Weight:     *ev.Weight,
		OccurredAt: ev.OccurredAt.UnixMilli(),
		RecordedAt: now,
	}

	// Classify before the transaction: the detector may call out to a
	// model and the store has a single connection.
	tag, memorable := e.Detector.Detect(ctx, in)

	var rel *store.Relationship
	var promotedFrom int
	err = e.DB.InTx(ctx, func(tx *store.Tx) error {
		// Another writer may have stored the event since the check above.
		// Nothing is written for a duplicate, agent metadata included.
		var err error
		if owner, err = tx.InteractionOwner(ctx, ev.EventID); err != nil || owner != "" {
			return err
		}
		if err := tx.UpsertAgent(ctx, ev.AgentID, ev.DisplayName, in.OccurredAt, now); err != nil {
			return err
		}
		inserted, err := tx.InsertInteraction(ctx, in)
		if err != nil {
			return err
		}
		if !inserted {
			return fmt.Errorf("insert interaction %s: lost to a concurrent writer", ev.EventID)
		}

		agg, err := tx.AggregateInteractions(ctx, ev.AgentID)
		if err != nil {
			return err
		}
		recent, err := tx.RecentInteractions(ctx, ev.AgentID, topicWindow)
		if err != nil {
			return err
		}
		if rel, err = tx.GetRelationship(ctx, ev.AgentID); err != nil {
			return err
		}
		if rel == nil {
			rel = &store.Relationship{AgentID: ev.AgentID, Tier: TierStranger, Status: store.StatusActive}
		}
		promotedFrom = rel.Tier
		rel.EngagementScore = agg.Score
		rel.InteractionCount = agg.Count
		rel.DistinctKinds = agg.DistinctKinds
		rel.FirstInteractionAt = agg.FirstAt
		rel.LastInteractionAt = agg.LastAt
		rel.TopTopics = topTopics(recent, maxTopics)
		rel.Tier = promote(rel.Tier, candidateTier(e.cfg.Tiers, signals{
			Score: agg.Score,
			Count: agg.Count,
			Kinds: agg.DistinctKinds,
		}), rel.Classification)
		if memorable {
			rel.MemorableMoments = appendMoment(rel.MemorableMoments, tag, e.cfg.MomentCap)
		}
		return tx.PutRelationship(ctx, rel, now)
	})
	if err != nil {
		return nil, e.storageFailure("record interaction", err)
	}
	if owner != "" {
		return e.duplicate(ctx, ev, owner)
	}

	e.stats.recorded.Add(1)
	e.Log.Debug("record: stored", "agent", ev.AgentID, "kind", ev.Kind, "event", ev.EventID,
		"score", rel.EngagementScore, "tier", rel.Tier)
	if rel.Tier > promotedFrom {
		e.Log.Info("tier: promoted", "agent", ev.AgentID, "from", TierLabel(promotedFrom), "to", TierLabel(rel.Tier))
	}
	if memorable {
		e.Log.Debug("moments: flagged", "agent", ev.AgentID, "tag", tag)
	}
	return rel, nil
}

// duplicate answers an event id that is already in the ledger. The event
// is a no-op for its own agent and a validation error for any other.
func (e *Engine) duplicate(ctx context.Context, ev Event, owner string) (*store.Relationship, error) {
	if owner != ev.AgentID {
		e.stats.invalid.Add(1)
		e.Log.Warn("record: event id belongs to another agent", "agent", ev.AgentID, "owner", owner, "event", ev.EventID)
		return nil, &ValidationError{Field: "event_id", Reason: "already recorded for a different agent"}
	}
	e.stats.duplicates.Add(1)
	rel, err := e.DB.GetRelationship(ctx, ev.AgentID)
	if err != nil {
		return nil, e.storageFailure("record interaction", err)
	}
	if rel == nil {
		return nil, storageErr("record interaction", fmt.Errorf("ledger has %s but no relationship for %s", ev.EventID, ev.AgentID))
	}
	e.Log.Debug("record: duplicate event", "agent", ev.AgentID, "event", ev.EventID)
	return rel, nil
}

func (e *Engine) storageFailure(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	e.stats.storageFailures.Add(1)
	e.Log.Error("storage: operation failed", "op", op, "err", err)
	return storageErr(op, err)
}

// RecentInteractions returns up to limit interactions for an agent, most recent first.
func (e *Engine) RecentInteractions(ctx context.Context, agentID string, limit int) ([]store.Interaction, error) {
	ins, err := e.DB.RecentInteractions(ctx, agentID, limit)
	if err != nil {
		return nil, storageErr("recent interactions", err)
	}
	return ins, nil
}

// CountInteractions returns the number of recorded interactions for an agent.
func (e *Engine) CountInteractions(ctx context.Context, agentID string) (int, error) {
	n, err := e.DB.CountInteractions(ctx, agentID)
	if err != nil {
		return 0, storageErr("count interactions", err)
	}
	return n, nil
}

// Relationship returns the relationship for an agent or ErrNotFound.
func (e *Engine) Relationship(ctx context.Context, agentID string) (*store.Relationship, error) {
	rel, err := e.DB.GetRelationship(ctx, agentID)
	if err != nil {
		return nil, storageErr("get relationship", err)
	}
	if rel == nil {
		return nil, ErrNotFound
	}
	return rel, nil
}
