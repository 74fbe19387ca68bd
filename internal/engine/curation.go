package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/lazypower/rapport/internal/store"
)

const maxClassificationChars = 32

// Pin marks a relationship as curated inner circle. Pinned relationships
// still go dormant but are never demoted by decay.
func (e *Engine) Pin(ctx context.Context, agentID string, pinned bool) (*store.Relationship, error) {
	return e.curate(ctx, agentID, func(r *store.Relationship) bool {
		if r.Pinned == pinned {
			return false
		}
		r.Pinned = pinned
		return true
	})
}

// PinAtTier pins a relationship and places it at tier by hand, the way a
// curated inner circle is seeded. Ingestion only ever raises the tier from
// there, and decay leaves it alone while the pin holds.
func (e *Engine) PinAtTier(ctx context.Context, agentID string, tier int) (*store.Relationship, error) {
	if tier < TierAcquaintance || tier > TierInnerCircle {
		return nil, &ValidationError{Field: "tier", Reason: fmt.Sprintf("must be between %d and %d", TierAcquaintance, TierInnerCircle)}
	}
	return e.curate(ctx, agentID, func(r *store.Relationship) bool {
		if r.Pinned && r.Tier == tier {
			return false
		}
		r.Pinned = true
		r.Tier = tier
		r.DemotedAt = nil
		return true
	})
}

// Classify sets a free-form classification. "bot" and "spammer" cap future
// automatic promotion at acquaintance; an empty class clears it. Existing
// tiers are never lowered here.
func (e *Engine) Classify(ctx context.Context, agentID, class string) (*store.Relationship, error) {
	class = strings.ToLower(strings.TrimSpace(class))
	if len(class) > maxClassificationChars {
		return nil, &ValidationError{Field: "classification", Reason: "too long"}
	}
	for _, r := range class {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
			return nil, &ValidationError{Field: "classification", Reason: "only [a-z0-9_-] allowed"}
		}
	}
	return e.curate(ctx, agentID, func(r *store.Relationship) bool {
		if r.Classification == class {
			return false
		}
		r.Classification = class
		return true
	})
}

func (e *Engine) curate(ctx context.Context, agentID string, fn func(r *store.Relationship) bool) (*store.Relationship, error) {
	unlock := e.locks.Lock(agentID)
	defer unlock()

	rel, changed, err := e.DB.UpdateRelationship(ctx, agentID, e.Now().UnixMilli(), func(r *store.Relationship) (bool, error) {
		return fn(r), nil
	})
	if err != nil {
		return nil, e.storageFailure("curate relationship", err)
	}
	if rel == nil {
		return nil, ErrNotFound
	}
	if changed {
		e.Log.Info("curation: updated", "agent", agentID, "pinned", rel.Pinned, "tier", rel.Tier,
			"classification", rel.Classification)
	}
	return rel, nil
}
