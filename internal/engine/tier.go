package engine

import "github.com/lazypower/rapport/internal/config"

const (
	TierStranger      = 0
	TierAcquaintance  = 1
	TierKnown         = 2
	TierFriendOrRival = 3
	TierInnerCircle   = 4
)

var tierLabels = [...]string{
	TierStranger:      "stranger",
	TierAcquaintance:  "acquaintance",
	TierKnown:         "known",
	TierFriendOrRival: "friend_or_rival",
	TierInnerCircle:   "inner_circle",
}

// TierLabel returns the public name of a tier.
func TierLabel(tier int) string {
	if tier < 0 || tier >= len(tierLabels) {
		return "unknown"
	}
	return tierLabels[tier]
}

// signals are the aggregates tier thresholds are evaluated against.
type signals struct {
	Score float64
	Count int
	Kinds int
}

// candidateTier is the highest configured tier whose minimums are all met.
func candidateTier(thresholds []config.TierThreshold, s signals) int {
	best := TierStranger
	for _, t := range thresholds {
		if s.Score >= t.MinScore && s.Count >= t.MinInteractions && s.Kinds >= t.MinKinds && t.Tier > best {
			best = t.Tier
		}
	}
	return best
}

// cappedClassifications never promote past acquaintance automatically.
var cappedClassifications = map[string]bool{
	"bot":     true,
	"spammer": true,
}

// promote applies a candidate tier to the current one. Ingestion never
// lowers a tier and never climbs more than one level per update.
func promote(current, candidate int, classification string) int {
	if cappedClassifications[classification] && candidate > TierAcquaintance {
		candidate = TierAcquaintance
	}
	if candidate <= current {
		return current
	}
	return min(candidate, current+1)
}
