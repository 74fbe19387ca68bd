package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Context renders what the agent should know about a counterpart before
// replying. Detail scales with tier: strangers get one line, friends and
// the inner circle get the full backstory and memorable moments.
func (e *Engine) Context(ctx context.Context, agentID string) (string, error) {
	rel, err := e.DB.GetRelationship(ctx, agentID)
	if err != nil {
		return "", storageErr("relationship context", err)
	}
	if rel == nil {
		return fmt.Sprintf("Unknown agent %s. No prior interactions. Treat as a stranger.", agentID), nil
	}

	now := e.Now()
	lastSeen := humanize.RelTime(time.UnixMilli(rel.LastInteractionAt), now, "ago", "from now")
	classification := rel.Classification
	if classification == "" {
		classification = "unclassified"
	}

	switch rel.Tier {
	case TierStranger:
		return fmt.Sprintf("%s - Stranger. No significant history. %d interactions, last %s.",
			agentID, rel.InteractionCount, lastSeen), nil
	case TierAcquaintance:
		note := rel.Backstory
		if note == "" {
			note = "No notes yet."
		}
		return fmt.Sprintf("%s - Acquaintance (Tier 1)\nClassification: %s\nInteractions: %d\nNote: %s",
			agentID, classification, rel.InteractionCount, truncateClean(note, 200)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "RELATIONSHIP CONTEXT FOR %s:\n", agentID)
	fmt.Fprintf(&b, "- Status: %s (Tier %d), %s\n", TierLabel(rel.Tier), rel.Tier, rel.Status)
	fmt.Fprintf(&b, "- Classification: %s\n", classification)
	fmt.Fprintf(&b, "- Interactions: %d, last %s\n", rel.InteractionCount, lastSeen)

	if rel.Tier == TierKnown {
		fmt.Fprintf(&b, "- Topics: %s\n", joinTopics(rel.TopTopics, 3, "general"))
		fmt.Fprintf(&b, "- Arc: %s\n", orDefault(rel.Arc, "Still getting to know them."))
		backstory := rel.Backstory
		if backstory == "" {
			backstory = "No detailed backstory yet."
		}
		fmt.Fprintf(&b, "\nBackstory: %s", truncateClean(backstory, 300))
		return b.String(), nil
	}

	fmt.Fprintf(&b, "- First met: %s\n", time.UnixMilli(rel.FirstInteractionAt).UTC().Format("2006-01-02"))
	fmt.Fprintf(&b, "- Topics discussed: %s\n", joinTopics(rel.TopTopics, 0, "various"))
	if rel.Pinned {
		b.WriteString("- Pinned to the inner circle\n")
	}
	fmt.Fprintf(&b, "\nRelationship arc: %s\n", orDefault(rel.Arc, "Long-standing connection."))
	backstory := rel.Backstory
	if backstory == "" {
		backstory = "A valued member of the crew."
	}
	fmt.Fprintf(&b, "\nBackstory:\n%s\n", backstory)

	if n := len(rel.MemorableMoments); n > 0 {
		b.WriteString("\nMemorable moments:\n")
		// newest first
		for i := n - 1; i >= 0 && i >= n-2; i-- {
			fmt.Fprintf(&b, "- %s\n", truncateClean(rel.MemorableMoments[i], 100))
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func joinTopics(topics []string, limit int, fallback string) string {
	if len(topics) == 0 {
		return fallback
	}
	if limit > 0 && len(topics) > limit {
		topics = topics[:limit]
	}
	return strings.Join(topics, ", ")
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
