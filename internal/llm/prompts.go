package llm

import (
	"fmt"
	"strings"
)

// BackstoryContext is the context package assembled for one relationship.
type BackstoryContext struct {
	Agent          string
	DisplayName    string
	Tier           int
	TierLabel      string
	Classification string
	Status         string
	Score          float64
	Interactions   int
	FirstSeen      string
	Existing       string
	Moments        []string
	Topics         []string
	Recent         []string // "[2006-01-02] kind: excerpt", most recent first
}

const backstorySystem = `You are the relationship memory of an autonomous social-media agent.
You write short, specific backstories about the accounts it interacts with.
Only reference things that appear in the interaction history you are given.
Return plain prose. No headings, no markdown, no preamble.`

// BackstoryMessages builds the conversation sent to the narrative service.
func BackstoryMessages(c BackstoryContext) []Message {
	var b strings.Builder
	fmt.Fprintf(&b, "AGENT: %s\n", c.Agent)
	if c.DisplayName != "" {
		fmt.Fprintf(&b, "DISPLAY NAME: %s\n", c.DisplayName)
	}
	fmt.Fprintf(&b, "RELATIONSHIP TIER: %s (Tier %d)\n", c.TierLabel, c.Tier)
	if c.Classification != "" {
		fmt.Fprintf(&b, "CLASSIFICATION: %s\n", c.Classification)
	}
	fmt.Fprintf(&b, "STATUS: %s\n", c.Status)
	fmt.Fprintf(&b, "ENGAGEMENT SCORE: %.1f\n", c.Score)
	fmt.Fprintf(&b, "TOTAL INTERACTIONS: %d\n", c.Interactions)
	fmt.Fprintf(&b, "FIRST INTERACTION: %s\n", c.FirstSeen)
	if len(c.Topics) > 0 {
		fmt.Fprintf(&b, "TOPICS DISCUSSED: %s\n", strings.Join(c.Topics, ", "))
	}

	b.WriteString("\n=== RECENT INTERACTIONS ===\n")
	if len(c.Recent) == 0 {
		b.WriteString("(none recorded)\n")
	}
	for _, line := range c.Recent {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	if len(c.Moments) > 0 {
		b.WriteString("\n=== MEMORABLE MOMENTS ===\n")
		for _, m := range c.Moments {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}

	if c.Existing != "" {
		b.WriteString("\n=== PREVIOUS BACKSTORY ===\n")
		b.WriteString(c.Existing)
		b.WriteByte('\n')
	}

	b.WriteString("\nWrite 1-3 short paragraphs covering how the relationship started, ")
	b.WriteString("the notable patterns in their messages, and where it stands now.")
	if c.Status == "reconnected" {
		b.WriteString(" They recently came back after a quiet stretch; say so.")
	}
	if c.Classification == "bot" || c.Classification == "spammer" {
		b.WriteString(" They look automated or spammy; note that with some skepticism.")
	}
	b.WriteString(" Keep it around 150 words.")

	return []Message{
		{Role: RoleSystem, Content: backstorySystem},
		{Role: RoleUser, Content: b.String()},
	}
}

const arcSystem = `You summarize how a relationship between social-media accounts has developed.
Answer with exactly one sentence. No quotes, no preamble.`

// ArcMessages asks for a one-sentence relationship arc, written after the
// backstory so the arc can lean on it.
func ArcMessages(c BackstoryContext, backstory string) []Message {
	var b strings.Builder
	b.WriteString("RELATIONSHIP ARC\n")
	fmt.Fprintf(&b, "AGENT: %s\n", c.Agent)
	classification := c.Classification
	if classification == "" {
		classification = "unclassified"
	}
	fmt.Fprintf(&b, "CLASSIFICATION: %s\n", classification)
	fmt.Fprintf(&b, "TIER: %s\n", c.TierLabel)
	fmt.Fprintf(&b, "TOTAL INTERACTIONS: %d\n", c.Interactions)
	fmt.Fprintf(&b, "FIRST INTERACTION: %s\n", c.FirstSeen)
	if backstory != "" {
		fmt.Fprintf(&b, "\nBACKSTORY:\n%s\n", backstory)
	}
	b.WriteString(`
Examples of good arcs:
- Started as a random mention, proved to be thoughtful, now a regular in the feed.
- Clearly a bot from day one. Tolerated as background noise.
- Rival energy from the start. Mutual respect wrapped in competition.

Write just the arc sentence.`)

	return []Message{
		{Role: RoleSystem, Content: arcSystem},
		{Role: RoleUser, Content: b.String()},
	}
}

const momentSystem = `You classify single social-media interactions.
Return ONLY a JSON object, no markdown: {"memorable": true|false, "tag": "<short note, max 12 words>"}`

// MomentMessages builds the memorable-moment classifier conversation.
func MomentMessages(agent, kind, content string) []Message {
	user := fmt.Sprintf(`Interaction from %s (%s):

%q

Is this a standout exchange worth remembering: strong sentiment, a tip, a public callout,
or a thoughtful message? If memorable, tag it with a short note describing what happened.`, agent, kind, content)
	return []Message{
		{Role: RoleSystem, Content: momentSystem},
		{Role: RoleUser, Content: user},
	}
}
