package engine

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/lazypower/rapport/internal/store"
)

const (
	maxAgentIDChars = 200
	maxEventIDChars = 200
	maxFutureSkew   = time.Hour
)

// normalizeEvent validates an incoming event and fills defaults: a generated
// event id, the configured weight for its kind, and the engine clock.
func (e *Engine) normalizeEvent(ev Event) (Event, error) {
	ev.AgentID = strings.TrimSpace(ev.AgentID)
	switch {
	case ev.AgentID == "":
		return ev, &ValidationError{Field: "agent_id", Reason: "empty"}
	case utf8.RuneCountInString(ev.AgentID) > maxAgentIDChars:
		return ev, &ValidationError{Field: "agent_id", Reason: "too long"}
	case strings.IndexFunc(ev.AgentID, unicode.IsSpace) >= 0:
		return ev, &ValidationError{Field: "agent_id", Reason: "contains whitespace"}
	}

	ev.Kind = store.Kind(strings.ToLower(strings.TrimSpace(string(ev.Kind))))
	if !ev.Kind.Valid() {
		return ev, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", ev.Kind)}
	}

	if ev.Weight == nil {
		w, ok := e.cfg.DefaultWeights[string(ev.Kind)]
		if !ok {
			w = 1
		}
		ev.Weight = &w
	} else if w := *ev.Weight; w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
		return ev, &ValidationError{Field: "weight", Reason: "must be a finite non-negative number"}
	}

	now := e.Now()
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = now
	} else if ev.OccurredAt.After(now.Add(maxFutureSkew)) {
		return ev, &ValidationError{Field: "occurred_at", Reason: "in the future"}
	}

	ev.EventID = strings.TrimSpace(ev.EventID)
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	} else if len(ev.EventID) > maxEventIDChars {
		return ev, &ValidationError{Field: "event_id", Reason: "too long"}
	}

	ev.DisplayName = strings.TrimSpace(ev.DisplayName)
	ev.Content = truncateClean(strings.TrimSpace(ev.Content), e.cfg.MaxContentChars)
	return ev, nil
}

// placeholderBackstories are fallback strings some services return instead of failing.
var placeholderBackstories = []string{
	"llm not available",
	"no_update",
}

// cleanBackstory normalizes narrative output and rejects unusable text.
func cleanBackstory(raw string, minChars, maxChars int) (string, error) {
	s := unwrapOutput(raw)
	if isPlaceholder(s) {
		return "", fmt.Errorf("placeholder output %q", s)
	}
	if n := utf8.RuneCountInString(s); n < minChars {
		return "", fmt.Errorf("output too short (%d chars, min %d)", n, minChars)
	}
	return truncateClean(s, maxChars), nil
}

const (
	minArcChars = 10
	maxArcChars = 300
)

// cleanArc keeps the first line of arc output and rejects unusable text.
func cleanArc(raw string) (string, error) {
	s := unwrapOutput(raw)
	if line, _, ok := strings.Cut(s, "\n"); ok {
		s = unwrapOutput(line)
	}
	if isPlaceholder(s) {
		return "", fmt.Errorf("placeholder output %q", s)
	}
	if n := utf8.RuneCountInString(s); n < minArcChars {
		return "", fmt.Errorf("arc too short (%d chars, min %d)", n, minArcChars)
	}
	return truncateClean(s, maxArcChars), nil
}

// unwrapOutput trims model output and strips markdown code fences and
// wrapping quotes.
func unwrapOutput(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		lines := strings.Split(s, "\n")
		kept := lines[:0]
		for _, l := range lines {
			if strings.HasPrefix(strings.TrimSpace(l), "```") {
				continue
			}
			kept = append(kept, l)
		}
		s = strings.TrimSpace(strings.Join(kept, "\n"))
	}
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

func isPlaceholder(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range placeholderBackstories {
		if lower == p {
			return true
		}
	}
	return false
}

// truncateClean truncates a string to maxLen runes, cutting at the last word
// boundary to avoid mid-word breaks. Never splits a UTF-8 sequence.
func truncateClean(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}

	cut, n := len(s), 0
	for i := range s {
		if n == maxLen {
			cut = i
			break
		}
		n++
	}
	truncated := s[:cut]
	if idx := strings.LastIndexFunc(truncated, unicode.IsSpace); idx > 0 && utf8.RuneCountInString(truncated[idx:]) < 200 {
		truncated = truncated[:idx]
	}
	return strings.TrimSpace(truncated)
}
