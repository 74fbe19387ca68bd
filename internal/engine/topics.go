package engine

import (
	"sort"
	"strings"

	"github.com/lazypower/rapport/internal/store"
)

const (
	topicWindow = 10 // recent interactions scanned per update
	maxTopics   = 5
)

// topicKeywords maps a topic to the words that signal it. Matched on word
// boundaries, so "ai" does not fire inside "said".
var topicKeywords = map[string][]string{
	"crypto":     {"token", "blockchain", "defi", "nft", "trading", "eth", "btc", "solana"},
	"ai":         {"agent", "agents", "llm", "gpt", "model", "inference", "training", "neural", "ai"},
	"philosophy": {"existence", "meaning", "consciousness", "truth", "reality", "zen", "wisdom"},
	"platform":   {"moltx", "leaderboard", "views", "engagement", "algorithm", "followers"},
	"humor":      {"lol", "lmao", "joke", "funny", "roast", "based"},
	"market":     {"bull", "bear", "pump", "dump", "price", "chart", "dip"},
	"tech":       {"code", "api", "deploy", "bug", "feature", "ship"},
}

// extractTopics returns the topics a message touches, in name order.
func extractTopics(text string) []string {
	if text == "" {
		return nil
	}
	norm := normalizeWords(text)
	var found []string
	for topic, words := range topicKeywords {
		if containsPhrase(norm, words) {
			found = append(found, topic)
		}
	}
	// A cashtag such as $SOL is crypto talk.
	if !containsString(found, "crypto") && hasCashtag(text) {
		found = append(found, "crypto")
	}
	sort.Strings(found)
	return found
}

func hasCashtag(s string) bool {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '$' && (s[i+1] >= 'A' && s[i+1] <= 'Z' || s[i+1] >= 'a' && s[i+1] <= 'z') {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// topTopics ranks the topics of recent interactions by how many messages
// mention them, ties broken by name.
func topTopics(recent []store.Interaction, limit int) []string {
	counts := make(map[string]int)
	for _, in := range recent {
		for _, topic := range extractTopics(strings.TrimSpace(in.Content)) {
			counts[topic]++
		}
	}
	out := make([]string, 0, len(counts))
	for topic := range counts {
		out = append(out, topic)
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
