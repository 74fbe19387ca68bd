package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/lazypower/rapport/internal/llm"
	"github.com/lazypower/rapport/internal/store"
)

// MomentDetector decides whether an interaction deserves a memorable-moment
// tag. Detectors must not fail ingestion: they return ok=false instead.
type MomentDetector interface {
	Detect(ctx context.Context, in *store.Interaction) (tag string, ok bool)
}

const (
	momentExcerptChars = 100
	momentThreshold    = 2.0
	momentCallTimeout  = 10 * time.Second
)

// Low-effort phrases. Matched on word boundaries.
var lowEffortPhrases = []string{
	"great point", "well said", "love this", "so true", "agree", "nice", "gm",
	"wagmi", "lfg", "bullish", "facts", "needed to be said", "spot on", "nailed it",
}

var backReferences = []string{"you said", "earlier", "remember", "last time"}

var strongSentiment = []string{
	"love", "hate", "amazing", "terrible", "legendary", "grateful", "thank you",
	"furious", "incredible", "worst", "best", "brilliant", "disgusting",
}

var calloutWords = []string{"wrong", "fraud", "scam", "shoutout", "shout out", "props to", "called out", "calling out"}

// normalizeWords lowercases s and collapses every run of non-alphanumerics
// into one space, padded so phrases can be matched as " phrase ".
func normalizeWords(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(fields, " ") + " "
}

func containsPhrase(normalized string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(normalized, " "+p+" ") {
			return true
		}
	}
	return false
}

// depthScore rates how much thought went into a message, from 0 to 1.
func depthScore(message string) float64 {
	if message == "" {
		return 0
	}
	norm := normalizeWords(message)

	score := min(0.3, float64(len(message))/500)
	if strings.Contains(message, "?") {
		score += 0.2
	}
	if strings.Contains(message, "@") {
		score += 0.15
	}
	if containsPhrase(norm, backReferences) {
		score += 0.15
	}
	if containsPhrase(norm, lowEffortPhrases) {
		score -= 0.4
	}

	words := strings.Fields(message)
	if len(words) > 3 {
		unique := make(map[string]struct{}, len(words))
		for _, w := range words {
			unique[strings.ToLower(w)] = struct{}{}
		}
		score += float64(len(unique)) / float64(len(words)) * 0.2
	}
	return max(0, min(1, score))
}

// HeuristicDetector flags tips, strong sentiment, public callouts and
// unusually thoughtful messages without any network call.
type HeuristicDetector struct{}

func (HeuristicDetector) Detect(_ context.Context, in *store.Interaction) (string, bool) {
	excerpt := truncateClean(in.Content, momentExcerptChars)
	if in.Kind == store.KindTip {
		if excerpt == "" {
			return "tipped us", true
		}
		return fmt.Sprintf("tipped us: %q", excerpt), true
	}
	if in.Content == "" {
		return "", false
	}

	norm := normalizeWords(in.Content)
	score := depthScore(in.Content) * 2
	reason := "thoughtful"
	if containsPhrase(norm, strongSentiment) {
		score += 1
		reason = "strong words"
	}
	if (in.Kind == store.KindQuote || in.Kind == store.KindMention || in.Kind == store.KindReply) &&
		containsPhrase(norm, calloutWords) {
		score += 1
		reason = "public callout"
	}
	if strings.Contains(in.Content, "?") && (in.Kind == store.KindMention || in.Kind == store.KindReply) {
		score += 0.5
	}
	if score < momentThreshold {
		return "", false
	}
	return fmt.Sprintf("%s %s: %q", reason, in.Kind, excerpt), true
}

// LLMDetector asks a language model for a verdict and falls back to
// another detector whenever the call or its output fails.
type LLMDetector struct {
	Client   llm.Client
	Fallback MomentDetector
	Timeout  time.Duration
	Log      *slog.Logger
}

type momentVerdict struct {
	Memorable bool   `json:"memorable"`
	Tag       string `json:"tag"`
}

func (d *LLMDetector) Detect(ctx context.Context, in *store.Interaction) (string, bool) {
	if in.Content == "" && in.Kind != store.KindTip {
		return "", false
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = momentCallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := d.Client.Complete(callCtx, llm.MomentMessages(in.AgentID, string(in.Kind), in.Content))
	if err == nil && resp == nil {
		err = fmt.Errorf("empty classifier response")
	}
	if err == nil {
		var v momentVerdict
		if v, err = parseVerdict(resp.Content); err == nil {
			tag := truncateClean(strings.TrimSpace(v.Tag), momentExcerptChars)
			if !v.Memorable {
				return "", false
			}
			if tag != "" {
				return tag, true
			}
			err = fmt.Errorf("memorable verdict without tag")
		}
	}

	if d.Log != nil {
		d.Log.Debug("moments: classifier fallback", "agent", in.AgentID,
			"err", (&ExternalServiceError{Service: "classifier", Agent: in.AgentID, Err: err}).Error())
	}
	if d.Fallback == nil {
		return "", false
	}
	return d.Fallback.Detect(ctx, in)
}

// parseVerdict extracts the first JSON object from model output.
func parseVerdict(s string) (momentVerdict, error) {
	var v momentVerdict
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return v, fmt.Errorf("no JSON object in classifier output")
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &v); err != nil {
		return v, fmt.Errorf("decode verdict: %w", err)
	}
	return v, nil
}

// appendMoment adds tag to the ring buffer, evicting the oldest entries past
// limit. A tag nearly identical to the newest entry is dropped.
func appendMoment(moments []string, tag string, limit int) []string {
	if n := len(moments); n > 0 && textNearIdentical(moments[n-1], tag) {
		return moments
	}
	out := append(append([]string{}, moments...), tag)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// textNearIdentical returns true if two strings are >95% similar by shared
// bigram ratio (Jaccard index).
func textNearIdentical(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == b {
		return true
	}
	if a == "" || b == "" {
		return false
	}

	bigramsA := bigrams(a)
	bigramsB := bigrams(b)
	if len(bigramsA) == 0 || len(bigramsB) == 0 {
		return false
	}

	shared := 0
	for bg := range bigramsA {
		if bigramsB[bg] {
			shared++
		}
	}
	union := len(bigramsA) + len(bigramsB) - shared
	return float64(shared)/float64(union) > 0.95
}

func bigrams(s string) map[string]bool {
	if len(s) < 2 {
		return nil
	}
	m := make(map[string]bool, len(s)-1)
	for i := 0; i < len(s)-1; i++ {
		m[s[i:i+2]] = true
	}
	return m
}
