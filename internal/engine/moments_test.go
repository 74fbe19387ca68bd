package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lazypower/rapport/internal/llm"
	"github.com/lazypower/rapport/internal/store"
)

func interaction(kind store.Kind, content string) *store.Interaction {
	return &store.Interaction{AgentID: "moltx:someone", Kind: kind, Content: content}
}

func TestHeuristicDetector(t *testing.T) {
	tests := []struct {
		name    string
		in      *store.Interaction
		want    bool
		wantTag string
	}{
		{"tip without note", interaction(store.KindTip, ""), true, "tipped us"},
		{"tip with note", interaction(store.KindTip, "for the rent"), true, `tipped us: "for the rent"`},
		{"empty reply", interaction(store.KindReply, ""), false, ""},
		{"low effort", interaction(store.KindReply, "gm gm, great point"), false, ""},
		{"short like", interaction(store.KindLikeReceived, "ok"), false, ""},
		{
			"callout",
			interaction(store.KindReply, "You said earlier the audit was clean, but the fork proves you wrong. Who signed off on it?"),
			true, "",
		},
		{
			"strong words",
			interaction(store.KindMention, "I love how you broke down the validator economics, @rapport. What happens to the slashing math if stake doubles?"),
			true, "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, ok := HeuristicDetector{}.Detect(context.Background(), tt.in)
			assert.Equal(t, tt.want, ok)
			if tt.wantTag != "" {
				assert.Equal(t, tt.wantTag, tag)
			}
			if ok {
				assert.NotEmpty(t, tag)
			}
		})
	}
}

func TestHeuristicDetectorTagNamesReason(t *testing.T) {
	tag, ok := HeuristicDetector{}.Detect(context.Background(),
		interaction(store.KindReply, "You said earlier the audit was clean, but the fork proves you wrong. Who signed off on it?"))
	assert.True(t, ok)
	assert.Contains(t, tag, "public callout reply:")
}

func TestDepthScore(t *testing.T) {
	assert.Zero(t, depthScore(""))
	assert.Zero(t, depthScore("lfg"))
	assert.Greater(t, depthScore("Remember last time you argued the opposite? What changed in your model since then, @rapport?"),
		depthScore("nice one"))
	assert.LessOrEqual(t, depthScore(string(make([]byte, 5000))+"? @ you said"), 1.0)
}

func TestContainsPhraseWordBoundary(t *testing.T) {
	assert.True(t, containsPhrase(normalizeWords("Well, GM!"), lowEffortPhrases))
	assert.False(t, containsPhrase(normalizeWords("an agreement was reached"), []string{"agree"}))
	assert.True(t, containsPhrase(normalizeWords("props-to the team"), []string{"props to"}))
}

func TestLLMDetector(t *testing.T) {
	fallback := HeuristicDetector{}
	in := interaction(store.KindReply, "thanks for the help with the indexer")

	tests := []struct {
		name    string
		client  *llm.MockClient
		wantOK  bool
		wantTag string
	}{
		{
			"memorable verdict",
			&llm.MockClient{Response: &llm.Response{Content: `Sure: {"memorable": true, "tag": "thanked us for indexer help"}`}},
			true, "thanked us for indexer help",
		},
		{
			"not memorable",
			&llm.MockClient{Response: &llm.Response{Content: `{"memorable": false, "tag": ""}`}},
			false, "",
		},
		{
			"call fails, fallback decides",
			&llm.MockClient{Err: errors.New("rate limited")},
			false, "",
		},
		{
			"garbage output, fallback decides",
			&llm.MockClient{Response: &llm.Response{Content: "I think so!"}},
			false, "",
		},
		{
			"memorable without tag",
			&llm.MockClient{Response: &llm.Response{Content: `{"memorable": true}`}},
			false, "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &LLMDetector{Client: tt.client, Fallback: fallback}
			tag, ok := d.Detect(context.Background(), in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantTag, tag)
			assert.Len(t, tt.client.Calls(), 1)
		})
	}
}

func TestLLMDetectorFallbackFlagsTip(t *testing.T) {
	d := &LLMDetector{Client: &llm.MockClient{Err: errors.New("down")}, Fallback: HeuristicDetector{}}
	tag, ok := d.Detect(context.Background(), interaction(store.KindTip, ""))
	assert.True(t, ok)
	assert.Equal(t, "tipped us", tag)

	d.Fallback = nil
	_, ok = d.Detect(context.Background(), interaction(store.KindTip, ""))
	assert.False(t, ok)
}

func TestLLMDetectorSkipsEmptyContent(t *testing.T) {
	client := &llm.MockClient{Response: &llm.Response{Content: `{"memorable": true, "tag": "x"}`}}
	d := &LLMDetector{Client: client}
	_, ok := d.Detect(context.Background(), interaction(store.KindLikeReceived, ""))
	assert.False(t, ok)
	assert.Empty(t, client.Calls())
}

func TestAppendMoment(t *testing.T) {
	var m []string
	m = appendMoment(m, "one", 3)
	m = appendMoment(m, "two", 3)
	m = appendMoment(m, "three", 3)
	m = appendMoment(m, "four", 3)
	assert.Equal(t, []string{"two", "three", "four"}, m)

	same := appendMoment(m, " four ", 3)
	assert.Equal(t, m, same, "near-identical tag dropped")

	orig := []string{"a"}
	_ = appendMoment(orig, "b", 0)
	assert.Equal(t, []string{"a"}, orig, "input is not mutated")
	assert.Len(t, appendMoment([]string{"a", "b"}, "c", 0), 3, "no cap when limit is zero")
}

func TestTextNearIdentical(t *testing.T) {
	assert.True(t, textNearIdentical("tipped us", "tipped us"))
	long := "strong words reply: \"this is the best thread on consensus I have read all month, the part about " +
		"validator churn and slashing windows finally made the fork choice rule click for me\""
	assert.True(t, textNearIdentical(long, long[:len(long)-1]+"!\""))
	assert.False(t, textNearIdentical("tipped us", "tipped us: \"for the rent\""))
	assert.False(t, textNearIdentical("", "x"))
}
