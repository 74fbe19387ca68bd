package events

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lazypower/rapport/internal/store"
)

func TestParseLines(t *testing.T) {
	content := `{"event_id":"p1","agent_id":"moltx:SlopLauncher","kind":"reply","content":"you said the boat was landlocked?","occurred_at":"2026-02-01T10:00:00Z"}
{"id":"p2","platform":"4claw","handle":"anon","type":"tip","weight":2.5,"timestamp":1767225600}

# comment lines are ignored
{"agent_id":"moltx:x","kind":"like_received","text":"via text field","timestamp":1767225600123}`

	evs, st, err := ParseLines(content)
	if err != nil {
		t.Fatalf("ParseLines: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("expected 3 events, got %d", len(evs))
	}
	if st.Lines != 3 || st.Skipped != 0 {
		t.Errorf("stats = %+v", st)
	}

	if evs[0].EventID != "p1" || evs[0].Kind != store.KindReply {
		t.Errorf("evs[0] = %+v", evs[0])
	}
	if !evs[0].OccurredAt.Equal(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("evs[0].OccurredAt = %v", evs[0].OccurredAt)
	}

	if evs[1].AgentID != "4claw:anon" || evs[1].EventID != "p2" || evs[1].Kind != store.KindTip {
		t.Errorf("evs[1] = %+v", evs[1])
	}
	if evs[1].Weight == nil || *evs[1].Weight != 2.5 {
		t.Errorf("evs[1].Weight = %v", evs[1].Weight)
	}
	if evs[1].OccurredAt.Unix() != 1767225600 {
		t.Errorf("evs[1].OccurredAt = %v", evs[1].OccurredAt)
	}

	if evs[2].Content != "via text field" {
		t.Errorf("evs[2].Content = %q", evs[2].Content)
	}
	if evs[2].OccurredAt.UnixMilli() != 1767225600123 {
		t.Errorf("evs[2].OccurredAt = %v, want millisecond timestamp", evs[2].OccurredAt)
	}
	if evs[2].EventID != "" {
		t.Errorf("evs[2].EventID = %q, want empty", evs[2].EventID)
	}
}

func TestParseSkipsMalformed(t *testing.T) {
	content := strings.Join([]string{
		`{"agent_id":"moltx:a","kind":"reply"}`,
		`not json`,
		`{"kind":"reply"}`,
		`{"agent_id":"moltx:b"}`,
		`{"agent_id":"moltx:c","kind":"reply","occurred_at":"last tuesday"}`,
		`{"agent_id":"moltx:d","kind":"mention","occurred_at":null}`,
	}, "\n")

	evs, st, err := ParseLines(content)
	if err != nil {
		t.Fatalf("ParseLines: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if st.Lines != 6 || st.Skipped != 4 {
		t.Errorf("stats = %+v, want 6 lines, 4 skipped", st)
	}
	if !evs[1].OccurredAt.IsZero() {
		t.Errorf("null occurred_at should stay zero, got %v", evs[1].OccurredAt)
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backfill.jsonl")
	if err := os.WriteFile(path, []byte(`{"agent_id":"moltx:a","kind":"follow"}`+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	evs, _, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(evs) != 1 || evs[0].Kind != store.KindFollow {
		t.Errorf("evs = %+v", evs)
	}

	if _, _, err := ParseFile(filepath.Join(t.TempDir(), "missing.jsonl")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseTimeStringSeconds(t *testing.T) {
	got, err := parseTime([]byte(`"1767225600.5"`))
	if err != nil {
		t.Fatalf("parseTime: %v", err)
	}
	if got.UnixMilli() != 1767225600500 {
		t.Errorf("got %v", got)
	}
}
