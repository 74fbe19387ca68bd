// Package events reads interaction backfills: one JSON event per line, as
// exported by the platform wrappers.
package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lazypower/rapport/internal/engine"
	"github.com/lazypower/rapport/internal/store"
)

// line is the tolerant on-disk shape. Wrappers disagree on a few names,
// so agent ids may be split and text may arrive as "text".
type line struct {
	EventID     string          `json:"event_id"`
	ID          string          `json:"id"`
	AgentID     string          `json:"agent_id"`
	Platform    string          `json:"platform"`
	Handle      string          `json:"handle"`
	DisplayName string          `json:"display_name"`
	Kind        string          `json:"kind"`
	Type        string          `json:"type"`
	Content     string          `json:"content"`
	Text        string          `json:"text"`
	Weight      *float64        `json:"weight"`
	OccurredAt  json.RawMessage `json:"occurred_at"`
	Timestamp   json.RawMessage `json:"timestamp"`
}

// Stats counts what a parse saw.
type Stats struct {
	Lines   int // non-blank lines
	Skipped int // malformed lines
}

// ParseFile reads a JSONL event file.
func ParseFile(path string) ([]engine.Event, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("open events: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads JSONL events from r. Malformed lines are skipped and counted.
func Parse(r io.Reader) ([]engine.Event, Stats, error) {
	var evs []engine.Event
	var st Stats

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB line buffer

	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		st.Lines++

		ev, err := parseLine([]byte(raw))
		if err != nil {
			st.Skipped++
			continue
		}
		evs = append(evs, ev)
	}

	if err := scanner.Err(); err != nil {
		return nil, st, fmt.Errorf("scan events: %w", err)
	}
	return evs, st, nil
}

// ParseLines parses events from a string (for testing).
func ParseLines(content string) ([]engine.Event, Stats, error) {
	return Parse(strings.NewReader(content))
}

func parseLine(b []byte) (engine.Event, error) {
	var l line
	if err := json.Unmarshal(b, &l); err != nil {
		return engine.Event{}, err
	}

	agent := l.AgentID
	if agent == "" && l.Platform != "" && l.Handle != "" {
		agent = l.Platform + ":" + l.Handle
	}
	if agent == "" {
		return engine.Event{}, fmt.Errorf("missing agent")
	}
	kind := firstNonEmpty(l.Kind, l.Type)
	if kind == "" {
		return engine.Event{}, fmt.Errorf("missing kind")
	}

	at := l.OccurredAt
	if len(at) == 0 {
		at = l.Timestamp
	}
	occurred, err := parseTime(at)
	if err != nil {
		return engine.Event{}, err
	}

	return engine.Event{
		EventID:     firstNonEmpty(l.EventID, l.ID),
		AgentID:     agent,
		DisplayName: l.DisplayName,
		Kind:        store.Kind(kind),
		Content:     firstNonEmpty(l.Content, l.Text),
		Weight:      l.Weight,
		OccurredAt:  occurred,
	}, nil
}

// parseTime handles the polymorphic timestamp field: an RFC 3339 string,
// or a number of unix seconds (milliseconds when it is too large for seconds).
func parseTime(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return unixTime(n), nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
		}
		return t, nil
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return time.Time{}, fmt.Errorf("parse time %s: %w", raw, err)
	}
	return unixTime(n), nil
}

// Seconds past this are taken as milliseconds (year 5138 in seconds).
const millisCutoff = 1e11

func unixTime(n float64) time.Time {
	if n > millisCutoff {
		return time.UnixMilli(int64(n)).UTC()
	}
	sec := int64(n)
	return time.Unix(sec, int64((n-float64(sec))*1e9)).UTC()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
