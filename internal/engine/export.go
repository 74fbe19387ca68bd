package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Summary is the public view of one relationship. Internal fields such as
// interaction weights, counts and timestamps are deliberately absent.
type Summary struct {
	Agent            string   `json:"agent"`
	Tier             int      `json:"tier"`
	TierLabel        string   `json:"tier_label"`
	Score            float64  `json:"score"`
	Backstory        *string  `json:"backstory"`
	MemorableMoments []string `json:"memorable_moments"`
}

// Export returns every relationship ordered by tier desc, score desc, then
// agent id. It is a pure read; an empty store yields an empty slice.
func (e *Engine) Export(ctx context.Context) ([]Summary, error) {
	rels, err := e.DB.ListRelationships(ctx)
	if err != nil {
		return nil, storageErr("export", err)
	}

	out := make([]Summary, 0, len(rels))
	for _, r := range rels {
		s := Summary{
			Agent:            r.AgentID,
			Tier:             r.Tier,
			TierLabel:        TierLabel(r.Tier),
			Score:            r.EngagementScore,
			MemorableMoments: r.MemorableMoments,
		}
		if r.Backstory != "" {
			b := r.Backstory
			s.Backstory = &b
		}
		if s.MemorableMoments == nil {
			s.MemorableMoments = []string{}
		}
		out = append(out, s)
	}
	return out, nil
}

// WriteSnapshot encodes summaries as an indented JSON array.
func WriteSnapshot(w io.Writer, summaries []Summary) error {
	if summaries == nil {
		summaries = []Summary{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summaries); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// WriteSnapshotFile replaces path with the snapshot atomically. The file
// is a derived projection and can always be rebuilt from the store.
func WriteSnapshotFile(path string, summaries []Summary) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("create snapshot temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteSnapshot(tmp, summaries); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
