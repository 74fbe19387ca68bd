package store

import (
	"context"
	"testing"
)

func putRel(t *testing.T, db *DB, r *Relationship) {
	t.Helper()
	seedAgent(t, db, r.AgentID)
	ctx := context.Background()
	if err := db.InTx(ctx, func(tx *Tx) error { return tx.PutRelationship(ctx, r, 5000) }); err != nil {
		t.Fatalf("PutRelationship: %v", err)
	}
}

func ptr(v int64) *int64 { return &v }

func TestPutGetRelationship(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	putRel(t, db, &Relationship{
		AgentID:            "x:a",
		Tier:               2,
		EngagementScore:    17.5,
		InteractionCount:   6,
		DistinctKinds:      2,
		FirstInteractionAt: 100,
		LastInteractionAt:  900,
		MemorableMoments:   []string{"tipped 5 on the launch post"},
		Pinned:             true,
		Classification:     "rival",
		TopTopics:          []string{"crypto", "humor"},
	})

	r, err := db.GetRelationship(context.Background(), "x:a")
	if err != nil {
		t.Fatalf("GetRelationship: %v", err)
	}
	if r == nil {
		t.Fatal("relationship not found")
	}
	if r.Tier != 2 || r.EngagementScore != 17.5 || r.InteractionCount != 6 || r.DistinctKinds != 2 {
		t.Errorf("aggregates = %+v", r)
	}
	if r.Status != StatusActive {
		t.Errorf("Status = %q, want active", r.Status)
	}
	if r.Backstory != "" || r.BackstoryGeneratedAt != nil {
		t.Errorf("backstory should be unset, got %q / %v", r.Backstory, r.BackstoryGeneratedAt)
	}
	if len(r.MemorableMoments) != 1 || r.MemorableMoments[0] != "tipped 5 on the launch post" {
		t.Errorf("MemorableMoments = %v", r.MemorableMoments)
	}
	if !r.Pinned || r.Classification != "rival" {
		t.Errorf("curation = %v / %q", r.Pinned, r.Classification)
	}
	if len(r.TopTopics) != 2 || r.TopTopics[0] != "crypto" {
		t.Errorf("TopTopics = %v", r.TopTopics)
	}
	if r.Arc != "" || r.ArcGeneratedAt != nil {
		t.Errorf("arc should be unset, got %q / %v", r.Arc, r.ArcGeneratedAt)
	}
	if r.CreatedAt != 5000 || r.UpdatedAt != 5000 {
		t.Errorf("timestamps = %d / %d", r.CreatedAt, r.UpdatedAt)
	}
}

func TestGetRelationshipNotFound(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	r, err := db.GetRelationship(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetRelationship: %v", err)
	}
	if r != nil {
		t.Errorf("expected nil, got %+v", r)
	}
}

func TestListRelationshipsOrder(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	putRel(t, db, &Relationship{AgentID: "x:c", Tier: 1, EngagementScore: 50})
	putRel(t, db, &Relationship{AgentID: "x:b", Tier: 2, EngagementScore: 10})
	putRel(t, db, &Relationship{AgentID: "x:a", Tier: 2, EngagementScore: 10})
	putRel(t, db, &Relationship{AgentID: "x:d", Tier: 2, EngagementScore: 20})

	rels, err := db.ListRelationships(context.Background())
	if err != nil {
		t.Fatalf("ListRelationships: %v", err)
	}
	want := []string{"x:d", "x:a", "x:b", "x:c"}
	if len(rels) != len(want) {
		t.Fatalf("got %d rows, want %d", len(rels), len(want))
	}
	for i, id := range want {
		if rels[i].AgentID != id {
			t.Errorf("rels[%d] = %s, want %s", i, rels[i].AgentID, id)
		}
	}
}

func TestListRelationshipsEmpty(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	rels, err := db.ListRelationships(context.Background())
	if err != nil {
		t.Fatalf("ListRelationships: %v", err)
	}
	if rels == nil || len(rels) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", rels)
	}
}

func TestListNarrativeCandidates(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	// never generated
	putRel(t, db, &Relationship{AgentID: "x:new", EngagementScore: 5, InteractionCount: 2})
	// fresh backstory
	putRel(t, db, &Relationship{AgentID: "x:fresh", EngagementScore: 50, InteractionCount: 9,
		Backstory: "old friends", BackstoryGeneratedAt: ptr(9000)})
	// stale backstory
	putRel(t, db, &Relationship{AgentID: "x:stale", EngagementScore: 40, InteractionCount: 9,
		Backstory: "old friends", BackstoryGeneratedAt: ptr(1000)})
	// reconnected after the backstory was written
	putRel(t, db, &Relationship{AgentID: "x:back", EngagementScore: 30, InteractionCount: 9,
		Backstory: "we lost touch", BackstoryGeneratedAt: ptr(8000),
		Status: StatusReconnected, StatusChangedAt: ptr(8500)})
	// below interaction minimum
	putRel(t, db, &Relationship{AgentID: "x:tiny", EngagementScore: 99, InteractionCount: 1})

	got, err := db.ListNarrativeCandidates(context.Background(), NarrativeQuery{
		StaleBefore:     5000,
		MinInteractions: 2,
	})
	if err != nil {
		t.Fatalf("ListNarrativeCandidates: %v", err)
	}
	want := []string{"x:stale", "x:back", "x:new"}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].AgentID != id {
			t.Errorf("got[%d] = %s, want %s", i, got[i].AgentID, id)
		}
	}

	limited, err := db.ListNarrativeCandidates(context.Background(), NarrativeQuery{
		StaleBefore: 5000, MinInteractions: 2, Limit: 1,
	})
	if err != nil {
		t.Fatalf("ListNarrativeCandidates: %v", err)
	}
	if len(limited) != 1 || limited[0].AgentID != "x:stale" {
		t.Errorf("limited = %v", limited)
	}
}

func TestSetBackstory(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	putRel(t, db, &Relationship{AgentID: "x:a", Tier: 3, EngagementScore: 60})
	if err := db.SetBackstory(ctx, "x:a", "met during the launch", 7000); err != nil {
		t.Fatalf("SetBackstory: %v", err)
	}

	r, _ := db.GetRelationship(ctx, "x:a")
	if r.Backstory != "met during the launch" {
		t.Errorf("Backstory = %q", r.Backstory)
	}
	if r.BackstoryGeneratedAt == nil || *r.BackstoryGeneratedAt != 7000 {
		t.Errorf("BackstoryGeneratedAt = %v", r.BackstoryGeneratedAt)
	}
	if r.Tier != 3 || r.EngagementScore != 60 {
		t.Errorf("SetBackstory touched aggregates: %+v", r)
	}

	if err := db.SetBackstory(ctx, "nobody", "x", 1); err == nil {
		t.Error("expected error for unknown agent")
	}
}

func TestSetArc(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	putRel(t, db, &Relationship{AgentID: "x:a", Tier: 2, EngagementScore: 20, TopTopics: []string{"ai"}})
	if err := db.SetArc(ctx, "x:a", "Started as a random mention, now a regular.", 8000); err != nil {
		t.Fatalf("SetArc: %v", err)
	}

	r, _ := db.GetRelationship(ctx, "x:a")
	if r.Arc != "Started as a random mention, now a regular." {
		t.Errorf("Arc = %q", r.Arc)
	}
	if r.ArcGeneratedAt == nil || *r.ArcGeneratedAt != 8000 {
		t.Errorf("ArcGeneratedAt = %v", r.ArcGeneratedAt)
	}
	if r.Tier != 2 || len(r.TopTopics) != 1 || r.Backstory != "" {
		t.Errorf("SetArc touched other columns: %+v", r)
	}

	if err := db.SetArc(ctx, "nobody", "x", 1); err == nil {
		t.Error("expected error for unknown agent")
	}
}

func TestUpdateRelationship(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	putRel(t, db, &Relationship{AgentID: "x:a", Tier: 1})

	r, changed, err := db.UpdateRelationship(ctx, "x:a", 6000, func(r *Relationship) (bool, error) {
		r.Pinned = true
		return true, nil
	})
	if err != nil {
		t.Fatalf("UpdateRelationship: %v", err)
	}
	if !changed || r == nil || !r.Pinned || r.UpdatedAt != 6000 {
		t.Errorf("update = %+v changed=%v", r, changed)
	}

	_, changed, err = db.UpdateRelationship(ctx, "x:a", 7000, func(r *Relationship) (bool, error) {
		return false, nil
	})
	if err != nil || changed {
		t.Errorf("no-op update: changed=%v err=%v", changed, err)
	}
	stored, _ := db.GetRelationship(ctx, "x:a")
	if stored.UpdatedAt != 6000 {
		t.Errorf("no-op update wrote row: UpdatedAt = %d", stored.UpdatedAt)
	}

	missing, _, err := db.UpdateRelationship(ctx, "nobody", 1, func(r *Relationship) (bool, error) {
		t.Error("fn called for missing relationship")
		return false, nil
	})
	if err != nil || missing != nil {
		t.Errorf("missing = %v, err = %v", missing, err)
	}
}

func TestTierAndStatusCounts(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	putRel(t, db, &Relationship{AgentID: "x:a", Tier: 1})
	putRel(t, db, &Relationship{AgentID: "x:b", Tier: 1, Status: StatusDormant})
	putRel(t, db, &Relationship{AgentID: "x:c", Tier: 3})

	tiers, err := db.TierCounts(ctx)
	if err != nil {
		t.Fatalf("TierCounts: %v", err)
	}
	if tiers[1] != 2 || tiers[3] != 1 {
		t.Errorf("tiers = %v", tiers)
	}

	statuses, err := db.StatusCounts(ctx)
	if err != nil {
		t.Fatalf("StatusCounts: %v", err)
	}
	if statuses[StatusActive] != 2 || statuses[StatusDormant] != 1 {
		t.Errorf("statuses = %v", statuses)
	}
}
