package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Status is the recency state of a relationship.
type Status string

const (
	StatusActive      Status = "active"
	StatusDormant     Status = "dormant"
	StatusReconnected Status = "reconnected"
)

// Relationship is the aggregate row kept per agent.
type Relationship struct {
	ID                 int64
	AgentID            string
	Tier               int
	EngagementScore    float64
	InteractionCount   int
	DistinctKinds      int
	FirstInteractionAt int64
	LastInteractionAt  int64

	Backstory            string
	BackstoryGeneratedAt *int64
	MemorableMoments     []string
	Arc                  string // one-sentence summary of how the relationship developed
	ArcGeneratedAt       *int64
	TopTopics            []string

	Status                 Status
	StatusChangedAt        *int64
	SweptLastInteractionAt *int64
	DemotedAt              *int64

	Pinned         bool
	Classification string

	CreatedAt int64
	UpdatedAt int64
}

const relationshipColumns = `
	id, agent_id, tier, engagement_score, interaction_count, distinct_kinds,
	first_interaction_at, last_interaction_at,
	backstory, backstory_generated_at, memorable_moments,
	status, status_changed_at, swept_last_interaction_at, demoted_at,
	pinned, classification, arc, arc_generated_at, top_topics,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRelationship(s rowScanner) (*Relationship, error) {
	var r Relationship
	var first, last, generatedAt, statusChangedAt, swept, demotedAt, arcAt sql.NullInt64
	var backstory, classification, arc sql.NullString
	var moments, topics, status string
	var pinned int
	err := s.Scan(&r.ID, &r.AgentID, &r.Tier, &r.EngagementScore, &r.InteractionCount, &r.DistinctKinds,
		&first, &last,
		&backstory, &generatedAt, &moments,
		&status, &statusChangedAt, &swept, &demotedAt,
		&pinned, &classification, &arc, &arcAt, &topics,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.FirstInteractionAt = first.Int64
	r.LastInteractionAt = last.Int64
	r.Backstory = backstory.String
	r.BackstoryGeneratedAt = nullableInt(generatedAt)
	r.Status = Status(status)
	r.StatusChangedAt = nullableInt(statusChangedAt)
	r.SweptLastInteractionAt = nullableInt(swept)
	r.DemotedAt = nullableInt(demotedAt)
	r.Pinned = pinned != 0
	r.Classification = classification.String
	r.Arc = arc.String
	r.ArcGeneratedAt = nullableInt(arcAt)
	if err := json.Unmarshal([]byte(moments), &r.MemorableMoments); err != nil {
		return nil, fmt.Errorf("decode memorable_moments for %s: %w", r.AgentID, err)
	}
	if r.MemorableMoments == nil {
		r.MemorableMoments = []string{}
	}
	if err := json.Unmarshal([]byte(topics), &r.TopTopics); err != nil {
		return nil, fmt.Errorf("decode top_topics for %s: %w", r.AgentID, err)
	}
	if r.TopTopics == nil {
		r.TopTopics = []string{}
	}
	return &r, nil
}

func nullableInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func getRelationship(ctx context.Context, q queryer, agentID string) (*Relationship, error) {
	row := q.QueryRowContext(ctx, "SELECT "+relationshipColumns+" FROM relationships WHERE agent_id = ?", agentID)
	r, err := scanRelationship(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get relationship: %w", err)
	}
	return r, nil
}

// GetRelationship returns the relationship for an agent, or nil if none exists.
func (db *DB) GetRelationship(ctx context.Context, agentID string) (*Relationship, error) {
	return getRelationship(ctx, db, agentID)
}

// GetRelationship reads the relationship inside the transaction.
func (t *Tx) GetRelationship(ctx context.Context, agentID string) (*Relationship, error) {
	return getRelationship(ctx, t.tx, agentID)
}

// PutRelationship inserts or fully overwrites the relationship row for
// r.AgentID. created_at is kept from the first insert.
func (t *Tx) PutRelationship(ctx context.Context, r *Relationship, now int64) error {
	moments := r.MemorableMoments
	if moments == nil {
		moments = []string{}
	}
	encoded, err := json.Marshal(moments)
	if err != nil {
		return fmt.Errorf("encode memorable_moments: %w", err)
	}
	topics := r.TopTopics
	if topics == nil {
		topics = []string{}
	}
	encodedTopics, err := json.Marshal(topics)
	if err != nil {
		return fmt.Errorf("encode top_topics: %w", err)
	}
	pinned := 0
	if r.Pinned {
		pinned = 1
	}
	status := r.Status
	if status == "" {
		status = StatusActive
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO relationships (agent_id, tier, engagement_score, interaction_count, distinct_kinds,
			first_interaction_at, last_interaction_at,
			backstory, backstory_generated_at, memorable_moments,
			status, status_changed_at, swept_last_interaction_at, demoted_at,
			pinned, classification, arc, arc_generated_at, top_topics,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			tier                      = excluded.tier,
			engagement_score          = excluded.engagement_score,
			interaction_count         = excluded.interaction_count,
			distinct_kinds            = excluded.distinct_kinds,
			first_interaction_at      = excluded.first_interaction_at,
			last_interaction_at       = excluded.last_interaction_at,
			backstory                 = excluded.backstory,
			backstory_generated_at    = excluded.backstory_generated_at,
			memorable_moments         = excluded.memorable_moments,
			status                    = excluded.status,
			status_changed_at         = excluded.status_changed_at,
			swept_last_interaction_at = excluded.swept_last_interaction_at,
			demoted_at                = excluded.demoted_at,
			pinned                    = excluded.pinned,
			classification            = excluded.classification,
			arc                       = excluded.arc,
			arc_generated_at          = excluded.arc_generated_at,
			top_topics                = excluded.top_topics,
			updated_at                = excluded.updated_at
	`, r.AgentID, r.Tier, r.EngagementScore, r.InteractionCount, r.DistinctKinds,
		r.FirstInteractionAt, r.LastInteractionAt,
		r.Backstory, r.BackstoryGeneratedAt, string(encoded),
		string(status), r.StatusChangedAt, r.SweptLastInteractionAt, r.DemotedAt,
		pinned, r.Classification, r.Arc, r.ArcGeneratedAt, string(encodedTopics),
		now, now)
	if err != nil {
		return fmt.Errorf("put relationship: %w", err)
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Status = status
	return nil
}

// UpdateRelationship runs a read-modify-write of one relationship in its own
// transaction. fn reports whether it changed anything; unchanged rows are not
// written. Returns the row as stored afterwards, or nil if the agent has no
// relationship.
func (db *DB) UpdateRelationship(ctx context.Context, agentID string, now int64,
	fn func(r *Relationship) (bool, error)) (*Relationship, bool, error) {
	var out *Relationship
	var changed bool
	err := db.InTx(ctx, func(tx *Tx) error {
		r, err := tx.GetRelationship(ctx, agentID)
		if err != nil || r == nil {
			return err
		}
		changed, err = fn(r)
		if err != nil {
			return err
		}
		if changed {
			if err := tx.PutRelationship(ctx, r, now); err != nil {
				return err
			}
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, changed, nil
}

// ListRelationships returns every relationship ordered by tier descending,
// then engagement score descending, then agent_id ascending.
func (db *DB) ListRelationships(ctx context.Context) ([]Relationship, error) {
	rows, err := db.QueryContext(ctx, "SELECT "+relationshipColumns+` FROM relationships
		ORDER BY tier DESC, engagement_score DESC, agent_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()
	return collectRelationships(rows)
}

// ListAgentIDs returns the agent_id of every relationship row.
func (db *DB) ListAgentIDs(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT agent_id FROM relationships ORDER BY agent_id")
	if err != nil {
		return nil, fmt.Errorf("list agent ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan agent id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// NarrativeQuery selects relationships whose backstory needs (re)generation.
type NarrativeQuery struct {
	StaleBefore     int64 // backstories generated before this are stale
	MinInteractions int
	Limit           int
}

// ListNarrativeCandidates returns relationships with no backstory, a stale
// backstory, or a reconnection newer than the backstory. Ordered by
// engagement score descending, then agent_id.
func (db *DB) ListNarrativeCandidates(ctx context.Context, q NarrativeQuery) ([]Relationship, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx, "SELECT "+relationshipColumns+` FROM relationships
		WHERE interaction_count >= ?
		  AND (
		        backstory IS NULL
		     OR backstory_generated_at IS NULL
		     OR backstory_generated_at < ?
		     OR (status = 'reconnected' AND backstory_generated_at < COALESCE(status_changed_at, 0))
		  )
		ORDER BY engagement_score DESC, agent_id ASC
		LIMIT ?`, q.MinInteractions, q.StaleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list narrative candidates: %w", err)
	}
	defer rows.Close()
	return collectRelationships(rows)
}

func collectRelationships(rows *sql.Rows) ([]Relationship, error) {
	out := []Relationship{}
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// SetBackstory stores a generated backstory. Only the narrative columns are
// touched so concurrent score updates are never overwritten.
func (db *DB) SetBackstory(ctx context.Context, agentID, backstory string, generatedAt int64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE relationships SET backstory = ?, backstory_generated_at = ?, updated_at = ?
		WHERE agent_id = ?
	`, backstory, generatedAt, generatedAt, agentID)
	if err != nil {
		return fmt.Errorf("set backstory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set backstory: no relationship for %q", agentID)
	}
	return nil
}

// SetArc stores a generated relationship arc, touching only the arc columns.
func (db *DB) SetArc(ctx context.Context, agentID, arc string, generatedAt int64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE relationships SET arc = ?, arc_generated_at = ?, updated_at = ?
		WHERE agent_id = ?
	`, arc, generatedAt, generatedAt, agentID)
	if err != nil {
		return fmt.Errorf("set arc: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set arc: no relationship for %q", agentID)
	}
	return nil
}

// TierCounts returns the number of relationships per tier.
func (db *DB) TierCounts(ctx context.Context) (map[int]int, error) {
	rows, err := db.QueryContext(ctx, "SELECT tier, COUNT(*) FROM relationships GROUP BY tier")
	if err != nil {
		return nil, fmt.Errorf("tier counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var tier, n int
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, fmt.Errorf("scan tier count: %w", err)
		}
		counts[tier] = n
	}
	return counts, rows.Err()
}

// StatusCounts returns the number of relationships per recency status.
func (db *DB) StatusCounts(ctx context.Context) (map[Status]int, error) {
	rows, err := db.QueryContext(ctx, "SELECT status, COUNT(*) FROM relationships GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}
