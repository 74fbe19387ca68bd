package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Kind is the type of an interaction event.
type Kind string

const (
	KindMention      Kind = "mention"
	KindReply        Kind = "reply"
	KindLikeReceived Kind = "like_received"
	KindLikeGiven    Kind = "like_given"
	KindFollow       Kind = "follow"
	KindTip          Kind = "tip"
	KindQuote        Kind = "quote"
	KindRepost       Kind = "repost"
)

// Kinds lists every interaction kind accepted by the ledger.
var Kinds = []Kind{
	KindMention, KindReply, KindLikeReceived, KindLikeGiven,
	KindFollow, KindTip, KindQuote, KindRepost,
}

// Valid reports whether k is a known interaction kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Interaction is one row of the append-only ledger.
type Interaction struct {
	ID         int64
	EventID    string
	AgentID    string
	Kind       Kind
	Content    string
	Weight     float64
	OccurredAt int64
	RecordedAt int64
}

// Aggregate holds the values a relationship row derives from the ledger.
type Aggregate struct {
	Count         int
	Score         float64
	DistinctKinds int
	FirstAt       int64
	LastAt        int64
}

// InsertInteraction appends an interaction. It returns false without error
// when the event_id was already recorded.
func (t *Tx) InsertInteraction(ctx context.Context, in *Interaction) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO interactions (event_id, agent_id, kind, content, weight, occurred_at, recorded_at)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`, in.EventID, in.AgentID, string(in.Kind), in.Content, in.Weight, in.OccurredAt, in.RecordedAt)
	if err != nil {
		return false, fmt.Errorf("insert interaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert interaction rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	in.ID, _ = res.LastInsertId()
	return true, nil
}

// AggregateInteractions recomputes count, score, kind diversity and the
// time span for one agent from the ledger.
func (t *Tx) AggregateInteractions(ctx context.Context, agentID string) (Aggregate, error) {
	var a Aggregate
	var first, last sql.NullInt64
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(weight), 0), COUNT(DISTINCT kind),
		       MIN(occurred_at), MAX(occurred_at)
		FROM interactions WHERE agent_id = ?
	`, agentID).Scan(&a.Count, &a.Score, &a.DistinctKinds, &first, &last)
	if err != nil {
		return Aggregate{}, fmt.Errorf("aggregate interactions: %w", err)
	}
	a.FirstAt = first.Int64
	a.LastAt = last.Int64
	return a, nil
}

func interactionOwner(ctx context.Context, q queryer, eventID string) (string, error) {
	var owner string
	err := q.QueryRowContext(ctx, "SELECT agent_id FROM interactions WHERE event_id = ?", eventID).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("check interaction: %w", err)
	}
	return owner, nil
}

// InteractionOwner returns the agent an event_id was recorded for, or ""
// if the event is not in the ledger.
func (db *DB) InteractionOwner(ctx context.Context, eventID string) (string, error) {
	return interactionOwner(ctx, db, eventID)
}

// InteractionOwner reads the owner of an event_id inside the transaction.
func (t *Tx) InteractionOwner(ctx context.Context, eventID string) (string, error) {
	return interactionOwner(ctx, t.tx, eventID)
}

// RecentInteractions returns up to limit interactions for an agent, most recent first.
func (db *DB) RecentInteractions(ctx context.Context, agentID string, limit int) ([]Interaction, error) {
	return recentInteractions(ctx, db, agentID, limit)
}

// RecentInteractions reads recent interactions inside the transaction.
func (t *Tx) RecentInteractions(ctx context.Context, agentID string, limit int) ([]Interaction, error) {
	return recentInteractions(ctx, t.tx, agentID, limit)
}

func recentInteractions(ctx context.Context, q queryer, agentID string, limit int) ([]Interaction, error) {
	if limit <= 0 {
		limit = 15
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, event_id, agent_id, kind, content, weight, occurred_at, recorded_at
		FROM interactions
		WHERE agent_id = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent interactions: %w", err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var in Interaction
		var kind string
		var content sql.NullString
		if err := rows.Scan(&in.ID, &in.EventID, &in.AgentID, &kind, &content,
			&in.Weight, &in.OccurredAt, &in.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		in.Kind = Kind(kind)
		in.Content = content.String
		out = append(out, in)
	}
	return out, rows.Err()
}

// CountInteractions returns the number of ledger rows for an agent.
// An empty agentID counts the whole ledger.
func (db *DB) CountInteractions(ctx context.Context, agentID string) (int, error) {
	var n int
	var err error
	if agentID == "" {
		err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM interactions").Scan(&n)
	} else {
		err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM interactions WHERE agent_id = ?", agentID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count interactions: %w", err)
	}
	return n, nil
}
