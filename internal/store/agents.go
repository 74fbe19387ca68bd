package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Agent is a counterpart account. The agent_id is the immutable identity;
// display metadata is refreshed whenever a new interaction arrives.
type Agent struct {
	ID          int64
	AgentID     string // platform-scoped handle, e.g. "moltx:SlopLauncher"
	Platform    string
	Handle      string
	DisplayName string
	FirstSeenAt int64
	UpdatedAt   int64
}

// SplitAgentID splits "platform:handle" into its parts. IDs without a
// platform prefix return an empty platform and the whole ID as the handle.
func SplitAgentID(agentID string) (platform, handle string) {
	if i := strings.Index(agentID, ":"); i > 0 && i < len(agentID)-1 {
		return agentID[:i], agentID[i+1:]
	}
	return "", agentID
}

// UpsertAgent creates the agent on first sight, otherwise refreshes its
// display metadata. first_seen_at only ever moves backwards (backfills).
func (t *Tx) UpsertAgent(ctx context.Context, agentID, displayName string, seenAt, now int64) error {
	platform, handle := SplitAgentID(agentID)
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO agents (agent_id, platform, handle, display_name, first_seen_at, updated_at)
		VALUES (?, NULLIF(?, ''), ?, NULLIF(?, ''), ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			display_name  = COALESCE(excluded.display_name, agents.display_name),
			first_seen_at = MIN(agents.first_seen_at, excluded.first_seen_at),
			updated_at    = excluded.updated_at
	`, agentID, platform, handle, displayName, seenAt, now)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

// GetAgent returns an agent by its identity key, or nil if not found.
func (db *DB) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	var a Agent
	var platform, displayName sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT id, agent_id, platform, handle, display_name, first_seen_at, updated_at
		FROM agents WHERE agent_id = ?
	`, agentID).Scan(&a.ID, &a.AgentID, &platform, &a.Handle, &displayName, &a.FirstSeenAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	a.Platform = platform.String
	a.DisplayName = displayName.String
	return &a, nil
}
