package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations are append-only and additive: historical interaction rows are
// never rewritten, new relationship fields arrive as defaulted or nullable columns.
var migrations = []migration{
	{
		Version:     1,
		Description: "agents: counterpart identities and cached display metadata",
		SQL: `
CREATE TABLE agents (
    id             INTEGER PRIMARY KEY,
    agent_id       TEXT NOT NULL UNIQUE,
    platform       TEXT,
    handle         TEXT NOT NULL,
    display_name   TEXT,
    first_seen_at  INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL
);

CREATE INDEX idx_agents_platform ON agents(platform);
`,
	},
	{
		Version:     2,
		Description: "interactions: append-only event ledger",
		SQL: `
CREATE TABLE interactions (
    id             INTEGER PRIMARY KEY,
    event_id       TEXT NOT NULL UNIQUE,
    agent_id       TEXT NOT NULL,
    kind           TEXT NOT NULL CHECK (kind IN ('mention', 'reply', 'like_received', 'like_given', 'follow', 'tip', 'quote', 'repost')),
    content        TEXT,
    weight         REAL NOT NULL CHECK (weight >= 0),
    occurred_at    INTEGER NOT NULL,
    recorded_at    INTEGER NOT NULL,

    FOREIGN KEY (agent_id) REFERENCES agents(agent_id)
);

CREATE INDEX idx_interactions_agent_time ON interactions(agent_id, occurred_at DESC);
`,
	},
	{
		Version:     3,
		Description: "relationships: one aggregate row per agent",
		SQL: `
CREATE TABLE relationships (
    id                         INTEGER PRIMARY KEY,
    agent_id                   TEXT NOT NULL UNIQUE,
    tier                       INTEGER NOT NULL DEFAULT 0 CHECK (tier BETWEEN 0 AND 4),
    engagement_score           REAL NOT NULL DEFAULT 0 CHECK (engagement_score >= 0),
    interaction_count          INTEGER NOT NULL DEFAULT 0,
    distinct_kinds             INTEGER NOT NULL DEFAULT 0,
    first_interaction_at       INTEGER,
    last_interaction_at        INTEGER,

    -- Narrative
    backstory                  TEXT,
    backstory_generated_at     INTEGER,
    memorable_moments          TEXT NOT NULL DEFAULT '[]',

    -- Recency
    status                     TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'dormant', 'reconnected')),
    status_changed_at          INTEGER,
    swept_last_interaction_at  INTEGER,
    demoted_at                 INTEGER,

    created_at                 INTEGER NOT NULL,
    updated_at                 INTEGER NOT NULL,

    FOREIGN KEY (agent_id) REFERENCES agents(agent_id)
);

CREATE INDEX idx_relationships_rank   ON relationships(tier DESC, engagement_score DESC);
CREATE INDEX idx_relationships_status ON relationships(status);
`,
	},
	{
		Version:     4,
		Description: "relationships: curation columns",
		SQL: `
ALTER TABLE relationships ADD COLUMN pinned INTEGER NOT NULL DEFAULT 0;
ALTER TABLE relationships ADD COLUMN classification TEXT;
`,
	},
	{
		Version:     5,
		Description: "relationships: arc and topics",
		SQL: `
ALTER TABLE relationships ADD COLUMN arc TEXT;
ALTER TABLE relationships ADD COLUMN arc_generated_at INTEGER;
ALTER TABLE relationships ADD COLUMN top_topics TEXT NOT NULL DEFAULT '[]';
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
