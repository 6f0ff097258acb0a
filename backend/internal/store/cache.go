package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CacheEntry is one row of an agent's cached model or mode list.
type CacheEntry struct {
	AgentID     string
	Value       string
	Name        string
	Description string
}

// CachedModels returns the cached model list for an agent. Callers read this
// instantly while a background refresh (ReplaceCachedModels) may be racing
// to replace it; readers never block on the refresh.
func (s *Store) CachedModels(ctx context.Context, agentID string) ([]CacheEntry, error) {
	return s.readCache(ctx, "cached_models", agentID)
}

// CachedModes returns the cached mode list for an agent.
func (s *Store) CachedModes(ctx context.Context, agentID string) ([]CacheEntry, error) {
	return s.readCache(ctx, "cached_modes", agentID)
}

func (s *Store) readCache(ctx context.Context, table, agentID string) ([]CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT agent_id, value, name, description FROM %s WHERE agent_id = ?`, table), agentID)
	if err != nil {
		return nil, fmt.Errorf("store: read %s for agent %s: %w", table, agentID, err)
	}
	defer rows.Close()

	var out []CacheEntry
	for rows.Next() {
		var e CacheEntry
		var name, description sql.NullString
		if err := rows.Scan(&e.AgentID, &e.Value, &name, &description); err != nil {
			return nil, fmt.Errorf("store: scan %s row: %w", table, err)
		}
		e.Name = name.String
		e.Description = description.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReplaceCachedModels atomically replaces an agent's cached model list: the
// old rows are deleted and the new ones inserted within a single
// transaction, so concurrent readers never observe a partially-replaced
// set.
func (s *Store) ReplaceCachedModels(ctx context.Context, agentID string, entries []CacheEntry) error {
	return s.replaceCache(ctx, "cached_models", agentID, entries)
}

// ReplaceCachedModes atomically replaces an agent's cached mode list.
func (s *Store) ReplaceCachedModes(ctx context.Context, agentID string, entries []CacheEntry) error {
	return s.replaceCache(ctx, "cached_modes", agentID, entries)
}

func (s *Store) replaceCache(ctx context.Context, table, agentID string, entries []CacheEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: replace %s for agent %s: %w", table, agentID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE agent_id = ?`, table), agentID); err != nil {
		return fmt.Errorf("store: replace %s for agent %s: %w", table, agentID, err)
	}

	now := unixMilli(time.Now())
	insert := fmt.Sprintf(`INSERT INTO %s (agent_id, value, name, description, updated_at) VALUES (?, ?, ?, ?, ?)`, table)
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, insert, agentID, e.Value, nullIfEmpty(e.Name), nullIfEmpty(e.Description), now); err != nil {
			return fmt.Errorf("store: replace %s for agent %s: %w", table, agentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: replace %s for agent %s: %w", table, agentID, err)
	}
	return nil
}

// AnalyticsSnapshot returns the cached analytics JSON blob for an agent, if
// present.
func (s *Store) AnalyticsSnapshot(ctx context.Context, agentID string) (json string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT snapshot_json FROM analytics_cache WHERE agent_id = ?`, agentID,
	).Scan(&json)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: read analytics snapshot for agent %s: %w", agentID, err)
	}
	return json, true, nil
}

// SetAnalyticsSnapshot upserts the cached analytics JSON blob for an agent.
func (s *Store) SetAnalyticsSnapshot(ctx context.Context, agentID, snapshotJSON string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analytics_cache (agent_id, snapshot_json, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET snapshot_json = excluded.snapshot_json, updated_at = excluded.updated_at`,
		agentID, snapshotJSON, unixMilli(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("store: set analytics snapshot for agent %s: %w", agentID, err)
	}
	return nil
}
