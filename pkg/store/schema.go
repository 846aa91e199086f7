package store

import (
	"database/sql"
	"fmt"
	"time"
)

// migration advances one collection to version by running stmts.
type migration struct {
	collection string
	version    int
	stmts      []string
}

// migrations are applied in order. Each collection is versioned on its own;
// append new steps, never edit shipped ones.
var migrations = []migration{
	{TableCredentials, 1, []string{`
		CREATE TABLE IF NOT EXISTS api_credentials (
			service TEXT PRIMARY KEY,
			credentials BLOB NOT NULL,
			last_updated TEXT NOT NULL
		)`}},
	{TableConversations, 1, []string{`
		CREATE TABLE IF NOT EXISTS conversation_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			session_id TEXT NOT NULL,
			user_message BLOB NOT NULL,
			assistant_message BLOB NOT NULL,
			metadata BLOB NOT NULL
		)`}},
	{TableConversations, 2, []string{`
		CREATE INDEX IF NOT EXISTS idx_conversation_history_session
			ON conversation_history(session_id, id)`}},
	{TableUserData, 1, []string{`
		CREATE TABLE IF NOT EXISTS user_data (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			data_type TEXT NOT NULL,
			last_updated TEXT NOT NULL
		)`}},
	{TableTokens, 1, []string{`
		CREATE TABLE IF NOT EXISTS github_tokens (
			repo TEXT PRIMARY KEY,
			token BLOB NOT NULL,
			last_updated TEXT NOT NULL
		)`}},
}

// Collections lists the four record collections in report order.
var Collections = []string{TableCredentials, TableConversations, TableUserData, TableTokens}

// latestVersions returns the newest known version per collection.
func latestVersions() map[string]int {
	latest := make(map[string]int, len(Collections))
	for _, m := range migrations {
		if m.version > latest[m.collection] {
			latest[m.collection] = m.version
		}
	}
	return latest
}

const createSchemaVersions = `
	CREATE TABLE IF NOT EXISTS schema_versions (
		collection TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		migrated_at TEXT NOT NULL
	)`

// schemaVersions reads the current version of each collection. Collections
// never migrated are absent from the map.
func schemaVersions(q interface {
	Query(query string, args ...any) (*sql.Rows, error)
}) (map[string]int, error) {
	rows, err := q.Query("SELECT collection, version FROM schema_versions")
	if err != nil {
		return nil, fmt.Errorf("store: failed to read schema versions: %w", err)
	}
	defer rows.Close()

	versions := make(map[string]int)
	for rows.Next() {
		var name string
		var v int
		if err := rows.Scan(&name, &v); err != nil {
			return nil, fmt.Errorf("store: failed to scan schema version: %w", err)
		}
		versions[name] = v
	}
	return versions, rows.Err()
}

// migrate brings every collection to its latest version inside tx. A
// database written by a newer release is refused rather than downgraded.
func migrate(tx *sql.Tx, now time.Time) error {
	if _, err := tx.Exec(createSchemaVersions); err != nil {
		return fmt.Errorf("store: failed to create schema_versions table: %w", err)
	}

	current, err := schemaVersions(tx)
	if err != nil {
		return err
	}
	for name, v := range current {
		if latest, ok := latestVersions()[name]; ok && v > latest {
			return fmt.Errorf("store: collection %s is at schema version %d, newer than supported %d", name, v, latest)
		}
	}

	stamp := now.UTC().Format(timeLayout)
	for _, m := range migrations {
		if current[m.collection] >= m.version {
			continue
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("store: migration of %s to v%d failed: %w", m.collection, m.version, err)
			}
		}
		if _, err := tx.Exec(`
			INSERT INTO schema_versions (collection, version, migrated_at) VALUES (?, ?, ?)
			ON CONFLICT(collection) DO UPDATE SET
				version = excluded.version,
				migrated_at = excluded.migrated_at`,
			m.collection, m.version, stamp); err != nil {
			return fmt.Errorf("store: failed to record schema version: %w", err)
		}
		current[m.collection] = m.version
	}
	return nil
}

// SchemaVersions returns the current schema version of each collection.
func (s *Store) SchemaVersions() (map[string]int, error) {
	const op = "store.schema_versions"
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, classify(op, errClosed)
	}
	v, err := schemaVersions(s.db)
	return v, classify(op, err)
}
