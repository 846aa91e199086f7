package store

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/forest6511/anavault/pkg/vaulterr"
)

// Counts is the number of rows in each collection.
type Counts struct {
	APICredentials int `json:"api_credentials"`
	Conversations  int `json:"conversations"`
	UserData       int `json:"user_data"`
	GitHubTokens   int `json:"github_tokens"`
}

// Total returns the sum over all collections.
func (c Counts) Total() int {
	return c.APICredentials + c.Conversations + c.UserData + c.GitHubTokens
}

// KeyNames lists the identifiers of the map-like collections, sorted.
type KeyNames struct {
	APIServices  []string `json:"api_services"`
	UserDataKeys []string `json:"user_data_keys"`
	GitHubRepos  []string `json:"github_repos"`
}

// Counts returns row counts without reading any encrypted column.
func (s *Store) Counts() (Counts, error) {
	const op = "store.counts"
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return Counts{}, vaulterr.New(vaulterr.KindStorageUnavailable, op, errClosed)
	}

	var c Counts
	targets := []struct {
		table string
		dst   *int
	}{
		{TableCredentials, &c.APICredentials},
		{TableConversations, &c.Conversations},
		{TableUserData, &c.UserData},
		{TableTokens, &c.GitHubTokens},
	}
	for _, t := range targets {
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + t.table).Scan(t.dst); err != nil {
			return Counts{}, vaulterr.New(vaulterr.KindStorageUnavailable, op, fmt.Errorf("failed to count %s: %w", t.table, err))
		}
	}
	return c, nil
}

// KeyNames returns the identifying keys of the map-like collections.
func (s *Store) KeyNames() (KeyNames, error) {
	const op = "store.key_names"
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return KeyNames{}, vaulterr.New(vaulterr.KindStorageUnavailable, op, errClosed)
	}

	var k KeyNames
	var err error
	if k.APIServices, err = names(s.db, "SELECT service FROM api_credentials ORDER BY service"); err != nil {
		return KeyNames{}, vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}
	if k.UserDataKeys, err = names(s.db, "SELECT key FROM user_data ORDER BY key"); err != nil {
		return KeyNames{}, vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}
	if k.GitHubRepos, err = names(s.db, "SELECT repo FROM github_tokens ORDER BY repo"); err != nil {
		return KeyNames{}, vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}
	return k, nil
}

func names(db *sql.DB, query string) ([]string, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// IntegrityResult is the outcome of Integrity.
type IntegrityResult struct {
	Valid            bool           `json:"valid"`
	PermissionsValid bool           `json:"permissions_valid"`
	SchemaVersions   map[string]int `json:"schema_versions"`
	Errors           []string       `json:"errors,omitempty"`
}

// Integrity runs SQLite's integrity check, verifies every collection table
// exists at its latest schema version and that the file is owner-only.
func (s *Store) Integrity() (*IntegrityResult, error) {
	const op = "store.integrity"
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, vaulterr.New(vaulterr.KindStorageUnavailable, op, errClosed)
	}

	result := &IntegrityResult{Valid: true, PermissionsValid: true}

	if info, err := os.Stat(s.path); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			result.Valid = false
			result.PermissionsValid = false
			result.Errors = append(result.Errors, fmt.Sprintf("database file has insecure permissions: %04o (expected %04o)", perm, FileMode))
		}
	}

	var check string
	if err := s.db.QueryRow("PRAGMA integrity_check").Scan(&check); err != nil {
		return nil, vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}
	if check != "ok" {
		result.Valid = false
		result.Errors = append(result.Errors, "database integrity check returned: "+check)
	}

	for _, table := range Collections {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, "required table not found: "+table)
		}
	}

	versions, err := schemaVersions(s.db)
	if err != nil {
		return nil, vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}
	result.SchemaVersions = versions
	for name, latest := range latestVersions() {
		if versions[name] != latest {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("%s schema version is %d, expected %d", name, versions[name], latest))
		}
	}
	return result, nil
}
