package store

import (
	"fmt"

	"github.com/forest6511/anavault/pkg/vaulterr"
)

// Wipe drops all four collections and recreates the schema in a single
// transaction under the write lock, so no reader observes a partial wipe.
// The autoincrement sequence of the conversation log restarts.
func (s *Store) Wipe() error {
	const op = "store.wipe"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return vaulterr.New(vaulterr.KindStorageUnavailable, op, errClosed)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}
	defer tx.Rollback()

	for _, table := range Collections {
		if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return vaulterr.New(vaulterr.KindStorageUnavailable, op, fmt.Errorf("failed to drop %s: %w", table, err))
		}
	}
	if _, err := tx.Exec("DROP TABLE IF EXISTS schema_versions"); err != nil {
		return vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}
	if err := migrate(tx, s.now()); err != nil {
		return vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}
	if err := tx.Commit(); err != nil {
		return vaulterr.New(vaulterr.KindStorageUnavailable, op, fmt.Errorf("failed to commit wipe: %w", err))
	}

	// secure_delete zeroes freed pages; VACUUM also returns them to the OS.
	if _, err := s.db.Exec("VACUUM"); err != nil {
		s.logger.Warn("vacuum after wipe failed", "error", err)
	}
	s.logger.Info("all collections wiped")
	return nil
}
