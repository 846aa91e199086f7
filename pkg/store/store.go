// Package store persists the vault's four record collections in SQLite.
//
// Every sensitive column holds a blob produced by the injected Codec; the
// store never writes plaintext values. All access goes through one database
// connection guarded by a sync.RWMutex: writers hold the write lock for the
// whole statement or transaction, readers share the read lock.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/anavault/pkg/codec"
	"github.com/forest6511/anavault/pkg/vaulterr"

	_ "modernc.org/sqlite"
)

const (
	FileMode = 0600 // Owner read/write only
	DirMode  = 0700 // Owner read/write/execute only

	// MaxIdentifierLength bounds service names, user-data keys, repos and
	// session ids, in bytes after normalisation.
	MaxIdentifierLength = 256

	// MinDiskSpaceBytes is the free space required before any write.
	MinDiskSpaceBytes = 10 * 1024 * 1024
	// DiskWarningPercent logs a warning when the disk is this full.
	DiskWarningPercent = 90

	// sessionIDLayout formats the default session id (local time).
	sessionIDLayout = "20060102150405"
	// timeLayout is how timestamps are stored.
	timeLayout = time.RFC3339Nano
)

// Collection names, also used as table names.
const (
	TableCredentials   = "api_credentials"
	TableConversations = "conversation_history"
	TableUserData      = "user_data"
	TableTokens        = "github_tokens"
)

// Codec seals and opens column blobs bound to a context string.
type Codec interface {
	Seal(p codec.Payload, aad []byte) ([]byte, error)
	Open(blob []byte, aad []byte) (codec.Payload, error)
}

// Options configures a Store.
type Options struct {
	// Logger receives store diagnostics. Nil uses slog.Default().
	Logger *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Store is the SecureRecordStore.
type Store struct {
	path   string
	codec  Codec
	logger *slog.Logger
	now    func() time.Time

	// checkSpace is replaced in tests.
	checkSpace func(dataSize int) error

	mu sync.RWMutex
	db *sql.DB
}

var errClosed = errors.New("store: database is closed")

// Open opens or creates the database at path and brings every collection's
// schema up to date. The file is created with FileMode before the driver
// opens it.
func Open(path string, c Codec, opts Options) (*Store, error) {
	const op = "store.open"

	if c == nil {
		return nil, vaulterr.Errorf(vaulterr.KindInvalidInput, op, "codec is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Store{
		path:   path,
		codec:  c,
		logger: logger.With("component", "store"),
		now:    now,
	}
	s.checkSpace = s.checkDiskSpaceForWrite

	if err := os.MkdirAll(filepath.Dir(path), DirMode); err != nil {
		return nil, vaulterr.New(vaulterr.KindStorageUnavailable, op,
			fmt.Errorf("failed to create database directory: %w", err))
	}
	if err := createRestricted(path); err != nil {
		return nil, vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}
	s.warnPermissions()

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=secure_delete(1)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, vaulterr.New(vaulterr.KindStorageUnavailable, op, fmt.Errorf("failed to open database: %w", err))
	}
	// One connection: every statement is serialised through it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, vaulterr.New(vaulterr.KindStorageUnavailable, op, fmt.Errorf("failed to open database: %w", err))
	}

	tx, err := db.Begin()
	if err != nil {
		db.Close()
		return nil, vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}
	if err := migrate(tx, now()); err != nil {
		tx.Rollback()
		db.Close()
		return nil, vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}
	if err := tx.Commit(); err != nil {
		db.Close()
		return nil, vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}

	s.db = db
	s.logger.Info("secure record store initialized", "path", path)
	return s, nil
}

// createRestricted creates path with FileMode if it does not exist.
func createRestricted(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, FileMode)
	if errors.Is(err, os.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create database file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Chmod(path, FileMode)
}

// warnPermissions logs when an existing database file is readable by others.
// It does not change the mode: the operator may have reasons.
func (s *Store) warnPermissions() {
	if info, err := os.Stat(s.path); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			s.logger.Warn("database file has insecure permissions",
				"mode", fmt.Sprintf("%04o", perm), "expected", fmt.Sprintf("%04o", FileMode))
		}
	}
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database. Subsequent calls fail with StorageUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Canonical returns the form identifiers are stored under: trimmed and
// NFC-normalised.
func Canonical(id string) string {
	return norm.NFC.String(strings.TrimSpace(id))
}

// identifier canonicalises a caller-supplied identifier: NFC, trimmed,
// 1..MaxIdentifierLength bytes, no control characters.
func identifier(op, what, id string) (string, error) {
	id = Canonical(id)
	if id == "" {
		return "", vaulterr.Errorf(vaulterr.KindInvalidInput, op, "%s must not be empty", what)
	}
	if len(id) > MaxIdentifierLength {
		return "", vaulterr.Errorf(vaulterr.KindInvalidInput, op,
			"%s too long: %d bytes exceeds maximum of %d", what, len(id), MaxIdentifierLength)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return "", vaulterr.Errorf(vaulterr.KindInvalidInput, op, "%s contains control characters", what)
		}
	}
	return id, nil
}

// aad binds a blob to the row and column it was written to.
func aad(parts ...string) []byte {
	return []byte(strings.Join(parts, "/"))
}

// classify re-labels err with op, keeping the kind of a vault error and
// treating anything else as a storage failure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ve *vaulterr.Error
	if errors.As(err, &ve) {
		return vaulterr.New(ve.Kind, op, ve)
	}
	return vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// upsert writes one row of a map-like collection, replacing any previous
// row with the same identifier including its timestamp.
func (s *Store) upsert(op, query string, blobSize int, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return vaulterr.New(vaulterr.KindStorageUnavailable, op, errClosed)
	}
	if err := s.checkSpace(blobSize); err != nil {
		return vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}
	return nil
}

// fetch reads the single blob column selected by query. A missing row is
// NotFound.
func (s *Store) fetch(op, query string, args ...any) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, vaulterr.New(vaulterr.KindStorageUnavailable, op, errClosed)
	}
	var blob []byte
	err := s.db.QueryRow(query, args...).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vaulterr.New(vaulterr.KindNotFound, op, nil)
	}
	if err != nil {
		return nil, vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}
	return blob, nil
}

// remove deletes the row keyed by id from table.
func (s *Store) remove(op, table, column, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return vaulterr.New(vaulterr.KindStorageUnavailable, op, errClosed)
	}
	result, err := s.db.Exec("DELETE FROM "+table+" WHERE "+column+" = ?", id)
	if err != nil {
		return vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}
	if n == 0 {
		return vaulterr.New(vaulterr.KindNotFound, op, nil)
	}
	return nil
}
