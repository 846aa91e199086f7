// Package keyfile owns the lifecycle of the vault's single symmetric key.
//
// The key is 32 raw bytes stored in one file with owner-only permissions.
// LoadOrCreate reads it if present and readable, otherwise generates and
// persists a new one. An unreadable or malformed key file is moved aside
// rather than overwritten so its bytes remain available for recovery.
package keyfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/forest6511/anavault/pkg/crypto"
	"github.com/forest6511/anavault/pkg/vaulterr"
)

const (
	FileMode = 0600 // Owner read/write only
	DirMode  = 0700 // Owner read/write/execute only
)

// Manager loads or creates the key file at a fixed path.
type Manager struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// New returns a Manager for the key file at path. A nil logger uses
// slog.Default().
func New(path string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		path:   path,
		logger: logger.With("component", "keyfile"),
		now:    time.Now,
	}
}

// Path returns the key file path.
func (m *Manager) Path() string {
	return m.path
}

// LoadOrCreate returns the installation key.
//
// Read failures are logged and fall back to generating a new key. The only
// error is a *vaulterr.Error of KindKeyUnavailable, returned when the key can
// be neither read nor written.
func (m *Manager) LoadOrCreate() ([]byte, error) {
	key, readErr := m.read()
	if readErr == nil {
		m.logger.Info("loaded existing encryption key")
		return key, nil
	}

	exists := !errors.Is(readErr, os.ErrNotExist)
	if exists {
		m.logger.Error("failed to load encryption key, generating a new one", "error", readErr)
		if err := m.quarantine(); err != nil {
			return nil, vaulterr.New(vaulterr.KindKeyUnavailable, "keyfile.load_or_create",
				fmt.Errorf("%v; moving unreadable key aside: %w", readErr, err))
		}
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, vaulterr.New(vaulterr.KindKeyUnavailable, "keyfile.load_or_create", err)
	}
	if err := m.write(key); err != nil {
		crypto.SecureWipe(key)
		m.logger.Error("failed to save encryption key", "error", err)
		return nil, vaulterr.New(vaulterr.KindKeyUnavailable, "keyfile.load_or_create", err)
	}

	m.logger.Info("created new encryption key")
	return key, nil
}

// errMalformed marks a key file with the wrong length.
var errMalformed = errors.New("keyfile: key file has invalid length")

func (m *Manager) read() ([]byte, error) {
	key, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	if len(key) != crypto.KeyLength {
		crypto.SecureWipe(key)
		return nil, fmt.Errorf("%w: %d bytes, want %d", errMalformed, len(key), crypto.KeyLength)
	}
	return key, nil
}

// quarantine renames an unreadable key file to <path>.corrupt-<unix>.
func (m *Manager) quarantine() error {
	aside := fmt.Sprintf("%s.corrupt-%d", m.path, m.now().Unix())
	if err := os.Rename(m.path, aside); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	m.logger.Warn("moved unreadable key file aside", "path", aside)
	return nil
}

// write persists key atomically: temp file (0600) in the same directory,
// fsync, rename, chmod.
func (m *Manager) write(key []byte) error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return fmt.Errorf("keyfile: failed to create key directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".key-*")
	if err != nil {
		return fmt.Errorf("keyfile: failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(FileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("keyfile: failed to restrict temp file: %w", err)
	}
	if _, err := tmp.Write(key); err != nil {
		tmp.Close()
		return fmt.Errorf("keyfile: failed to write key: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("keyfile: failed to sync key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("keyfile: failed to close key file: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		return fmt.Errorf("keyfile: failed to install key file: %w", err)
	}
	if err := os.Chmod(m.path, FileMode); err != nil {
		return fmt.Errorf("keyfile: failed to set key file permissions: %w", err)
	}
	return nil
}

// CheckPermissions returns an error describing insecure permissions on the
// key file or its directory, or nil if both are owner-only.
func (m *Manager) CheckPermissions() error {
	return CheckOwnerOnly(m.path)
}

// CheckOwnerOnly verifies that path has no group/other permission bits.
func CheckOwnerOnly(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("%s has insecure permissions %04o (expected %04o)", filepath.Base(path), perm, FileMode)
	}
	return nil
}
