// Package blobstore keeps encrypted files outside the record collections,
// one subdirectory per purpose (for example voice recordings).
package blobstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/anavault/pkg/codec"
	"github.com/forest6511/anavault/pkg/vaulterr"
)

const (
	FileMode = 0600 // Owner read/write only
	DirMode  = 0700 // Owner read/write/execute only

	// MaxNameLength bounds purpose and file names in bytes.
	MaxNameLength = 255
)

// Codec seals and opens file contents.
type Codec interface {
	Seal(p codec.Payload, aad []byte) ([]byte, error)
	Open(blob []byte, aad []byte) (codec.Payload, error)
}

// Purpose summarises one purpose directory.
type Purpose struct {
	Name  string `json:"name"`
	Files int    `json:"files"`
}

// Area is a purpose-scoped encrypted file area rooted at a directory.
type Area struct {
	root   string
	codec  Codec
	logger *slog.Logger

	// mu lets WipeAll exclude every other operation.
	mu sync.RWMutex
}

// New returns an Area rooted at root. The directory is created lazily.
func New(root string, c Codec, logger *slog.Logger) *Area {
	if logger == nil {
		logger = slog.Default()
	}
	return &Area{root: root, codec: c, logger: logger.With("component", "blobstore")}
}

// Root returns the area's root directory.
func (a *Area) Root() string {
	return a.root
}

// name validates a purpose or file name: a single non-hidden path element.
func name(op, what, n string) (string, error) {
	n = norm.NFC.String(n)
	switch {
	case n == "":
		return "", vaulterr.Errorf(vaulterr.KindInvalidInput, op, "%s must not be empty", what)
	case len(n) > MaxNameLength:
		return "", vaulterr.Errorf(vaulterr.KindInvalidInput, op, "%s too long", what)
	case strings.HasPrefix(n, "."):
		return "", vaulterr.Errorf(vaulterr.KindInvalidInput, op, "%s must not start with '.'", what)
	case strings.ContainsAny(n, `/\`) || strings.ContainsRune(n, filepath.Separator):
		return "", vaulterr.Errorf(vaulterr.KindInvalidInput, op, "%s must not contain path separators", what)
	case filepath.VolumeName(n) != "":
		return "", vaulterr.Errorf(vaulterr.KindInvalidInput, op, "%s must not contain a volume name", what)
	}
	for _, r := range n {
		if unicode.IsControl(r) || r == ':' {
			return "", vaulterr.Errorf(vaulterr.KindInvalidInput, op, "%s contains invalid characters", what)
		}
	}
	return n, nil
}

func (a *Area) resolve(op, purpose, filename string) (string, []byte, error) {
	purpose, err := name(op, "purpose", purpose)
	if err != nil {
		return "", nil, err
	}
	filename, err = name(op, "filename", filename)
	if err != nil {
		return "", nil, err
	}
	return filepath.Join(a.root, purpose, filename), []byte("files/" + purpose + "/" + filename), nil
}

// Save encrypts p and writes it atomically to purpose/filename, replacing
// any previous file. Text, bytes and records keep their shape through Load.
// It returns the file path.
func (a *Area) Save(p codec.Payload, purpose, filename string) (string, error) {
	const op = "blobstore.save"
	path, context, err := a.resolve(op, purpose, filename)
	if err != nil {
		return "", err
	}

	blob, err := a.codec.Seal(p, context)
	if err != nil {
		return "", vaulterr.New(vaulterr.KindOf(err), op, err)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return "", vaulterr.New(vaulterr.KindStorageUnavailable, op, fmt.Errorf("failed to create purpose directory: %w", err))
	}
	if err := writeAtomic(dir, path, blob); err != nil {
		return "", vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}

	a.logger.Debug("saved encrypted file", "purpose", filepath.Base(dir), "file", filepath.Base(path))
	return path, nil
}

func writeAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".blob-*")
	if err != nil {
		return fmt.Errorf("blobstore: failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(FileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("blobstore: failed to restrict temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("blobstore: failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("blobstore: failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("blobstore: failed to close file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("blobstore: failed to install file: %w", err)
	}
	return os.Chmod(path, FileMode)
}

// Load reads and decrypts purpose/filename, or returns NotFound.
func (a *Area) Load(purpose, filename string) (codec.Payload, error) {
	const op = "blobstore.load"
	path, context, err := a.resolve(op, purpose, filename)
	if err != nil {
		return codec.Payload{}, err
	}

	a.mu.RLock()
	blob, err := os.ReadFile(path)
	a.mu.RUnlock()
	if errors.Is(err, os.ErrNotExist) {
		return codec.Payload{}, vaulterr.New(vaulterr.KindNotFound, op, nil)
	}
	if err != nil {
		return codec.Payload{}, vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}

	p, err := a.codec.Open(blob, context)
	if err != nil {
		a.logger.Error("failed to decrypt file", "file", filepath.Base(path), "error", err)
		return codec.Payload{}, vaulterr.New(vaulterr.KindOf(err), op, err)
	}
	return p, nil
}

// Delete removes purpose/filename, or returns NotFound.
func (a *Area) Delete(purpose, filename string) error {
	const op = "blobstore.delete"
	path, _, err := a.resolve(op, purpose, filename)
	if err != nil {
		return err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	err = os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return vaulterr.New(vaulterr.KindNotFound, op, nil)
	}
	if err != nil {
		return vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}
	return nil
}

// List returns the file names stored under purpose, sorted. An unknown
// purpose has no files.
func (a *Area) List(purpose string) ([]string, error) {
	const op = "blobstore.list"
	purpose, err := name(op, "purpose", purpose)
	if err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	files, err := listFiles(filepath.Join(a.root, purpose))
	if err != nil {
		return nil, vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}
	return files, nil
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	files := []string{}
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Purposes returns every purpose directory with its file count, sorted by
// name. File contents are never read.
func (a *Area) Purposes() ([]Purpose, error) {
	const op = "blobstore.purposes"
	a.mu.RLock()
	defer a.mu.RUnlock()

	entries, err := os.ReadDir(a.root)
	if errors.Is(err, os.ErrNotExist) {
		return []Purpose{}, nil
	}
	if err != nil {
		return nil, vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}

	purposes := []Purpose{}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files, err := listFiles(filepath.Join(a.root, e.Name()))
		if err != nil {
			return nil, vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
		}
		purposes = append(purposes, Purpose{Name: e.Name(), Files: len(files)})
	}
	return purposes, nil
}

// WipeAll removes every purpose directory. The root itself is kept.
func (a *Area) WipeAll() error {
	const op = "blobstore.wipe_all"
	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := os.ReadDir(a.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}

	var errs []error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(a.root, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}
	a.logger.Info("encrypted file area wiped", "entries", len(entries))
	return nil
}
