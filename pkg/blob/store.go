// Package blob implements the content-addressed blob store: a
// key-value interface keyed by the BLAKE3 hash of the stored bytes, with
// a sharded-directory on-disk implementation that writes via
// temp-file-plus-rename for atomicity.
package blob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aoecas/aoecas/pkg/hash"
)

// ErrNotFound is returned by Get and Delete semantics treat it as success.
var ErrNotFound = errors.New("blob: not found")

// ErrCorrupted is returned when stored (or to-be-stored) bytes do not
// hash to the expected key.
var ErrCorrupted = errors.New("blob: corrupted")

// Store is the content-addressed blob store contract. Implementations
// must be safe for concurrent use: readers never block, and concurrent
// writers racing on the same hash are safe because they write identical
// content by construction (the hash is a function of the bytes).
type Store interface {
	// Put stores data under hash.FromData(data). It fails with
	// ErrCorrupted if h != hash.FromData(data). Putting an
	// already-present blob is a no-op success.
	Put(h hash.Hash, data []byte) error

	// Get returns the bytes stored under h. It fails with ErrNotFound if
	// absent, ErrCorrupted if the on-disk bytes no longer hash to h.
	Get(h hash.Hash) ([]byte, error)

	// Exists reports whether a blob is stored under h.
	Exists(h hash.Hash) (bool, error)

	// Delete removes the blob stored under h. Idempotent: deleting an
	// absent blob is a success.
	Delete(h hash.Hash) error

	// Sync durably flushes any buffered directory metadata.
	Sync() error
}

// FileStore is the default Store implementation: a directory sharded by
// the first byte of the hash's hex encoding, i.e.
// root/<hex[0:2]>/<hex[2:]>. Directories are created lazily.
type FileStore struct {
	root *os.File // held open so Sync can fsync the root directory
	dir  string
}

// NewFileStore opens (creating if necessary) a FileStore rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create root %s: %w", dir, err)
	}
	f, err := os.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("blob: open root %s: %w", dir, err)
	}
	return &FileStore{root: f, dir: dir}, nil
}

func (s *FileStore) path(h hash.Hash) (shardDir, full string) {
	hx := h.Hex()
	shardDir = filepath.Join(s.dir, hx[:2])
	full = filepath.Join(shardDir, hx[2:])
	return shardDir, full
}

// Put implements Store.
func (s *FileStore) Put(h hash.Hash, data []byte) error {
	if hash.FromData(data) != h {
		return fmt.Errorf("blob: put %s: %w", h, ErrCorrupted)
	}

	shardDir, full := s.path(h)
	if _, err := os.Stat(full); err == nil {
		return nil // idempotent: already present
	}

	if err := os.MkdirAll(shardDir, 0o755); err != nil {
		return fmt.Errorf("blob: mkdir %s: %w", shardDir, err)
	}

	tmp, err := os.CreateTemp(shardDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("blob: create temp in %s: %w", shardDir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("blob: write %s: %w", h, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("blob: sync %s: %w", h, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("blob: close %s: %w", h, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("blob: rename %s: %w", h, err)
	}
	return nil
}

// Get implements Store.
func (s *FileStore) Get(h hash.Hash) ([]byte, error) {
	_, full := s.path(h)
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob: get %s: %w", h, ErrNotFound)
		}
		return nil, fmt.Errorf("blob: get %s: %w", h, err)
	}
	if hash.FromData(data) != h {
		return nil, fmt.Errorf("blob: get %s: %w", h, ErrCorrupted)
	}
	return data, nil
}

// Exists implements Store.
func (s *FileStore) Exists(h hash.Hash) (bool, error) {
	_, full := s.path(h)
	_, err := os.Stat(full)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("blob: exists %s: %w", h, err)
}

// Delete implements Store.
func (s *FileStore) Delete(h hash.Hash) error {
	_, full := s.path(h)
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blob: delete %s: %w", h, err)
	}
	return nil
}

// Sync implements Store.
func (s *FileStore) Sync() error {
	return s.root.Sync()
}

// Close releases the root directory handle.
func (s *FileStore) Close() error {
	return s.root.Close()
}
