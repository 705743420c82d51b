// Package snapshot implements the CAS backend's snapshot index: an
// ordered, durable list of named references to past Merkle roots,
// persisted as a JSON array next to the blob store.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aoecas/aoecas/pkg/hash"
)

// Entry is one snapshot: a root hash, the unix-seconds timestamp it was
// taken at, and an optional human description.
type Entry struct {
	Root        string `json:"root"`
	Timestamp   uint64 `json:"timestamp"`
	Description string `json:"description,omitempty"`
}

// Index is the persisted, append-only list of snapshots for one CAS
// backend. It has no delete operation: entries are only ever appended.
type Index struct {
	mu      sync.Mutex
	path    string
	entries []Entry
}

// Open loads the snapshot index from path, or starts an empty one if the
// file does not yet exist.
func Open(path string) (*Index, error) {
	idx := &Index{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, fmt.Errorf("snapshot: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return idx, nil
	}
	if err := json.Unmarshal(data, &idx.entries); err != nil {
		return nil, fmt.Errorf("snapshot: parse %s: %w", path, err)
	}
	return idx, nil
}

// Entries returns a copy of the ordered snapshot list.
func (idx *Index) Entries() []Entry {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	out := make([]Entry, len(idx.entries))
	copy(out, idx.entries)
	return out
}

// Latest returns the most recently appended snapshot's root, if any.
// This is the root a CAS backend auto-loads at startup.
func (idx *Index) Latest() (hash.Hash, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if len(idx.entries) == 0 {
		return hash.Zero, false
	}
	h, err := hash.ParseHex(idx.entries[len(idx.entries)-1].Root)
	if err != nil {
		return hash.Zero, false
	}
	return h, true
}

// Find returns the snapshot whose root's hex matches id.
func (idx *Index) Find(id string) (Entry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, e := range idx.entries {
		if e.Root == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Append records a new snapshot and persists the index atomically.
func (idx *Index) Append(root hash.Hash, timestamp uint64, description string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = append(idx.entries, Entry{
		Root:        root.Hex(),
		Timestamp:   timestamp,
		Description: description,
	})
	return idx.saveLocked()
}

func (idx *Index) saveLocked() error {
	data, err := json.MarshalIndent(idx.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}

	dir := filepath.Dir(idx.path)
	tmp, err := os.CreateTemp(dir, ".snapshots-*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: close: %w", err)
	}
	if err := os.Rename(tmpName, idx.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	return nil
}
