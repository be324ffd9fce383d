package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// MetaKey is the reserved top-level key of the registry document that holds
// aggregate counters. It can never be an owner id.
const MetaKey = "_meta"

var (
	ErrNotFound      = errors.New("upload not found")
	ErrDuplicate     = errors.New("short id already registered")
	ErrReservedOwner = errors.New("owner id is reserved")
)

// Registry maps owner ids to their uploads and resolves short ids across all
// owners. Handlers only see this interface so the backend can be swapped.
type Registry interface {
	// Insert appends u to its owner's list. ErrDuplicate if the short id is
	// taken by any owner.
	Insert(u *Upload) error
	// Find resolves a short id across every owner.
	Find(shortID string) (*Upload, error)
	// ListOwner returns the owner's uploads, newest first.
	ListOwner(ownerID string) ([]Upload, error)
	// ForEachOwner calls fn for every owner in a stable order with the
	// owner's uploads in insertion order. A non-nil error from fn stops the
	// walk and is returned.
	ForEachOwner(fn func(ownerID string, uploads []Upload) error) error
	IncrementViews(shortID string) error
	// Remove deletes the record and counts it as a deletion.
	Remove(shortID string) (*Upload, error)
	// Purge deletes a dangling record without counting it.
	Purge(shortID string) error
	// Deleted returns the cumulative number of Remove calls.
	Deleted() (int64, error)
	Close() error
}

// SortNewestFirst orders uploads by CreatedAt descending, keeping insertion
// order for equal timestamps.
func SortNewestFirst(uploads []Upload) {
	sort.SliceStable(uploads, func(i, j int) bool {
		return uploads[i].CreatedAt > uploads[j].CreatedAt
	})
}

// writeFileAtomic replaces path with data via a temp file in the same dir.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
