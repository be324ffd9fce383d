package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
)

// JSONFile is a Registry kept entirely in memory and rewritten wholesale to
// a single JSON document after every mutation. The document maps owner ids
// to upload arrays, plus MetaKey for counters.
//
// The mutex covers the whole read-modify-write-persist sequence; net/http
// runs handlers in parallel and would otherwise lose updates.
type JSONFile struct {
	mu      sync.RWMutex
	path    string
	owners  map[string][]Upload
	index   map[string]string // short id -> owner id
	deleted int64
}

type registryMeta struct {
	Deleted int64 `json:"deleted"`
}

// OpenJSONFile loads the registry at path. A missing file is an empty
// registry; the file is created on the first mutation.
func OpenJSONFile(path string) (*JSONFile, error) {
	r := &JSONFile{
		path:   path,
		owners: make(map[string][]Upload),
		index:  make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if len(data) == 0 {
		return r, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	for key, raw := range doc {
		if key == MetaKey {
			var meta registryMeta
			if err := json.Unmarshal(raw, &meta); err != nil {
				return nil, fmt.Errorf("parse registry meta: %w", err)
			}
			r.deleted = meta.Deleted
			continue
		}
		var uploads []Upload
		if err := json.Unmarshal(raw, &uploads); err != nil {
			return nil, fmt.Errorf("parse uploads of %q: %w", key, err)
		}
		for i := range uploads {
			uploads[i].OwnerID = key
			r.index[uploads[i].ShortID] = key
		}
		if len(uploads) > 0 {
			r.owners[key] = uploads
		}
	}
	return r, nil
}

// save writes the whole document. Callers hold r.mu.
func (r *JSONFile) save() error {
	doc := make(map[string]any, len(r.owners)+1)
	for owner, uploads := range r.owners {
		doc[owner] = uploads
	}
	doc[MetaKey] = registryMeta{Deleted: r.deleted}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	if err := writeFileAtomic(r.path, data); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

// commit installs next as owner's list, adds delta to the deleted counter
// and persists. The in-memory state is restored if the write fails.
func (r *JSONFile) commit(owner string, next []Upload, delta int64) error {
	prev, had := r.owners[owner]
	if len(next) == 0 {
		delete(r.owners, owner)
	} else {
		r.owners[owner] = next
	}
	r.deleted += delta

	if err := r.save(); err != nil {
		if had {
			r.owners[owner] = prev
		} else {
			delete(r.owners, owner)
		}
		r.deleted -= delta
		return err
	}
	return nil
}

func (r *JSONFile) Insert(u *Upload) error {
	if u.OwnerID == MetaKey {
		return fmt.Errorf("insert upload: %w", ErrReservedOwner)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.index[u.ShortID]; taken {
		return fmt.Errorf("insert upload %s: %w", u.ShortID, ErrDuplicate)
	}

	cur := r.owners[u.OwnerID]
	next := make([]Upload, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, *u)

	if err := r.commit(u.OwnerID, next, 0); err != nil {
		return err
	}
	r.index[u.ShortID] = u.OwnerID
	return nil
}

// locate returns the owner and position of shortID. Callers hold r.mu.
func (r *JSONFile) locate(shortID string) (string, int, bool) {
	owner, ok := r.index[shortID]
	if !ok {
		return "", 0, false
	}
	for i, u := range r.owners[owner] {
		if u.ShortID == shortID {
			return owner, i, true
		}
	}
	return "", 0, false
}

func (r *JSONFile) Find(shortID string) (*Upload, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owner, i, ok := r.locate(shortID)
	if !ok {
		return nil, fmt.Errorf("find %s: %w", shortID, ErrNotFound)
	}
	u := r.owners[owner][i]
	return &u, nil
}

func (r *JSONFile) ListOwner(ownerID string) ([]Upload, error) {
	r.mu.RLock()
	uploads := append([]Upload(nil), r.owners[ownerID]...)
	r.mu.RUnlock()

	SortNewestFirst(uploads)
	return uploads, nil
}

func (r *JSONFile) ForEachOwner(fn func(ownerID string, uploads []Upload) error) error {
	r.mu.RLock()
	owners := make([]string, 0, len(r.owners))
	snapshot := make(map[string][]Upload, len(r.owners))
	for owner, uploads := range r.owners {
		owners = append(owners, owner)
		snapshot[owner] = append([]Upload(nil), uploads...)
	}
	r.mu.RUnlock()

	sort.Strings(owners)
	for _, owner := range owners {
		if err := fn(owner, snapshot[owner]); err != nil {
			return err
		}
	}
	return nil
}

func (r *JSONFile) IncrementViews(shortID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, i, ok := r.locate(shortID)
	if !ok {
		return fmt.Errorf("increment views %s: %w", shortID, ErrNotFound)
	}
	next := append([]Upload(nil), r.owners[owner]...)
	next[i].Views++
	return r.commit(owner, next, 0)
}

func (r *JSONFile) remove(shortID string, delta int64) (*Upload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, i, ok := r.locate(shortID)
	if !ok {
		return nil, fmt.Errorf("remove %s: %w", shortID, ErrNotFound)
	}
	cur := r.owners[owner]
	removed := cur[i]
	next := make([]Upload, 0, len(cur)-1)
	next = append(next, cur[:i]...)
	next = append(next, cur[i+1:]...)

	if err := r.commit(owner, next, delta); err != nil {
		return nil, err
	}
	delete(r.index, shortID)
	return &removed, nil
}

func (r *JSONFile) Remove(shortID string) (*Upload, error) {
	return r.remove(shortID, 1)
}

func (r *JSONFile) Purge(shortID string) error {
	_, err := r.remove(shortID, 0)
	return err
}

func (r *JSONFile) Deleted() (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.deleted, nil
}

// Close is a no-op: every mutation is already on disk.
func (r *JSONFile) Close() error {
	return nil
}
