package archive

import (
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/odvcencio/scormview/pkg/errors"
)

// FileSet maps normalized archive paths to blob references. It is written by
// one extraction pass, frozen, then read until Release.
type FileSet struct {
	mu       sync.RWMutex
	store    *Store
	refs     map[string]*Ref
	frozen   bool
	released bool
}

// NewFileSet creates an empty, writable file set backed by store.
func NewFileSet(store *Store) *FileSet {
	return &FileSet{
		store: store,
		refs:  make(map[string]*Ref),
	}
}

// NormalizePath converts a ZIP entry name into a file set key: forward
// slashes, no leading "./" or "/", case preserved. Directory names and paths
// escaping the archive root are rejected.
func NormalizePath(name string) (string, bool) {
	name = strings.ReplaceAll(name, "\\", "/")
	if name == "" || strings.HasSuffix(name, "/") {
		return "", false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", false
		}
	}
	cleaned := path.Clean("/" + name)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", false
	}
	return cleaned, true
}

// Put stores data under a normalized path.
func (f *FileSet) Put(name string, data []byte) (*Ref, error) {
	key, ok := NormalizePath(name)
	if !ok {
		return nil, errors.New(errors.ErrCodeInvalidInput, "unsafe archive path").WithContext("path", name)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frozen || f.released {
		return nil, errors.New(errors.ErrCodeFileSetFrozen, "file set is read-only").WithContext("path", key)
	}
	ref := f.store.Create(key, data, ContentTypeFor(key))
	if prev, exists := f.refs[key]; exists {
		f.store.Revoke(prev.ID)
	}
	f.refs[key] = ref
	return ref, nil
}

// Freeze makes the set read-only.
func (f *FileSet) Freeze() {
	f.mu.Lock()
	f.frozen = true
	f.mu.Unlock()
}

// Frozen reports whether writes are rejected.
func (f *FileSet) Frozen() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.frozen
}

// Get returns the reference stored for an exact path.
func (f *FileSet) Get(name string) (*Ref, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ref, ok := f.refs[name]
	return ref, ok
}

// Has reports whether an exact path is present.
func (f *FileSet) Has(name string) bool {
	_, ok := f.Get(name)
	return ok
}

// Paths returns every stored path in lexicographic order.
func (f *FileSet) Paths() []string {
	f.mu.RLock()
	out := make([]string, 0, len(f.refs))
	for p := range f.refs {
		out = append(out, p)
	}
	f.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of stored files.
func (f *FileSet) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.refs)
}

// Read returns the body and content type for a path.
func (f *FileSet) Read(name string) ([]byte, string, error) {
	ref, ok := f.Get(name)
	if !ok {
		return nil, "", errors.New(errors.ErrCodeStorageRead, "file not in package").WithContext("path", name)
	}
	return f.store.Open(ref.ID)
}

// Release revokes every reference exactly once and empties the set. Later
// calls do nothing. It returns the number of references revoked.
func (f *FileSet) Release() int {
	f.mu.Lock()
	if f.released {
		f.mu.Unlock()
		return 0
	}
	f.released = true
	f.frozen = true
	refs := f.refs
	f.refs = make(map[string]*Ref)
	f.mu.Unlock()

	revoked := 0
	for _, ref := range refs {
		if f.store.Revoke(ref.ID) {
			revoked++
		}
	}
	return revoked
}

// Released reports whether Release has run.
func (f *FileSet) Released() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.released
}
