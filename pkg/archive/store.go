package archive

import (
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/scormview/pkg/errors"
	"github.com/odvcencio/scormview/pkg/observability"
)

// Ref is a revocable reference to one extracted file.
type Ref struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

type blob struct {
	data        []byte
	contentType string
}

// Store holds extracted file bodies addressable by blob id. Every blob stays
// reachable until it is revoked.
type Store struct {
	mu        sync.RWMutex
	blobs     map[string]*blob
	urlPrefix string
}

// NewStore creates a blob store whose refs are served under urlPrefix.
func NewStore(urlPrefix string) *Store {
	return &Store{
		blobs:     make(map[string]*blob),
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
	}
}

// Create registers data and returns a live reference to it.
func (s *Store) Create(name string, data []byte, contentType string) *Ref {
	id := ulid.Make().String()

	s.mu.Lock()
	s.blobs[id] = &blob{data: data, contentType: contentType}
	s.mu.Unlock()
	observability.LiveBlobs.Inc()

	return &Ref{
		ID:          id,
		Path:        name,
		URL:         s.urlPrefix + "/" + id,
		ContentType: contentType,
		Size:        int64(len(data)),
	}
}

// Open returns the body and content type of a live blob.
func (s *Store) Open(id string) ([]byte, string, error) {
	s.mu.RLock()
	b, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, "", errors.New(errors.ErrCodeBlobRevoked, "blob not found or revoked").WithContext("blob_id", id)
	}
	return b.data, b.contentType, nil
}

// Revoke drops a blob. It reports whether this call performed the revocation;
// revoking an unknown or already revoked id is a no-op.
func (s *Store) Revoke(id string) bool {
	s.mu.Lock()
	_, ok := s.blobs[id]
	if ok {
		delete(s.blobs, id)
	}
	s.mu.Unlock()
	if ok {
		observability.LiveBlobs.Dec()
	}
	return ok
}

// Len returns the number of live blobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
