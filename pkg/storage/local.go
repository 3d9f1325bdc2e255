package storage

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/odvcencio/scormview/pkg/errors"
	"github.com/odvcencio/scormview/pkg/filewatch"
)

// PackageInfo describes one stored package archive.
type PackageInfo struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// LocalStore serves objects from a directory.
type LocalStore struct {
	root   string
	signer *URLSigner
}

// NewLocalStore creates a store rooted at root, creating the directory when
// missing.
func NewLocalStore(root string, signer *URLSigner) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "resolve storage root")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "create storage root").WithContext("root", abs)
	}
	return &LocalStore{root: abs, signer: signer}, nil
}

// Root returns the absolute storage directory.
func (s *LocalStore) Root() string {
	return s.root
}

// Signer returns the store's URL signer.
func (s *LocalStore) Signer() *URLSigner {
	return s.signer
}

// CleanPath normalizes an object path and rejects paths that leave the root.
func CleanPath(p string) (string, error) {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", errors.New(errors.ErrCodeInvalidInput, "invalid object path").WithContext("path", p)
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+p), "/")
	if cleaned == "" {
		return "", errors.New(errors.ErrCodeInvalidInput, "empty object path")
	}
	return cleaned, nil
}

func (s *LocalStore) abs(p string) (string, string, error) {
	rel, err := CleanPath(p)
	if err != nil {
		return "", "", err
	}
	return rel, filepath.Join(s.root, filepath.FromSlash(rel)), nil
}

// Stat describes the object at p.
func (s *LocalStore) Stat(p string) (PackageInfo, error) {
	rel, full, err := s.abs(p)
	if err != nil {
		return PackageInfo{}, err
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		if err == nil {
			err = fs.ErrNotExist
		}
		return PackageInfo{}, errors.Wrap(err, errors.ErrCodeStorageRead, "object not found").WithContext("path", rel)
	}
	return PackageInfo{Path: rel, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Open opens the object at p for reading.
func (s *LocalStore) Open(p string) (*os.File, PackageInfo, error) {
	info, err := s.Stat(p)
	if err != nil {
		return nil, PackageInfo{}, err
	}
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(info.Path)))
	if err != nil {
		return nil, PackageInfo{}, errors.Wrap(err, errors.ErrCodeStorageRead, "open object").WithContext("path", info.Path)
	}
	return f, info, nil
}

// SignedDownloadURL signs a URL for an existing object.
func (s *LocalStore) SignedDownloadURL(p string, ttl time.Duration) (string, error) {
	info, err := s.Stat(p)
	if err != nil {
		return "", err
	}
	return s.signer.SignedDownloadURL(info.Path, ttl)
}

// List returns every .zip package under the root, sorted by path.
func (s *LocalStore) List() ([]PackageInfo, error) {
	var out []PackageInfo
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(p), ".zip") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(s.root, p)
		out = append(out, PackageInfo{Path: filepath.ToSlash(rel), Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "list packages").WithContext("root", s.root)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Watch reports package archive changes to fw until ctx is done.
func (s *LocalStore) Watch(ctx context.Context, fw *filewatch.FileWatcher) error {
	return fw.Watch(ctx, s.root)
}
