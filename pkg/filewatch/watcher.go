// Package filewatch reports package file changes under the storage root so
// open viewing sessions can reload.
package filewatch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/scormview/pkg/observability"
)

// ChangeType describes the kind of file change observed.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeRenamed  ChangeType = "renamed"
)

const (
	defaultMaxHistory = 100
	// DefaultDebounce coalesces the burst of writes an upload produces.
	DefaultDebounce = 250 * time.Millisecond
)

// FileChange records a change to a file under the watched root.
type FileChange struct {
	// Path is relative to the watched root, slash separated.
	Path    string     `json:"path"`
	Type    ChangeType `json:"type"`
	Size    int64      `json:"size,omitempty"`
	ModTime time.Time  `json:"mod_time,omitempty"`
}

// FileChangeHandler receives file change notifications.
type FileChangeHandler func(change FileChange)

// Subscription binds a pattern to a handler.
type Subscription struct {
	ID      string
	Pattern string
	Handler FileChangeHandler
}

// FileWatcher fans file changes out to pattern subscriptions.
type FileWatcher struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	recentChanges []FileChange
	maxHistory    int
	debounce      time.Duration
	logger        *observability.Logger
}

// NewFileWatcher creates a watcher with bounded history.
func NewFileWatcher(maxHistory int, logger *observability.Logger) *FileWatcher {
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &FileWatcher{
		subscriptions: make(map[string]*Subscription),
		maxHistory:    maxHistory,
		debounce:      DefaultDebounce,
		logger:        logger,
	}
}

// SetDebounce overrides the coalescing window used by Watch.
func (fw *FileWatcher) SetDebounce(d time.Duration) {
	fw.mu.Lock()
	fw.debounce = d
	fw.mu.Unlock()
}

// Subscribe registers a file change handler for a glob pattern.
func (fw *FileWatcher) Subscribe(pattern string, handler FileChangeHandler) string {
	if fw == nil || handler == nil {
		return ""
	}
	id := ulid.Make().String()
	sub := &Subscription{
		ID:      id,
		Pattern: strings.TrimSpace(pattern),
		Handler: handler,
	}
	fw.mu.Lock()
	fw.subscriptions[id] = sub
	fw.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription.
func (fw *FileWatcher) Unsubscribe(id string) {
	if fw == nil || strings.TrimSpace(id) == "" {
		return
	}
	fw.mu.Lock()
	delete(fw.subscriptions, id)
	fw.mu.Unlock()
}

// Notify publishes a file change event.
func (fw *FileWatcher) Notify(change FileChange) {
	if fw == nil {
		return
	}
	fw.mu.Lock()
	fw.recentChanges = append(fw.recentChanges, change)
	if len(fw.recentChanges) > fw.maxHistory {
		fw.recentChanges = fw.recentChanges[len(fw.recentChanges)-fw.maxHistory:]
	}
	subs := make([]*Subscription, 0, len(fw.subscriptions))
	for _, sub := range fw.subscriptions {
		subs = append(subs, sub)
	}
	fw.mu.Unlock()

	for _, sub := range subs {
		if matchesPattern(sub.Pattern, change.Path) {
			sub.Handler(change)
		}
	}
}

// RecentChanges returns the most recent changes (newest first).
func (fw *FileWatcher) RecentChanges(limit int) []FileChange {
	if fw == nil {
		return nil
	}
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	if limit <= 0 || limit > len(fw.recentChanges) {
		limit = len(fw.recentChanges)
	}
	out := make([]FileChange, 0, limit)
	for i := len(fw.recentChanges) - 1; i >= len(fw.recentChanges)-limit; i-- {
		out = append(out, fw.recentChanges[i])
	}
	return out
}

// Watch observes root recursively until ctx is done, notifying subscribers
// once per path after writes settle.
func (fw *FileWatcher) Watch(ctx context.Context, root string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := addTree(w, root); err != nil {
		return err
	}

	fw.mu.RLock()
	debounce := fw.debounce
	fw.mu.RUnlock()

	var (
		pendingMu sync.Mutex
		pending   = make(map[string]*time.Timer)
	)
	defer func() {
		pendingMu.Lock()
		for _, t := range pending {
			t.Stop()
		}
		pendingMu.Unlock()
	}()

	schedule := func(abs string, typ ChangeType) {
		pendingMu.Lock()
		defer pendingMu.Unlock()
		if t, ok := pending[abs]; ok {
			t.Stop()
		}
		pending[abs] = time.AfterFunc(debounce, func() {
			pendingMu.Lock()
			delete(pending, abs)
			pendingMu.Unlock()
			if ctx.Err() != nil {
				return
			}
			fw.Notify(describe(root, abs, typ))
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fw.logger.Warn("file watch error", "error", err.Error())
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			switch {
			case ev.Has(fsnotify.Create):
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(w, ev.Name); err != nil {
						fw.logger.Warn("watch new directory", "path", ev.Name, "error", err.Error())
					}
					continue
				}
				schedule(ev.Name, ChangeCreated)
			case ev.Has(fsnotify.Write):
				schedule(ev.Name, ChangeModified)
			case ev.Has(fsnotify.Remove):
				schedule(ev.Name, ChangeDeleted)
			case ev.Has(fsnotify.Rename):
				schedule(ev.Name, ChangeRenamed)
			}
		}
	}
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.Add(p); err != nil {
				return fmt.Errorf("watch %s: %w", p, err)
			}
		}
		return nil
	})
}

func describe(root, abs string, typ ChangeType) FileChange {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		rel = abs
	}
	change := FileChange{Path: filepath.ToSlash(rel), Type: typ}
	if info, err := os.Stat(abs); err == nil {
		change.Size = info.Size()
		change.ModTime = info.ModTime()
	}
	return change
}

func matchesPattern(pattern, filePath string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || pattern == "*" {
		return true
	}
	cleanPath := filepath.ToSlash(strings.TrimSpace(filePath))
	cleanPattern := filepath.ToSlash(pattern)
	if ok, _ := path.Match(cleanPattern, cleanPath); ok {
		return true
	}
	if !strings.Contains(cleanPattern, "/") {
		base := path.Base(cleanPath)
		if ok, _ := path.Match(cleanPattern, base); ok {
			return true
		}
	}
	return false
}
