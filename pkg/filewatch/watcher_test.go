package filewatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileWatcher_SubscribeAndNotify(t *testing.T) {
	watcher := NewFileWatcher(10, nil)
	var calls []FileChange
	watcher.Subscribe("*.zip", func(change FileChange) {
		calls = append(calls, change)
	})

	watcher.Notify(FileChange{Path: "courses/safety.zip", Type: ChangeModified})
	watcher.Notify(FileChange{Path: "README.md", Type: ChangeModified})

	if len(calls) != 1 {
		t.Fatalf("expected 1 matching change, got %d", len(calls))
	}
	if calls[0].Path != "courses/safety.zip" {
		t.Fatalf("unexpected path %q", calls[0].Path)
	}
}

func TestFileWatcher_RecentChangesLimit(t *testing.T) {
	watcher := NewFileWatcher(2, nil)
	watcher.Notify(FileChange{Path: "a", Type: ChangeModified})
	watcher.Notify(FileChange{Path: "b", Type: ChangeModified})
	watcher.Notify(FileChange{Path: "c", Type: ChangeModified})

	recent := watcher.RecentChanges(5)
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent changes, got %d", len(recent))
	}
	if recent[0].Path != "c" || recent[1].Path != "b" {
		t.Fatalf("unexpected recent order: %q, %q", recent[0].Path, recent[1].Path)
	}
}

func TestFileWatcher_Unsubscribe(t *testing.T) {
	watcher := NewFileWatcher(10, nil)
	called := false
	id := watcher.Subscribe("*.zip", func(change FileChange) {
		called = true
	})
	watcher.Unsubscribe(id)
	watcher.Notify(FileChange{Path: "course.zip", Type: ChangeModified})
	if called {
		t.Fatalf("expected handler to be unsubscribed")
	}
}

func TestFileWatcher_WatchDebouncesWrites(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "dept")
	if err := os.Mkdir(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	watcher := NewFileWatcher(10, nil)
	watcher.SetDebounce(50 * time.Millisecond)
	changes := make(chan FileChange, 10)
	watcher.Subscribe("*.zip", func(change FileChange) {
		changes <- change
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watcher.Watch(ctx, root) }()
	defer func() {
		cancel()
		<-done
	}()

	// give the watcher time to register directories
	time.Sleep(100 * time.Millisecond)

	target := filepath.Join(nested, "course.zip")
	f, err := os.Create(target)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		f.Write([]byte("PK"))
	}
	f.Close()

	select {
	case change := <-changes:
		if change.Path != "dept/course.zip" {
			t.Fatalf("unexpected path %q", change.Path)
		}
		if change.Size != 10 {
			t.Fatalf("expected size 10, got %d", change.Size)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for change")
	}

	select {
	case extra := <-changes:
		t.Fatalf("writes were not coalesced: %+v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}
