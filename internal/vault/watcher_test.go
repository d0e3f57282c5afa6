package vault

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func (e *vaultEnv) pageLive(path string) bool {
	p, err := e.session.GetPage(context.Background(), PageID(path))
	return err == nil && p != nil
}

func (e *vaultEnv) watch(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.im.Watch(ctx, e.dir)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)
}

func TestWatcher_NewFileImported(t *testing.T) {
	e := newVaultEnv(t)
	e.watch(t)

	_ = os.WriteFile(filepath.Join(e.dir, "new.md"), []byte("# New"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return e.pageLive("new.md")
	}, "new file not imported by watcher")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		return e.hasEvent("created:new.md")
	}, "expected created:new.md callback")
}

func TestWatcher_NewDirWatched(t *testing.T) {
	e := newVaultEnv(t)
	e.watch(t)

	subDir := filepath.Join(e.dir, "subdir")
	_ = os.MkdirAll(subDir, 0o755)
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(subDir, "deep.md"), []byte("# Deep"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return e.pageLive("subdir/deep.md")
	}, "file in new subdir not imported by watcher")
}

func TestWatcher_DeleteSoftDeletes(t *testing.T) {
	e := newVaultEnv(t)
	e.write(t, "del.md", "# Delete Me")
	if _, err := e.im.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !e.pageLive("del.md") {
		t.Fatal("precondition: file should be imported")
	}

	e.watch(t)
	_ = os.Remove(filepath.Join(e.dir, "del.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return !e.pageLive("del.md")
	}, "deleted file still live")
}

func TestWatcher_RenameReconciles(t *testing.T) {
	e := newVaultEnv(t)
	e.write(t, "old.md", "# Rename")
	if _, err := e.im.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	e.watch(t)
	_ = os.Rename(filepath.Join(e.dir, "old.md"), filepath.Join(e.dir, "renamed.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return !e.pageLive("old.md") && e.pageLive("renamed.md")
	}, "rename reconciliation failed: old page should be deleted and new one imported")
}
