// Package testutil provides shared test helpers for setting up stores,
// vaults and event sinks.
package testutil

import (
	"os"
	"sync"
	"testing"

	"github.com/otomatty/zedi-sub000/internal/sse"
	"github.com/otomatty/zedi-sub000/internal/storage"
	"github.com/otomatty/zedi-sub000/internal/store/sqlite"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "zedi-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := sqlite.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary directory with a storage.Provider.
func TestVault(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// Published is one recorded event.
type Published struct {
	Owner string
	Event sse.Event
}

// Recorder captures published events.
type Recorder struct {
	mu     sync.Mutex
	events []Published
}

// Publish records event for owner.
func (r *Recorder) Publish(owner string, event sse.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Published{Owner: owner, Event: event})
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Published(nil), r.events...)
}
