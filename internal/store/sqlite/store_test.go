package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/otomatty/zedi-sub000/internal/apperr"
	"github.com/otomatty/zedi-sub000/internal/models"
	"github.com/otomatty/zedi-sub000/internal/store"
	"github.com/otomatty/zedi-sub000/internal/store/storetest"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "zedi-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func mustInsert(t *testing.T, db *DB, owner, id, title string, updated time.Time) *models.Page {
	t.Helper()
	p := &models.Page{ID: id, OwnerID: owner, Title: title, CreatedAt: t0, UpdatedAt: updated}
	ok, err := db.InsertPage(context.Background(), p)
	if err != nil || !ok {
		t.Fatalf("InsertPage(%s) = %v, %v", id, ok, err)
	}
	return p
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"owners", "pages", "links", "ghost_links", "page_contents", "sync_state", "local_changes"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestInsertAndGetPage_OwnerScoped(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	src := "origin"
	p := &models.Page{ID: "p1", OwnerID: "alice", Title: "Hello", SourcePageID: &src, CreatedAt: t0, UpdatedAt: t0}
	if ok, err := db.InsertPage(ctx, p); err != nil || !ok {
		t.Fatalf("InsertPage = %v, %v", ok, err)
	}
	if ok, _ := db.InsertPage(ctx, p); ok {
		t.Error("second insert of same id should report false")
	}

	got, err := db.GetPage(ctx, "alice", "p1")
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if got.Title != "Hello" || got.SourcePageID == nil || *got.SourcePageID != "origin" || got.ThumbnailURL != nil {
		t.Errorf("unexpected page: %+v", got)
	}
	if !got.UpdatedAt.Equal(t0) {
		t.Errorf("updated_at = %v, want %v", got.UpdatedAt, t0)
	}

	if _, err := db.GetPage(ctx, "mallory", "p1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("foreign owner lookup err = %v, want not found", err)
	}
}

func TestGetPageByTitle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	mustInsert(t, db, "alice", "p1", "Go Notes", t0)
	gone := mustInsert(t, db, "alice", "p2", "Deleted", t0)
	gone.IsDeleted = true
	gone.UpdatedAt = t0.Add(time.Second)
	if ok, err := db.UpdatePage(ctx, gone, t0); err != nil || !ok {
		t.Fatalf("UpdatePage = %v, %v", ok, err)
	}

	got, err := db.GetPageByTitle(ctx, "alice", "  go notes ")
	if err != nil || got.ID != "p1" {
		t.Fatalf("GetPageByTitle = %+v, %v", got, err)
	}
	if _, err := db.GetPageByTitle(ctx, "alice", "deleted"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("deleted page must be invisible by title, err = %v", err)
	}
}

func TestListPagesSince(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	mustInsert(t, db, "alice", "b", "B", t0.Add(2*time.Second))
	mustInsert(t, db, "alice", "a", "A", t0.Add(time.Second))
	mustInsert(t, db, "bob", "c", "C", t0.Add(3*time.Second))

	all, err := db.ListPages(ctx, "alice", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != "a" || all[1].ID != "b" {
		t.Fatalf("ListPages(nil) = %+v", all)
	}

	since := t0.Add(time.Second)
	delta, err := db.ListPages(ctx, "alice", &since)
	if err != nil {
		t.Fatal(err)
	}
	if len(delta) != 1 || delta[0].ID != "b" {
		t.Errorf("ListPages(since) = %+v", delta)
	}
}

func TestUpdatePage_Guarded(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	p := mustInsert(t, db, "alice", "p1", "v1", t0)

	p.Title = "v2"
	p.UpdatedAt = t0.Add(time.Minute)
	if ok, err := db.UpdatePage(ctx, p, t0.Add(time.Second)); err != nil || ok {
		t.Fatalf("stale guard should not write: %v, %v", ok, err)
	}
	if ok, err := db.UpdatePage(ctx, p, t0); err != nil || !ok {
		t.Fatalf("matching guard should write: %v, %v", ok, err)
	}
	got, _ := db.GetPage(ctx, "alice", "p1")
	if got.Title != "v2" || !got.UpdatedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("page = %+v", got)
	}
}

func TestTouchPage(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	mustInsert(t, db, "alice", "p1", "T", t0.Add(time.Hour))

	if err := db.TouchPage(ctx, "alice", "p1", "fresh preview", t0); err != nil {
		t.Fatal(err)
	}
	got, _ := db.GetPage(ctx, "alice", "p1")
	if got.ContentPreview != "fresh preview" {
		t.Errorf("preview = %q", got.ContentPreview)
	}
	if !got.UpdatedAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("updated_at moved backwards: %v", got.UpdatedAt)
	}

	if err := db.TouchPage(ctx, "alice", "p1", "", t0.Add(2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetPage(ctx, "alice", "p1")
	if got.ContentPreview != "fresh preview" {
		t.Errorf("empty preview must not overwrite, got %q", got.ContentPreview)
	}
	if !got.UpdatedAt.Equal(t0.Add(2 * time.Hour)) {
		t.Errorf("updated_at = %v", got.UpdatedAt)
	}

	if err := db.TouchPage(ctx, "bob", "p1", "x", t0); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("foreign touch err = %v", err)
	}
}

func TestReplaceLinksAndBacklinks(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	mustInsert(t, db, "alice", "a", "A", t0)
	mustInsert(t, db, "alice", "b", "B", t0)
	mustInsert(t, db, "bob", "x", "X", t0)

	if err := db.ReplaceLinks(ctx, "alice", []models.Link{
		{SourceID: "a", TargetID: "b", CreatedAt: t0},
		{SourceID: "b", TargetID: "a", CreatedAt: t0},
		{SourceID: "a", TargetID: "b", CreatedAt: t0},
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceLinks(ctx, "bob", []models.Link{{SourceID: "x", TargetID: "a", CreatedAt: t0}}); err != nil {
		t.Fatal(err)
	}

	links, err := db.ListLinks(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 2 {
		t.Fatalf("links = %+v, want 2", links)
	}
	if bob, _ := db.ListLinks(ctx, "bob"); len(bob) != 0 {
		t.Errorf("cross-owner edge listed for bob: %+v", bob)
	}

	bl, err := db.Backlinks(ctx, "alice", "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(bl) != 1 || bl[0] != "b" {
		t.Errorf("backlinks = %v, want [b]", bl)
	}

	if err := db.ReplaceLinks(ctx, "alice", nil); err != nil {
		t.Fatal(err)
	}
	if links, _ := db.ListLinks(ctx, "alice"); len(links) != 0 {
		t.Errorf("replace with empty set left %+v", links)
	}
}

func TestReplaceGhostAndPageLinks(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	mustInsert(t, db, "alice", "a", "A", t0)
	mustInsert(t, db, "alice", "b", "B", t0)
	orig := "gone-page"

	if err := db.ReplaceGhostLinks(ctx, "alice", []models.GhostLink{
		{LinkText: "Nowhere", SourcePageID: "a", CreatedAt: t0, OriginalTargetPageID: &orig},
		{LinkText: "Later", SourcePageID: "b", CreatedAt: t0},
	}); err != nil {
		t.Fatal(err)
	}
	ghosts, _ := db.ListGhostLinks(ctx, "alice")
	if len(ghosts) != 2 {
		t.Fatalf("ghosts = %+v", ghosts)
	}

	if err := db.ReplacePageLinks(ctx, "a",
		[]models.Link{{SourceID: "a", TargetID: "b", CreatedAt: t0}},
		[]models.GhostLink{{LinkText: "Elsewhere", SourcePageID: "a", CreatedAt: t0}},
	); err != nil {
		t.Fatal(err)
	}
	ghosts, _ = db.ListGhostLinks(ctx, "alice")
	texts := map[string]bool{}
	for _, g := range ghosts {
		texts[g.LinkText] = true
	}
	if len(ghosts) != 2 || !texts["Elsewhere"] || !texts["Later"] {
		t.Errorf("ghosts after page replace = %+v", ghosts)
	}
	if links, _ := db.ListLinks(ctx, "alice"); len(links) != 1 {
		t.Errorf("links = %+v", links)
	}
}

func TestPutContent_VersionCAS(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	mustInsert(t, db, "alice", "p1", "P", t0)

	c := &models.PageContent{PageID: "p1", State: []byte("s1"), TextExtract: "one", UpdatedAt: t0}
	v, err := db.PutContent(ctx, c, nil)
	if err != nil || v != 1 {
		t.Fatalf("first put = %d, %v", v, err)
	}

	one := int64(1)
	c.State = []byte("s2")
	c.TextExtract = ""
	if v, err = db.PutContent(ctx, c, &one); err != nil || v != 2 {
		t.Fatalf("cas put = %d, %v", v, err)
	}
	if _, err = db.PutContent(ctx, c, &one); !errors.Is(err, apperr.ErrVersionConflict) {
		t.Fatalf("stale put err = %v", err)
	}

	got, err := db.GetContent(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if string(got.State) != "s2" || got.Version != 2 || got.TextExtract != "one" {
		t.Errorf("content = %+v", got)
	}

	zero := int64(0)
	if _, err := db.PutContent(ctx, c, &zero); !errors.Is(err, apperr.ErrVersionConflict) {
		t.Errorf("create-only put on existing row err = %v", err)
	}
}

func TestPutContent_ConcurrentWritersNeverShareVersion(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	mustInsert(t, db, "alice", "p1", "P", t0)
	if _, err := db.PutContent(ctx, &models.PageContent{PageID: "p1", State: []byte("base"), UpdatedAt: t0}, nil); err != nil {
		t.Fatal(err)
	}

	const writers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	one := int64(1)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.PutContent(ctx, &models.PageContent{PageID: "p1", State: []byte("w"), UpdatedAt: t0}, &one)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, apperr.ErrVersionConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
}

func TestGetContent_Missing(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetContent(context.Background(), "nope"); !errors.Is(err, apperr.ErrContentNotFound) {
		t.Errorf("err = %v, want content not found", err)
	}
}

func TestSearchCandidates_AllKeywords(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	mustInsert(t, db, "alice", "p1", "Alpha", t0)
	mustInsert(t, db, "alice", "p2", "Alpha", t0)
	mustInsert(t, db, "bob", "p3", "Alpha", t0)
	if _, err := db.PutContent(ctx, &models.PageContent{PageID: "p1", State: []byte("x"), TextExtract: "has beta inside", UpdatedAt: t0}, nil); err != nil {
		t.Fatal(err)
	}

	got, err := db.SearchCandidates(ctx, "alice", []string{"alpha", "beta"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "p1" || got[0].Text != "has beta inside" {
		t.Errorf("candidates = %+v", got)
	}
}

func TestSearchCandidates_FoldsUnicodeCase(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	mustInsert(t, db, "alice", "p1", "Über Notes", t0)
	mustInsert(t, db, "alice", "p2", "Привет мир", t0)
	mustInsert(t, db, "alice", "p3", "Plain", t0)
	if _, err := db.PutContent(ctx, &models.PageContent{PageID: "p3", State: []byte("x"), TextExtract: "ÉCOLE normale", UpdatedAt: t0}, nil); err != nil {
		t.Fatal(err)
	}

	for query, want := range map[string]string{"über": "p1", "привет": "p2", "école": "p3", "ÜBER": "p1"} {
		got, err := db.SearchCandidates(ctx, "alice", []string{query}, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != want {
			t.Errorf("%q: candidates = %+v, want %s", query, got, want)
		}
	}
}

func TestSearchCandidates_NoLimitReturnsEveryMatch(t *testing.T) {
	db := testDB(t)
	for i := 0; i < 250; i++ {
		mustInsert(t, db, "alice", fmt.Sprintf("p%03d", i), fmt.Sprintf("alpha %d", i), t0.Add(time.Duration(i)*time.Second))
	}
	got, err := db.SearchCandidates(context.Background(), "alice", []string{"alpha"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 250 {
		t.Errorf("len = %d, want 250", len(got))
	}
	got, err = db.SearchCandidates(context.Background(), "alice", []string{"alpha"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Errorf("limited len = %d, want 5", len(got))
	}
}

func TestWithTx_RollsBack(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	boom := errors.New("boom")
	err := db.WithTx(ctx, func(ctx context.Context) error {
		if _, err := db.InsertPage(ctx, &models.Page{ID: "p2", OwnerID: "alice", CreatedAt: t0, UpdatedAt: t0}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if _, err := db.GetPage(ctx, "alice", "p2"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("p2 should have been rolled back, err = %v", err)
	}
}

func TestOwners(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	o := &models.Owner{ID: "o1", Subject: "sub-1", Email: "a@example.com", CreatedAt: t0}
	if err := db.CreateOwner(ctx, o); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateOwner(ctx, &models.Owner{ID: "o2", Subject: "sub-1", CreatedAt: t0}); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("duplicate subject err = %v", err)
	}
	got, err := db.OwnerBySubject(ctx, "sub-1")
	if err != nil || got.ID != "o1" {
		t.Errorf("OwnerBySubject = %+v, %v", got, err)
	}
	if _, err := db.OwnerBySubject(ctx, "nobody"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing subject err = %v", err)
	}
}

func TestPutContent_UnknownPage(t *testing.T) {
	db := testDB(t)
	_, err := db.PutContent(context.Background(), &models.PageContent{PageID: "ghost", State: []byte("x"), UpdatedAt: t0}, nil)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return testDB(t) })
}
