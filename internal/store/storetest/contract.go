// Package storetest holds the behavioral suite every store.Store
// implementation must pass. Ids are randomized so the suite can run against
// a shared database.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otomatty/zedi-sub000/internal/apperr"
	"github.com/otomatty/zedi-sub000/internal/models"
	"github.com/otomatty/zedi-sub000/internal/store"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the contract suite against the store returned by open.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("guarded update", func(t *testing.T) { testGuardedUpdate(t, open(t)) })
	t.Run("delta ordering", func(t *testing.T) { testDelta(t, open(t)) })
	t.Run("title lookup", func(t *testing.T) { testTitleLookup(t, open(t)) })
	t.Run("owner isolation", func(t *testing.T) { testOwnerIsolation(t, open(t)) })
	t.Run("content versions", func(t *testing.T) { testContentVersions(t, open(t)) })
	t.Run("transaction rollback", func(t *testing.T) { testRollback(t, open(t)) })
}

func newPage(owner, title string, updated time.Time) *models.Page {
	return &models.Page{
		ID:        uuid.NewString(),
		OwnerID:   owner,
		Title:     title,
		CreatedAt: base,
		UpdatedAt: updated,
	}
}

func insert(t *testing.T, s store.Store, p *models.Page) {
	t.Helper()
	ok, err := s.InsertPage(context.Background(), p)
	require.NoError(t, err)
	require.True(t, ok)
}

func testGuardedUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := uuid.NewString()
	p := newPage(owner, "Draft", base)
	insert(t, s, p)

	ok, err := s.InsertPage(ctx, p)
	require.NoError(t, err)
	assert.False(t, ok, "duplicate id must not insert")

	next := *p
	next.Title = "Final"
	next.UpdatedAt = base.Add(time.Minute)

	ok, err = s.UpdatePage(ctx, &next, base.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.UpdatePage(ctx, &next, base)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetPage(ctx, owner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Final", got.Title)
	assert.True(t, got.UpdatedAt.Equal(base.Add(time.Minute)))
}

func testDelta(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := uuid.NewString()
	late := newPage(owner, "Late", base.Add(2*time.Second))
	early := newPage(owner, "Early", base.Add(time.Second))
	insert(t, s, late)
	insert(t, s, early)

	deleted := *early
	deleted.IsDeleted = true
	deleted.UpdatedAt = base.Add(3 * time.Second)
	ok, err := s.UpdatePage(ctx, &deleted, early.UpdatedAt)
	require.NoError(t, err)
	require.True(t, ok)

	all, err := s.ListPages(ctx, owner, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, late.ID, all[0].ID)
	assert.Equal(t, early.ID, all[1].ID)
	assert.True(t, all[1].IsDeleted, "soft-deleted pages travel in deltas")

	since := base.Add(2 * time.Second)
	delta, err := s.ListPages(ctx, owner, &since)
	require.NoError(t, err)
	require.Len(t, delta, 1)
	assert.Equal(t, early.ID, delta[0].ID)

	live, err := s.ListPageTexts(ctx, owner)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, late.ID, live[0].ID)
}

func testTitleLookup(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := uuid.NewString()
	older := newPage(owner, "Shared Title", base)
	newer := newPage(owner, "shared title", base.Add(time.Hour))
	insert(t, s, older)
	insert(t, s, newer)

	got, err := s.GetPageByTitle(ctx, owner, "  SHARED title ")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)

	_, err = s.GetPageByTitle(ctx, owner, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func testOwnerIsolation(t *testing.T, s store.Store) {
	ctx := context.Background()
	alice, bob := uuid.NewString(), uuid.NewString()
	a1 := newPage(alice, "A1", base)
	a2 := newPage(alice, "A2", base)
	b1 := newPage(bob, "B1", base)
	insert(t, s, a1)
	insert(t, s, a2)
	insert(t, s, b1)

	_, err := s.GetPage(ctx, bob, a1.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, s.ReplaceLinks(ctx, alice, []models.Link{
		{SourceID: a1.ID, TargetID: a2.ID, CreatedAt: base},
	}))
	require.NoError(t, s.ReplaceLinks(ctx, bob, []models.Link{
		{SourceID: b1.ID, TargetID: a1.ID, CreatedAt: base},
	}))

	links, err := s.ListLinks(ctx, alice)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, a2.ID, links[0].TargetID)

	links, err = s.ListLinks(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, links)

	back, err := s.Backlinks(ctx, alice, a1.ID)
	require.NoError(t, err)
	assert.Empty(t, back)

	ids, err := s.OwnedPageIDs(ctx, alice)
	require.NoError(t, err)
	assert.True(t, ids.Contains(a1.ID, a2.ID))
	assert.False(t, ids.Contains(b1.ID))
}

func testContentVersions(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := uuid.NewString()
	p := newPage(owner, "Doc", base)
	insert(t, s, p)

	zero := int64(0)
	v, err := s.PutContent(ctx, &models.PageContent{PageID: p.ID, State: []byte("a"), TextExtract: "alpha", UpdatedAt: base}, &zero)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)

	_, err = s.PutContent(ctx, &models.PageContent{PageID: p.ID, State: []byte("b"), UpdatedAt: base}, &zero)
	assert.ErrorIs(t, err, apperr.ErrVersionConflict)

	v, err = s.PutContent(ctx, &models.PageContent{PageID: p.ID, State: []byte("c"), UpdatedAt: base}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, v)

	got, err := s.GetContent(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), got.State)
	assert.Equal(t, "alpha", got.TextExtract, "empty extract keeps the previous one")
	assert.EqualValues(t, 2, got.Version)

	require.NoError(t, s.TouchPage(ctx, owner, p.ID, "alpha", base.Add(time.Minute)))
	page, err := s.GetPage(ctx, owner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "alpha", page.ContentPreview)
	assert.True(t, page.UpdatedAt.Equal(base.Add(time.Minute)))
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := uuid.NewString()
	p := newPage(owner, "Rolled back", base)

	err := s.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.InsertPage(ctx, p); err != nil {
			return err
		}
		return apperr.ErrValidation
	})
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = s.GetPage(ctx, owner, p.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
