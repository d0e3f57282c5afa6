package pagesvc

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otomatty/zedi-sub000/internal/apperr"
	"github.com/otomatty/zedi-sub000/internal/models"
	"github.com/otomatty/zedi-sub000/internal/search"
	"github.com/otomatty/zedi-sub000/internal/store/sqlite"
	"github.com/otomatty/zedi-sub000/internal/testutil"
)

var t0 = time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc *Service
	db  *sqlite.DB
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{db: testutil.TestDB(t), now: t0}
	f.svc = NewService(f.db)
	f.svc.now = func() time.Time { return f.now }
	return f
}

// page creates a page with a text extract holding body.
func (f *fixture) page(t *testing.T, id, title, body string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.SavePage(ctx, &models.Page{ID: id, OwnerID: "alice", Title: title})
	require.NoError(t, err)
	if body != "" {
		_, err = f.db.PutContent(ctx, &models.PageContent{PageID: id, State: []byte("s"), TextExtract: body, UpdatedAt: f.now}, nil)
		require.NoError(t, err)
	}
	f.now = f.now.Add(time.Second)
}

func TestSavePage_StampsNonDecreasingUpdatedAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.SavePage(ctx, &models.Page{ID: "p1", OwnerID: "alice", Title: "One"})
	require.NoError(t, err)
	assert.True(t, p.UpdatedAt.Equal(t0))
	assert.True(t, p.CreatedAt.Equal(t0))

	f.now = t0.Add(-time.Hour)
	p.Title = "One, edited"
	p2, err := f.svc.SavePage(ctx, p)
	require.NoError(t, err)
	assert.True(t, p2.UpdatedAt.After(t0), "clock lag must not move updated_at back")
	assert.True(t, p2.CreatedAt.Equal(t0))

	_, err = f.svc.SavePage(ctx, &models.Page{OwnerID: "alice"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSoftDeleteIsInvisible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.page(t, "keep", "Keeper", "durable words")
	f.page(t, "gone", "Goner", "durable words")

	_, err := f.svc.DeletePage(ctx, "alice", "gone")
	require.NoError(t, err)

	_, err = f.svc.GetPage(ctx, "alice", "gone")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.GetPageByTitle(ctx, "alice", "goner")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	list, err := f.svc.ListSummaries(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "keep", list[0].ID)

	res, err := f.svc.Search(ctx, "alice", "durable")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "keep", res[0].Page.ID)

	_, err = f.svc.DeletePage(ctx, "alice", "gone")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListSummaries_NewestFirst(t *testing.T) {
	f := newFixture(t)
	f.page(t, "a", "A", "")
	f.page(t, "b", "B", "")

	list, err := f.svc.ListSummaries(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)
}

func TestSearch_ExactTitleFirst(t *testing.T) {
	f := newFixture(t)
	f.page(t, "1", "Go concurrency patterns", "channels and go routines")
	f.page(t, "2", "Go", "a language")
	f.page(t, "3", "Rust", "mentions go once")

	res, err := f.svc.Search(context.Background(), "alice", "go")
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "2", res[0].Page.ID)
	assert.Equal(t, search.MatchExactTitle, res[0].MatchType)
	assert.Equal(t, search.MatchContent, res[2].MatchType)

	empty, err := f.svc.Search(context.Background(), "alice", "   ")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSearch_OldExactTitleSurvivesManyNewerMatches(t *testing.T) {
	f := newFixture(t)
	f.page(t, "old", "alpha", "")
	for i := 0; i < 210; i++ {
		f.page(t, fmt.Sprintf("p%03d", i), fmt.Sprintf("note %d", i), "mentions alpha in passing")
	}

	res, err := f.svc.Search(context.Background(), "alice", "alpha")
	require.NoError(t, err)
	require.Len(t, res, search.MaxResults)
	assert.Equal(t, "old", res[0].Page.ID)
	assert.Equal(t, search.MatchExactTitle, res[0].MatchType)
}

func TestSearch_NonASCIICase(t *testing.T) {
	f := newFixture(t)
	f.page(t, "1", "Über Notes", "")
	f.page(t, "2", "Привет мир", "")

	res, err := f.svc.Search(context.Background(), "alice", "über")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "1", res[0].Page.ID)

	res, err = f.svc.Search(context.Background(), "alice", "ПРИВЕТ")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "2", res[0].Page.ID)
}

func TestSetPageLinks_AndGraph(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.page(t, "a", "Alpha", "see [[Beta]] and [[Missing]] and [[alpha]]")
	f.page(t, "b", "Beta", "links to [[Gamma]]")
	f.page(t, "c", "Gamma", "")

	links, ghosts, err := f.svc.SetPageLinks(ctx, "alice", "a", "see [[Beta]] and [[Missing]] and [[alpha]]")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "b", links[0].TargetID)
	require.Len(t, ghosts, 1)
	assert.Equal(t, "Missing", ghosts[0].LinkText)

	_, _, err = f.svc.SetPageLinks(ctx, "alice", "b", "links to [[Gamma]]")
	require.NoError(t, err)

	view, err := f.svc.Graph(ctx, "alice", "a")
	require.NoError(t, err)
	require.Len(t, view.OutgoingLinksWithChildren, 1)
	assert.Equal(t, "b", view.OutgoingLinksWithChildren[0].Source.ID)
	assert.Equal(t, "c", view.OutgoingLinksWithChildren[0].Children[0].ID)
	assert.Equal(t, []string{"Missing"}, view.GhostLinks)

	back, err := f.svc.Backlinks(ctx, "alice", "b")
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, "a", back[0].ID)

	detail, err := f.svc.Read(ctx, "alice", "b")
	require.NoError(t, err)
	assert.Equal(t, "links to [[Gamma]]", detail.Text)
	assert.Equal(t, []string{"a"}, detail.Backlinks)
}

func TestBacklinks_SkipDeletedSources(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.page(t, "a", "A", "")
	f.page(t, "b", "B", "")
	_, _, err := f.svc.SetPageLinks(ctx, "alice", "a", "[[B]]")
	require.NoError(t, err)
	_, err = f.svc.DeletePage(ctx, "alice", "a")
	require.NoError(t, err)

	back, err := f.svc.Backlinks(ctx, "alice", "b")
	require.NoError(t, err)
	assert.Empty(t, back)
}

func TestRead_PageWithoutContent(t *testing.T) {
	f := newFixture(t)
	f.page(t, "a", "A", "")
	detail, err := f.svc.Read(context.Background(), "alice", "a")
	require.NoError(t, err)
	assert.Equal(t, "", detail.Text)
	assert.Empty(t, detail.Backlinks)
}
