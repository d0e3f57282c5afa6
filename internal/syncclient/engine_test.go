package syncclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otomatty/zedi-sub000/internal/api"
	"github.com/otomatty/zedi-sub000/internal/auth"
	"github.com/otomatty/zedi-sub000/internal/codec"
	"github.com/otomatty/zedi-sub000/internal/content"
	"github.com/otomatty/zedi-sub000/internal/models"
	"github.com/otomatty/zedi-sub000/internal/pagesvc"
	"github.com/otomatty/zedi-sub000/internal/store/sqlite"
	"github.com/otomatty/zedi-sub000/internal/syncsvc"
	"github.com/otomatty/zedi-sub000/internal/testutil"
)

const token = "device-token"

// Edits are stamped ahead of the wall clock so that they always fall after
// the server-time checkpoints taken while the tests run.
var (
	t0 = models.Now()
	t1 = t0.Add(time.Hour)
	t2 = t1.Add(time.Hour)
)

// newServer serves the API over a fresh SQLite store and returns its base URL.
func newServer(t *testing.T) string {
	t.Helper()
	db := testutil.TestDB(t)
	h := api.NewHandler(
		syncsvc.NewService(db, nil),
		content.NewService(db, nil, nil, nil),
		pagesvc.NewService(db),
		0,
	)
	router := api.NewRouter(api.Deps{
		Handler:  h,
		Verifier: auth.StaticVerifier{Token: token, Subject: "user-1"},
		Resolver: auth.NewOwnerResolver(db, true, nil),
	})
	mux := http.NewServeMux()
	mux.Handle("/api/", http.StripPrefix("/api", router))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL + "/api"
}

type device struct {
	db     *sqlite.DB
	remote *Client
	engine *Engine
	saver  *ContentSaver
}

func newDevice(t *testing.T, baseURL string) *device {
	t.Helper()
	db := testutil.TestDB(t)
	remote := NewClient(baseURL, token, nil)
	noRetry := Backoff{Attempts: 1}
	return &device{
		db:     db,
		remote: remote,
		engine: NewEngine(remote, db, nil, WithBackoff(noRetry), WithOverlap(time.Second)),
		saver:  NewContentSaver(remote, db, nil, WithSaverBackoff(noRetry)),
	}
}

// edit writes a page locally and journals it, as the mirror does.
func (d *device) edit(t *testing.T, owner, id, title string, updated time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, d.db.UpsertPage(ctx, &models.Page{
		ID: id, OwnerID: owner, Title: title, CreatedAt: t0, UpdatedAt: updated,
	}))
	require.NoError(t, d.db.QueueChange(ctx, id, time.Now()))
}

func (d *device) page(t *testing.T, owner, id string) *models.Page {
	t.Helper()
	p, err := d.db.GetPage(context.Background(), owner, id)
	require.NoError(t, err)
	return p
}

func TestEngine_PushThenPullAcrossDevices(t *testing.T) {
	ctx := context.Background()
	url := newServer(t)
	a, b := newDevice(t, url), newDevice(t, url)

	a.edit(t, AnonymousOwner, "p1", "Alpha", t1)

	res, err := a.engine.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)
	assert.Empty(t, res.Conflicts)

	owner, err := a.db.OwnerID(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, owner)
	assert.Equal(t, owner, a.page(t, owner, "p1").OwnerID, "anonymous pages are claimed")

	pending, err := a.db.PendingChanges(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	res, err = b.engine.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pulled)
	assert.Equal(t, "Alpha", b.page(t, owner, "p1").Title)

	cp, err := b.db.Checkpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)

	// A second round inside the overlap window applies nothing new.
	res, err = b.engine.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Pulled)
}

func TestEngine_LocalNewerWins(t *testing.T) {
	ctx := context.Background()
	url := newServer(t)
	a, b := newDevice(t, url), newDevice(t, url)

	a.edit(t, AnonymousOwner, "p1", "Alpha", t1)
	_, err := a.engine.SyncOnce(ctx)
	require.NoError(t, err)
	_, err = b.engine.SyncOnce(ctx)
	require.NoError(t, err)
	owner, _ := a.db.OwnerID(ctx)

	b.edit(t, owner, "p1", "From B", t2)
	a.edit(t, owner, "p1", "From A", t1.Add(30*time.Minute))
	_, err = a.engine.SyncOnce(ctx)
	require.NoError(t, err)

	res, err := b.engine.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, "From B", b.page(t, owner, "p1").Title)

	_, err = a.engine.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, "From B", a.page(t, owner, "p1").Title)
	assert.True(t, a.page(t, owner, "p1").UpdatedAt.Equal(t2))
}

func TestEngine_StaleLocalEditReportsConflict(t *testing.T) {
	ctx := context.Background()
	url := newServer(t)
	a, b := newDevice(t, url), newDevice(t, url)

	a.edit(t, AnonymousOwner, "p1", "Alpha", t2)
	_, err := a.engine.SyncOnce(ctx)
	require.NoError(t, err)
	owner, _ := a.db.OwnerID(ctx)

	b.edit(t, owner, "p1", "Stale", t1)
	res, err := b.engine.SyncOnce(ctx)
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "p1", res.Conflicts[0].ID)
	assert.Equal(t, "Alpha", b.page(t, owner, "p1").Title, "server copy replaces the stale edit")
}

func TestEngine_PullFetchesContent(t *testing.T) {
	ctx := context.Background()
	url := newServer(t)
	a, b := newDevice(t, url), newDevice(t, url)

	a.edit(t, AnonymousOwner, "p1", "Alpha", t1)
	_, err := a.engine.SyncOnce(ctx)
	require.NoError(t, err)

	v, err := a.saver.Save(ctx, "p1", []byte("doc-1"), "hello world")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	res, err := b.engine.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Contents)

	c, err := b.db.GetContent(ctx, "p1")
	require.NoError(t, err)
	state, err := codec.Nop{}.Decode(c.State)
	require.NoError(t, err)
	assert.Equal(t, []byte("doc-1"), state)
	assert.Equal(t, int64(1), c.Version)
	assert.Equal(t, "hello world", c.TextExtract)

	owner, _ := b.db.OwnerID(ctx)
	assert.Equal(t, "hello world", b.page(t, owner, "p1").ContentPreview)
}

func TestEngine_EdgesTravel(t *testing.T) {
	ctx := context.Background()
	url := newServer(t)
	a, b := newDevice(t, url), newDevice(t, url)

	a.edit(t, AnonymousOwner, "p1", "Alpha", t1)
	a.edit(t, AnonymousOwner, "p2", "Beta", t1)
	require.NoError(t, a.db.ReplacePageLinks(ctx, "p1",
		[]models.Link{{SourceID: "p1", TargetID: "p2", CreatedAt: t1}},
		[]models.GhostLink{{LinkText: "Gamma", SourcePageID: "p1", CreatedAt: t1}},
	))
	_, err := a.engine.SyncOnce(ctx)
	require.NoError(t, err)

	_, err = b.engine.SyncOnce(ctx)
	require.NoError(t, err)
	owner, _ := b.db.OwnerID(ctx)

	links, err := b.db.ListLinks(ctx, owner)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "p2", links[0].TargetID)

	ghosts, err := b.db.ListGhostLinks(ctx, owner)
	require.NoError(t, err)
	require.Len(t, ghosts, 1)
	assert.Equal(t, "Gamma", ghosts[0].LinkText)
}

func TestEngine_ClearedEdgesReachServer(t *testing.T) {
	ctx := context.Background()
	url := newServer(t)
	a, b := newDevice(t, url), newDevice(t, url)

	a.edit(t, AnonymousOwner, "p1", "Alpha", t1)
	a.edit(t, AnonymousOwner, "p2", "Beta", t1)
	require.NoError(t, a.db.ReplacePageLinks(ctx, "p1",
		[]models.Link{{SourceID: "p1", TargetID: "p2", CreatedAt: t1}},
		[]models.GhostLink{{LinkText: "Gamma", SourcePageID: "p1", CreatedAt: t1}},
	))
	_, err := a.engine.SyncOnce(ctx)
	require.NoError(t, err)
	_, err = b.engine.SyncOnce(ctx)
	require.NoError(t, err)

	owner, err := a.db.OwnerID(ctx)
	require.NoError(t, err)
	require.NoError(t, a.db.ReplacePageLinks(ctx, "p1", nil, nil))
	a.edit(t, owner, "p1", "Alpha", t2)
	_, err = a.engine.SyncOnce(ctx)
	require.NoError(t, err)
	_, err = b.engine.SyncOnce(ctx)
	require.NoError(t, err)

	for name, d := range map[string]*device{"a": a, "b": b} {
		links, err := d.db.ListLinks(ctx, owner)
		require.NoError(t, err)
		assert.Empty(t, links, "device %s links", name)
		ghosts, err := d.db.ListGhostLinks(ctx, owner)
		require.NoError(t, err)
		assert.Empty(t, ghosts, "device %s ghosts", name)
	}
}

func TestPushRequest_EmptyEdgeSetsStayOnTheWire(t *testing.T) {
	body, err := json.Marshal(&models.PushRequest{Pages: []models.Page{}, Links: []models.Link{}, GhostLinks: []models.GhostLink{}})
	require.NoError(t, err)
	assert.Contains(t, string(body), `"links":[]`)
	assert.Contains(t, string(body), `"ghost_links":[]`)

	body, err = json.Marshal(&models.PushRequest{})
	require.NoError(t, err)
	assert.Contains(t, string(body), `"links":null`)
}

func TestEngine_RunRejectsBadSchedule(t *testing.T) {
	d := newDevice(t, newServer(t))
	err := d.engine.Run(context.Background(), "not a schedule")
	require.Error(t, err)
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	d := newDevice(t, newServer(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.engine.Run(ctx, "@every 1h") }()

	require.Eventually(t, func() bool {
		owner, _ := d.db.OwnerID(context.Background())
		return owner != ""
	}, 5*time.Second, 20*time.Millisecond, "first round runs immediately")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
