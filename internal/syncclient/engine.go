package syncclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/otomatty/zedi-sub000/internal/apperr"
	"github.com/otomatty/zedi-sub000/internal/codec"
	"github.com/otomatty/zedi-sub000/internal/models"
	"github.com/otomatty/zedi-sub000/internal/store/sqlite"
)

// AnonymousOwner keys pages created before the first sign-in. They are
// reassigned to the real owner on the first sync.
const AnonymousOwner = "local"

const (
	defaultOverlap        = 5 * time.Second
	defaultContentWorkers = 4
)

// Result summarizes one sync round.
type Result struct {
	Pushed    int
	Conflicts []models.Conflict
	Pulled    int
	Contents  int
}

// Engine moves changes between a Local Mirror database and the server:
// push the change journal, then pull the delta since the last checkpoint.
type Engine struct {
	remote  Remote
	local   *sqlite.DB
	logger  *slog.Logger
	backoff Backoff
	overlap time.Duration
	workers int
	codec   codec.Codec

	mu    sync.Mutex
	locks map[string]*semaphore.Weighted

	running atomic.Bool
	trigger chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithBackoff sets the transient retry policy.
func WithBackoff(b Backoff) Option {
	return func(e *Engine) { e.backoff = b }
}

// WithOverlap sets how far before the checkpoint each pull starts, absorbing
// clock skew between the server's clock and the rows it stamped.
func WithOverlap(d time.Duration) Option {
	return func(e *Engine) { e.overlap = d }
}

// WithContentWorkers bounds concurrent content downloads during a pull.
func WithContentWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithCodec sets how downloaded content is stored in the mirror.
func WithCodec(c codec.Codec) Option {
	return func(e *Engine) {
		if c != nil {
			e.codec = c
		}
	}
}

// NewEngine creates an engine over the mirror database local.
func NewEngine(remote Remote, local *sqlite.DB, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		remote:  remote,
		local:   local,
		logger:  logger,
		backoff: DefaultBackoff,
		overlap: defaultOverlap,
		workers: defaultContentWorkers,
		codec:   codec.Nop{},
		locks:   make(map[string]*semaphore.Weighted),
		trigger: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// lock returns the semaphore serializing pushes for owner.
func (e *Engine) lock(owner string) *semaphore.Weighted {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.locks[owner]
	if !ok {
		s = semaphore.NewWeighted(1)
		e.locks[owner] = s
	}
	return s
}

// Owner resolves the server-side owner id and keys the mirror by it. Pages
// created before sign-in move to that owner.
func (e *Engine) Owner(ctx context.Context) (string, error) {
	var owner string
	err := e.backoff.Do(ctx, func(ctx context.Context) error {
		var err error
		owner, err = e.remote.Me(ctx)
		return err
	})
	if err != nil {
		return "", err
	}

	stored, err := e.local.OwnerID(ctx)
	if err != nil {
		return "", err
	}
	if stored != owner {
		if stored != "" && stored != AnonymousOwner {
			e.logger.Warn("mirror owner changed", slog.String("from", stored), slog.String("to", owner))
		}
		if err := e.local.SetOwnerID(ctx, owner); err != nil {
			return "", err
		}
	}
	n, err := e.local.ReassignOwner(ctx, AnonymousOwner, owner)
	if err != nil {
		return "", err
	}
	if n > 0 {
		e.logger.Info("claimed local pages", slog.String("owner_id", owner), slog.Int64("pages", n))
	}
	return owner, nil
}

// SyncOnce pushes pending local changes and then pulls the server delta.
func (e *Engine) SyncOnce(ctx context.Context) (*Result, error) {
	owner, err := e.Owner(ctx)
	if err != nil {
		return nil, err
	}

	sem := e.lock(owner)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer sem.Release(1)

	res := &Result{}
	if err := e.push(ctx, owner, res); err != nil {
		return nil, fmt.Errorf("syncclient: push: %w", err)
	}
	if err := e.pull(ctx, owner, res); err != nil {
		return nil, fmt.Errorf("syncclient: pull: %w", err)
	}
	e.logger.Info("sync complete",
		slog.Int("pushed", res.Pushed),
		slog.Int("conflicts", len(res.Conflicts)),
		slog.Int("pulled", res.Pulled),
		slog.Int("contents", res.Contents))
	return res, nil
}

func (e *Engine) push(ctx context.Context, owner string, res *Result) error {
	pending, err := e.local.PendingChanges(ctx)
	if err != nil || len(pending) == 0 {
		return err
	}

	req := &models.PushRequest{Pages: make([]models.Page, 0, len(pending))}
	for id := range pending {
		p, err := e.local.GetPage(ctx, owner, id)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		req.Pages = append(req.Pages, *p)
	}
	if req.Links, err = e.local.ListLinks(ctx, owner); err != nil {
		return err
	}
	if req.GhostLinks, err = e.local.ListGhostLinks(ctx, owner); err != nil {
		return err
	}

	var resp *models.PushResponse
	err = e.backoff.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = e.remote.Push(ctx, req)
		return err
	})
	if err != nil {
		return err
	}

	for id, at := range pending {
		if err := e.local.ClearChange(ctx, id, at); err != nil {
			return err
		}
	}
	res.Pushed = len(req.Pages)
	res.Conflicts = resp.Conflicts
	for _, c := range resp.Conflicts {
		e.logger.Info("server copy is newer", slog.String("page_id", c.ID), slog.Time("server_updated_at", c.ServerUpdatedAt))
	}
	return nil
}

func (e *Engine) pull(ctx context.Context, owner string, res *Result) error {
	since, err := e.local.Checkpoint(ctx)
	if err != nil {
		return err
	}
	if since != nil {
		t := since.Add(-e.overlap)
		since = &t
	}

	var resp *models.PullResponse
	err = e.backoff.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = e.remote.Pull(ctx, since)
		return err
	})
	if err != nil {
		return err
	}

	var fetch []string
	err = e.local.WithTx(ctx, func(ctx context.Context) error {
		for i := range resp.Pages {
			p := resp.Pages[i]
			p.OwnerID = owner
			p.CreatedAt = models.Timestamp(p.CreatedAt)
			p.UpdatedAt = models.Timestamp(p.UpdatedAt)

			cur, err := e.local.GetPage(ctx, owner, p.ID)
			switch {
			case errors.Is(err, apperr.ErrNotFound):
			case err != nil:
				return err
			case !p.UpdatedAt.After(cur.UpdatedAt):
				// Local edit is newer and wins on the next push, or this is
				// an overlap-window replay.
				continue
			}
			if err := e.local.UpsertPage(ctx, &p); err != nil {
				return err
			}
			res.Pulled++
			if !p.IsDeleted {
				fetch = append(fetch, p.ID)
			}
		}
		if err := e.local.ReplaceLinks(ctx, owner, resp.Links); err != nil {
			return err
		}
		return e.local.ReplaceGhostLinks(ctx, owner, resp.GhostLinks)
	})
	if err != nil {
		return err
	}

	n, err := e.fetchContents(ctx, fetch)
	if err != nil {
		return err
	}
	res.Contents = n
	return e.local.SetCheckpoint(ctx, resp.ServerTime)
}

// fetchContents downloads the content of changed pages with bounded
// concurrency. Pages without content are skipped.
func (e *Engine) fetchContents(ctx context.Context, ids []string) (int, error) {
	var fetched atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, id := range ids {
		g.Go(func() error {
			var c *models.ContentResponse
			err := e.backoff.Do(ctx, func(ctx context.Context) error {
				var err error
				c, err = e.remote.GetContent(ctx, id)
				return err
			})
			if errors.Is(err, apperr.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("content %s: %w", id, err)
			}
			state, err := e.codec.Encode(c.State)
			if err != nil {
				return err
			}
			if err := e.local.SetContent(ctx, &models.PageContent{
				PageID:      id,
				State:       state,
				Version:     c.Version,
				TextExtract: c.TextExtract,
				UpdatedAt:   models.Now(),
			}); err != nil {
				return err
			}
			fetched.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return int(fetched.Load()), nil
}

// Trigger requests a sync round as soon as the scheduler is idle.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run syncs on the cron schedule spec (for example "@every 30s") and on every
// Trigger until ctx is cancelled. Rounds never overlap.
func (e *Engine) Run(ctx context.Context, spec string) error {
	c := cron.New()
	if err := c.AddFunc(spec, e.Trigger); err != nil {
		return fmt.Errorf("syncclient: schedule %q: %w", spec, err)
	}
	c.Start()
	defer c.Stop()

	e.logger.Info("sync scheduler started", slog.String("schedule", spec))
	e.Trigger()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.trigger:
			e.round(ctx)
		}
	}
}

func (e *Engine) round(ctx context.Context) {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	defer e.running.Store(false)
	if _, err := e.SyncOnce(ctx); err != nil && ctx.Err() == nil {
		e.logger.Error("sync failed", slog.String("error", err.Error()))
	}
}
