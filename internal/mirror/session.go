// Package mirror is the client's Local Mirror: the same page, search and
// graph surface as the server, over an embedded SQLite database. A session
// is either local-only or backed by a remote, decided once when it opens.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/otomatty/zedi-sub000/internal/apperr"
	"github.com/otomatty/zedi-sub000/internal/content"
	"github.com/otomatty/zedi-sub000/internal/graph"
	"github.com/otomatty/zedi-sub000/internal/models"
	"github.com/otomatty/zedi-sub000/internal/pagesvc"
	"github.com/otomatty/zedi-sub000/internal/parser"
	"github.com/otomatty/zedi-sub000/internal/search"
	"github.com/otomatty/zedi-sub000/internal/store/sqlite"
	"github.com/otomatty/zedi-sub000/internal/syncclient"
)

// Mode says where writes are sent.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// Syncer is the sync engine surface a remote session drives.
type Syncer interface {
	Owner(ctx context.Context) (string, error)
	SyncOnce(ctx context.Context) (*syncclient.Result, error)
	Trigger()
}

// Saver writes content to the server.
type Saver interface {
	Save(ctx context.Context, pageID string, state []byte, extract string) (int64, error)
}

// Options configures Open. A nil Syncer opens a local-only session.
type Options struct {
	Syncer Syncer
	Saver  Saver
	Logger *slog.Logger
}

// Session reads and writes through the Local Mirror.
type Session struct {
	mode    Mode
	mu      sync.Mutex
	owner   string
	db      *sqlite.DB
	pages   *pagesvc.Service
	content *content.Service
	syncer  Syncer
	saver   Saver
	logger  *slog.Logger
}

// Open starts a session over db. With a syncer the session is remote and the
// owner is taken from the mirror, or resolved from the server on first use.
// An unreachable server leaves new pages under syncclient.AnonymousOwner
// until the first successful sync claims them.
func Open(ctx context.Context, db *sqlite.DB, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		mode:    ModeLocal,
		db:      db,
		pages:   pagesvc.NewService(db),
		content: content.NewService(db, nil, nil, logger),
		syncer:  opts.Syncer,
		saver:   opts.Saver,
		logger:  logger,
	}

	owner, err := db.OwnerID(ctx)
	if err != nil {
		return nil, fmt.Errorf("mirror: owner: %w", err)
	}
	if opts.Syncer != nil {
		if opts.Saver == nil {
			return nil, fmt.Errorf("mirror: remote session needs a content saver")
		}
		s.mode = ModeRemote
		if owner == "" {
			owner, err = opts.Syncer.Owner(ctx)
			if err != nil {
				logger.Warn("server unreachable, working offline", slog.String("error", err.Error()))
				owner = ""
			}
		}
	}
	if owner == "" {
		owner = syncclient.AnonymousOwner
	}
	s.owner = owner
	logger.Info("mirror session opened", slog.String("mode", string(s.mode)), slog.String("owner_id", owner))
	return s, nil
}

// Mode reports whether writes go to a remote.
func (s *Session) Mode() Mode { return s.mode }

// OwnerID returns the owner the session reads and writes as.
func (s *Session) OwnerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// ownerID picks up the server owner once a sync has claimed the mirror.
func (s *Session) ownerID(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner == syncclient.AnonymousOwner && s.mode == ModeRemote {
		if id, err := s.db.OwnerID(ctx); err == nil && id != "" {
			s.owner = id
		}
	}
	return s.owner
}

// GetPage returns a live page by id.
func (s *Session) GetPage(ctx context.Context, id string) (*models.Page, error) {
	return s.pages.GetPage(ctx, s.ownerID(ctx), id)
}

// GetPageByTitle returns the live page whose title matches case-insensitively.
func (s *Session) GetPageByTitle(ctx context.Context, title string) (*models.Page, error) {
	return s.pages.GetPageByTitle(ctx, s.ownerID(ctx), title)
}

// Read returns a live page with its text and backlinks.
func (s *Session) Read(ctx context.Context, id string) (*pagesvc.PageDetail, error) {
	return s.pages.Read(ctx, s.ownerID(ctx), id)
}

// ListSummaries returns live pages without content, newest first.
func (s *Session) ListSummaries(ctx context.Context) ([]models.PageSummary, error) {
	return s.pages.ListSummaries(ctx, s.ownerID(ctx))
}

// Search ranks live pages against query.
func (s *Session) Search(ctx context.Context, query string) ([]search.Result, error) {
	return s.pages.Search(ctx, s.ownerID(ctx), query)
}

// Graph derives the link neighbourhood of a page.
func (s *Session) Graph(ctx context.Context, id string) (*graph.View, error) {
	return s.pages.Graph(ctx, s.ownerID(ctx), id)
}

// Backlinks returns the live pages linking to id.
func (s *Session) Backlinks(ctx context.Context, id string) ([]models.PageSummary, error) {
	return s.pages.Backlinks(ctx, s.ownerID(ctx), id)
}

// CreatePage creates an empty page titled title.
func (s *Session) CreatePage(ctx context.Context, title string) (*models.Page, error) {
	return s.SavePage(ctx, &models.Page{ID: uuid.NewString(), Title: title})
}

// SavePage creates or overwrites p and journals it for the next push.
func (s *Session) SavePage(ctx context.Context, p *models.Page) (*models.Page, error) {
	in := *p
	in.OwnerID = s.ownerID(ctx)
	saved, err := s.pages.SavePage(ctx, &in)
	if err != nil {
		return nil, err
	}
	return saved, s.journal(ctx, saved.ID)
}

// DeletePage soft-deletes a page and journals it.
func (s *Session) DeletePage(ctx context.Context, id string) error {
	if _, err := s.pages.DeletePage(ctx, s.ownerID(ctx), id); err != nil {
		return err
	}
	return s.journal(ctx, id)
}

// SetPageLinks rebuilds the outgoing edges of id from text and journals the page.
func (s *Session) SetPageLinks(ctx context.Context, id, text string) error {
	if _, _, err := s.pages.SetPageLinks(ctx, s.ownerID(ctx), id, text); err != nil {
		return err
	}
	return s.journal(ctx, id)
}

// GetContent returns the cached document of a page.
func (s *Session) GetContent(ctx context.Context, id string) (*models.PageContent, error) {
	return s.content.Get(ctx, s.ownerID(ctx), id)
}

// SaveContent stores the document of a page. Remote sessions write through
// to the server first; a page the server has not seen yet is pushed and the
// save retried once. A non-empty extract refreshes the preview and edges.
func (s *Session) SaveContent(ctx context.Context, id string, state []byte, extract string) (int64, error) {
	if _, err := s.GetPage(ctx, id); err != nil {
		return 0, err
	}

	var version int64
	var err error
	if s.mode == ModeRemote {
		version, err = s.saveRemote(ctx, id, state, extract)
	} else {
		version, err = s.content.Put(ctx, s.ownerID(ctx), id, &models.PutContentRequest{State: state, TextExtract: extract})
	}
	if err != nil {
		return 0, err
	}
	if extract == "" {
		return version, nil
	}
	if s.mode == ModeRemote {
		preview := parser.Preview(parser.PlainText(extract), models.PreviewLimit)
		if err := s.db.TouchPage(ctx, s.ownerID(ctx), id, preview, models.Now()); err != nil {
			return 0, err
		}
	}
	return version, s.SetPageLinks(ctx, id, extract)
}

func (s *Session) saveRemote(ctx context.Context, id string, state []byte, extract string) (int64, error) {
	version, err := s.saver.Save(ctx, id, state, extract)
	if !errors.Is(err, apperr.ErrPageNotFound) {
		return version, err
	}
	if _, err := s.syncer.SyncOnce(ctx); err != nil {
		return 0, err
	}
	return s.saver.Save(ctx, id, state, extract)
}

// journal records id for the next push and nudges the engine.
func (s *Session) journal(ctx context.Context, id string) error {
	if err := s.db.QueueChange(ctx, id, time.Now()); err != nil {
		return err
	}
	if s.syncer != nil {
		s.syncer.Trigger()
	}
	return nil
}
