// Package syncsvc implements the server side of the metadata sync protocol:
// delta pull and last-writer-wins push of pages plus wholesale replacement of
// an owner's link and ghost-link sets.
package syncsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/otomatty/zedi-sub000/internal/apperr"
	"github.com/otomatty/zedi-sub000/internal/models"
	"github.com/otomatty/zedi-sub000/internal/sse"
	"github.com/otomatty/zedi-sub000/internal/store"
)

// Publisher delivers change notifications to an owner's other devices.
type Publisher interface {
	Publish(owner string, event sse.Event)
}

// Service coordinates the page and link stores for sync.
type Service struct {
	store  store.Store
	events Publisher
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the change-notification sink.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithClock overrides the server clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a sync service over st.
func NewService(st store.Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{store: st, logger: logger, now: models.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Pull returns the owner's pages changed after since (all when nil), the full
// owned edge sets and the server time to use as the next checkpoint.
func (s *Service) Pull(ctx context.Context, ownerID string, since *time.Time) (*models.PullResponse, error) {
	serverTime := s.now()

	pages, err := s.store.ListPages(ctx, ownerID, since)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	links, err := s.store.ListLinks(ctx, ownerID)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	ghosts, err := s.store.ListGhostLinks(ctx, ownerID)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	return &models.PullResponse{
		Pages:      pages,
		Links:      links,
		GhostLinks: ghosts,
		ServerTime: serverTime,
	}, nil
}

func validatePage(p models.Page) error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ID, validation.Required),
		validation.Field(&p.UpdatedAt, validation.Required),
	)
}

// Push merges req into the owner's pages with last-writer-wins on updated_at.
// Stale pages are reported as conflicts and never fail their siblings.
func (s *Service) Push(ctx context.Context, ownerID string, req *models.PushRequest) (*models.PushResponse, error) {
	conflicts := []models.Conflict{}
	accepted := 0

	for _, p := range req.Pages {
		if err := validatePage(p); err != nil {
			s.logger.Warn("push: skipping invalid page", slog.String("id", p.ID), slog.String("error", err.Error()))
			continue
		}
		p.OwnerID = ownerID
		p.CreatedAt = models.Timestamp(p.CreatedAt)
		p.UpdatedAt = models.Timestamp(p.UpdatedAt)
		if p.CreatedAt.IsZero() {
			p.CreatedAt = p.UpdatedAt
		}

		conflict, ok, err := s.mergePage(ctx, &p)
		if err != nil {
			return nil, apperr.Transient(err)
		}
		if conflict != nil {
			conflicts = append(conflicts, *conflict)
		}
		if ok {
			accepted++
		}
	}

	if req.Links != nil || req.GhostLinks != nil {
		if err := s.replaceEdges(ctx, ownerID, req); err != nil {
			return nil, apperr.Transient(err)
		}
	}

	resp := &models.PushResponse{ServerTime: s.now(), Conflicts: conflicts}
	if s.events != nil {
		s.events.Publish(ownerID, sse.Event{Type: sse.TypePagesSynced, Data: sse.PagesSynced{
			ServerTime: resp.ServerTime,
			Accepted:   accepted,
			Conflicts:  len(conflicts),
		}})
	}
	return resp, nil
}

// mergePage applies one pushed page. It returns a conflict when the server
// copy is newer, and ok when the page was written.
func (s *Service) mergePage(ctx context.Context, p *models.Page) (*models.Conflict, bool, error) {
	current, err := s.store.GetPage(ctx, p.OwnerID, p.ID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		inserted, err := s.store.InsertPage(ctx, p)
		if err != nil {
			return nil, false, err
		}
		if !inserted {
			// The id exists under another owner.
			s.logger.Warn("push: page id not owned", slog.String("id", p.ID), slog.String("owner_id", p.OwnerID))
		}
		return nil, inserted, nil
	case err != nil:
		return nil, false, err
	}

	if p.UpdatedAt.Before(current.UpdatedAt) {
		return &models.Conflict{ID: p.ID, ServerUpdatedAt: current.UpdatedAt}, false, nil
	}

	// created_at is immutable once stored.
	p.CreatedAt = current.CreatedAt
	updated, err := s.store.UpdatePage(ctx, p, current.UpdatedAt)
	if err != nil {
		return nil, false, err
	}
	if updated {
		return nil, true, nil
	}

	// Another writer moved the row between our read and write.
	latest, err := s.store.GetPage(ctx, p.OwnerID, p.ID)
	if err != nil {
		return nil, false, err
	}
	if latest.UpdatedAt.Equal(p.UpdatedAt) {
		return nil, false, nil
	}
	return &models.Conflict{ID: p.ID, ServerUpdatedAt: latest.UpdatedAt}, false, nil
}

// replaceEdges swaps the owner's edge sets for the pushed ones, keeping only
// edges whose endpoints the owner holds. A nil set is left untouched.
func (s *Service) replaceEdges(ctx context.Context, ownerID string, req *models.PushRequest) error {
	return s.store.WithTx(ctx, func(ctx context.Context) error {
		owned, err := s.store.OwnedPageIDs(ctx, ownerID)
		if err != nil {
			return err
		}
		if req.Links != nil {
			if err := s.store.ReplaceLinks(ctx, ownerID, ownedLinks(owned, req.Links)); err != nil {
				return fmt.Errorf("replace links: %w", err)
			}
		}
		if req.GhostLinks != nil {
			if err := s.store.ReplaceGhostLinks(ctx, ownerID, ownedGhosts(owned, req.GhostLinks)); err != nil {
				return fmt.Errorf("replace ghost links: %w", err)
			}
		}
		return nil
	})
}

func ownedLinks(owned mapset.Set[string], links []models.Link) []models.Link {
	out := make([]models.Link, 0, len(links))
	seen := mapset.NewThreadUnsafeSet[models.Link]()
	for _, l := range links {
		if !owned.Contains(l.SourceID, l.TargetID) {
			continue
		}
		key := models.Link{SourceID: l.SourceID, TargetID: l.TargetID}
		if !seen.Add(key) {
			continue
		}
		l.CreatedAt = models.Timestamp(l.CreatedAt)
		out = append(out, l)
	}
	return out
}

func ownedGhosts(owned mapset.Set[string], ghosts []models.GhostLink) []models.GhostLink {
	out := make([]models.GhostLink, 0, len(ghosts))
	for _, g := range ghosts {
		if g.LinkText == "" || !owned.Contains(g.SourcePageID) {
			continue
		}
		g.CreatedAt = models.Timestamp(g.CreatedAt)
		out = append(out, g)
	}
	return out
}
