// Package pagesvc is the page read/write surface shared by the server API,
// the Local Mirror and the MCP tools. Soft-deleted pages are invisible to
// every read here; only the sync protocol sees them.
package pagesvc

import (
	"context"
	"errors"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/otomatty/zedi-sub000/internal/apperr"
	"github.com/otomatty/zedi-sub000/internal/graph"
	"github.com/otomatty/zedi-sub000/internal/models"
	"github.com/otomatty/zedi-sub000/internal/parser"
	"github.com/otomatty/zedi-sub000/internal/search"
	"github.com/otomatty/zedi-sub000/internal/store"
)

// PageDetail is a page with its text and the ids of pages linking to it.
type PageDetail struct {
	models.Page
	Text      string   `json:"text"`
	Backlinks []string `json:"backlinks"`
}

// Service coordinates the page, link and content stores.
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService creates a page service over st.
func NewService(st store.Store) *Service {
	return &Service{store: st, now: models.Now}
}

// GetPage returns a live page by id.
func (s *Service) GetPage(ctx context.Context, ownerID, id string) (*models.Page, error) {
	p, err := s.store.GetPage(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if p.IsDeleted {
		return nil, fmt.Errorf("pagesvc: page %s: %w", id, apperr.ErrPageNotFound)
	}
	return p, nil
}

// GetPageByTitle returns the live page whose title matches case-insensitively.
func (s *Service) GetPageByTitle(ctx context.Context, ownerID, title string) (*models.Page, error) {
	return s.store.GetPageByTitle(ctx, ownerID, title)
}

// Read returns a live page with its text extract and backlinks.
func (s *Service) Read(ctx context.Context, ownerID, id string) (*PageDetail, error) {
	p, err := s.GetPage(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	text := ""
	c, err := s.store.GetContent(ctx, id)
	switch {
	case err == nil:
		text = c.TextExtract
	case !errors.Is(err, apperr.ErrContentNotFound):
		return nil, err
	}
	bl, err := s.Backlinks(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(bl))
	for i, b := range bl {
		ids[i] = b.ID
	}
	return &PageDetail{Page: *p, Text: text, Backlinks: ids}, nil
}

// ListSummaries returns the owner's live pages, most recently updated first.
func (s *Service) ListSummaries(ctx context.Context, ownerID string) ([]models.PageSummary, error) {
	pages, err := s.store.ListPages(ctx, ownerID, nil)
	if err != nil {
		return nil, err
	}
	out := make([]models.PageSummary, 0, len(pages))
	for i := len(pages) - 1; i >= 0; i-- {
		if !pages[i].IsDeleted {
			out = append(out, pages[i].Summary())
		}
	}
	return out, nil
}

// Search ranks every live page of the owner that matches query. The
// prefilter is not capped so an older exact-title match is never cut before
// ranking.
func (s *Service) Search(ctx context.Context, ownerID, query string) ([]search.Result, error) {
	keywords := search.Keywords(query)
	if len(keywords) == 0 {
		return []search.Result{}, nil
	}
	candidates, err := s.store.SearchCandidates(ctx, ownerID, keywords, 0)
	if err != nil {
		return nil, err
	}
	return search.Rank(candidates, query, s.now()), nil
}

// Graph derives the link neighbourhood of a live page.
func (s *Service) Graph(ctx context.Context, ownerID, id string) (*graph.View, error) {
	if _, err := s.GetPage(ctx, ownerID, id); err != nil {
		return nil, err
	}
	pages, err := s.store.ListPageTexts(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	var current *models.PageText
	for i := range pages {
		if pages[i].ID == id {
			current = &pages[i]
			break
		}
	}
	if current == nil {
		return nil, fmt.Errorf("pagesvc: page %s: %w", id, apperr.ErrPageNotFound)
	}
	backlinkIDs, err := s.store.Backlinks(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	v := graph.Derive(*current, pages, backlinkIDs)
	return &v, nil
}

// Backlinks returns the live pages linking to id, self excluded.
func (s *Service) Backlinks(ctx context.Context, ownerID, id string) ([]models.PageSummary, error) {
	ids, err := s.store.Backlinks(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	out := []models.PageSummary{}
	seen := mapset.NewThreadUnsafeSet[string](id)
	for _, bid := range ids {
		if !seen.Add(bid) {
			continue
		}
		p, err := s.store.GetPage(ctx, ownerID, bid)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !p.IsDeleted {
			out = append(out, p.Summary())
		}
	}
	return out, nil
}

func validatePage(p *models.Page) error {
	return validation.ValidateStruct(p,
		validation.Field(&p.ID, validation.Required),
		validation.Field(&p.OwnerID, validation.Required),
	)
}

// SavePage creates p or overwrites the stored copy, stamping updated_at with
// the current time. The stamp never moves backwards.
func (s *Service) SavePage(ctx context.Context, p *models.Page) (*models.Page, error) {
	if err := validatePage(p); err != nil {
		return nil, apperr.Validation(err)
	}
	saved := *p
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		now := s.now()
		current, err := s.store.GetPage(ctx, p.OwnerID, p.ID)
		if errors.Is(err, apperr.ErrNotFound) {
			if saved.CreatedAt.IsZero() {
				saved.CreatedAt = now
			}
			saved.UpdatedAt = now
			ok, err := s.store.InsertPage(ctx, &saved)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("pagesvc: page %s: %w", p.ID, apperr.ErrAlreadyExists)
			}
			return nil
		}
		if err != nil {
			return err
		}
		saved.CreatedAt = current.CreatedAt
		saved.UpdatedAt = next(current.UpdatedAt, now)
		ok, err := s.store.UpdatePage(ctx, &saved, current.UpdatedAt)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("pagesvc: page %s changed concurrently: %w", p.ID, apperr.ErrTransient)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// DeletePage soft-deletes a live page.
func (s *Service) DeletePage(ctx context.Context, ownerID, id string) (*models.Page, error) {
	p, err := s.GetPage(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	p.IsDeleted = true
	return s.SavePage(ctx, p)
}

// SetPageLinks replaces the outgoing edges of a page from the wikilinks in
// content: resolvable titles become links, the rest ghost links.
func (s *Service) SetPageLinks(ctx context.Context, ownerID, id, content string) ([]models.Link, []models.GhostLink, error) {
	if _, err := s.GetPage(ctx, ownerID, id); err != nil {
		return nil, nil, err
	}
	now := s.now()
	links := []models.Link{}
	ghosts := []models.GhostLink{}
	for _, title := range parser.LinkTitles(content) {
		target, err := s.store.GetPageByTitle(ctx, ownerID, title)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			ghosts = append(ghosts, models.GhostLink{LinkText: title, SourcePageID: id, CreatedAt: now})
		case err != nil:
			return nil, nil, err
		case target.ID != id:
			links = append(links, models.Link{SourceID: id, TargetID: target.ID, CreatedAt: now})
		}
	}
	if err := s.store.ReplacePageLinks(ctx, id, links, ghosts); err != nil {
		return nil, nil, err
	}
	return links, ghosts, nil
}

// next returns now, or one millisecond past prev when the clock lags.
func next(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Millisecond)
}
