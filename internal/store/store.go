// Package store defines the persistence contracts for pages, links and
// content. Implementations live in the sqlite and postgres subpackages and
// must behave identically, including soft-delete visibility.
package store

import (
	"context"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/otomatty/zedi-sub000/internal/models"
)

// PageStore persists page metadata. Every lookup is scoped to an owner so that
// "exists but not owned" is indistinguishable from "does not exist".
type PageStore interface {
	// GetPage returns the page including soft-deleted rows.
	GetPage(ctx context.Context, ownerID, id string) (*models.Page, error)
	// GetPageByTitle matches live pages case-insensitively on the trimmed title.
	GetPageByTitle(ctx context.Context, ownerID, title string) (*models.Page, error)
	// ListPages returns pages with updated_at after since (all when nil),
	// soft-deleted included, ascending by updated_at.
	ListPages(ctx context.Context, ownerID string, since *time.Time) ([]models.Page, error)
	// ListPageTexts returns live pages joined with their text extract.
	ListPageTexts(ctx context.Context, ownerID string) ([]models.PageText, error)
	// SearchCandidates returns live pages whose title or text contains every
	// keyword, case-insensitively. It is a prefilter; callers rank and
	// re-check the result. A limit <= 0 returns every match.
	SearchCandidates(ctx context.Context, ownerID string, keywords []string, limit int) ([]models.PageText, error)
	OwnedPageIDs(ctx context.Context, ownerID string) (mapset.Set[string], error)
	// InsertPage inserts p and reports false when the id already exists.
	InsertPage(ctx context.Context, p *models.Page) (bool, error)
	// UpdatePage overwrites p only while the stored updated_at still equals
	// expected, and reports whether the row was written.
	UpdatePage(ctx context.Context, p *models.Page, expected time.Time) (bool, error)
	// TouchPage refreshes the preview (kept when preview is empty) and moves
	// updated_at forward, never backward.
	TouchPage(ctx context.Context, ownerID, id, preview string, updatedAt time.Time) error
}

// LinkStore persists link and ghost-link edges.
type LinkStore interface {
	// ListLinks returns edges whose endpoints both belong to ownerID.
	ListLinks(ctx context.Context, ownerID string) ([]models.Link, error)
	// ListGhostLinks returns ghost links whose source belongs to ownerID.
	ListGhostLinks(ctx context.Context, ownerID string) ([]models.GhostLink, error)
	// ReplaceLinks swaps the owner's whole edge set for links.
	ReplaceLinks(ctx context.Context, ownerID string, links []models.Link) error
	// ReplaceGhostLinks swaps the owner's whole ghost set for ghosts.
	ReplaceGhostLinks(ctx context.Context, ownerID string, ghosts []models.GhostLink) error
	// ReplacePageLinks swaps the outgoing edges of a single source page.
	ReplacePageLinks(ctx context.Context, sourceID string, links []models.Link, ghosts []models.GhostLink) error
	// Backlinks returns ids of the owner's pages linking to targetID.
	Backlinks(ctx context.Context, ownerID, targetID string) ([]string, error)
}

// ContentStore persists versioned page content.
type ContentStore interface {
	GetContent(ctx context.Context, pageID string) (*models.PageContent, error)
	// PutContent writes c and returns the new version. With expected set the
	// write happens only if the stored version equals *expected (0 meaning no
	// row yet), otherwise apperr.ErrVersionConflict. Without it the row is
	// upserted. Either way the version moves by exactly one atomically.
	PutContent(ctx context.Context, c *models.PageContent, expected *int64) (int64, error)
}

// OwnerStore maps identity subjects to owners.
type OwnerStore interface {
	OwnerBySubject(ctx context.Context, subject string) (*models.Owner, error)
	// CreateOwner returns apperr.ErrAlreadyExists when the subject is taken.
	CreateOwner(ctx context.Context, o *models.Owner) error
}

// Store is the full persistence surface used by the services.
type Store interface {
	PageStore
	LinkStore
	ContentStore
	OwnerStore
	// WithTx runs fn in a transaction carried by the context it receives.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Close() error
}
