//go:build !sqlite_fts5

package sqlite

import (
	"context"
	"database/sql"

	"github.com/otomatty/zedi-sub000/internal/models"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not compiled in; search uses LIKE over pages and page_contents.
	return nil
}

func ftsSyncPage(_ context.Context, _ dbtx, _ string) error { return nil }

// SearchCandidates performs a LIKE-based prefilter. A limit <= 0 returns
// every match.
func (db *DB) SearchCandidates(ctx context.Context, ownerID string, keywords []string, limit int) ([]models.PageText, error) {
	if len(keywords) == 0 {
		return []models.PageText{}, nil
	}
	return db.likeCandidates(ctx, ownerID, keywords, limit)
}
