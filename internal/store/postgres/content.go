package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/otomatty/zedi-sub000/internal/apperr"
	"github.com/otomatty/zedi-sub000/internal/models"
)

// GetContent returns the stored content of a page.
func (db *DB) GetContent(ctx context.Context, pageID string) (*models.PageContent, error) {
	c := models.PageContent{PageID: pageID}
	err := db.getExecutor(ctx).QueryRow(ctx, `
		SELECT ydoc_state, version, text_extract, updated_at
		FROM page_contents
		WHERE page_id = $1
	`, pageID).Scan(&c.State, &c.Version, &c.TextExtract, &c.UpdatedAt)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("postgres: page %s: %w", pageID, apperr.ErrContentNotFound)
		}
		return nil, fmt.Errorf("postgres: get content: %w", err)
	}
	c.UpdatedAt = models.Timestamp(c.UpdatedAt)
	return &c, nil
}

// PutContent writes c with an atomic compare-and-increment on version.
func (db *DB) PutContent(ctx context.Context, c *models.PageContent, expected *int64) (int64, error) {
	ex := db.getExecutor(ctx)
	updated := models.Timestamp(c.UpdatedAt)
	var row pgx.Row
	switch {
	case expected == nil:
		row = ex.QueryRow(ctx, `
			INSERT INTO page_contents (page_id, ydoc_state, version, text_extract, updated_at)
			VALUES ($1, $2, 1, $3, $4)
			ON CONFLICT (page_id) DO UPDATE SET
				ydoc_state   = EXCLUDED.ydoc_state,
				text_extract = CASE WHEN EXCLUDED.text_extract = '' THEN page_contents.text_extract ELSE EXCLUDED.text_extract END,
				updated_at   = EXCLUDED.updated_at,
				version      = page_contents.version + 1
			RETURNING version
		`, c.PageID, c.State, c.TextExtract, updated)
	case *expected == 0:
		row = ex.QueryRow(ctx, `
			INSERT INTO page_contents (page_id, ydoc_state, version, text_extract, updated_at)
			VALUES ($1, $2, 1, $3, $4)
			ON CONFLICT (page_id) DO NOTHING
			RETURNING version
		`, c.PageID, c.State, c.TextExtract, updated)
	default:
		row = ex.QueryRow(ctx, `
			UPDATE page_contents SET
				ydoc_state   = $1,
				text_extract = CASE WHEN $2 = '' THEN text_extract ELSE $2 END,
				updated_at   = $3,
				version      = version + 1
			WHERE page_id = $4 AND version = $5
			RETURNING version
		`, c.State, c.TextExtract, updated, c.PageID, *expected)
	}

	var version int64
	if err := row.Scan(&version); err != nil {
		switch {
		case IsPgNoRowsError(err):
			return 0, fmt.Errorf("postgres: page %s: %w", c.PageID, apperr.ErrVersionConflict)
		case IsPgForeignKeyError(err):
			return 0, fmt.Errorf("postgres: content for %s: %w", c.PageID, apperr.ErrPageNotFound)
		}
		return 0, fmt.Errorf("postgres: put content: %w", err)
	}
	return version, nil
}
