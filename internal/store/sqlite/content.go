package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/otomatty/zedi-sub000/internal/apperr"
	"github.com/otomatty/zedi-sub000/internal/models"
)

// GetContent returns the stored content of a page.
func (db *DB) GetContent(ctx context.Context, pageID string) (*models.PageContent, error) {
	c := models.PageContent{PageID: pageID}
	var updated int64
	err := db.exec(ctx).QueryRowContext(ctx, `
		SELECT ydoc_state, version, text_extract, updated_at
		FROM page_contents
		WHERE page_id = ?
	`, pageID).Scan(&c.State, &c.Version, &c.TextExtract, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqlite: page %s: %w", pageID, apperr.ErrContentNotFound)
		}
		return nil, fmt.Errorf("sqlite: get content: %w", err)
	}
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}

// PutContent writes c with an atomic compare-and-increment on version.
func (db *DB) PutContent(ctx context.Context, c *models.PageContent, expected *int64) (int64, error) {
	ex := db.exec(ctx)
	var row *sql.Row
	switch {
	case expected == nil:
		row = ex.QueryRowContext(ctx, `
			INSERT INTO page_contents (page_id, ydoc_state, version, text_extract, updated_at)
			VALUES (?, ?, 1, ?, ?)
			ON CONFLICT(page_id) DO UPDATE SET
				ydoc_state   = excluded.ydoc_state,
				text_extract = CASE WHEN excluded.text_extract = '' THEN page_contents.text_extract ELSE excluded.text_extract END,
				updated_at   = excluded.updated_at,
				version      = page_contents.version + 1
			RETURNING version
		`, c.PageID, c.State, c.TextExtract, toMillis(c.UpdatedAt))
	case *expected == 0:
		row = ex.QueryRowContext(ctx, `
			INSERT INTO page_contents (page_id, ydoc_state, version, text_extract, updated_at)
			VALUES (?, ?, 1, ?, ?)
			ON CONFLICT(page_id) DO NOTHING
			RETURNING version
		`, c.PageID, c.State, c.TextExtract, toMillis(c.UpdatedAt))
	default:
		row = ex.QueryRowContext(ctx, `
			UPDATE page_contents SET
				ydoc_state   = ?,
				text_extract = CASE WHEN ? = '' THEN text_extract ELSE ? END,
				updated_at   = ?,
				version      = version + 1
			WHERE page_id = ? AND version = ?
			RETURNING version
		`, c.State, c.TextExtract, c.TextExtract, toMillis(c.UpdatedAt), c.PageID, *expected)
	}

	var version int64
	if err := row.Scan(&version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("sqlite: page %s: %w", c.PageID, apperr.ErrVersionConflict)
		}
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
			return 0, fmt.Errorf("sqlite: content for %s: %w", c.PageID, apperr.ErrPageNotFound)
		}
		return 0, fmt.Errorf("sqlite: put content: %w", err)
	}
	if err := ftsSyncPage(ctx, ex, c.PageID); err != nil {
		return 0, err
	}
	return version, nil
}
