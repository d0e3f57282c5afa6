package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/otomatty/zedi-sub000/internal/apperr"
	"github.com/otomatty/zedi-sub000/internal/models"
	"github.com/otomatty/zedi-sub000/internal/parser"
)

const pageColumns = `p.id, p.owner_id, p.source_page_id, p.title, p.content_preview,
	p.thumbnail_url, p.source_url, p.created_at, p.updated_at, p.is_deleted`

type scanner interface {
	Scan(dest ...any) error
}

func scanPage(s scanner, extra ...any) (*models.Page, error) {
	var p models.Page
	var created, updated int64
	dest := append([]any{
		&p.ID, &p.OwnerID, &p.SourcePageID, &p.Title, &p.ContentPreview,
		&p.ThumbnailURL, &p.SourceURL, &created, &updated, &p.IsDeleted,
	}, extra...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	return &p, nil
}

// GetPage returns the owner's page by id, soft-deleted rows included.
func (db *DB) GetPage(ctx context.Context, ownerID, id string) (*models.Page, error) {
	row := db.exec(ctx).QueryRowContext(ctx, `
		SELECT `+pageColumns+`
		FROM pages p
		WHERE p.id = ? AND p.owner_id = ?
	`, id, ownerID)
	p, err := scanPage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqlite: page %s: %w", id, apperr.ErrPageNotFound)
		}
		return nil, fmt.Errorf("sqlite: get page: %w", err)
	}
	return p, nil
}

// GetPageByTitle returns the most recently updated live page with the title.
func (db *DB) GetPageByTitle(ctx context.Context, ownerID, title string) (*models.Page, error) {
	row := db.exec(ctx).QueryRowContext(ctx, `
		SELECT `+pageColumns+`
		FROM pages p
		WHERE p.owner_id = ? AND p.title_key = ? AND p.is_deleted = 0
		ORDER BY p.updated_at DESC, p.id ASC
		LIMIT 1
	`, ownerID, parser.NormalizeTitle(title))
	p, err := scanPage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqlite: page titled %q: %w", title, apperr.ErrPageNotFound)
		}
		return nil, fmt.Errorf("sqlite: get page by title: %w", err)
	}
	return p, nil
}

// ListPages returns the owner's pages changed after since, oldest first.
func (db *DB) ListPages(ctx context.Context, ownerID string, since *time.Time) ([]models.Page, error) {
	after := int64(math.MinInt64)
	if since != nil {
		after = toMillis(*since)
	}
	rows, err := db.exec(ctx).QueryContext(ctx, `
		SELECT `+pageColumns+`
		FROM pages p
		WHERE p.owner_id = ? AND p.updated_at > ?
		ORDER BY p.updated_at ASC, p.id ASC
	`, ownerID, after)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list pages: %w", err)
	}
	defer rows.Close()

	out := []models.Page{}
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan page: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ListPageTexts returns the owner's live pages with their text extracts.
func (db *DB) ListPageTexts(ctx context.Context, ownerID string) ([]models.PageText, error) {
	rows, err := db.exec(ctx).QueryContext(ctx, `
		SELECT `+pageColumns+`, COALESCE(c.text_extract, '')
		FROM pages p
		LEFT JOIN page_contents c ON c.page_id = p.id
		WHERE p.owner_id = ? AND p.is_deleted = 0
		ORDER BY p.updated_at DESC, p.id ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list page texts: %w", err)
	}
	defer rows.Close()
	return scanPageTexts(rows)
}

func scanPageTexts(rows *sql.Rows) ([]models.PageText, error) {
	out := []models.PageText{}
	for rows.Next() {
		var text string
		p, err := scanPage(rows, &text)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan page text: %w", err)
		}
		out = append(out, models.PageText{Page: *p, Text: text})
	}
	return out, rows.Err()
}

// likeCandidates is the portable prefilter: every keyword must appear in the
// title or the text extract. Both sides are lowered with unicode_lower so
// matching folds non-ASCII case the way the scorer does.
func (db *DB) likeCandidates(ctx context.Context, ownerID string, keywords []string, limit int) ([]models.PageText, error) {
	var where strings.Builder
	args := []any{ownerID}
	for _, k := range keywords {
		where.WriteString(` AND (unicode_lower(p.title) LIKE ? ESCAPE '\' OR unicode_lower(COALESCE(c.text_extract, '')) LIKE ? ESCAPE '\')`)
		like := "%" + escapeLike(strings.ToLower(k)) + "%"
		args = append(args, like, like)
	}

	rows, err := db.exec(ctx).QueryContext(ctx, `
		SELECT `+pageColumns+`, COALESCE(c.text_extract, '')
		FROM pages p
		LEFT JOIN page_contents c ON c.page_id = p.id
		WHERE p.owner_id = ? AND p.is_deleted = 0`+where.String()+`
		ORDER BY p.updated_at DESC`+limitClause(limit), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search: %w", err)
	}
	defer rows.Close()
	return scanPageTexts(rows)
}

// limitClause renders LIMIT for a positive limit and nothing otherwise.
func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return " LIMIT " + strconv.Itoa(limit)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// OwnedPageIDs returns the ids of every page the owner holds.
func (db *DB) OwnedPageIDs(ctx context.Context, ownerID string) (mapset.Set[string], error) {
	rows, err := db.exec(ctx).QueryContext(ctx, `SELECT id FROM pages WHERE owner_id = ?`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: owned ids: %w", err)
	}
	defer rows.Close()

	out := mapset.NewThreadUnsafeSet[string]()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out.Add(id)
	}
	return out, rows.Err()
}

// InsertPage inserts p unless the id is already taken.
func (db *DB) InsertPage(ctx context.Context, p *models.Page) (bool, error) {
	res, err := db.exec(ctx).ExecContext(ctx, `
		INSERT INTO pages (id, owner_id, source_page_id, title, title_key, content_preview,
			thumbnail_url, source_url, created_at, updated_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, p.ID, p.OwnerID, p.SourcePageID, p.Title, parser.NormalizeTitle(p.Title), p.ContentPreview,
		p.ThumbnailURL, p.SourceURL, toMillis(p.CreatedAt), toMillis(p.UpdatedAt), p.IsDeleted)
	if err != nil {
		return false, fmt.Errorf("sqlite: insert page: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: insert page: %w", err)
	}
	if n == 1 {
		if err := ftsSyncPage(ctx, db.exec(ctx), p.ID); err != nil {
			return false, err
		}
	}
	return n == 1, nil
}

// UpdatePage overwrites the mutable columns of p while updated_at still
// equals expected.
func (db *DB) UpdatePage(ctx context.Context, p *models.Page, expected time.Time) (bool, error) {
	res, err := db.exec(ctx).ExecContext(ctx, `
		UPDATE pages SET
			source_page_id  = ?,
			title           = ?,
			title_key       = ?,
			content_preview = ?,
			thumbnail_url   = ?,
			source_url      = ?,
			updated_at      = ?,
			is_deleted      = ?
		WHERE id = ? AND owner_id = ? AND updated_at = ?
	`, p.SourcePageID, p.Title, parser.NormalizeTitle(p.Title), p.ContentPreview,
		p.ThumbnailURL, p.SourceURL, toMillis(p.UpdatedAt), p.IsDeleted,
		p.ID, p.OwnerID, toMillis(expected))
	if err != nil {
		return false, fmt.Errorf("sqlite: update page: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: update page: %w", err)
	}
	if n == 1 {
		if err := ftsSyncPage(ctx, db.exec(ctx), p.ID); err != nil {
			return false, err
		}
	}
	return n == 1, nil
}

// TouchPage refreshes the preview and moves updated_at forward.
func (db *DB) TouchPage(ctx context.Context, ownerID, id, preview string, updatedAt time.Time) error {
	res, err := db.exec(ctx).ExecContext(ctx, `
		UPDATE pages SET
			content_preview = CASE WHEN ? = '' THEN content_preview ELSE ? END,
			updated_at      = MAX(updated_at, ?)
		WHERE id = ? AND owner_id = ?
	`, preview, preview, toMillis(updatedAt), id, ownerID)
	if err != nil {
		return fmt.Errorf("sqlite: touch page: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: touch page %s: %w", id, apperr.ErrPageNotFound)
	}
	return nil
}
