package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/jackc/pgx/v5"

	"github.com/otomatty/zedi-sub000/internal/apperr"
	"github.com/otomatty/zedi-sub000/internal/models"
	"github.com/otomatty/zedi-sub000/internal/parser"
)

const pageColumns = `p.id, p.owner_id, p.source_page_id, p.title, p.content_preview,
	p.thumbnail_url, p.source_url, p.created_at, p.updated_at, p.is_deleted`

func scanPage(row pgx.Row, extra ...any) (*models.Page, error) {
	var p models.Page
	dest := append([]any{
		&p.ID, &p.OwnerID, &p.SourcePageID, &p.Title, &p.ContentPreview,
		&p.ThumbnailURL, &p.SourceURL, &p.CreatedAt, &p.UpdatedAt, &p.IsDeleted,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	p.CreatedAt = models.Timestamp(p.CreatedAt)
	p.UpdatedAt = models.Timestamp(p.UpdatedAt)
	return &p, nil
}

// GetPage returns the owner's page by id, soft-deleted rows included.
func (db *DB) GetPage(ctx context.Context, ownerID, id string) (*models.Page, error) {
	row := db.getExecutor(ctx).QueryRow(ctx, `
		SELECT `+pageColumns+`
		FROM pages p
		WHERE p.id = $1 AND p.owner_id = $2
	`, id, ownerID)
	p, err := scanPage(row)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("postgres: page %s: %w", id, apperr.ErrPageNotFound)
		}
		return nil, fmt.Errorf("postgres: get page: %w", err)
	}
	return p, nil
}

// GetPageByTitle returns the most recently updated live page with the title.
func (db *DB) GetPageByTitle(ctx context.Context, ownerID, title string) (*models.Page, error) {
	row := db.getExecutor(ctx).QueryRow(ctx, `
		SELECT `+pageColumns+`
		FROM pages p
		WHERE p.owner_id = $1 AND p.title_key = $2 AND NOT p.is_deleted
		ORDER BY p.updated_at DESC, p.id ASC
		LIMIT 1
	`, ownerID, parser.NormalizeTitle(title))
	p, err := scanPage(row)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("postgres: page titled %q: %w", title, apperr.ErrPageNotFound)
		}
		return nil, fmt.Errorf("postgres: get page by title: %w", err)
	}
	return p, nil
}

// ListPages returns the owner's pages changed after since, oldest first.
func (db *DB) ListPages(ctx context.Context, ownerID string, since *time.Time) ([]models.Page, error) {
	query := `
		SELECT ` + pageColumns + `
		FROM pages p
		WHERE p.owner_id = $1`
	args := []any{ownerID}
	if since != nil {
		query += ` AND p.updated_at > $2`
		args = append(args, models.Timestamp(*since))
	}
	query += ` ORDER BY p.updated_at ASC, p.id ASC`

	rows, err := db.getExecutor(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pages: %w", err)
	}
	defer rows.Close()

	out := []models.Page{}
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan page: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ListPageTexts returns the owner's live pages with their text extracts.
func (db *DB) ListPageTexts(ctx context.Context, ownerID string) ([]models.PageText, error) {
	rows, err := db.getExecutor(ctx).Query(ctx, `
		SELECT `+pageColumns+`, COALESCE(c.text_extract, '')
		FROM pages p
		LEFT JOIN page_contents c ON c.page_id = p.id
		WHERE p.owner_id = $1 AND NOT p.is_deleted
		ORDER BY p.updated_at DESC, p.id ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list page texts: %w", err)
	}
	defer rows.Close()
	return scanPageTexts(rows)
}

func scanPageTexts(rows pgx.Rows) ([]models.PageText, error) {
	out := []models.PageText{}
	for rows.Next() {
		var text string
		p, err := scanPage(rows, &text)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan page text: %w", err)
		}
		out = append(out, models.PageText{Page: *p, Text: text})
	}
	return out, rows.Err()
}

// SearchCandidates returns live pages containing every keyword in the title
// or the text extract, case-insensitively.
func (db *DB) SearchCandidates(ctx context.Context, ownerID string, keywords []string, limit int) ([]models.PageText, error) {
	var where strings.Builder
	args := []any{ownerID}
	for _, k := range keywords {
		args = append(args, "%"+escapeLike(k)+"%")
		n := len(args)
		fmt.Fprintf(&where, ` AND (p.title ILIKE $%d OR COALESCE(c.text_extract, '') ILIKE $%d)`, n, n)
	}
	order := `
		ORDER BY p.updated_at DESC`
	if limit > 0 {
		args = append(args, limit)
		order += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := db.getExecutor(ctx).Query(ctx, `
		SELECT `+pageColumns+`, COALESCE(c.text_extract, '')
		FROM pages p
		LEFT JOIN page_contents c ON c.page_id = p.id
		WHERE p.owner_id = $1 AND NOT p.is_deleted`+where.String()+order, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search: %w", err)
	}
	defer rows.Close()
	return scanPageTexts(rows)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// OwnedPageIDs returns the ids of every page the owner holds.
func (db *DB) OwnedPageIDs(ctx context.Context, ownerID string) (mapset.Set[string], error) {
	rows, err := db.getExecutor(ctx).Query(ctx, `SELECT id FROM pages WHERE owner_id = $1`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: owned ids: %w", err)
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
	tag, err := db.getExecutor(ctx).Exec(ctx, `
		INSERT INTO pages (id, owner_id, source_page_id, title, title_key, content_preview,
			thumbnail_url, source_url, created_at, updated_at, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.OwnerID, p.SourcePageID, p.Title, parser.NormalizeTitle(p.Title), p.ContentPreview,
		p.ThumbnailURL, p.SourceURL, models.Timestamp(p.CreatedAt), models.Timestamp(p.UpdatedAt), p.IsDeleted)
	if err != nil {
		return false, fmt.Errorf("postgres: insert page: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdatePage overwrites the mutable columns of p while updated_at still
// equals expected.
func (db *DB) UpdatePage(ctx context.Context, p *models.Page, expected time.Time) (bool, error) {
	tag, err := db.getExecutor(ctx).Exec(ctx, `
		UPDATE pages SET
			source_page_id  = $1,
			title           = $2,
			title_key       = $3,
			content_preview = $4,
			thumbnail_url   = $5,
			source_url      = $6,
			updated_at      = $7,
			is_deleted      = $8
		WHERE id = $9 AND owner_id = $10 AND updated_at = $11
	`, p.SourcePageID, p.Title, parser.NormalizeTitle(p.Title), p.ContentPreview,
		p.ThumbnailURL, p.SourceURL, models.Timestamp(p.UpdatedAt), p.IsDeleted,
		p.ID, p.OwnerID, models.Timestamp(expected))
	if err != nil {
		return false, fmt.Errorf("postgres: update page: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// TouchPage refreshes the preview and moves updated_at forward.
func (db *DB) TouchPage(ctx context.Context, ownerID, id, preview string, updatedAt time.Time) error {
	tag, err := db.getExecutor(ctx).Exec(ctx, `
		UPDATE pages SET
			content_preview = CASE WHEN $1 = '' THEN content_preview ELSE $1 END,
			updated_at      = GREATEST(updated_at, $2)
		WHERE id = $3 AND owner_id = $4
	`, preview, models.Timestamp(updatedAt), id, ownerID)
	if err != nil {
		return fmt.Errorf("postgres: touch page: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: touch page %s: %w", id, apperr.ErrPageNotFound)
	}
	return nil
}
