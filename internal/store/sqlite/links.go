package sqlite

import (
	"context"
	"fmt"

	"github.com/otomatty/zedi-sub000/internal/models"
)

// ListLinks returns the edges whose endpoints both belong to ownerID.
func (db *DB) ListLinks(ctx context.Context, ownerID string) ([]models.Link, error) {
	rows, err := db.exec(ctx).QueryContext(ctx, `
		SELECT l.source_id, l.target_id, l.created_at
		FROM links l
		JOIN pages s ON s.id = l.source_id
		JOIN pages t ON t.id = l.target_id
		WHERE s.owner_id = ? AND t.owner_id = ?
		ORDER BY l.source_id, l.target_id
	`, ownerID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list links: %w", err)
	}
	defer rows.Close()

	out := []models.Link{}
	for rows.Next() {
		var l models.Link
		var created int64
		if err := rows.Scan(&l.SourceID, &l.TargetID, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan link: %w", err)
		}
		l.CreatedAt = fromMillis(created)
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListGhostLinks returns the ghost links whose source belongs to ownerID.
func (db *DB) ListGhostLinks(ctx context.Context, ownerID string) ([]models.GhostLink, error) {
	rows, err := db.exec(ctx).QueryContext(ctx, `
		SELECT g.link_text, g.source_page_id, g.created_at, g.original_target_page_id, g.original_note_id
		FROM ghost_links g
		JOIN pages s ON s.id = g.source_page_id
		WHERE s.owner_id = ?
		ORDER BY g.source_page_id, g.link_text
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list ghost links: %w", err)
	}
	defer rows.Close()

	out := []models.GhostLink{}
	for rows.Next() {
		var g models.GhostLink
		var created int64
		if err := rows.Scan(&g.LinkText, &g.SourcePageID, &created, &g.OriginalTargetPageID, &g.OriginalNoteID); err != nil {
			return nil, fmt.Errorf("sqlite: scan ghost link: %w", err)
		}
		g.CreatedAt = fromMillis(created)
		out = append(out, g)
	}
	return out, rows.Err()
}

// ReplaceLinks deletes every edge sourced at one of the owner's pages and
// inserts links in its place.
func (db *DB) ReplaceLinks(ctx context.Context, ownerID string, links []models.Link) error {
	return db.WithTx(ctx, func(ctx context.Context) error {
		ex := db.exec(ctx)
		if _, err := ex.ExecContext(ctx, `
			DELETE FROM links WHERE source_id IN (SELECT id FROM pages WHERE owner_id = ?)
		`, ownerID); err != nil {
			return fmt.Errorf("sqlite: clear links: %w", err)
		}
		return insertLinks(ctx, ex, links)
	})
}

// ReplaceGhostLinks deletes every ghost link sourced at one of the owner's
// pages and inserts ghosts in its place.
func (db *DB) ReplaceGhostLinks(ctx context.Context, ownerID string, ghosts []models.GhostLink) error {
	return db.WithTx(ctx, func(ctx context.Context) error {
		ex := db.exec(ctx)
		if _, err := ex.ExecContext(ctx, `
			DELETE FROM ghost_links WHERE source_page_id IN (SELECT id FROM pages WHERE owner_id = ?)
		`, ownerID); err != nil {
			return fmt.Errorf("sqlite: clear ghost links: %w", err)
		}
		return insertGhostLinks(ctx, ex, ghosts)
	})
}

// ReplacePageLinks swaps the outgoing edges and ghosts of one source page.
func (db *DB) ReplacePageLinks(ctx context.Context, sourceID string, links []models.Link, ghosts []models.GhostLink) error {
	return db.WithTx(ctx, func(ctx context.Context) error {
		ex := db.exec(ctx)
		if _, err := ex.ExecContext(ctx, `DELETE FROM links WHERE source_id = ?`, sourceID); err != nil {
			return fmt.Errorf("sqlite: clear page links: %w", err)
		}
		if _, err := ex.ExecContext(ctx, `DELETE FROM ghost_links WHERE source_page_id = ?`, sourceID); err != nil {
			return fmt.Errorf("sqlite: clear page ghost links: %w", err)
		}
		if err := insertLinks(ctx, ex, links); err != nil {
			return err
		}
		return insertGhostLinks(ctx, ex, ghosts)
	})
}

// Backlinks returns ids of the owner's pages that link to targetID.
func (db *DB) Backlinks(ctx context.Context, ownerID, targetID string) ([]string, error) {
	rows, err := db.exec(ctx).QueryContext(ctx, `
		SELECT l.source_id
		FROM links l
		JOIN pages s ON s.id = l.source_id
		WHERE l.target_id = ? AND s.owner_id = ?
		ORDER BY s.updated_at DESC
	`, targetID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: backlinks: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func insertLinks(ctx context.Context, ex dbtx, links []models.Link) error {
	for _, l := range links {
		if _, err := ex.ExecContext(ctx, `
			INSERT OR IGNORE INTO links (source_id, target_id, created_at) VALUES (?, ?, ?)
		`, l.SourceID, l.TargetID, toMillis(l.CreatedAt)); err != nil {
			return fmt.Errorf("sqlite: insert link: %w", err)
		}
	}
	return nil
}

func insertGhostLinks(ctx context.Context, ex dbtx, ghosts []models.GhostLink) error {
	for _, g := range ghosts {
		if _, err := ex.ExecContext(ctx, `
			INSERT OR IGNORE INTO ghost_links
				(link_text, source_page_id, created_at, original_target_page_id, original_note_id)
			VALUES (?, ?, ?, ?, ?)
		`, g.LinkText, g.SourcePageID, toMillis(g.CreatedAt), g.OriginalTargetPageID, g.OriginalNoteID); err != nil {
			return fmt.Errorf("sqlite: insert ghost link: %w", err)
		}
	}
	return nil
}
