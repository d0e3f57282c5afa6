package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/otomatty/zedi-sub000/internal/models"
)

// ListLinks returns the edges whose endpoints both belong to ownerID.
func (db *DB) ListLinks(ctx context.Context, ownerID string) ([]models.Link, error) {
	rows, err := db.getExecutor(ctx).Query(ctx, `
		SELECT l.source_id, l.target_id, l.created_at
		FROM links l
		JOIN pages s ON s.id = l.source_id
		JOIN pages t ON t.id = l.target_id
		WHERE s.owner_id = $1 AND t.owner_id = $1
		ORDER BY l.source_id, l.target_id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list links: %w", err)
	}
	defer rows.Close()

	out := []models.Link{}
	for rows.Next() {
		var l models.Link
		if err := rows.Scan(&l.SourceID, &l.TargetID, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan link: %w", err)
		}
		l.CreatedAt = models.Timestamp(l.CreatedAt)
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListGhostLinks returns the ghost links whose source belongs to ownerID.
func (db *DB) ListGhostLinks(ctx context.Context, ownerID string) ([]models.GhostLink, error) {
	rows, err := db.getExecutor(ctx).Query(ctx, `
		SELECT g.link_text, g.source_page_id, g.created_at, g.original_target_page_id, g.original_note_id
		FROM ghost_links g
		JOIN pages s ON s.id = g.source_page_id
		WHERE s.owner_id = $1
		ORDER BY g.source_page_id, g.link_text
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ghost links: %w", err)
	}
	defer rows.Close()

	out := []models.GhostLink{}
	for rows.Next() {
		var g models.GhostLink
		if err := rows.Scan(&g.LinkText, &g.SourcePageID, &g.CreatedAt, &g.OriginalTargetPageID, &g.OriginalNoteID); err != nil {
			return nil, fmt.Errorf("postgres: scan ghost link: %w", err)
		}
		g.CreatedAt = models.Timestamp(g.CreatedAt)
		out = append(out, g)
	}
	return out, rows.Err()
}

// ReplaceLinks deletes every edge sourced at one of the owner's pages and
// inserts links in its place.
func (db *DB) ReplaceLinks(ctx context.Context, ownerID string, links []models.Link) error {
	return db.WithTx(ctx, func(ctx context.Context) error {
		ex := db.getExecutor(ctx)
		if _, err := ex.Exec(ctx, `
			DELETE FROM links WHERE source_id IN (SELECT id FROM pages WHERE owner_id = $1)
		`, ownerID); err != nil {
			return fmt.Errorf("postgres: clear links: %w", err)
		}
		return insertLinks(ctx, ex, links)
	})
}

// ReplaceGhostLinks deletes every ghost link sourced at one of the owner's
// pages and inserts ghosts in its place.
func (db *DB) ReplaceGhostLinks(ctx context.Context, ownerID string, ghosts []models.GhostLink) error {
	return db.WithTx(ctx, func(ctx context.Context) error {
		ex := db.getExecutor(ctx)
		if _, err := ex.Exec(ctx, `
			DELETE FROM ghost_links WHERE source_page_id IN (SELECT id FROM pages WHERE owner_id = $1)
		`, ownerID); err != nil {
			return fmt.Errorf("postgres: clear ghost links: %w", err)
		}
		return insertGhostLinks(ctx, ex, ghosts)
	})
}

// ReplacePageLinks swaps the outgoing edges and ghosts of one source page.
func (db *DB) ReplacePageLinks(ctx context.Context, sourceID string, links []models.Link, ghosts []models.GhostLink) error {
	return db.WithTx(ctx, func(ctx context.Context) error {
		ex := db.getExecutor(ctx)
		if _, err := ex.Exec(ctx, `DELETE FROM links WHERE source_id = $1`, sourceID); err != nil {
			return fmt.Errorf("postgres: clear page links: %w", err)
		}
		if _, err := ex.Exec(ctx, `DELETE FROM ghost_links WHERE source_page_id = $1`, sourceID); err != nil {
			return fmt.Errorf("postgres: clear page ghost links: %w", err)
		}
		if err := insertLinks(ctx, ex, links); err != nil {
			return err
		}
		return insertGhostLinks(ctx, ex, ghosts)
	})
}

// Backlinks returns ids of the owner's pages that link to targetID.
func (db *DB) Backlinks(ctx context.Context, ownerID, targetID string) ([]string, error) {
	rows, err := db.getExecutor(ctx).Query(ctx, `
		SELECT l.source_id
		FROM links l
		JOIN pages s ON s.id = l.source_id
		WHERE l.target_id = $1 AND s.owner_id = $2
		ORDER BY s.updated_at DESC
	`, targetID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: backlinks: %w", err)
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

// insertLinks queues every edge in one batch round trip.
func insertLinks(ctx context.Context, ex dbtx, links []models.Link) error {
	if len(links) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range links {
		batch.Queue(`
			INSERT INTO links (source_id, target_id, created_at) VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, l.SourceID, l.TargetID, models.Timestamp(l.CreatedAt))
	}
	return sendBatch(ctx, ex, batch, "insert link")
}

func insertGhostLinks(ctx context.Context, ex dbtx, ghosts []models.GhostLink) error {
	if len(ghosts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, g := range ghosts {
		batch.Queue(`
			INSERT INTO ghost_links
				(link_text, source_page_id, created_at, original_target_page_id, original_note_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT DO NOTHING
		`, g.LinkText, g.SourcePageID, models.Timestamp(g.CreatedAt), g.OriginalTargetPageID, g.OriginalNoteID)
	}
	return sendBatch(ctx, ex, batch, "insert ghost link")
}

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func sendBatch(ctx context.Context, ex dbtx, batch *pgx.Batch, what string) error {
	bs, ok := ex.(batchSender)
	if !ok {
		return fmt.Errorf("postgres: %s: executor cannot batch", what)
	}
	if err := bs.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: %s: %w", what, err)
	}
	return nil
}
