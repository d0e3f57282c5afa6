package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/otomatty/zedi-sub000/internal/models"
	"github.com/otomatty/zedi-sub000/internal/parser"
)

// Client-side bookkeeping used by the Local Mirror and the sync engine.

const (
	stateCheckpoint = "checkpoint"
	stateOwner      = "owner_id"
)

// State returns a sync_state value, or "" when unset.
func (db *DB) State(ctx context.Context, key string) (string, error) {
	var v string
	err := db.exec(ctx).QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: get state %s: %w", key, err)
	}
	return v, nil
}

// SetState stores a sync_state value.
func (db *DB) SetState(ctx context.Context, key, value string) error {
	if _, err := db.exec(ctx).ExecContext(ctx, `
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value); err != nil {
		return fmt.Errorf("sqlite: set state %s: %w", key, err)
	}
	return nil
}

// StatePrefix returns every sync_state entry whose key starts with prefix,
// keyed by the remainder of the key.
func (db *DB) StatePrefix(ctx context.Context, prefix string) (map[string]string, error) {
	rows, err := db.exec(ctx).QueryContext(ctx, `
		SELECT key, value FROM sync_state WHERE substr(key, 1, length(?)) = ?
	`, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("sqlite: state prefix %s: %w", prefix, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[strings.TrimPrefix(k, prefix)] = v
	}
	return out, rows.Err()
}

// DeleteState removes a sync_state value.
func (db *DB) DeleteState(ctx context.Context, key string) error {
	if _, err := db.exec(ctx).ExecContext(ctx, `DELETE FROM sync_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite: delete state %s: %w", key, err)
	}
	return nil
}

// Checkpoint returns the server_time of the last applied pull.
func (db *DB) Checkpoint(ctx context.Context) (*time.Time, error) {
	v, err := db.State(ctx, stateCheckpoint)
	if err != nil || v == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, fmt.Errorf("sqlite: parse checkpoint: %w", err)
	}
	return &t, nil
}

// SetCheckpoint records the server_time of an applied pull.
func (db *DB) SetCheckpoint(ctx context.Context, t time.Time) error {
	return db.SetState(ctx, stateCheckpoint, t.UTC().Format(time.RFC3339Nano))
}

// OwnerID returns the owner the mirror is keyed by, or "" before first sync.
func (db *DB) OwnerID(ctx context.Context) (string, error) {
	return db.State(ctx, stateOwner)
}

// SetOwnerID records the owner the mirror is keyed by.
func (db *DB) SetOwnerID(ctx context.Context, ownerID string) error {
	return db.SetState(ctx, stateOwner, ownerID)
}

// QueueChange journals a locally modified page for the next push.
func (db *DB) QueueChange(ctx context.Context, pageID string, at time.Time) error {
	if _, err := db.exec(ctx).ExecContext(ctx, `
		INSERT INTO local_changes (page_id, queued_at) VALUES (?, ?)
		ON CONFLICT(page_id) DO UPDATE SET queued_at = excluded.queued_at
	`, pageID, toMillis(at)); err != nil {
		return fmt.Errorf("sqlite: queue change: %w", err)
	}
	return nil
}

// PendingChanges returns journaled page ids and when each was last queued.
func (db *DB) PendingChanges(ctx context.Context) (map[string]time.Time, error) {
	rows, err := db.exec(ctx).QueryContext(ctx, `SELECT page_id, queued_at FROM local_changes`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: pending changes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var id string
		var at int64
		if err := rows.Scan(&id, &at); err != nil {
			return nil, err
		}
		out[id] = fromMillis(at)
	}
	return out, rows.Err()
}

// ClearChange drops a journal entry unless it was re-queued after queuedAt.
func (db *DB) ClearChange(ctx context.Context, pageID string, queuedAt time.Time) error {
	if _, err := db.exec(ctx).ExecContext(ctx, `
		DELETE FROM local_changes WHERE page_id = ? AND queued_at <= ?
	`, pageID, toMillis(queuedAt)); err != nil {
		return fmt.Errorf("sqlite: clear change: %w", err)
	}
	return nil
}

// UpsertPage stores a server copy of p unconditionally.
func (db *DB) UpsertPage(ctx context.Context, p *models.Page) error {
	ex := db.exec(ctx)
	if _, err := ex.ExecContext(ctx, `
		INSERT INTO pages (id, owner_id, source_page_id, title, title_key, content_preview,
			thumbnail_url, source_url, created_at, updated_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id        = excluded.owner_id,
			source_page_id  = excluded.source_page_id,
			title           = excluded.title,
			title_key       = excluded.title_key,
			content_preview = excluded.content_preview,
			thumbnail_url   = excluded.thumbnail_url,
			source_url      = excluded.source_url,
			created_at      = excluded.created_at,
			updated_at      = excluded.updated_at,
			is_deleted      = excluded.is_deleted
	`, p.ID, p.OwnerID, p.SourcePageID, p.Title, parser.NormalizeTitle(p.Title), p.ContentPreview,
		p.ThumbnailURL, p.SourceURL, toMillis(p.CreatedAt), toMillis(p.UpdatedAt), p.IsDeleted); err != nil {
		return fmt.Errorf("sqlite: upsert page: %w", err)
	}
	return ftsSyncPage(ctx, ex, p.ID)
}

// SetContent caches a server copy of c, keeping the server's version. An
// empty extract keeps the cached one, as a state-only put does on the server.
func (db *DB) SetContent(ctx context.Context, c *models.PageContent) error {
	ex := db.exec(ctx)
	if _, err := ex.ExecContext(ctx, `
		INSERT INTO page_contents (page_id, ydoc_state, version, text_extract, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(page_id) DO UPDATE SET
			ydoc_state   = excluded.ydoc_state,
			version      = excluded.version,
			text_extract = CASE WHEN excluded.text_extract = '' THEN page_contents.text_extract ELSE excluded.text_extract END,
			updated_at   = excluded.updated_at
	`, c.PageID, c.State, c.Version, c.TextExtract, toMillis(c.UpdatedAt)); err != nil {
		return fmt.Errorf("sqlite: set content: %w", err)
	}
	return ftsSyncPage(ctx, ex, c.PageID)
}

// ReassignOwner moves pages created before the first sign-in to ownerID.
func (db *DB) ReassignOwner(ctx context.Context, from, to string) (int64, error) {
	res, err := db.exec(ctx).ExecContext(ctx, `UPDATE pages SET owner_id = ? WHERE owner_id = ?`, to, from)
	if err != nil {
		return 0, fmt.Errorf("sqlite: reassign owner: %w", err)
	}
	return res.RowsAffected()
}
