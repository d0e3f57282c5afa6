//go:build sqlite_fts5

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/otomatty/zedi-sub000/internal/models"
)

// The trigram tokenizer gives substring matching, which keeps FTS results in
// line with the scorer's containment checks for terms of three runes or more.
func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS pages_fts USING fts5(
			page_id UNINDEXED,
			title,
			body,
			tokenize = 'trigram'
		);
	`)
	return err
}

// ftsSyncPage rebuilds the FTS row of a page from pages and page_contents.
func ftsSyncPage(ctx context.Context, ex dbtx, pageID string) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM pages_fts WHERE page_id = ?`, pageID); err != nil {
		return fmt.Errorf("sqlite: delete fts: %w", err)
	}
	if _, err := ex.ExecContext(ctx, `
		INSERT INTO pages_fts (page_id, title, body)
		SELECT p.id, p.title, COALESCE(c.text_extract, '')
		FROM pages p
		LEFT JOIN page_contents c ON c.page_id = p.id
		WHERE p.id = ? AND p.is_deleted = 0
	`, pageID); err != nil {
		return fmt.Errorf("sqlite: upsert fts: %w", err)
	}
	return nil
}

// SearchCandidates uses the FTS5 index, falling back to LIKE when a keyword is
// too short for trigrams.
func (db *DB) SearchCandidates(ctx context.Context, ownerID string, keywords []string, limit int) ([]models.PageText, error) {
	phrases := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if utf8.RuneCountInString(k) < 3 {
			return db.likeCandidates(ctx, ownerID, keywords, limit)
		}
		phrases = append(phrases, `"`+strings.ReplaceAll(k, `"`, `""`)+`"`)
	}
	if len(phrases) == 0 {
		return []models.PageText{}, nil
	}

	rows, err := db.exec(ctx).QueryContext(ctx, `
		SELECT `+pageColumns+`, COALESCE(c.text_extract, '')
		FROM pages_fts f
		JOIN pages p ON p.id = f.page_id
		LEFT JOIN page_contents c ON c.page_id = p.id
		WHERE pages_fts MATCH ? AND p.owner_id = ? AND p.is_deleted = 0
		ORDER BY rank`+limitClause(limit), strings.Join(phrases, " AND "), ownerID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search: %w", err)
	}
	defer rows.Close()
	return scanPageTexts(rows)
}
