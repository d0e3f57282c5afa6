package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/otomatty/zedi-sub000/internal/apperr"
	"github.com/otomatty/zedi-sub000/internal/models"
)

// OwnerBySubject returns the owner provisioned for an identity subject.
func (db *DB) OwnerBySubject(ctx context.Context, subject string) (*models.Owner, error) {
	var o models.Owner
	var created int64
	err := db.exec(ctx).QueryRowContext(ctx, `
		SELECT id, subject, email, created_at FROM owners WHERE subject = ?
	`, subject).Scan(&o.ID, &o.Subject, &o.Email, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqlite: owner for %s: %w", subject, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("sqlite: get owner: %w", err)
	}
	o.CreatedAt = fromMillis(created)
	return &o, nil
}

// CreateOwner provisions o.
func (db *DB) CreateOwner(ctx context.Context, o *models.Owner) error {
	res, err := db.exec(ctx).ExecContext(ctx, `
		INSERT INTO owners (id, subject, email, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, o.ID, o.Subject, o.Email, toMillis(o.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: create owner: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: owner %s: %w", o.Subject, apperr.ErrAlreadyExists)
	}
	return nil
}
