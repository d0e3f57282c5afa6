package postgres

import (
	"context"
	"fmt"

	"github.com/otomatty/zedi-sub000/internal/apperr"
	"github.com/otomatty/zedi-sub000/internal/models"
)

// OwnerBySubject returns the owner provisioned for an identity subject.
func (db *DB) OwnerBySubject(ctx context.Context, subject string) (*models.Owner, error) {
	var o models.Owner
	err := db.getExecutor(ctx).QueryRow(ctx, `
		SELECT id, subject, email, created_at FROM owners WHERE subject = $1
	`, subject).Scan(&o.ID, &o.Subject, &o.Email, &o.CreatedAt)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("postgres: owner for %s: %w", subject, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: get owner: %w", err)
	}
	o.CreatedAt = models.Timestamp(o.CreatedAt)
	return &o, nil
}

// CreateOwner provisions o.
func (db *DB) CreateOwner(ctx context.Context, o *models.Owner) error {
	_, err := db.getExecutor(ctx).Exec(ctx, `
		INSERT INTO owners (id, subject, email, created_at) VALUES ($1, $2, $3, $4)
	`, o.ID, o.Subject, o.Email, models.Timestamp(o.CreatedAt))
	if err != nil {
		if IsPgDuplicateError(err) {
			return fmt.Errorf("postgres: owner %s: %w", o.Subject, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create owner: %w", err)
	}
	return nil
}
