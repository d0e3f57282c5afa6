package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/otomatty/zedi-sub000/internal/apperr"
	"github.com/otomatty/zedi-sub000/internal/models"
	"github.com/otomatty/zedi-sub000/internal/store"
)

// OwnerResolver maps verified identities to internal owner ids.
type OwnerResolver struct {
	store         store.OwnerStore
	autoProvision bool
	logger        *slog.Logger
}

// NewOwnerResolver creates a resolver. With autoProvision, an unknown subject
// gets a fresh owner on first sight; otherwise it is reported as
// apperr.ErrUnprovisioned.
func NewOwnerResolver(st store.OwnerStore, autoProvision bool, logger *slog.Logger) *OwnerResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &OwnerResolver{store: st, autoProvision: autoProvision, logger: logger}
}

// Resolve returns the owner id for id.
func (r *OwnerResolver) Resolve(ctx context.Context, id *Identity) (string, error) {
	o, err := r.store.OwnerBySubject(ctx, id.Subject)
	if err == nil {
		return o.ID, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return "", apperr.Transient(err)
	}
	if !r.autoProvision {
		return "", fmt.Errorf("auth: subject %s: %w", id.Subject, apperr.ErrUnprovisioned)
	}

	o = &models.Owner{ID: uuid.NewString(), Subject: id.Subject, Email: id.Email, CreatedAt: models.Now()}
	err = r.store.CreateOwner(ctx, o)
	switch {
	case err == nil:
		r.logger.Info("owner provisioned", slog.String("owner_id", o.ID))
		return o.ID, nil
	case errors.Is(err, apperr.ErrAlreadyExists):
		// Lost a provisioning race with another request.
		existing, err := r.store.OwnerBySubject(ctx, id.Subject)
		if err != nil {
			return "", apperr.Transient(err)
		}
		return existing.ID, nil
	default:
		return "", apperr.Transient(err)
	}
}
