// Package content implements the document-content channel: an opaque editor
// state per page, versioned under per-page optimistic locking.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/otomatty/zedi-sub000/internal/apperr"
	"github.com/otomatty/zedi-sub000/internal/codec"
	"github.com/otomatty/zedi-sub000/internal/models"
	"github.com/otomatty/zedi-sub000/internal/parser"
	"github.com/otomatty/zedi-sub000/internal/sse"
	"github.com/otomatty/zedi-sub000/internal/store"
)

// Publisher delivers change notifications to an owner's other devices.
type Publisher interface {
	Publish(owner string, event sse.Event)
}

// Service reads and writes page content.
type Service struct {
	store  store.Store
	codec  codec.Codec
	events Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a content service. A nil codec stores blobs as-is.
func NewService(st store.Store, c codec.Codec, events Publisher, logger *slog.Logger) *Service {
	if c == nil {
		c = codec.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, codec: c, events: events, logger: logger, now: models.Now}
}

// Get returns the decoded content of a page the owner holds.
func (s *Service) Get(ctx context.Context, ownerID, pageID string) (*models.PageContent, error) {
	if _, err := s.store.GetPage(ctx, ownerID, pageID); err != nil {
		return nil, classify(err)
	}
	c, err := s.store.GetContent(ctx, pageID)
	if err != nil {
		return nil, classify(err)
	}
	state, err := s.codec.Decode(c.State)
	if err != nil {
		return nil, fmt.Errorf("content: decode %s: %w", pageID, err)
	}
	c.State = state
	return c, nil
}

// ValidatePut checks a put request before any storage access.
func ValidatePut(req *models.PutContentRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.State, validation.Required),
		validation.Field(&req.ExpectedVersion, validation.Min(int64(0))),
	)
}

// Put stores req.State for a page the owner holds and returns the new
// version. With ExpectedVersion set the write is a compare-and-swap that fails
// with apperr.ErrVersionConflict when stale. A non-empty extract refreshes the
// page preview and moves its updated_at forward in the same transaction.
func (s *Service) Put(ctx context.Context, ownerID, pageID string, req *models.PutContentRequest) (int64, error) {
	if err := ValidatePut(req); err != nil {
		return 0, apperr.Validation(err)
	}
	encoded, err := s.codec.Encode(req.State)
	if err != nil {
		return 0, fmt.Errorf("content: encode %s: %w", pageID, err)
	}

	now := s.now()
	var version int64
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.GetPage(ctx, ownerID, pageID); err != nil {
			return err
		}
		v, err := s.store.PutContent(ctx, &models.PageContent{
			PageID:      pageID,
			State:       encoded,
			TextExtract: req.TextExtract,
			UpdatedAt:   now,
		}, req.ExpectedVersion)
		if err != nil {
			return err
		}
		version = v
		if req.TextExtract == "" {
			return nil
		}
		preview := parser.Preview(parser.PlainText(req.TextExtract), models.PreviewLimit)
		return s.store.TouchPage(ctx, ownerID, pageID, preview, now)
	})
	if err != nil {
		if errors.Is(err, apperr.ErrVersionConflict) {
			s.logger.Info("content put rejected",
				slog.String("page_id", pageID),
				slog.Any("expected_version", req.ExpectedVersion))
		}
		return 0, classify(err)
	}

	if s.events != nil {
		s.events.Publish(ownerID, sse.Event{
			Type: sse.TypeContentUpdated,
			Data: sse.ContentUpdated{PageID: pageID, Version: version},
		})
	}
	return version, nil
}

// classify passes domain errors through and marks everything else transient.
func classify(err error) error {
	switch {
	case errors.Is(err, apperr.ErrNotFound),
		errors.Is(err, apperr.ErrVersionConflict),
		errors.Is(err, apperr.ErrValidation):
		return err
	default:
		return apperr.Transient(err)
	}
}
