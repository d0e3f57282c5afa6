package syncclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/otomatty/zedi-sub000/internal/apperr"
	"github.com/otomatty/zedi-sub000/internal/codec"
	"github.com/otomatty/zedi-sub000/internal/models"
	"github.com/otomatty/zedi-sub000/internal/store/sqlite"
)

// ErrSaveFailed is returned once a content save has exhausted its retries.
var ErrSaveFailed = errors.New("failed to save")

const defaultSaveAttempts = 3

// MergeFunc combines the local document with the server's newer one before a
// retry. The default keeps the local state.
type MergeFunc func(local, remote []byte) []byte

// ContentSaver writes page content with the last known version and retries
// on version conflicts after refetching.
type ContentSaver struct {
	remote   Remote
	local    *sqlite.DB
	logger   *slog.Logger
	attempts int
	merge    MergeFunc
	backoff  Backoff
	codec    codec.Codec
}

// SaverOption configures a ContentSaver.
type SaverOption func(*ContentSaver)

// WithAttempts bounds the number of put attempts per save.
func WithAttempts(n int) SaverOption {
	return func(s *ContentSaver) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// WithMerge sets the conflict merge function.
func WithMerge(m MergeFunc) SaverOption {
	return func(s *ContentSaver) { s.merge = m }
}

// WithSaverBackoff sets the transient retry policy of each put.
func WithSaverBackoff(b Backoff) SaverOption {
	return func(s *ContentSaver) { s.backoff = b }
}

// WithSaverCodec sets how accepted content is cached in the mirror.
func WithSaverCodec(c codec.Codec) SaverOption {
	return func(s *ContentSaver) {
		if c != nil {
			s.codec = c
		}
	}
}

// NewContentSaver creates a saver that caches accepted writes in local.
func NewContentSaver(remote Remote, local *sqlite.DB, logger *slog.Logger, opts ...SaverOption) *ContentSaver {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ContentSaver{
		remote:   remote,
		local:    local,
		logger:   logger,
		attempts: defaultSaveAttempts,
		merge:    func(local, _ []byte) []byte { return local },
		backoff:  DefaultBackoff,
		codec:    codec.Nop{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Save writes state for pageID and returns the accepted version.
func (s *ContentSaver) Save(ctx context.Context, pageID string, state []byte, extract string) (int64, error) {
	expected, err := s.knownVersion(ctx, pageID)
	if err != nil {
		return 0, err
	}

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		req := &models.PutContentRequest{State: state, TextExtract: extract, ExpectedVersion: &expected}

		var version int64
		err := s.backoff.Do(ctx, func(ctx context.Context) error {
			var err error
			version, err = s.remote.PutContent(ctx, pageID, req)
			return err
		})
		if err == nil {
			cached, err := s.codec.Encode(state)
			if err != nil {
				return 0, err
			}
			if err := s.local.SetContent(ctx, &models.PageContent{
				PageID:      pageID,
				State:       cached,
				Version:     version,
				TextExtract: extract,
				UpdatedAt:   models.Now(),
			}); err != nil {
				return 0, err
			}
			return version, nil
		}
		if !errors.Is(err, apperr.ErrVersionConflict) {
			return 0, err
		}
		lastErr = err

		s.logger.Info("content save conflicted, refetching",
			slog.String("page_id", pageID),
			slog.Int64("expected_version", expected),
			slog.Int("attempt", attempt))
		cur, err := s.remote.GetContent(ctx, pageID)
		switch {
		case errors.Is(err, apperr.ErrContentNotFound):
			expected = 0
		case err != nil:
			return 0, err
		default:
			expected = cur.Version
			state = s.merge(state, cur.State)
		}
	}
	return 0, fmt.Errorf("%w: page %s: %w", ErrSaveFailed, pageID, lastErr)
}

// knownVersion returns the version cached by the last pull or save, zero
// when none is cached.
func (s *ContentSaver) knownVersion(ctx context.Context, pageID string) (int64, error) {
	c, err := s.local.GetContent(ctx, pageID)
	if errors.Is(err, apperr.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return c.Version, nil
}
