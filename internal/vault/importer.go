// Package vault imports a directory of Markdown files into the Local Mirror
// and keeps it imported while the files change.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/otomatty/zedi-sub000/internal/apperr"
	"github.com/otomatty/zedi-sub000/internal/checksum"
	"github.com/otomatty/zedi-sub000/internal/mirror"
	"github.com/otomatty/zedi-sub000/internal/models"
	"github.com/otomatty/zedi-sub000/internal/parser"
	"github.com/otomatty/zedi-sub000/internal/storage"
)

const (
	ext         = ".md"
	statePrefix = "vault:"
)

var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("zedi:vault"))

// PageID is the deterministic page id of the file at path, so re-imports
// update the same page on every device.
func PageID(path string) string {
	return uuid.NewSHA1(namespace, []byte(path)).String()
}

// StateStore records the checksum of each imported file.
type StateStore interface {
	SetState(ctx context.Context, key, value string) error
	StatePrefix(ctx context.Context, prefix string) (map[string]string, error)
	DeleteState(ctx context.Context, key string) error
}

// EventCallback is called after an import change.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, path string)

// Importer turns Markdown files into pages.
type Importer struct {
	session *mirror.Session
	files   storage.Provider
	state   StateStore
	logger  *slog.Logger
	cb      EventCallback
}

// NewImporter creates an importer reading files and writing through session.
func NewImporter(session *mirror.Session, files storage.Provider, state StateStore, logger *slog.Logger, cb EventCallback) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{session: session, files: files, state: state, logger: logger, cb: cb}
}

// Stats counts the outcome of a Sync.
type Stats struct {
	Imported  int
	Unchanged int
	Deleted   int
	Failed    int
}

// Sync walks the vault and brings the mirror up to date:
//   - new/changed files are imported as pages
//   - pages of files removed from disk are soft-deleted
//
// Metadata is written for every changed file before any content so that
// wikilinks between files imported together resolve.
func (im *Importer) Sync(ctx context.Context) (*Stats, error) {
	metas, err := im.files.List("", ext)
	if err != nil {
		return nil, err
	}
	known, err := im.state.StatePrefix(ctx, statePrefix)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	type parsed struct {
		path, sum string
		doc       *parser.Markdown
		created   bool
	}
	var changed []parsed
	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}
		if known[m.Path] == m.Checksum {
			stats.Unchanged++
			continue
		}
		data, err := im.files.Read(m.Path)
		if err != nil {
			im.logger.Warn("vault: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			stats.Failed++
			continue
		}
		doc, err := parser.Parse(data)
		if err != nil {
			im.logger.Warn("vault: parse failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			stats.Failed++
			continue
		}
		created, err := im.savePage(ctx, m.Path, doc)
		if err != nil {
			im.logger.Warn("vault: save failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			stats.Failed++
			continue
		}
		changed = append(changed, parsed{path: m.Path, sum: m.Checksum, doc: doc, created: created})
	}

	for _, c := range changed {
		if err := im.saveContent(ctx, c.path, c.sum, c.doc); err != nil {
			im.logger.Warn("vault: import failed", slog.String("path", c.path), slog.String("error", err.Error()))
			stats.Failed++
			continue
		}
		stats.Imported++
		im.notify(c.created, c.path)
	}

	for p := range known {
		if _, ok := disk[p]; ok {
			continue
		}
		if err := im.Remove(ctx, p); err != nil {
			im.logger.Warn("vault: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			stats.Failed++
			continue
		}
		stats.Deleted++
	}

	im.logger.Info("vault: sync complete",
		slog.Int("imported", stats.Imported),
		slog.Int("unchanged", stats.Unchanged),
		slog.Int("deleted", stats.Deleted),
		slog.Int("failed", stats.Failed))
	return stats, nil
}

// ImportFile imports the file at path, whether or not it changed.
func (im *Importer) ImportFile(ctx context.Context, path string) error {
	data, err := im.files.Read(path)
	if err != nil {
		return err
	}
	doc, err := parser.Parse(data)
	if err != nil {
		return err
	}
	created, err := im.savePage(ctx, path, doc)
	if err != nil {
		return err
	}
	if err := im.saveContent(ctx, path, checksum.Sum(data), doc); err != nil {
		return err
	}
	im.notify(created, path)
	return nil
}

// Remove soft-deletes the page of path and forgets the file.
func (im *Importer) Remove(ctx context.Context, path string) error {
	err := im.session.DeletePage(ctx, PageID(path))
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	if err := im.state.DeleteState(ctx, statePrefix+path); err != nil {
		return err
	}
	if im.cb != nil {
		im.cb("deleted", path)
	}
	return nil
}

// savePage creates or retitles the page of path and reports whether it was new.
func (im *Importer) savePage(ctx context.Context, path string, doc *parser.Markdown) (bool, error) {
	title := doc.Title
	if title == "" {
		title = titleFromPath(path)
	}
	id := PageID(path)

	p, err := im.session.GetPage(ctx, id)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		_, err := im.session.SavePage(ctx, &models.Page{ID: id, Title: title})
		return true, err
	case err != nil:
		return false, err
	case p.Title == title:
		return false, nil
	}
	p.Title = title
	_, err = im.session.SavePage(ctx, p)
	return false, err
}

func (im *Importer) saveContent(ctx context.Context, path, sum string, doc *parser.Markdown) error {
	body := strings.TrimSpace(doc.Body)
	if body == "" {
		// An empty extract would leave the previous preview in place.
		if err := im.clearPreview(ctx, path); err != nil {
			return err
		}
	} else if _, err := im.session.SaveContent(ctx, PageID(path), []byte(doc.Body), body); err != nil {
		return fmt.Errorf("vault: content of %s: %w", path, err)
	}
	return im.state.SetState(ctx, statePrefix+path, sum)
}

func (im *Importer) clearPreview(ctx context.Context, path string) error {
	p, err := im.session.GetPage(ctx, PageID(path))
	if err != nil || p.ContentPreview == "" {
		return err
	}
	p.ContentPreview = ""
	if _, err := im.session.SavePage(ctx, p); err != nil {
		return err
	}
	return im.session.SetPageLinks(ctx, p.ID, "")
}

func (im *Importer) notify(created bool, path string) {
	if im.cb == nil {
		return
	}
	kind := "updated"
	if created {
		kind = "created"
	}
	im.cb(kind, path)
}

// titleFromPath is the file name without directory or extension.
func titleFromPath(p string) string {
	return strings.TrimSuffix(path.Base(p), ext)
}
