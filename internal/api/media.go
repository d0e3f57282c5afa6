package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/otomatty/zedi-sub000/internal/auth"
	"github.com/otomatty/zedi-sub000/internal/storage"
)

const (
	pendingDir     = "pending"
	maxUploadBytes = 50 << 20 // 50 MB
)

// MediaHandler accepts uploads into a pending area and moves them under the
// owner's directory once confirmed.
type MediaHandler struct {
	files   storage.Provider
	baseURL string
}

// NewMediaHandler creates a handler over files. baseURL prefixes returned URLs.
func NewMediaHandler(files storage.Provider, baseURL string) *MediaHandler {
	return &MediaHandler{files: files, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// safeName validates that the filename is a plain name with no separators.
func safeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid filename: %s", name)
	}
	return name, nil
}

func (h *MediaHandler) url(p string) string {
	return h.baseURL + "/" + p
}

// Upload handles POST /api/media (multipart/form-data, field "file").
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerID(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	name, err := safeName(header.Filename)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	id := uuid.NewString()
	p := path.Join(pendingDir, owner, id, name)
	stored, err := h.files.WriteFrom(p, file)
	if err != nil {
		slog.Error("media upload failed", slog.String("path", p), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to write file"))
		return
	}

	writeJSON(w, http.StatusCreated, MediaUploadResponse{
		ID:       id,
		Filename: name,
		Size:     stored.Size,
		URL:      h.url(p),
	})
}

// Confirm handles POST /api/media/{id}/confirm.
func (h *MediaHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerID(r.Context())
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid media id"))
		return
	}

	files, err := h.files.List(path.Join(pendingDir, owner, id), "")
	if err != nil || len(files) == 0 {
		writeJSON(w, http.StatusNotFound, errorBody("media not found"))
		return
	}

	src := files[0].Path
	dst := path.Join(owner, id, path.Base(src))
	if err := h.files.Move(src, dst); err != nil {
		slog.Error("media confirm failed", slog.String("path", src), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to confirm media"))
		return
	}
	writeJSON(w, http.StatusOK, MediaConfirmResponse{ID: id, URL: h.url(dst)})
}

// ExpirePending deletes uploads that were never confirmed within ttl.
func (h *MediaHandler) ExpirePending(ttl time.Duration) (int, error) {
	n, err := h.files.Expire(pendingDir, time.Now().Add(-ttl))
	if err != nil {
		return n, fmt.Errorf("expire pending media: %w", err)
	}
	return n, nil
}
