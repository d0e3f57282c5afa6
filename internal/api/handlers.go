package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/otomatty/zedi-sub000/internal/auth"
	"github.com/otomatty/zedi-sub000/internal/content"
	"github.com/otomatty/zedi-sub000/internal/models"
	"github.com/otomatty/zedi-sub000/internal/pagesvc"
	"github.com/otomatty/zedi-sub000/internal/syncsvc"
)

// Handler holds API route handlers.
type Handler struct {
	sync    *syncsvc.Service
	content *content.Service
	pages   *pagesvc.Service
	maxBody int64
}

// NewHandler creates a new Handler. maxContentBytes bounds content puts; zero
// uses the JSON default.
func NewHandler(sync *syncsvc.Service, cs *content.Service, pages *pagesvc.Service, maxContentBytes int64) *Handler {
	if maxContentBytes <= 0 {
		maxContentBytes = maxJSONBytes
	}
	return &Handler{sync: sync, content: cs, pages: pages, maxBody: maxContentBytes}
}

func owner(r *http.Request) string {
	id, _ := auth.OwnerID(r.Context())
	return id
}

// Me handles GET /api/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.MeResponse{OwnerID: owner(r)})
}

// PullPages handles GET /api/sync/pages?since=RFC3339.
func (h *Handler) PullPages(w http.ResponseWriter, r *http.Request) {
	var since *time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("since must be an RFC3339 timestamp"))
			return
		}
		since = &t
	}
	resp, err := h.sync.Pull(r.Context(), owner(r), since)
	if err != nil {
		writeError(w, r, "pull pages", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// PushPages handles POST /api/sync/pages.
func (h *Handler) PushPages(w http.ResponseWriter, r *http.Request) {
	var req models.PushRequest
	if !decodeJSON(w, r, maxJSONBytes, &req) {
		return
	}
	resp, err := h.sync.Push(r.Context(), owner(r), &req)
	if err != nil {
		writeError(w, r, "push pages", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetContent handles GET /api/pages/{id}/content.
func (h *Handler) GetContent(w http.ResponseWriter, r *http.Request) {
	c, err := h.content.Get(r.Context(), owner(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "get content", err)
		return
	}
	writeJSON(w, http.StatusOK, models.ContentResponse{State: c.State, Version: c.Version, TextExtract: c.TextExtract})
}

// PutContent handles PUT /api/pages/{id}/content.
func (h *Handler) PutContent(w http.ResponseWriter, r *http.Request) {
	var req models.PutContentRequest
	if !decodeJSON(w, r, h.maxBody, &req) {
		return
	}
	v, err := h.content.Put(r.Context(), owner(r), chi.URLParam(r, "id"), &req)
	if err != nil {
		writeError(w, r, "put content", err)
		return
	}
	writeJSON(w, http.StatusOK, models.PutContentResponse{Version: v})
}

// ListPages handles GET /api/pages.
func (h *Handler) ListPages(w http.ResponseWriter, r *http.Request) {
	pages, err := h.pages.ListSummaries(r.Context(), owner(r))
	if err != nil {
		writeError(w, r, "list pages", err)
		return
	}
	writeJSON(w, http.StatusOK, PageListResponse{Pages: pages})
}

// PageByTitle handles GET /api/pages/by-title?title=.
func (h *Handler) PageByTitle(w http.ResponseWriter, r *http.Request) {
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	if title == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("title is required"))
		return
	}
	p, err := h.pages.GetPageByTitle(r.Context(), owner(r), title)
	if err != nil {
		writeError(w, r, "page by title", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetPage handles GET /api/pages/{id}.
func (h *Handler) GetPage(w http.ResponseWriter, r *http.Request) {
	d, err := h.pages.Read(r.Context(), owner(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "get page", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// PageGraph handles GET /api/pages/{id}/graph.
func (h *Handler) PageGraph(w http.ResponseWriter, r *http.Request) {
	v, err := h.pages.Graph(r.Context(), owner(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "page graph", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// PageBacklinks handles GET /api/pages/{id}/backlinks.
func (h *Handler) PageBacklinks(w http.ResponseWriter, r *http.Request) {
	bl, err := h.pages.Backlinks(r.Context(), owner(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "backlinks", err)
		return
	}
	writeJSON(w, http.StatusOK, PageListResponse{Pages: bl})
}

// Search handles GET /api/search?q=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	results, err := h.pages.Search(r.Context(), owner(r), q)
	if err != nil {
		writeError(w, r, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}
