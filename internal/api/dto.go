package api

import (
	"github.com/otomatty/zedi-sub000/internal/models"
	"github.com/otomatty/zedi-sub000/internal/search"
)

// PageListResponse wraps page summaries.
type PageListResponse struct {
	Pages []models.PageSummary `json:"pages"`
}

// SearchResponse wraps ranked search results.
type SearchResponse struct {
	Results []search.Result `json:"results"`
}

// MediaUploadResponse is returned after a pending upload.
type MediaUploadResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

// MediaConfirmResponse is returned once an upload is confirmed.
type MediaConfirmResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}
