// Package models defines the domain and wire types shared by the server and the client.
package models

import "time"

// PreviewLimit bounds content_preview in runes.
const PreviewLimit = 120

// Page is the synchronized metadata record of a page.
type Page struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	SourcePageID   *string   `json:"source_page_id"`
	Title          string    `json:"title"`
	ContentPreview string    `json:"content_preview"`
	ThumbnailURL   *string   `json:"thumbnail_url"`
	SourceURL      *string   `json:"source_url"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	IsDeleted      bool      `json:"is_deleted"`
}

// PageSummary is a page listing entry without content.
type PageSummary struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	ContentPreview string    `json:"content_preview"`
	ThumbnailURL   *string   `json:"thumbnail_url"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Summary returns the listing view of p.
func (p Page) Summary() PageSummary {
	return PageSummary{
		ID:             p.ID,
		Title:          p.Title,
		ContentPreview: p.ContentPreview,
		ThumbnailURL:   p.ThumbnailURL,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

// PageText pairs a page with its full plain-text extract.
type PageText struct {
	Page
	Text string `json:"text"`
}

// Link is a directed edge from a page to the page its content references.
type Link struct {
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	CreatedAt time.Time `json:"created_at"`
}

// GhostLink is a reference to a title that resolves to no page.
type GhostLink struct {
	LinkText             string    `json:"link_text"`
	SourcePageID         string    `json:"source_page_id"`
	CreatedAt            time.Time `json:"created_at"`
	OriginalTargetPageID *string   `json:"original_target_page_id"`
	OriginalNoteID       *string   `json:"original_note_id"`
}

// PageContent is the versioned editor document of a page.
type PageContent struct {
	PageID      string    `json:"page_id"`
	State       []byte    `json:"ydoc_state"`
	Version     int64     `json:"version"`
	TextExtract string    `json:"text_extract"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Owner maps a verified identity subject to an internal owner id.
type Owner struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Timestamp normalizes t to UTC with millisecond precision so that equality
// guards agree across the SQLite and Postgres stores and the JSON wire format.
func Timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Millisecond)
}

// Now returns the current time normalized with Timestamp.
func Now() time.Time {
	return Timestamp(time.Now())
}
