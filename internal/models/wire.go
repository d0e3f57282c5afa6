package models

import "time"

// PullResponse is the body of GET /api/sync/pages.
type PullResponse struct {
	Pages      []Page      `json:"pages"`
	Links      []Link      `json:"links"`
	GhostLinks []GhostLink `json:"ghost_links"`
	ServerTime time.Time   `json:"server_time"`
}

// PushRequest is the body of POST /api/sync/pages. Nil Links or GhostLinks
// leave the stored edge sets untouched; an empty slice clears them.
type PushRequest struct {
	Pages      []Page      `json:"pages"`
	Links      []Link      `json:"links"`
	GhostLinks []GhostLink `json:"ghost_links"`
}

// Conflict reports a pushed page rejected because the server copy is newer.
type Conflict struct {
	ID              string    `json:"id"`
	ServerUpdatedAt time.Time `json:"server_updated_at"`
}

// PushResponse is the result of a push.
type PushResponse struct {
	ServerTime time.Time  `json:"server_time"`
	Conflicts  []Conflict `json:"conflicts"`
}

// ContentResponse is the body of GET /api/pages/{id}/content.
type ContentResponse struct {
	State       []byte `json:"ydoc_state"`
	Version     int64  `json:"version"`
	TextExtract string `json:"text_extract,omitempty"`
}

// PutContentRequest is the body of PUT /api/pages/{id}/content.
type PutContentRequest struct {
	State           []byte `json:"state"`
	TextExtract     string `json:"text_extract,omitempty"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

// PutContentResponse is the result of a content put.
type PutContentResponse struct {
	Version int64 `json:"version"`
}

// MeResponse identifies the caller's owner id.
type MeResponse struct {
	OwnerID string `json:"owner_id"`
}
