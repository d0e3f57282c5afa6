// Package syncclient talks to the sync server on behalf of a Local Mirror:
// the HTTP client, the push-then-pull engine and the content saver.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/otomatty/zedi-sub000/internal/apperr"
	"github.com/otomatty/zedi-sub000/internal/models"
)

const defaultTimeout = 30 * time.Second

// Remote is the server surface the engine and the saver depend on.
type Remote interface {
	Me(ctx context.Context) (string, error)
	Pull(ctx context.Context, since *time.Time) (*models.PullResponse, error)
	Push(ctx context.Context, req *models.PushRequest) (*models.PushResponse, error)
	GetContent(ctx context.Context, pageID string) (*models.ContentResponse, error)
	PutContent(ctx context.Context, pageID string, req *models.PutContentRequest) (int64, error)
}

// Client communicates with the sync server over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the API mounted at baseURL (for example
// "https://host/api"). A nil httpClient uses one with a 30s timeout.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

// Me returns the caller's owner id.
func (c *Client) Me(ctx context.Context) (string, error) {
	var resp models.MeResponse
	if err := c.call(ctx, http.MethodGet, "/me", nil, &resp); err != nil {
		return "", err
	}
	return resp.OwnerID, nil
}

// Pull fetches pages changed after since plus the full edge sets.
func (c *Client) Pull(ctx context.Context, since *time.Time) (*models.PullResponse, error) {
	path := "/sync/pages"
	if since != nil {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}
	var resp models.PullResponse
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Push sends local page changes and edge sets.
func (c *Client) Push(ctx context.Context, req *models.PushRequest) (*models.PushResponse, error) {
	var resp models.PushResponse
	if err := c.call(ctx, http.MethodPost, "/sync/pages", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetContent fetches the document content of a page.
func (c *Client) GetContent(ctx context.Context, pageID string) (*models.ContentResponse, error) {
	var resp models.ContentResponse
	if err := c.call(ctx, http.MethodGet, "/pages/"+url.PathEscape(pageID)+"/content", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PutContent writes the document content of a page and returns the new version.
func (c *Client) PutContent(ctx context.Context, pageID string, req *models.PutContentRequest) (int64, error) {
	var resp models.PutContentResponse
	if err := c.call(ctx, http.MethodPut, "/pages/"+url.PathEscape(pageID)+"/content", req, &resp); err != nil {
		return 0, err
	}
	return resp.Version, nil
}

// call performs one request. Retrying is left to the caller so that writes
// are never replayed behind its back.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("syncclient: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("syncclient: create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.Transient(fmt.Errorf("syncclient: %s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Transient(fmt.Errorf("syncclient: read %s %s: %w", method, path, err))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return statusError(method, path, resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("syncclient: unmarshal %s %s: %w", method, path, err)
	}
	return nil
}

// statusError maps an HTTP failure back onto the apperr taxonomy.
func statusError(method, path string, status int, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &e)
	msg := e.Error
	if msg == "" {
		msg = http.StatusText(status)
	}

	var kind error
	switch {
	case status == http.StatusUnauthorized:
		kind = apperr.ErrUnauthenticated
	case status == http.StatusForbidden:
		kind = apperr.ErrUnprovisioned
	case status == http.StatusNotFound && msg == apperr.ErrContentNotFound.Error():
		kind = apperr.ErrContentNotFound
	case status == http.StatusNotFound:
		kind = apperr.ErrPageNotFound
	case status == http.StatusConflict:
		kind = apperr.ErrVersionConflict
	case status == http.StatusBadRequest:
		kind = apperr.ErrValidation
	case status == http.StatusTooManyRequests || status >= 500:
		kind = apperr.ErrTransient
	default:
		return fmt.Errorf("syncclient: %s %s returned %d: %s", method, path, status, msg)
	}
	return fmt.Errorf("syncclient: %s %s: %s: %w", method, path, msg, kind)
}
