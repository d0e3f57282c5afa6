package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/otomatty/zedi-sub000/internal/mirror"
	"github.com/otomatty/zedi-sub000/internal/models"
	"github.com/otomatty/zedi-sub000/internal/testutil"
)

func testServer(t *testing.T) (*Server, *mirror.Session) {
	t.Helper()
	session, err := mirror.Open(context.Background(), testutil.TestDB(t), mirror.Options{})
	if err != nil {
		t.Fatal(err)
	}
	return New(session, "test"), session
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no in-process call helper, so handlers are invoked directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "search_pages":
		result, err = srv.searchPages(ctx, req)
	case "read_page":
		result, err = srv.readPage(ctx, req)
	case "get_page_graph":
		result, err = srv.getPageGraph(ctx, req)
	case "get_backlinks":
		result, err = srv.getBacklinks(ctx, req)
	case "list_pages":
		result, err = srv.listPages(ctx, req)
	case "create_page":
		result, err = srv.createPage(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func createPage(t *testing.T, srv *Server, title, text string) string {
	t.Helper()
	r := callTool(t, srv, "create_page", map[string]any{"title": title, "text": text})
	if r.IsError {
		t.Fatalf("create %s: %s", title, resultText(r))
	}
	return strings.TrimPrefix(resultText(r), "created: ")
}

func TestCreateAndReadPage(t *testing.T) {
	srv, _ := testServer(t)
	id := createPage(t, srv, "Raft", "leader election and log replication")

	r := callTool(t, srv, "read_page", map[string]any{"id": id})
	var detail struct {
		Title string `json:"title"`
		Text  string `json:"text"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &detail); err != nil {
		t.Fatalf("decode: %v (%s)", err, resultText(r))
	}
	if detail.Title != "Raft" || detail.Text != "leader election and log replication" {
		t.Errorf("read = %+v", detail)
	}

	r = callTool(t, srv, "read_page", map[string]any{"title": "raft"})
	if r.IsError {
		t.Errorf("read by title: %s", resultText(r))
	}
}

func TestCreatePageDuplicateTitle(t *testing.T) {
	srv, _ := testServer(t)
	createPage(t, srv, "Raft", "")
	r := callTool(t, srv, "create_page", map[string]any{"title": "RAFT"})
	if !r.IsError {
		t.Error("expected error for duplicate title")
	}
}

func TestReadPageMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "read_page", map[string]any{"id": "nope"})
	if !r.IsError || resultText(r) != "page not found" {
		t.Errorf("missing page = %q (error %v)", resultText(r), r.IsError)
	}
	r = callTool(t, srv, "read_page", map[string]any{})
	if !r.IsError {
		t.Error("expected error without id or title")
	}
}

func TestSearchPages(t *testing.T) {
	srv, _ := testServer(t)
	createPage(t, srv, "Alpha Beta", "")
	createPage(t, srv, "Gamma", "nothing relevant")

	r := callTool(t, srv, "search_pages", map[string]any{"query": "alpha beta"})
	var results []struct {
		Page      models.PageSummary `json:"page"`
		MatchType string             `json:"match_type"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &results); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(results) != 1 || results[0].MatchType != "exact_title" {
		t.Errorf("results = %+v", results)
	}
}

func TestGraphAndBacklinks(t *testing.T) {
	srv, _ := testServer(t)
	c := createPage(t, srv, "C", "")
	b := createPage(t, srv, "B", "see [[C]]")
	a := createPage(t, srv, "A", "see [[B]] and [[Missing]]")

	r := callTool(t, srv, "get_page_graph", map[string]any{"id": a})
	var view struct {
		TwoHop []models.PageSummary `json:"two_hop_links"`
		Ghosts []string             `json:"ghost_links"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(view.TwoHop) != 1 || view.TwoHop[0].ID != c {
		t.Errorf("two hop = %+v", view.TwoHop)
	}
	if len(view.Ghosts) != 1 || view.Ghosts[0] != "Missing" {
		t.Errorf("ghosts = %v", view.Ghosts)
	}

	r = callTool(t, srv, "get_backlinks", map[string]any{"id": b})
	if text := resultText(r); text != a+"\tA" {
		t.Errorf("backlinks = %q", text)
	}
	r = callTool(t, srv, "get_backlinks", map[string]any{"id": a})
	if text := resultText(r); text != "no backlinks found" {
		t.Errorf("backlinks of A = %q", text)
	}
}

func TestListPages(t *testing.T) {
	srv, _ := testServer(t)
	createPage(t, srv, "One", "")
	createPage(t, srv, "Two", "")
	createPage(t, srv, "Three", "")

	r := callTool(t, srv, "list_pages", map[string]any{"limit": float64(2)})
	var pages []models.PageSummary
	if err := json.Unmarshal([]byte(resultText(r)), &pages); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pages) != 2 {
		t.Errorf("pages = %+v", pages)
	}

	r = callTool(t, srv, "list_pages", map[string]any{})
	if err := json.Unmarshal([]byte(resultText(r)), &pages); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pages) != 3 {
		t.Errorf("pages = %+v", pages)
	}
}
