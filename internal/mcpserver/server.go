// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the Local Mirror's pages to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/otomatty/zedi-sub000/internal/apperr"
	"github.com/otomatty/zedi-sub000/internal/mirror"
)

const pageFormatURI = "zedi://page-format"

// Server wraps the MCP server with page tools.
type Server struct {
	mcp     *server.MCPServer
	session *mirror.Session
}

// New creates a new MCP server with all page tools registered.
func New(session *mirror.Session, version string) *Server {
	s := &Server{session: session}

	s.mcp = server.NewMCPServer(
		"Zedi",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_pages",
		mcp.WithDescription("Search page titles and text. Every keyword must match."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Whitespace-separated keywords")),
	), s.searchPages)

	s.mcp.AddTool(mcp.NewTool("read_page",
		mcp.WithDescription("Read a page with its full text and the ids of pages linking to it."),
		mcp.WithString("id", mcp.Description("Page id")),
		mcp.WithString("title", mcp.Description("Page title, used when id is empty")),
	), s.readPage)

	s.mcp.AddTool(mcp.NewTool("get_page_graph",
		mcp.WithDescription("Outgoing links, two-hop neighbours, backlinks and unresolved links of a page."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Page id")),
	), s.getPageGraph)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("List the pages that link to the specified page."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Page id")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("list_pages",
		mcp.WithDescription("List pages, most recently updated first."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of pages (default all)")),
	), s.listPages)

	s.mcp.AddTool(mcp.NewTool("create_page",
		mcp.WithDescription("Create a page. Text may reference other pages with [[Title]] "+
			"wikilinks; read "+pageFormatURI+" first."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Page title")),
		mcp.WithString("text", mcp.Description("Plain text body")),
	), s.createPage)

	s.mcp.AddResource(
		mcp.NewResource(pageFormatURI, "Page Format",
			mcp.WithResourceDescription("How page text and wikilinks are interpreted."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPageFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func errorResult(err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError("page not found")
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) searchPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.session.Search(ctx, query)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(results), nil
}

func (s *Server) readPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		title := req.GetString("title", "")
		if title == "" {
			return mcp.NewToolResultError("id or title is required"), nil
		}
		p, err := s.session.GetPageByTitle(ctx, title)
		if err != nil {
			return errorResult(err), nil
		}
		id = p.ID
	}
	d, err := s.session.Read(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(d), nil
}

func (s *Server) getPageGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	v, err := s.session.Graph(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(v), nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	bl, err := s.session.Backlinks(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	if len(bl) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	lines := make([]string, len(bl))
	for i, p := range bl {
		lines[i] = p.ID + "\t" + p.Title
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) listPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pages, err := s.session.ListSummaries(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	if limit := int(req.GetFloat("limit", 0)); limit > 0 && limit < len(pages) {
		pages = pages[:limit]
	}
	return jsonResult(pages), nil
}

func (s *Server) createPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return mcp.NewToolResultError("title must not be blank"), nil
	}
	if _, err := s.session.GetPageByTitle(ctx, title); err == nil {
		return mcp.NewToolResultError(fmt.Sprintf("page already exists: %s", title)), nil
	}

	p, err := s.session.CreatePage(ctx, title)
	if err != nil {
		return errorResult(err), nil
	}
	if text := req.GetString("text", ""); text != "" {
		if _, err := s.session.SaveContent(ctx, p.ID, []byte(text), text); err != nil {
			return errorResult(err), nil
		}
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", p.ID)), nil
}

func (s *Server) readPageFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      pageFormatURI,
			MIMEType: "text/markdown",
			Text:     PageFormat,
		},
	}, nil
}
