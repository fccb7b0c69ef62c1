// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes slipbox tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/noteservice"
)

const markerSyntaxURI = "slipbox://marker-syntax"

// MarkerSyntax documents how keywords are written inside notes.
const MarkerSyntax = `# Keyword markers

A note declares a keyword by embedding a marker anywhere in its text:

    {{keyword}}

- A keyword is a single token: no whitespace and none of { } [ ] | : / \.
- The legacy form [[keyword]] is accepted and rewritten to {{keyword}} on the
  next scan. Wiki links whose target looks like a URL are left alone.
- Each marker is routed by the rule file, one rule per line:

      keyword: folder

  Relative folders are resolved against the links root. A scan creates one
  symbolic link per mapped keyword at <folder>/<note filename>.
- Keywords without a rule are reported as unmapped and create nothing.
`

// Server wraps the MCP server with slipbox tools.
type Server struct {
	mcp *server.MCPServer
	svc *noteservice.Service
}

// New creates a new MCP server with all slipbox tools registered.
func New(svc *noteservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"slipbox",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("scan",
		mcp.WithDescription("Index keyword markers and materialize links. "+
			"Scans the whole collection, or a single note when path is given."),
		mcp.WithString("path", mcp.Description("Optional note path relative to the notes directory")),
	), s.scan)

	s.mcp.AddTool(mcp.NewTool("lookup_note",
		mcp.WithDescription("Return the link paths recorded for a note in the dictionary."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Note path relative to the notes directory")),
	), s.lookupNote)

	s.mcp.AddTool(mcp.NewTool("list_rules",
		mcp.WithDescription("List the keyword→folder routing rules."),
	), s.listRules)

	s.mcp.AddTool(mcp.NewTool("add_rule",
		mcp.WithDescription("Map a keyword to a target folder. Fails if the keyword is already mapped."),
		mcp.WithString("keyword", mcp.Required(), mcp.Description("Keyword without braces")),
		mcp.WithString("folder", mcp.Required(), mcp.Description("Target folder, absolute or relative to the links root")),
	), s.addRule)

	s.mcp.AddTool(mcp.NewTool("check_integrity",
		mcp.WithDescription("Run the dictionary backend integrity check."),
	), s.checkIntegrity)

	s.mcp.AddTool(mcp.NewTool("suggest_keywords",
		mcp.WithDescription("Ask the inference service for keyword suggestions for a note. "+
			"Suggestions are stored for review and nothing is applied."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Note path relative to the notes directory")),
	), s.suggestKeywords)

	s.mcp.AddTool(mcp.NewTool("review_suggestions",
		mcp.WithDescription("List pending keyword suggestions for a note, highest confidence first."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Note path relative to the notes directory")),
	), s.reviewSuggestions)

	s.mcp.AddTool(mcp.NewTool("apply_suggestion",
		mcp.WithDescription("Accept a suggestion: add a rule if needed, append the marker to the note and re-scan it."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Suggestion ID")),
	), s.applySuggestion)

	s.mcp.AddTool(mcp.NewTool("ignore_suggestion",
		mcp.WithDescription("Reject a suggestion without changing the note or the rules."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Suggestion ID")),
	), s.ignoreSuggestion)

	s.mcp.AddResource(
		mcp.NewResource(markerSyntaxURI, "Keyword Marker Syntax",
			mcp.WithResourceDescription("How notes declare keywords and how rules route them."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readMarkerSyntax,
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
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", apperr.KindOf(err), err))
}

func requireID(req mcp.CallToolRequest) (int64, error) {
	f, err := req.RequireFloat("id")
	if err != nil {
		return 0, err
	}
	if f <= 0 || f != math.Trunc(f) {
		return 0, fmt.Errorf("invalid suggestion id: %v", f)
	}
	return int64(f), nil
}

func (s *Server) scan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := strings.TrimSpace(req.GetString("path", ""))
	var (
		report any
		err    error
	)
	if path == "" {
		report, err = s.svc.Scan(ctx)
	} else {
		report, err = s.svc.ScanNote(ctx, path)
	}
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(report), nil
}

func (s *Server) lookupNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entry, err := s.svc.Lookup(ctx, path)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(entry), nil
}

func (s *Server) listRules(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rs, err := s.svc.Rules()
	if err != nil {
		return errorResult(err), nil
	}
	if len(rs) == 0 {
		return mcp.NewToolResultText("no rules defined"), nil
	}
	lines := make([]string, len(rs))
	for i, r := range rs {
		lines[i] = r.Keyword + ": " + r.Folder
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) addRule(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keyword, err := req.RequireString("keyword")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	folder, err := req.RequireString("folder")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rule, err := s.svc.AddRule(keyword, folder)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("added: %s: %s", rule.Keyword, rule.Folder)), nil
}

func (s *Server) checkIntegrity(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	anomalies, err := s.svc.Integrity(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	if len(anomalies) == 0 {
		return mcp.NewToolResultText("ok"), nil
	}
	return mcp.NewToolResultText(strings.Join(anomalies, "\n")), nil
}

func (s *Server) suggestKeywords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	added, err := s.svc.Suggest(ctx, path)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(added), nil
}

func (s *Server) reviewSuggestions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pending, err := s.svc.Review(ctx, path)
	if err != nil {
		return errorResult(err), nil
	}
	if len(pending) == 0 {
		return mcp.NewToolResultText("no pending suggestions"), nil
	}
	return jsonResult(pending), nil
}

func (s *Server) applySuggestion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Apply(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res), nil
}

func (s *Server) ignoreSuggestion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sug, err := s.svc.Ignore(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("ignored: %d (%s)", sug.ID, sug.Keyword)), nil
}

func (s *Server) readMarkerSyntax(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      markerSyntaxURI,
			MIMEType: "text/markdown",
			Text:     MarkerSyntax,
		},
	}, nil
}
