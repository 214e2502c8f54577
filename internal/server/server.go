// Package server exposes the invocation pipeline over MCP.
//
// Tool handlers do nothing beyond translating between MCP argument structs
// and the pipeline's raw argument maps; every policy decision (validation,
// rate limiting, audit) lives in the pipeline.
package server

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/glossgate/glossgate/internal/auth"
	"github.com/glossgate/glossgate/internal/pipeline"
	"github.com/glossgate/glossgate/internal/registry"
)

const instructions = "Read-only glossary retrieval. Available tools: list_glossaries, get_glossary, " +
	"search_terms, retrieve_definitions. Requests are proxied directly to the upstream " +
	"retrieval service; no answer generation is performed."

// Server hosts the gateway's MCP tool surface.
type Server struct {
	pipeline *pipeline.Pipeline
	logger   *zap.Logger
	mcp      *mcp.Server
}

// New builds the MCP server and registers the fixed tool set.
func New(p *pipeline.Pipeline, logger *zap.Logger) *Server {
	s := &Server{
		pipeline: p,
		logger:   logger,
		mcp: mcp.NewServer(
			&mcp.Implementation{Name: "glossgate", Version: "1.0.0"},
			&mcp.ServerOptions{Instructions: instructions},
		),
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_glossaries",
		Description: "List available glossaries, optionally filtered by name. Returns the upstream response unchanged.",
	}, s.handleListGlossaries)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_glossary",
		Description: "Fetch a single glossary by dataset id. Returns the upstream response unchanged.",
	}, s.handleGetGlossary)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_terms",
		Description: "Search one glossary for passages matching a query. Returns the upstream response unchanged.",
	}, s.handleSearchTerms)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "retrieve_definitions",
		Description: "Retrieve definition passages for a list of terms from one glossary. Returns the upstream response unchanged.",
	}, s.handleRetrieveDefinitions)

	return s
}

// RunStdio serves MCP over stdin/stdout until the client disconnects or the
// context is cancelled.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// Handler returns the streamable-HTTP MCP endpoint, optionally gated by the
// authenticator.
func (s *Server) Handler(authenticator auth.Authenticator) http.Handler {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, nil)
	return auth.Middleware(authenticator, handler)
}

type listGlossariesArgs struct {
	Name string `json:"name,omitempty"`
}

type getGlossaryArgs struct {
	DatasetID string `json:"dataset_id"`
}

type searchTermsArgs struct {
	DatasetID string `json:"dataset_id"`
	Query     string `json:"query"`
	TopK      *int   `json:"top_k,omitempty"`
}

type retrieveDefinitionsArgs struct {
	DatasetID string   `json:"dataset_id"`
	Terms     []string `json:"terms"`
	TopK      *int     `json:"top_k,omitempty"`
}

func (s *Server) handleListGlossaries(ctx context.Context, req *mcp.CallToolRequest, args listGlossariesArgs) (*mcp.CallToolResult, any, error) {
	in := registry.Arguments{}
	if args.Name != "" {
		in["name"] = args.Name
	}
	return s.invoke(ctx, "list_glossaries", in)
}

func (s *Server) handleGetGlossary(ctx context.Context, req *mcp.CallToolRequest, args getGlossaryArgs) (*mcp.CallToolResult, any, error) {
	return s.invoke(ctx, "get_glossary", registry.Arguments{"dataset_id": args.DatasetID})
}

func (s *Server) handleSearchTerms(ctx context.Context, req *mcp.CallToolRequest, args searchTermsArgs) (*mcp.CallToolResult, any, error) {
	in := registry.Arguments{
		"dataset_id": args.DatasetID,
		"query":      args.Query,
	}
	if args.TopK != nil {
		in["top_k"] = *args.TopK
	}
	return s.invoke(ctx, "search_terms", in)
}

func (s *Server) handleRetrieveDefinitions(ctx context.Context, req *mcp.CallToolRequest, args retrieveDefinitionsArgs) (*mcp.CallToolResult, any, error) {
	in := registry.Arguments{
		"dataset_id": args.DatasetID,
		"terms":      args.Terms,
	}
	if args.TopK != nil {
		in["top_k"] = *args.TopK
	}
	return s.invoke(ctx, "retrieve_definitions", in)
}

// invoke runs the pipeline and wraps the verbatim payload as text content.
// Pipeline errors are returned as-is; the SDK reports them as tool errors
// without tearing down the session.
func (s *Server) invoke(ctx context.Context, tool string, in registry.Arguments) (*mcp.CallToolResult, any, error) {
	payload, err := s.pipeline.Invoke(ctx, tool, in)
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}},
	}, nil, nil
}
