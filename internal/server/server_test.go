package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/glossgate/glossgate/internal/audit"
	"github.com/glossgate/glossgate/internal/config"
	"github.com/glossgate/glossgate/internal/pipeline"
	"github.com/glossgate/glossgate/internal/ratelimit"
	"github.com/glossgate/glossgate/internal/registry"
	"github.com/glossgate/glossgate/internal/upstream"
	"github.com/glossgate/glossgate/internal/validate"
)

func testServer(t *testing.T, handler http.HandlerFunc) *Server {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		APIBaseURL:             srv.URL,
		HTTPTimeout:            2 * time.Second,
		RetryAttempts:          1,
		RetryWait:              time.Millisecond,
		RateLimitCapacity:      100,
		RateLimitInterval:      time.Minute,
		MaxQueryLength:         256,
		MaxTerms:               10,
		MaxTermLength:          128,
		DatasetIDPattern:       config.DefaultDatasetIDPattern,
		SearchTopK:             8,
		DefinitionTopK:         12,
		SimilarityThreshold:    0.2,
		VectorSimilarityWeight: 0.3,
	}

	client := upstream.New(upstream.Config{
		BaseURL:       cfg.APIBaseURL,
		Timeout:       cfg.HTTPTimeout,
		RetryAttempts: cfg.RetryAttempts,
		RetryWait:     cfg.RetryWait,
	})
	reg, err := registry.New(client, cfg)
	if err != nil {
		t.Fatalf("registry.New failed: %v", err)
	}
	validator, err := validate.New(cfg.DatasetIDPattern, cfg.MaxQueryLength, cfg.MaxTerms, cfg.MaxTermLength)
	if err != nil {
		t.Fatalf("validate.New failed: %v", err)
	}
	limiter, err := ratelimit.New(cfg.RateLimitCapacity, cfg.RateLimitInterval, nil)
	if err != nil {
		t.Fatalf("ratelimit.New failed: %v", err)
	}

	logger := zap.NewNop()
	p := pipeline.New(reg, validator, limiter, audit.NewZapRecorder(logger), logger)
	return New(p, logger)
}

// connect wires an in-memory MCP client session against the server.
func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := s.mcp.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect failed: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	clientSession, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect failed: %v", err)
	}
	t.Cleanup(func() { _ = clientSession.Close() })
	return clientSession
}

func TestListTools_ExposesFixedToolSet(t *testing.T) {
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {})
	session := connect(t, s)

	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}

	got := map[string]bool{}
	for _, tool := range res.Tools {
		got[tool.Name] = true
	}
	for _, name := range []string{"list_glossaries", "get_glossary", "search_terms", "retrieve_definitions"} {
		if !got[name] {
			t.Fatalf("tool %s not listed, got %v", name, got)
		}
	}
	if len(res.Tools) != 4 {
		t.Fatalf("tool count = %d, want 4", len(res.Tools))
	}
}

func TestCallTool_SearchTermsReturnsVerbatimPayload(t *testing.T) {
	payload := `{"chunks": [{"id": "chunk-1", "content": "Definition"}],  "total": 1}`
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/glossaries/ds-1/retrieve" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(payload)) //nolint:errcheck
	})
	session := connect(t, s)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "search_terms",
		Arguments: map[string]any{
			"dataset_id": "ds-1",
			"query":      "what is a token bucket",
		},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %+v", res.Content)
	}
	if len(res.Content) != 1 {
		t.Fatalf("content items = %d", len(res.Content))
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T", res.Content[0])
	}
	if text.Text != payload {
		t.Fatalf("payload not verbatim:\ngot  %s\nwant %s", text.Text, payload)
	}
}

func TestCallTool_InvalidArgumentsReportToolError(t *testing.T) {
	var upstreamCalled bool
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		upstreamCalled = true
	})
	session := connect(t, s)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "get_glossary",
		Arguments: map[string]any{
			"dataset_id": "!bad id",
		},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if !res.IsError {
		t.Fatal("invalid dataset id should produce a tool error")
	}
	if upstreamCalled {
		t.Fatal("invalid arguments must not reach upstream")
	}
}

func TestCallTool_UnknownToolFails(t *testing.T) {
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {})
	session := connect(t, s)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "drop_glossary",
		Arguments: map[string]any{},
	})
	if err == nil && (res == nil || !res.IsError) {
		t.Fatal("unknown tool should fail")
	}
}

func TestCallTool_RetrieveDefinitions(t *testing.T) {
	payload := `{"chunks":[],"total":0}`
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload)) //nolint:errcheck
	})
	session := connect(t, s)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "retrieve_definitions",
		Arguments: map[string]any{
			"dataset_id": "ds-1",
			"terms":      []string{"term a", "term b"},
		},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %+v", res.Content)
	}
	if text := res.Content[0].(*mcp.TextContent); text.Text != payload {
		t.Fatalf("payload = %s", text.Text)
	}
}

func TestHandler_RequiresAuthWhenConfigured(t *testing.T) {
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {})

	handler := s.Handler(denyAll{})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

type denyAll struct{}

func (denyAll) Authenticate(*http.Request) error { return http.ErrNoCookie }
