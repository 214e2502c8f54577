package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:       srv.URL,
		APIKey:        "test-key",
		Timeout:       2 * time.Second,
		RetryAttempts: 3,
		RetryWait:     time.Millisecond,
	})
}

func TestRetrieve_ReturnsPayloadVerbatim(t *testing.T) {
	// Odd whitespace on purpose: a verbatim passthrough must preserve it.
	payload := `{"chunks": [ {"id":"chunk-1","content":"Definition"} ],  "total": 1}`

	var gotPath string
	var gotHeaders http.Header
	var gotBody RetrieveRequest
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeaders = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(payload)) //nolint:errcheck
	}))

	raw, err := client.Retrieve(context.Background(), "req-123", "ds-1", RetrieveRequest{
		Question:               "what is a token bucket",
		TopK:                   8,
		SimilarityThreshold:    0.2,
		VectorSimilarityWeight: 0.3,
		Highlight:              true,
	})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if string(raw) != payload {
		t.Fatalf("payload not verbatim:\ngot  %s\nwant %s", raw, payload)
	}
	if gotPath != "/glossaries/ds-1/retrieve" {
		t.Fatalf("path = %q", gotPath)
	}
	if got := gotHeaders.Get("Authorization"); got != "Bearer test-key" {
		t.Fatalf("Authorization = %q", got)
	}
	if got := gotHeaders.Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("X-Request-ID = %q", got)
	}
	if got := gotHeaders.Get("Content-Type"); got != "application/json" {
		t.Fatalf("Content-Type = %q", got)
	}
	if gotBody.Question != "what is a token bucket" || gotBody.TopK != 8 || !gotBody.Highlight {
		t.Fatalf("request body = %+v", gotBody)
	}
}

func TestDo_RetriesServerErrorsUntilExhaustion(t *testing.T) {
	var attempts atomic.Int64
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, `{"detail":"backend down"}`, http.StatusInternalServerError)
	}))

	_, err := client.ListGlossaries(context.Background(), "req-1", "")
	if err == nil {
		t.Fatal("expected error after retry exhaustion")
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error type = %T", err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", statusErr.StatusCode)
	}
	if statusErr.Detail != "backend down" {
		t.Fatalf("detail = %q", statusErr.Detail)
	}
}

func TestDo_RecoversAfterTransientServerError(t *testing.T) {
	var attempts atomic.Int64
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "oops", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"items":[],"total":0}`)) //nolint:errcheck
	}))

	raw, err := client.ListGlossaries(context.Background(), "req-1", "")
	if err != nil {
		t.Fatalf("ListGlossaries failed: %v", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
	if string(raw) != `{"items":[],"total":0}` {
		t.Fatalf("payload = %s", raw)
	}
}

func TestDo_ClientErrorsAreNotRetried(t *testing.T) {
	var attempts atomic.Int64
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, `{"detail":"no such dataset"}`, http.StatusNotFound)
	}))

	_, err := client.ListGlossaries(context.Background(), "req-1", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestDo_MalformedPayloadIsNotRetried(t *testing.T) {
	var attempts atomic.Int64
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Write([]byte("<html>not json</html>")) //nolint:errcheck
	}))

	_, err := client.ListGlossaries(context.Background(), "req-1", "")
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("error = %v, want ErrMalformedPayload", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestListGlossaries_NameFilter(t *testing.T) {
	var gotQuery string
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("name")
		w.Write([]byte(`{"items":[],"total":0}`)) //nolint:errcheck
	}))

	if _, err := client.ListGlossaries(context.Background(), "req-1", "Main"); err != nil {
		t.Fatalf("ListGlossaries failed: %v", err)
	}
	if gotQuery != "Main" {
		t.Fatalf("name query = %q", gotQuery)
	}
}

func TestGetGlossary_Direct(t *testing.T) {
	item := `{"dataset_id":"ds-1","name":"Main"}`
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/glossaries/ds-1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(item)) //nolint:errcheck
	}))

	raw, err := client.GetGlossary(context.Background(), "req-1", "ds-1")
	if err != nil {
		t.Fatalf("GetGlossary failed: %v", err)
	}
	if string(raw) != item {
		t.Fatalf("payload = %s", raw)
	}
}

func TestGetGlossary_FallsBackToListing(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/glossaries/ds-1":
			http.Error(w, "", http.StatusMethodNotAllowed)
		case "/glossaries":
			w.Write([]byte(`{"items":[{"id":"ds-0"},{"id":"ds-1","name":"Glossary"}],"total":2}`)) //nolint:errcheck
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))

	raw, err := client.GetGlossary(context.Background(), "req-1", "ds-1")
	if err != nil {
		t.Fatalf("GetGlossary failed: %v", err)
	}
	if string(raw) != `{"id":"ds-1","name":"Glossary"}` {
		t.Fatalf("payload = %s", raw)
	}
}

func TestGetGlossary_MissingAfterFallback(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/glossaries/ds-404":
			http.Error(w, "", http.StatusNotFound)
		case "/glossaries":
			w.Write([]byte(`{"items":[],"total":0}`)) //nolint:errcheck
		}
	}))

	_, err := client.GetGlossary(context.Background(), "req-1", "ds-404")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("error = %v, want 404 StatusError", err)
	}
}

func TestDo_HonorsCallerCancellation(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "oops", http.StatusInternalServerError)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.ListGlossaries(ctx, "req-1", "")
	if err == nil {
		t.Fatal("expected error with cancelled context")
	}
}
