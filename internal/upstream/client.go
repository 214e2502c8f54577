// Package upstream wraps the retrieval service HTTP API.
//
// The client owns the full request lifecycle for one logical call: it builds
// the outbound request, attaches the correlation id and optional bearer key,
// applies a per-attempt timeout, and retries recoverable failures with a
// fixed delay. Successful payloads are returned byte-for-byte; the client
// never interprets or reshapes response bodies.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const userAgent = "glossgate/1.0"

// ErrMalformedPayload marks a 2xx response whose body is not valid JSON.
// Never retried: the transport succeeded, the upstream is misbehaving.
var ErrMalformedPayload = errors.New("upstream returned malformed JSON")

// StatusError is a non-2xx response from the upstream service.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream request failed with status %d: %s", e.StatusCode, e.Detail)
}

// Config holds the client's connection and retry settings.
type Config struct {
	BaseURL string
	// APIKey, when set, is sent as an Authorization bearer header.
	APIKey  string
	Timeout time.Duration
	// RetryAttempts is the total number of attempts for recoverable
	// failures, including the first.
	RetryAttempts int
	RetryWait     time.Duration
}

// Client issues read-only calls against the retrieval service.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
}

// New creates a client. The underlying http.Client is shared across calls;
// timeouts are applied per attempt via context.
func New(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{},
	}
}

// ListGlossaries fetches the glossary listing, optionally filtered by name.
func (c *Client) ListGlossaries(ctx context.Context, requestID, name string) (json.RawMessage, error) {
	var query url.Values
	if name != "" {
		query = url.Values{"name": []string{name}}
	}
	return c.do(ctx, requestID, http.MethodGet, "/glossaries", query, nil)
}

// GetGlossary fetches a single glossary. Upstreams that do not expose the
// direct endpoint (404/405/501) are handled by scanning the listing for a
// matching dataset id.
func (c *Client) GetGlossary(ctx context.Context, requestID, datasetID string) (json.RawMessage, error) {
	raw, err := c.do(ctx, requestID, http.MethodGet, "/glossaries/"+url.PathEscape(datasetID), nil, nil)
	if err == nil {
		return raw, nil
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return nil, err
	}
	switch statusErr.StatusCode {
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented:
	default:
		return nil, err
	}

	listing, err := c.ListGlossaries(ctx, requestID, "")
	if err != nil {
		return nil, err
	}
	item, ok := findGlossary(listing, datasetID)
	if !ok {
		return nil, &StatusError{
			StatusCode: http.StatusNotFound,
			Detail:     fmt.Sprintf("glossary %q not found", datasetID),
		}
	}
	return item, nil
}

// RetrieveRequest is the body of a retrieval call.
type RetrieveRequest struct {
	Question               string  `json:"question"`
	TopK                   int     `json:"top_k"`
	SimilarityThreshold    float64 `json:"similarity_threshold"`
	VectorSimilarityWeight float64 `json:"vector_similarity_weight"`
	Keyword                bool    `json:"keyword"`
	Highlight              bool    `json:"highlight"`
}

// Retrieve runs a retrieval query against one dataset.
func (c *Client) Retrieve(ctx context.Context, requestID, datasetID string, req RetrieveRequest) (json.RawMessage, error) {
	path := "/glossaries/" + url.PathEscape(datasetID) + "/retrieve"
	return c.do(ctx, requestID, http.MethodPost, path, nil, &req)
}

// do performs one logical call: 1..RetryAttempts HTTP requests with a fixed
// wait between attempts. Transport failures and 5xx responses are
// recoverable; 4xx responses and malformed payloads surface immediately.
func (c *Client) do(ctx context.Context, requestID, method, path string, query url.Values, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(c.cfg.RetryWait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		raw, err := c.attempt(ctx, requestID, method, endpoint, payload)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !recoverable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			// Caller gave up; don't burn remaining attempts.
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, requestID, method, endpoint string, payload []byte) (json.RawMessage, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read side only

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Detail: errorDetail(raw, resp.Status)}
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w (status %d)", ErrMalformedPayload, resp.StatusCode)
	}
	return json.RawMessage(raw), nil
}

// recoverable reports whether an attempt failure is worth retrying:
// transport errors and 5xx statuses are, client errors and bad payloads
// are not.
func recoverable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}
	if errors.Is(err, ErrMalformedPayload) {
		return false
	}
	return true
}

// errorDetail extracts a human-readable message from an error body,
// preferring the conventional "detail"/"message" fields.
func errorDetail(raw []byte, fallback string) string {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err == nil {
		for _, field := range []string{"detail", "message"} {
			rawField, ok := body[field]
			if !ok {
				continue
			}
			var s string
			if err := json.Unmarshal(rawField, &s); err == nil && s != "" {
				return s
			}
			return string(rawField)
		}
	}
	if detail := strings.TrimSpace(string(raw)); detail != "" {
		return detail
	}
	return fallback
}

// findGlossary scans a listing payload for an item whose dataset_id (or id)
// matches, returning that item verbatim.
func findGlossary(listing json.RawMessage, datasetID string) (json.RawMessage, bool) {
	var parsed struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(listing, &parsed); err != nil {
		return nil, false
	}
	for _, item := range parsed.Items {
		var ids struct {
			DatasetID string `json:"dataset_id"`
			ID        string `json:"id"`
		}
		if err := json.Unmarshal(item, &ids); err != nil {
			continue
		}
		if ids.DatasetID == datasetID || ids.ID == datasetID {
			return item, true
		}
	}
	return nil, false
}
