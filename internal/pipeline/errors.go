package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/glossgate/glossgate/internal/validate"
)

// UnknownToolError reports a tool name outside the registry's closed set.
// This is a caller-usage error, not a tool outcome, and produces no
// tool_invocation audit event.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("tool %q is not registered", e.Name)
}

// ValidationError carries the field-level reasons an argument set was
// rejected. Never retried.
type ValidationError struct {
	Tool   string
	Issues []validate.Issue
}

func (e *ValidationError) Error() string {
	reasons := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		reasons[i] = issue.String()
	}
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(reasons, "; "))
}

// RateLimitError reports a rejected admission along with the bucket key and
// an estimate of when a token will be available.
type RateLimitError struct {
	Tool       string
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s, try again in %.1f seconds", e.Tool, e.RetryAfter.Seconds())
	}
	return fmt.Sprintf("rate limit exceeded for %s", e.Tool)
}

// UpstreamError wraps a terminal upstream failure (after retries, or a
// non-recoverable response).
type UpstreamError struct {
	Tool      string
	RequestID string
	Err       error
}

func (e *UpstreamError) Error() string {
	return e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
