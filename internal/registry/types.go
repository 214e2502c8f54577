package registry

import (
	"context"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ArgKind classifies an argument for validation and audit sanitization.
type ArgKind int

const (
	// ArgDatasetID is an identifier checked against the dataset-id pattern.
	ArgDatasetID ArgKind = iota
	// ArgFreeText is a free-text query bounded by the max query length.
	ArgFreeText
	// ArgTermList is a list of terms bounded in count and per-term length.
	ArgTermList
	// ArgTopK is an optional positive result-count hint.
	ArgTopK
)

// ArgSpec describes one argument a tool accepts.
type ArgSpec struct {
	Name     string
	Kind     ArgKind
	Required bool
}

// CallFunc performs the upstream call for one tool with validated arguments.
type CallFunc func(ctx context.Context, requestID string, args Arguments) (json.RawMessage, error)

// Descriptor is one tool in the closed set the gateway exposes. Descriptors
// are immutable after registry construction.
type Descriptor struct {
	Name        string
	Description string
	// RateLimitKey selects the token bucket charged for this tool.
	RateLimitKey string
	Args         []ArgSpec
	// Schema is the compiled JSON Schema for the raw argument object,
	// checked before the per-kind rules.
	Schema *jsonschema.Schema
	// Normalize, when set, rewrites arguments before validation
	// (e.g. trimming term lists). It must not perform I/O.
	Normalize func(args Arguments) Arguments
	Call      CallFunc
}

// Arguments is the raw argument object of one invocation.
type Arguments map[string]any

// String returns the named argument if it is a string.
func (a Arguments) String(name string) (string, bool) {
	v, ok := a[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Strings returns the named argument as a string slice, accepting both
// []string and the []any produced by JSON decoding.
func (a Arguments) Strings(name string) ([]string, bool) {
	v, ok := a[name]
	if !ok {
		return nil, false
	}
	switch vs := v.(type) {
	case []string:
		return vs, true
	case []any:
		out := make([]string, 0, len(vs))
		for _, item := range vs {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// Int returns the named argument as an int, accepting the float64 produced
// by JSON decoding when it is integral.
func (a Arguments) Int(name string) (int, bool) {
	v, ok := a[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}
