// Package registry defines the closed set of tools the gateway exposes and
// binds each one to its upstream operation and rate-limit key.
//
// The set is fixed at startup: tools cannot be added or removed at runtime,
// so an unknown tool name is always a caller or configuration error.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/glossgate/glossgate/internal/config"
	"github.com/glossgate/glossgate/internal/upstream"
)

const maxTopK = 1024

// Registry holds the gateway's tool descriptors, keyed by name.
type Registry struct {
	tools map[string]*Descriptor
	names []string
}

// New builds the static registry over the given upstream client. A rate
// limit override naming a tool outside the set is a configuration error.
func New(client *upstream.Client, cfg *config.Config) (*Registry, error) {
	descriptors := []*Descriptor{
		listGlossariesTool(client),
		getGlossaryTool(client),
		searchTermsTool(client, cfg),
		retrieveDefinitionsTool(client, cfg),
	}

	tools := make(map[string]*Descriptor, len(descriptors))
	names := make([]string, 0, len(descriptors))
	for _, desc := range descriptors {
		schema, err := compileSchema(desc.Name, toolSchemas[desc.Name])
		if err != nil {
			return nil, err
		}
		desc.Schema = schema
		tools[desc.Name] = desc
		names = append(names, desc.Name)
	}
	sort.Strings(names)

	for tool := range cfg.ToolRateLimits {
		if _, ok := tools[tool]; !ok {
			return nil, fmt.Errorf("registry: rate limit override for unknown tool %q", tool)
		}
	}

	return &Registry{tools: tools, names: names}, nil
}

// Lookup returns the descriptor for a tool name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	desc, ok := r.tools[name]
	return desc, ok
}

// Names returns the tool names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

func listGlossariesTool(client *upstream.Client) *Descriptor {
	return &Descriptor{
		Name:         "list_glossaries",
		Description:  "List available glossaries, optionally filtered by name. Returns the upstream response unchanged.",
		RateLimitKey: "list_glossaries",
		Args: []ArgSpec{
			{Name: "name", Kind: ArgFreeText, Required: false},
		},
		Call: func(ctx context.Context, requestID string, args Arguments) (json.RawMessage, error) {
			name, _ := args.String("name")
			return client.ListGlossaries(ctx, requestID, strings.TrimSpace(name))
		},
	}
}

func getGlossaryTool(client *upstream.Client) *Descriptor {
	return &Descriptor{
		Name:         "get_glossary",
		Description:  "Fetch a single glossary by dataset id. Returns the upstream response unchanged.",
		RateLimitKey: "get_glossary",
		Args: []ArgSpec{
			{Name: "dataset_id", Kind: ArgDatasetID, Required: true},
		},
		Call: func(ctx context.Context, requestID string, args Arguments) (json.RawMessage, error) {
			datasetID, _ := args.String("dataset_id")
			return client.GetGlossary(ctx, requestID, datasetID)
		},
	}
}

func searchTermsTool(client *upstream.Client, cfg *config.Config) *Descriptor {
	return &Descriptor{
		Name:         "search_terms",
		Description:  "Search one glossary for passages matching a query. Returns the upstream response unchanged.",
		RateLimitKey: "search_terms",
		Args: []ArgSpec{
			{Name: "dataset_id", Kind: ArgDatasetID, Required: true},
			{Name: "query", Kind: ArgFreeText, Required: true},
			{Name: "top_k", Kind: ArgTopK, Required: false},
		},
		Call: func(ctx context.Context, requestID string, args Arguments) (json.RawMessage, error) {
			datasetID, _ := args.String("dataset_id")
			query, _ := args.String("query")
			topK, ok := args.Int("top_k")
			if !ok {
				topK = cfg.SearchTopK
			}
			return client.Retrieve(ctx, requestID, datasetID, upstream.RetrieveRequest{
				Question:               strings.TrimSpace(query),
				TopK:                   clampTopK(topK),
				SimilarityThreshold:    cfg.SimilarityThreshold,
				VectorSimilarityWeight: cfg.VectorSimilarityWeight,
				Keyword:                false,
				Highlight:              true,
			})
		},
	}
}

func retrieveDefinitionsTool(client *upstream.Client, cfg *config.Config) *Descriptor {
	return &Descriptor{
		Name:         "retrieve_definitions",
		Description:  "Retrieve definition passages for a list of terms from one glossary. Returns the upstream response unchanged.",
		RateLimitKey: "retrieve_definitions",
		Args: []ArgSpec{
			{Name: "dataset_id", Kind: ArgDatasetID, Required: true},
			{Name: "terms", Kind: ArgTermList, Required: true},
			{Name: "top_k", Kind: ArgTopK, Required: false},
		},
		Normalize: func(args Arguments) Arguments {
			if terms, ok := args.Strings("terms"); ok {
				args["terms"] = SanitizeTerms(terms)
			}
			return args
		},
		Call: func(ctx context.Context, requestID string, args Arguments) (json.RawMessage, error) {
			datasetID, _ := args.String("dataset_id")
			terms, _ := args.Strings("terms")
			topK, ok := args.Int("top_k")
			if !ok {
				topK = cfg.DefinitionTopK
			}
			return client.Retrieve(ctx, requestID, datasetID, upstream.RetrieveRequest{
				Question:               DefinitionPrompt(terms),
				TopK:                   clampTopK(topK),
				SimilarityThreshold:    cfg.SimilarityThreshold,
				VectorSimilarityWeight: cfg.VectorSimilarityWeight,
				Keyword:                false,
				Highlight:              false,
			})
		},
	}
}

// SanitizeTerms trims whitespace and drops empty entries, preserving order.
func SanitizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, raw := range terms {
		term := strings.TrimSpace(raw)
		if term == "" {
			continue
		}
		out = append(out, term)
	}
	return out
}

// DefinitionPrompt builds the retrieval question for a term list.
func DefinitionPrompt(terms []string) string {
	var sb strings.Builder
	sb.WriteString("Provide glossary definitions for the following terms:\n")
	for _, term := range terms {
		sb.WriteString("- ")
		sb.WriteString(term)
		sb.WriteString("\n")
	}
	return sb.String()
}

func clampTopK(v int) int {
	if v > maxTopK {
		return maxTopK
	}
	return v
}

// toolSchemas declares the raw argument shape for each tool. Compiled once
// at registry construction; unknown properties are rejected so typos fail
// loudly instead of being ignored.
var toolSchemas = map[string]string{
	"list_glossaries": `{
		"type": "object",
		"properties": {
			"name": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	"get_glossary": `{
		"type": "object",
		"properties": {
			"dataset_id": {"type": "string"}
		},
		"required": ["dataset_id"],
		"additionalProperties": false
	}`,
	"search_terms": `{
		"type": "object",
		"properties": {
			"dataset_id": {"type": "string"},
			"query": {"type": "string"},
			"top_k": {"type": "integer"}
		},
		"required": ["dataset_id", "query"],
		"additionalProperties": false
	}`,
	"retrieve_definitions": `{
		"type": "object",
		"properties": {
			"dataset_id": {"type": "string"},
			"terms": {"type": "array", "items": {"type": "string"}},
			"top_k": {"type": "integer"}
		},
		"required": ["dataset_id", "terms"],
		"additionalProperties": false
	}`,
}

func compileSchema(tool, raw string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("registry: schema for %s: %w", tool, err)
	}
	compiler := jsonschema.NewCompiler()
	resource := tool + ".json"
	if err := compiler.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("registry: schema for %s: %w", tool, err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("registry: schema for %s: %w", tool, err)
	}
	return schema, nil
}
