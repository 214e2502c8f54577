// Package validate performs pure, total checks on tool arguments.
//
// Validation fails closed: missing required arguments and values outside the
// configured bounds produce field-level issues. No side effects, no I/O.
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/glossgate/glossgate/internal/registry"
)

// Issue is one field-level validation failure.
type Issue struct {
	Field  string
	Reason string
}

func (i Issue) String() string {
	return i.Field + ": " + i.Reason
}

// Result is the verdict for one argument set.
type Result struct {
	Issues []Issue
}

// OK reports whether validation passed.
func (r Result) OK() bool {
	return len(r.Issues) == 0
}

// Validator applies the configured argument constraints.
type Validator struct {
	datasetID      *regexp.Regexp
	maxQueryLength int
	maxTerms       int
	maxTermLength  int
}

// New compiles the dataset-id pattern and captures the length bounds.
func New(datasetIDPattern string, maxQueryLength, maxTerms, maxTermLength int) (*Validator, error) {
	re, err := regexp.Compile(datasetIDPattern)
	if err != nil {
		return nil, fmt.Errorf("validate: dataset id pattern does not compile: %w", err)
	}
	return &Validator{
		datasetID:      re,
		maxQueryLength: maxQueryLength,
		maxTerms:       maxTerms,
		maxTermLength:  maxTermLength,
	}, nil
}

// Validate checks args against the tool's schema and per-kind rules.
// Always terminates with a definite verdict and never mutates args.
func (v *Validator) Validate(desc *registry.Descriptor, args registry.Arguments) Result {
	var issues []Issue

	if desc.Schema != nil {
		if issue := v.checkSchema(desc.Schema, args); issue != nil {
			issues = append(issues, *issue)
		}
	}

	for _, spec := range desc.Args {
		issues = append(issues, v.checkArg(spec, args)...)
	}
	return Result{Issues: issues}
}

// checkSchema validates the raw argument object. The instance is round-
// tripped through JSON so argument values of any Go numeric type compare
// correctly.
func (v *Validator) checkSchema(schema *jsonschema.Schema, args registry.Arguments) *Issue {
	raw, err := json.Marshal(map[string]any(args))
	if err != nil {
		return &Issue{Field: "arguments", Reason: "not encodable as JSON"}
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &Issue{Field: "arguments", Reason: "not decodable as JSON"}
	}
	if err := schema.Validate(instance); err != nil {
		return &Issue{Field: "arguments", Reason: err.Error()}
	}
	return nil
}

func (v *Validator) checkArg(spec registry.ArgSpec, args registry.Arguments) []Issue {
	if _, present := args[spec.Name]; !present {
		if spec.Required {
			return []Issue{{Field: spec.Name, Reason: "is required"}}
		}
		return nil
	}

	switch spec.Kind {
	case registry.ArgDatasetID:
		return v.checkDatasetID(spec, args)
	case registry.ArgFreeText:
		return v.checkFreeText(spec, args)
	case registry.ArgTermList:
		return v.checkTermList(spec, args)
	case registry.ArgTopK:
		return v.checkTopK(spec, args)
	}
	return nil
}

func (v *Validator) checkDatasetID(spec registry.ArgSpec, args registry.Arguments) []Issue {
	value, ok := args.String(spec.Name)
	if !ok {
		return []Issue{{Field: spec.Name, Reason: "must be a string"}}
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return []Issue{{Field: spec.Name, Reason: "is required"}}
	}
	if !v.datasetID.MatchString(value) {
		return []Issue{{Field: spec.Name, Reason: "contains unsupported characters"}}
	}
	return nil
}

func (v *Validator) checkFreeText(spec registry.ArgSpec, args registry.Arguments) []Issue {
	value, ok := args.String(spec.Name)
	if !ok {
		return []Issue{{Field: spec.Name, Reason: "must be a string"}}
	}
	value = strings.TrimSpace(value)
	if value == "" {
		if spec.Required {
			return []Issue{{Field: spec.Name, Reason: "is required"}}
		}
		return nil
	}
	if n := utf8.RuneCountInString(value); n > v.maxQueryLength {
		return []Issue{{
			Field:  spec.Name,
			Reason: fmt.Sprintf("exceeds maximum length of %d characters", v.maxQueryLength),
		}}
	}
	return nil
}

func (v *Validator) checkTermList(spec registry.ArgSpec, args registry.Arguments) []Issue {
	terms, ok := args.Strings(spec.Name)
	if !ok {
		return []Issue{{Field: spec.Name, Reason: "must be a list of strings"}}
	}
	if len(terms) == 0 {
		if spec.Required {
			return []Issue{{Field: spec.Name, Reason: "requires at least one non-empty term"}}
		}
		return nil
	}
	var issues []Issue
	if len(terms) > v.maxTerms {
		issues = append(issues, Issue{
			Field:  spec.Name,
			Reason: fmt.Sprintf("term count %d exceeds maximum of %d", len(terms), v.maxTerms),
		})
	}
	for i, term := range terms {
		if n := utf8.RuneCountInString(term); n > v.maxTermLength {
			issues = append(issues, Issue{
				Field:  fmt.Sprintf("%s[%d]", spec.Name, i),
				Reason: fmt.Sprintf("exceeds maximum term length of %d characters", v.maxTermLength),
			})
		}
	}
	return issues
}

func (v *Validator) checkTopK(spec registry.ArgSpec, args registry.Arguments) []Issue {
	value, ok := args.Int(spec.Name)
	if !ok {
		return []Issue{{Field: spec.Name, Reason: "must be an integer"}}
	}
	if value <= 0 {
		return []Issue{{Field: spec.Name, Reason: "must be greater than zero"}}
	}
	return nil
}
