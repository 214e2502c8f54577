// Package pipeline runs every tool invocation through a fixed sequence:
// lookup, validation, rate limiting, upstream call, audit.
//
// Validation always precedes rate limiting, so a malformed request never
// consumes a token, and a single invocation consumes at most one token no
// matter how many upstream retries occur. Every invocation that reaches
// validation emits exactly one audit event with its final status.
package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/glossgate/glossgate/internal/audit"
	"github.com/glossgate/glossgate/internal/ratelimit"
	"github.com/glossgate/glossgate/internal/registry"
	"github.com/glossgate/glossgate/internal/validate"
)

// Pipeline composes the validator, limiter, upstream-bound descriptors and
// audit recorder. One instance serves all tools; per-invocation state lives
// in an invocationContext and is never shared.
type Pipeline struct {
	registry  *registry.Registry
	validator *validate.Validator
	limiter   *ratelimit.Limiter
	recorder  audit.Recorder
	logger    *zap.Logger

	now          func() time.Time
	newRequestID func() string
}

// New wires a pipeline. All dependencies are required.
func New(
	reg *registry.Registry,
	validator *validate.Validator,
	limiter *ratelimit.Limiter,
	recorder audit.Recorder,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		registry:     reg,
		validator:    validator,
		limiter:      limiter,
		recorder:     recorder,
		logger:       logger,
		now:          time.Now,
		newRequestID: func() string { return uuid.New().String() },
	}
}

// invocationContext is the per-invocation state: created on entry, dropped
// on return.
type invocationContext struct {
	tool      *registry.Descriptor
	requestID string
	start     time.Time
	args      registry.Arguments
}

// Invoke runs one tool call end to end and returns the upstream payload
// verbatim or a structured error. An unknown tool name surfaces immediately
// with no audit event; every other outcome is audited exactly once.
func (p *Pipeline) Invoke(ctx context.Context, tool string, args registry.Arguments) (json.RawMessage, error) {
	desc, ok := p.registry.Lookup(tool)
	if !ok {
		return nil, &UnknownToolError{Name: tool}
	}

	inv := &invocationContext{
		tool:      desc,
		requestID: p.newRequestID(),
		start:     p.now(),
		args:      args,
	}
	if desc.Normalize != nil {
		inv.args = desc.Normalize(inv.args)
	}

	if result := p.validator.Validate(desc, inv.args); !result.OK() {
		err := &ValidationError{Tool: desc.Name, Issues: result.Issues}
		p.audit(inv, audit.StatusValidationError, err.Error())
		return nil, err
	}

	if decision := p.limiter.Admit(desc.RateLimitKey); !decision.Allowed {
		err := &RateLimitError{Tool: desc.Name, Key: desc.RateLimitKey, RetryAfter: decision.RetryAfter}
		p.audit(inv, audit.StatusRateLimited, err.Error())
		return nil, err
	}

	payload, err := desc.Call(ctx, inv.requestID, inv.args)
	if err != nil {
		wrapped := &UpstreamError{Tool: desc.Name, RequestID: inv.requestID, Err: err}
		p.audit(inv, audit.StatusUpstreamError, wrapped.Error())
		return nil, wrapped
	}

	p.audit(inv, audit.StatusSuccess, "")
	return payload, nil
}

// audit emits the invocation's single audit event. A panicking recorder is
// contained here so a logging failure can never change the tool outcome.
func (p *Pipeline) audit(inv *invocationContext, status audit.Status, errMsg string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("audit recorder failed",
				zap.String("request_id", inv.requestID),
				zap.Any("panic", r),
			)
		}
	}()

	p.recorder.Record(&audit.Event{
		Tool:      inv.tool.Name,
		Status:    status,
		RequestID: inv.requestID,
		Duration:  p.now().Sub(inv.start),
		Arguments: sanitizeArguments(inv.tool, inv.args),
		Error:     errMsg,
	})
}

// sanitizeArguments reduces raw arguments to audit-safe scalars: identifiers
// pass through, free text becomes a length, term lists become a count.
func sanitizeArguments(desc *registry.Descriptor, args registry.Arguments) map[string]any {
	out := make(map[string]any, len(desc.Args))
	for _, spec := range desc.Args {
		if _, present := args[spec.Name]; !present {
			continue
		}
		switch spec.Kind {
		case registry.ArgDatasetID:
			if v, ok := args.String(spec.Name); ok {
				out[spec.Name] = v
			}
		case registry.ArgFreeText:
			if v, ok := args.String(spec.Name); ok {
				out[spec.Name+"_length"] = utf8.RuneCountInString(v)
			}
		case registry.ArgTermList:
			if v, ok := args.Strings(spec.Name); ok {
				out[strings.TrimSuffix(spec.Name, "s")+"_count"] = len(v)
			}
		case registry.ArgTopK:
			if v, ok := args.Int(spec.Name); ok {
				out[spec.Name] = v
			}
		}
	}
	return out
}
