// Package audit emits one structured record per tool invocation.
//
// Records carry sanitized argument summaries only — identifiers, lengths and
// counts — never free-text bodies or authentication material. Emission is
// synchronous so callers can rely on the record existing once an invocation
// returns.
package audit

import (
	"time"

	"go.uber.org/zap"
)

// Status is the terminal outcome of an invocation.
type Status string

const (
	StatusSuccess         Status = "success"
	StatusValidationError Status = "validation_error"
	StatusRateLimited     Status = "rate_limited"
	StatusUpstreamError   Status = "upstream_error"
)

// Event is a write-once record of one tool invocation. Exactly one Event is
// emitted per invocation, after its outcome is final.
type Event struct {
	Tool      string
	Status    Status
	RequestID string
	Duration  time.Duration
	// Arguments holds sanitized scalars: dataset ids, value lengths and
	// element counts. Never raw query text or secrets.
	Arguments map[string]any
	// Error carries the upstream or validation message for non-success
	// outcomes.
	Error string
}

// Recorder persists audit events. Implementations must not fail in a way
// that alters the invocation outcome; sink errors are reported out of band.
type Recorder interface {
	Record(event *Event)
}

// ZapRecorder writes events as JSON log lines through a zap logger. Sink
// failures are zap's concern and surface on its error output, never to the
// tool caller.
type ZapRecorder struct {
	logger *zap.Logger
}

// NewZapRecorder creates a recorder on the given logger, typically
// logger.Named("audit").
func NewZapRecorder(logger *zap.Logger) *ZapRecorder {
	return &ZapRecorder{logger: logger}
}

func (r *ZapRecorder) Record(event *Event) {
	r.logger.Info("tool_invocation",
		zap.String("event", "tool_invocation"),
		zap.String("tool", event.Tool),
		zap.String("status", string(event.Status)),
		zap.String("request_id", event.RequestID),
		zap.Float64("duration_ms", float64(event.Duration)/float64(time.Millisecond)),
		zap.Any("arguments", event.Arguments),
		zap.String("error", event.Error),
	)
}
