package audit

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapRecorder_Record(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	recorder := NewZapRecorder(zap.New(core))

	recorder.Record(&Event{
		Tool:      "search_terms",
		Status:    StatusSuccess,
		RequestID: "req-1",
		Duration:  1500 * time.Microsecond,
		Arguments: map[string]any{"dataset_id": "ds-1", "query_length": 22},
	})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Message != "tool_invocation" {
		t.Fatalf("message = %q", entry.Message)
	}

	fields := entry.ContextMap()
	if fields["tool"] != "search_terms" {
		t.Fatalf("tool = %v", fields["tool"])
	}
	if fields["status"] != "success" {
		t.Fatalf("status = %v", fields["status"])
	}
	if fields["request_id"] != "req-1" {
		t.Fatalf("request_id = %v", fields["request_id"])
	}
	if fields["duration_ms"] != 1.5 {
		t.Fatalf("duration_ms = %v", fields["duration_ms"])
	}
	args, ok := fields["arguments"].(map[string]any)
	if !ok {
		t.Fatalf("arguments type = %T", fields["arguments"])
	}
	if args["dataset_id"] != "ds-1" {
		t.Fatalf("arguments.dataset_id = %v", args["dataset_id"])
	}
}

func TestZapRecorder_ErrorField(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	recorder := NewZapRecorder(zap.New(core))

	recorder.Record(&Event{
		Tool:      "get_glossary",
		Status:    StatusUpstreamError,
		RequestID: "req-2",
		Error:     "upstream request failed with status 502: bad gateway",
	})

	fields := logs.All()[0].ContextMap()
	if fields["status"] != "upstream_error" {
		t.Fatalf("status = %v", fields["status"])
	}
	if fields["error"] != "upstream request failed with status 502: bad gateway" {
		t.Fatalf("error = %v", fields["error"])
	}
}
