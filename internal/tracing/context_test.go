package tracing

import (
	"context"
	"testing"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestNewRunID(t *testing.T) {
	id1 := NewRunID()
	id2 := NewRunID()

	if id1 == "" {
		t.Error("NewRunID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewRunID returned duplicate IDs")
	}
}

func TestWithTraceID(t *testing.T) {
	ctx := context.Background()
	traceID := "test-trace-id"

	ctx = WithTraceID(ctx, traceID)

	if got := GetTraceID(ctx); got != traceID {
		t.Errorf("Expected trace ID %s, got %s", traceID, got)
	}
}

func TestWithRunID(t *testing.T) {
	ctx := context.Background()
	runID := "test-run-id"

	ctx = WithRunID(ctx, runID)

	if got := GetRunID(ctx); got != runID {
		t.Errorf("Expected run ID %s, got %s", runID, got)
	}
}

func TestWithSessionKey(t *testing.T) {
	ctx := context.Background()
	sessionKey := "cli-local"

	ctx = WithSessionKey(ctx, sessionKey)

	if got := GetSessionKey(ctx); got != sessionKey {
		t.Errorf("Expected session key %s, got %s", sessionKey, got)
	}
}

func TestWithRequestID(t *testing.T) {
	ctx := context.Background()
	requestID := "req-42"

	ctx = WithRequestID(ctx, requestID)

	if got := GetRequestID(ctx); got != requestID {
		t.Errorf("Expected request ID %s, got %s", requestID, got)
	}
}

func TestGettersOnEmptyContext(t *testing.T) {
	ctx := context.Background()

	if GetTraceID(ctx) != "" {
		t.Error("expected empty trace ID")
	}
	if GetRunID(ctx) != "" {
		t.Error("expected empty run ID")
	}
	if GetSessionKey(ctx) != "" {
		t.Error("expected empty session key")
	}
	if GetRequestID(ctx) != "" {
		t.Error("expected empty request ID")
	}
}

func TestFromContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithSessionKey(ctx, "sess-1")
	ctx = WithRequestID(ctx, "req-1")

	tc := FromContext(ctx)

	if tc.TraceID != "trace-1" {
		t.Errorf("Expected trace-1, got %s", tc.TraceID)
	}
	if tc.RunID != "run-1" {
		t.Errorf("Expected run-1, got %s", tc.RunID)
	}
	if tc.SessionKey != "sess-1" {
		t.Errorf("Expected sess-1, got %s", tc.SessionKey)
	}
	if tc.RequestID != "req-1" {
		t.Errorf("Expected req-1, got %s", tc.RequestID)
	}
}

func TestNewContext(t *testing.T) {
	tc := &TraceContext{
		TraceID:    "trace-2",
		RunID:      "run-2",
		SessionKey: "sess-2",
	}

	ctx := NewContext(context.Background(), tc)

	if GetTraceID(ctx) != "trace-2" {
		t.Error("trace ID not carried")
	}
	if GetRunID(ctx) != "run-2" {
		t.Error("run ID not carried")
	}
	if GetSessionKey(ctx) != "sess-2" {
		t.Error("session key not carried")
	}
	if GetRequestID(ctx) != "" {
		t.Error("request ID should be empty")
	}
}

func TestNewRequestContext(t *testing.T) {
	ctx := NewRequestContext(context.Background())

	if GetTraceID(ctx) == "" {
		t.Error("expected a generated trace ID")
	}
}

func TestNewRunContext(t *testing.T) {
	ctx := NewRunContext(context.Background(), "sess-9")

	if GetRunID(ctx) == "" {
		t.Error("expected a generated run ID")
	}
	if GetSessionKey(ctx) != "sess-9" {
		t.Error("expected session key to be carried")
	}

	ctx2 := NewRunContext(context.Background(), "")
	if GetSessionKey(ctx2) != "" {
		t.Error("expected empty session key to stay unset")
	}
}
