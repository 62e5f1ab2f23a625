package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func captureDefault(t *testing.T, level string) *bytes.Buffer {
	t.Helper()

	prev := defaultLogger
	t.Cleanup(func() { defaultLogger = prev })

	var buf bytes.Buffer
	SetDefault(New(&buf, level))
	return &buf
}

func TestInfoContext_AddsContextFields(t *testing.T) {
	buf := captureDefault(t, "info")

	traceID := trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		TraceFlags: trace.FlagsSampled,
	})

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, ServiceKey, "bookings")
	ctx = trace.ContextWithSpanContext(ctx, sc)

	InfoContext(ctx, "booking created", "booking_id", 7)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}

	if entry["request_id"] != "req-1" {
		t.Fatalf("expected request_id, got %v", entry["request_id"])
	}
	if entry["service"] != "bookings" {
		t.Fatalf("expected service, got %v", entry["service"])
	}
	if entry["trace_id"] != traceID.String() {
		t.Fatalf("expected trace_id %s, got %v", traceID, entry["trace_id"])
	}
	if entry["msg"] != "booking created" {
		t.Fatalf("unexpected msg %v", entry["msg"])
	}
}

func TestDebug_SuppressedAtInfo(t *testing.T) {
	buf := captureDefault(t, "")

	Debug("hidden")

	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}
