package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitTracerExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracer("slackhooks-test", &buf)
	if err != nil {
		t.Fatalf("InitTracer error: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "dispatch.event")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
	if !strings.Contains(buf.String(), "dispatch.event") {
		t.Fatalf("expected exported span, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "slackhooks-test") {
		t.Fatalf("expected service name in resource, got %q", buf.String())
	}
}
