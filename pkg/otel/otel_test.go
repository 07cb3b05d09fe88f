package otel

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitStdoutWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), Config{ServiceName: "binlog2sql-test", UseStdout: true, Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "Engine.Run")
	if !span.SpanContext().HasTraceID() {
		t.Fatal("expected a recording span with a trace id")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Engine.Run") {
		t.Fatalf("span not exported: %q", buf.String())
	}
}
