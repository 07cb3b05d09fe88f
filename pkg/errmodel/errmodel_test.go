package errmodel

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewAndFrom(t *testing.T) {
	e := Configuration("missing_start_file", "start file is required", map[string]any{"flag": "start-file"})
	if e.Category != CategoryConfiguration || e.Code != "missing_start_file" {
		t.Fatalf("unexpected: %#v", e)
	}
	if got := From(e); got != e {
		t.Fatalf("From should return same error instance")
	}
	if got := From(io.EOF); got.Category != CategorySystem || got.Code != "internal" {
		t.Fatalf("From(io.EOF)=%#v", got)
	}
}

func TestStreamUnwrapsCause(t *testing.T) {
	e := Stream("read_failed", "read event", nil, io.ErrUnexpectedEOF)
	if !errors.Is(e, io.ErrUnexpectedEOF) {
		t.Fatalf("errors.Is should see the cause: %v", e)
	}
	if !strings.HasSuffix(e.Error(), io.ErrUnexpectedEOF.Error()) {
		t.Fatalf("message should carry the cause: %q", e.Error())
	}
	if len(e.Causes) != 1 {
		t.Fatalf("causes=%d want 1", len(e.Causes))
	}
	if !IsCategory(e, "STREAM") {
		t.Fatal("category match should be case-insensitive")
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{Configuration("x", "y", nil), 2},
		{Stream("x", "y", nil, nil), 1},
		{errors.New("plain"), 1},
	}
	for _, c := range cases {
		if got := ExitCode(c.err); got != c.want {
			t.Fatalf("ExitCode(%v)=%d want %d", c.err, got, c.want)
		}
	}
}

func TestWithTraceAndJSON(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	err := WithTrace(ctx, Stream("read_failed", "oops", nil, nil))
	body := string(JSON(err))
	if !strings.Contains(body, "\"category\":\"stream\"") {
		t.Fatalf("body missing category: %s", body)
	}
	if !strings.Contains(body, "trace_id") {
		t.Fatalf("body missing trace id: %s", body)
	}
}
