package errmodel

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Category values for compact errors.
const (
	// CategoryConfiguration is fatal and raised before streaming begins.
	CategoryConfiguration = "configuration"
	// CategoryStream covers failures of the replication source mid-stream.
	CategoryStream = "stream"
	// CategoryReconstruction marks a single event that could not be turned into SQL.
	CategoryReconstruction = "reconstruction"
	CategoryStorage        = "storage"
	CategorySystem         = "system"
)

// Error is the compact error payload used across the module.
// It implements the error interface.
type Error struct {
	Category string         `json:"category"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Context  map[string]any `json:"context,omitempty"`
	Causes   []Error        `json:"causes,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + e.Message
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// Unwrap returns the first cause so errors.Is and errors.As see through the envelope.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// New constructs a new compact error.
func New(category, code, message string, ctx map[string]any, causes ...error) *Error {
	ce := &Error{Category: category, Code: code, Message: truncate(message, 512)}
	if len(ctx) > 0 {
		ce.Context = truncateContext(ctx)
	}
	for _, c := range causes {
		if c == nil {
			continue
		}
		if ce.cause == nil {
			ce.cause = c
		}
		ce.Causes = append(ce.Causes, *From(c))
	}
	return ce
}

// From converts any error into a compact Error. If err is already *Error, it's returned as-is.
func From(err error) *Error {
	var ce *Error
	if err == nil {
		return nil
	}
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Category: CategorySystem, Code: "internal", Message: truncate(err.Error(), 512)}
}

// Convenience constructors.
func Configuration(code, message string, ctx map[string]any) *Error {
	return New(CategoryConfiguration, code, message, ctx)
}

func Stream(code, message string, ctx map[string]any, cause error) *Error {
	return New(CategoryStream, code, message, ctx, cause)
}

func Reconstruction(code, message string, ctx map[string]any) *Error {
	return New(CategoryReconstruction, code, message, ctx)
}

func Storage(code, message string, ctx map[string]any, cause error) *Error {
	return New(CategoryStorage, code, message, ctx, cause)
}

func System(code, message string, ctx map[string]any, cause error) *Error {
	return New(CategorySystem, code, message, ctx, cause)
}

// ExitCode maps an error to a process exit status.
func ExitCode(err error) int {
	switch ce := From(err); {
	case ce == nil:
		return 0
	case ce.Category == CategoryConfiguration:
		return 2
	default:
		return 1
	}
}

// WithTrace records the trace id of the span in ctx on the error, if any.
func WithTrace(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return err
	}
	var ce *Error
	if !errors.As(err, &ce) {
		ce = New(CategorySystem, "internal", err.Error(), nil, err)
	}
	if ce.Context == nil {
		ce.Context = map[string]any{}
	}
	ce.Context["trace_id"] = sc.TraceID().String()
	return ce
}

// JSON renders the compact envelope { error: Error }.
func JSON(err error) []byte {
	ce := From(err)
	if ce == nil {
		ce = &Error{Category: CategorySystem, Code: "internal", Message: "unknown error"}
	}
	b, _ := json.Marshal(map[string]any{"error": ce})
	return b
}

// truncate trims a string to max characters.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// truncateContext trims long string values in the context map.
func truncateContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		switch t := v.(type) {
		case string:
			out[k] = truncate(t, 256)
		case int, int64, uint32, uint64, bool:
			out[k] = t
		default:
			b, err := json.Marshal(t)
			if err == nil && len(b) > 0 {
				s := string(b)
				if len(s) > 256 {
					s = truncate(s, 256)
				}
				out[k] = s
			} else {
				out[k] = t
			}
		}
	}
	return out
}

// IsCategory checks if err belongs to a specific category.
func IsCategory(err error, category string) bool {
	ce := From(err)
	return ce != nil && strings.EqualFold(ce.Category, category)
}
