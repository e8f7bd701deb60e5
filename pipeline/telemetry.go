package pipeline

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// addSpanEvent records a named event with attributes on ctx's current
// span, if one is being sampled. Adapted from the teacher's
// telemetry.AddSpanEvent — ported directly rather than pulling in the
// rest of that package, since nothing else in telemetry/ has a caller
// left in this module (see DESIGN.md's early-trim note).
func addSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}
