// Package trace implements the narrow §6 collaborators Stopwatch and
// Cancellable with a concrete backend instead of leaving them as
// no-op stubs: Stopwatch records named events as OpenTelemetry span
// events, matching the otel stack already present (indirectly, via
// other proxy layers) in the teacher's go.mod.
package trace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bpcore/flowproxy/pool"
)

// TracerName is the instrumentation scope name this package's tracer
// is registered under.
const TracerName = "github.com/bpcore/flowproxy"

// Stopwatch implements the §6 "record an event label for tracing"
// collaborator as a single OpenTelemetry span covering one request/
// connection lifetime, with Mark appending timestamped named events
// to it (the proxy's equivalent of the original's stopwatch trace
// points: "request received", "upstream connected", "headers sent",
// etc.).
type Stopwatch struct {
	span trace.Span
}

// Start begins a span named op as a child of ctx's span (or a root
// span if ctx carries none), returning both the Stopwatch and a
// context carrying the new span for further nested operations.
func Start(ctx context.Context, op string) (context.Context, *Stopwatch) {
	ctx, span := otel.Tracer(TracerName).Start(ctx, op)
	return ctx, &Stopwatch{span: span}
}

// Mark records label as a span event, optionally with key/value
// attributes.
func (s *Stopwatch) Mark(label string, attrs ...attribute.KeyValue) {
	if s == nil || s.span == nil {
		return
	}
	s.span.AddEvent(label, trace.WithAttributes(attrs...))
}

// End closes the underlying span, recording err (if non-nil) as an
// exception event on it; the span's status is left unset.
func (s *Stopwatch) End(err error) {
	if s == nil || s.span == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
	}
	s.span.End()
}

// cancellable adapts a context.CancelFunc to pool.Cancellable.
type cancellable struct{ cancel context.CancelFunc }

// NewCancellable wraps cancel as the §6 Cancellable collaborator.
func NewCancellable(cancel context.CancelFunc) pool.Cancellable {
	return cancellable{cancel: cancel}
}

func (c cancellable) Cancel() { c.cancel() }
