package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/milan604/netkit/pkg/logger"
)

// AddSpanEvent adds an event to the current span
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// LoggerWithSpan adds the trace and span ids of ctx to log, so log lines can be joined
// with traces.
func LoggerWithSpan(ctx context.Context, log logger.LogManager) logger.LogManager {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return log
	}
	return log.With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}

// Common span attribute keys
var (
	AttrHTTPMethod     = attribute.Key("http.request.method")
	AttrHTTPStatusCode = attribute.Key("http.response.status_code")
	AttrHTTPURL        = attribute.Key("url.full")
	AttrServerAddress  = attribute.Key("server.address")
	AttrAttempt        = attribute.Key("http.request.resend_count")
	AttrRequestID      = attribute.Key("request.id")
	AttrTLSDecision    = attribute.Key("tls.decision")
)
