// Package observability provides tracing and metrics for outgoing requests.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/milan604/netkit/pkg/config"
	"github.com/milan604/netkit/pkg/logger"
	"github.com/milan604/netkit/pkg/version"
)

const instrumentationName = "github.com/milan604/netkit"

// Tracer creates one client span per request attempt and propagates its context.
type Tracer struct {
	provider   *sdktrace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	log        logger.LogManager
}

// TracerOption configures NewTracer.
type TracerOption func(*tracerOptions)

type tracerOptions struct {
	processors []sdktrace.SpanProcessor
	global     bool
}

// WithSpanProcessor adds a processor, e.g. a tracetest.SpanRecorder.
func WithSpanProcessor(p sdktrace.SpanProcessor) TracerOption {
	return func(o *tracerOptions) { o.processors = append(o.processors, p) }
}

// AsGlobal installs the provider and propagator as the otel globals.
func AsGlobal() TracerOption {
	return func(o *tracerOptions) { o.global = true }
}

// NewTracer builds a tracer. Spans are exported over OTLP/HTTP when cfg.Endpoint is set.
func NewTracer(log logger.LogManager, cfg config.TracingConfig, opts ...TracerOption) (*Tracer, error) {
	log = logger.OrNop(log)
	var o tracerOptions
	for _, opt := range opts {
		opt(&o)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = version.Name
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 {
		ratio = 1
	}
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}
	if cfg.Endpoint != "" {
		expOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			expOpts = append(expOpts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(context.Background(), expOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	for _, p := range o.processors {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(p))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	prop := propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	if o.global {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	}

	log.InfoF("tracing initialized: service=%s, endpoint=%q", serviceName, cfg.Endpoint)
	return &Tracer{
		provider:   tp,
		tracer:     tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(version.Version)),
		propagator: prop,
		log:        log,
	}, nil
}

// NewNopTracer returns a tracer that records nothing but still propagates context.
func NewNopTracer() *Tracer {
	return &Tracer{
		tracer:     noop.NewTracerProvider().Tracer(instrumentationName),
		propagator: propagation.TraceContext{},
		log:        logger.NewNop(),
	}
}

// StartAttempt starts a client span for req and injects its context into req's headers.
func (t *Tracer) StartAttempt(ctx context.Context, req *http.Request, attempt int) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrHTTPMethod.String(req.Method),
			AttrHTTPURL.String(req.URL.Redacted()),
			AttrServerAddress.String(req.URL.Hostname()),
			AttrAttempt.Int(attempt),
		),
	)
	t.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))
	return ctx, span
}

// EndAttempt records the outcome on span and ends it.
func (t *Tracer) EndAttempt(span trace.Span, status int, err error) {
	if status > 0 {
		span.SetAttributes(AttrHTTPStatusCode.Int(status))
	}
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case status >= 400:
		span.SetStatus(codes.Error, "HTTP "+strconv.Itoa(status))
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Shutdown flushes and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := t.provider.Shutdown(ctx); err != nil {
		t.log.ErrorF("failed to shutdown tracer provider: %v", err)
		return err
	}
	return nil
}

// TracerProvider exposes the underlying provider, nil for the nop tracer.
func (t *Tracer) TracerProvider() trace.TracerProvider {
	if t.provider == nil {
		return noop.NewTracerProvider()
	}
	return t.provider
}
