package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the client collectors on a private registry.
type Metrics struct {
	reqCount     *prometheus.CounterVec
	reqDurHist   *prometheus.HistogramVec
	inFlight     prometheus.Gauge
	retries      *prometheus.CounterVec
	tlsRejects   *prometheus.CounterVec
	registry     *prometheus.Registry
	otelRequests metric.Int64Counter
	otelDuration metric.Float64Histogram
}

// MetricsOption configures NewMetrics.
type MetricsOption func(*Metrics) error

// WithMeter mirrors request counts and durations to an OpenTelemetry meter.
func WithMeter(m metric.Meter) MetricsOption {
	return func(mt *Metrics) error {
		var err error
		mt.otelRequests, err = m.Int64Counter("netkit.requests",
			metric.WithDescription("Outgoing request attempts"))
		if err != nil {
			return err
		}
		mt.otelDuration, err = m.Float64Histogram("netkit.request.duration",
			metric.WithDescription("Outgoing request attempt duration"), metric.WithUnit("s"))
		return err
	}
}

// NewMetrics creates and registers the client metrics.
func NewMetrics(opts ...MetricsOption) (*Metrics, error) {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		reqCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netkit_requests_total",
				Help: "Total number of outgoing request attempts",
			},
			[]string{"method", "host", "status"},
		),
		reqDurHist: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "netkit_request_duration_seconds",
				Help:    "Histogram of request attempt durations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "host"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netkit_in_flight_requests",
			Help: "Current number of in-flight request attempts",
		}),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netkit_retries_total",
				Help: "Total number of scheduled retries",
			},
			[]string{"host"},
		),
		tlsRejects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netkit_tls_rejections_total",
				Help: "Total number of refused TLS trust challenges",
			},
			[]string{"host"},
		),
		registry: reg,
	}
	reg.MustRegister(m.reqCount, m.reqDurHist, m.inFlight, m.retries, m.tlsRejects)

	for _, o := range opts {
		if err := o(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Started marks an attempt in flight. Call the returned func with the final status (0 for
// transport failures).
func (m *Metrics) Started(ctx context.Context, method, host string) func(status int) {
	start := time.Now()
	m.inFlight.Inc()
	return func(status int) {
		m.inFlight.Dec()
		elapsed := time.Since(start).Seconds()
		code := "error"
		if status > 0 {
			code = strconv.Itoa(status)
		}
		m.reqCount.WithLabelValues(method, host, code).Inc()
		m.reqDurHist.WithLabelValues(method, host).Observe(elapsed)

		if m.otelRequests != nil {
			attrs := metric.WithAttributes(
				attribute.String("method", method),
				attribute.String("host", host),
				attribute.String("status", code),
			)
			m.otelRequests.Add(ctx, 1, attrs)
			m.otelDuration.Record(ctx, elapsed, attrs)
		}
	}
}

// Retried counts a scheduled retry.
func (m *Metrics) Retried(host string) { m.retries.WithLabelValues(host).Inc() }

// TLSRejected counts a refused trust challenge.
func (m *Metrics) TLSRejected(host string) { m.tlsRejects.WithLabelValues(host).Inc() }

// Registry exposes the private registry, e.g. for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
