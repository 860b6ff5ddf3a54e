// Package session performs single HTTP attempts: it decorates requests, runs them through
// the per-host guards, logs and traces them, and hands back fully buffered responses.
package session

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/milan604/netkit/pkg/config"
	"github.com/milan604/netkit/pkg/errors"
	"github.com/milan604/netkit/pkg/logger"
	"github.com/milan604/netkit/pkg/observability"
	"github.com/milan604/netkit/pkg/response"
	"github.com/milan604/netkit/pkg/tlstrust"
	"github.com/milan604/netkit/pkg/version"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderUserAgent = "User-Agent"
)

// Config configures a Session.
type Config struct {
	Timeout     time.Duration
	UserAgent   bool
	BundleID    string
	LogRequests bool
	RateLimit   config.RateLimitConfig
	Breaker     config.BreakerConfig
	// Evaluator drives server trust for TLS connections. Nil means default handling.
	Evaluator *tlstrust.Evaluator
	// Transport defaults to a clone of http.DefaultTransport.
	Transport http.RoundTripper
}

// DefaultConfig sends the User-Agent header and nothing else.
func DefaultConfig() Config {
	return Config{Timeout: 60 * time.Second, UserAgent: true}
}

// ConfigFrom maps the loaded client settings onto a session Config.
func ConfigFrom(cc *config.ClientConfig, ev *tlstrust.Evaluator) Config {
	return Config{
		Timeout:     cc.Timeout,
		UserAgent:   cc.UserAgent.Enabled,
		BundleID:    cc.UserAgent.BundleID,
		LogRequests: cc.LogRequests,
		RateLimit:   cc.RateLimit,
		Breaker:     cc.Breaker,
		Evaluator:   ev,
	}
}

type Session struct {
	cfg       Config
	client    *http.Client
	log       logger.LogManager
	monitor   EventMonitor
	tracer    *observability.Tracer
	metrics   *observability.Metrics
	reqlog    *requestLogger
	guard     *hostGuard
	userAgent string
}

type Option func(*Session)

func WithLogger(l logger.LogManager) Option {
	return func(s *Session) { s.log = logger.OrNop(l) }
}

func WithMonitor(m EventMonitor) Option {
	return func(s *Session) {
		if m != nil {
			s.monitor = m
		}
	}
}

func WithTracer(t *observability.Tracer) Option {
	return func(s *Session) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// New builds a Session. When cfg carries an Evaluator, TLS connections made by an
// *http.Transport are verified by it.
func New(cfg Config, opts ...Option) *Session {
	s := &Session{
		cfg:     cfg,
		log:     logger.NewNop(),
		monitor: NopMonitor{},
		tracer:  observability.NewNopTracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.LogRequests {
		s.reqlog = &requestLogger{log: s.log.Named("http")}
	}
	if cfg.UserAgent {
		s.userAgent = version.UserAgent(cfg.BundleID)
	}
	s.guard = newHostGuard(cfg.RateLimit, cfg.Breaker, s.log)
	s.client = &http.Client{Timeout: cfg.Timeout, Transport: s.transport()}

	if ev := cfg.Evaluator; ev != nil {
		ev.AddObserver(func(host string, d tlstrust.Decision) {
			s.monitor.OnChallenge(host, d)
			if d == tlstrust.Cancel && s.metrics != nil {
				s.metrics.TLSRejected(host)
			}
		})
	}
	return s
}

func (s *Session) transport() http.RoundTripper {
	rt := s.cfg.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	ev := s.cfg.Evaluator
	t, ok := rt.(*http.Transport)
	if ev == nil || !ok {
		return rt
	}
	t = t.Clone()
	t.DialTLSContext = ev.DialTLSContext(nil, t.TLSClientConfig)
	return t
}

// HTTPClient exposes the underlying client, e.g. for the WebSocket dialer.
func (s *Session) HTTPClient() *http.Client { return s.client }

// Evaluator returns the configured trust evaluator, or nil.
func (s *Session) Evaluator() *tlstrust.Evaluator { return s.cfg.Evaluator }

// Logger returns the session logger.
func (s *Session) Logger() logger.LogManager { return s.log }

// Metrics returns the collector set by WithMetrics, or nil.
func (s *Session) Metrics() *observability.Metrics { return s.metrics }

// Close releases idle connections.
func (s *Session) Close() { s.client.CloseIdleConnections() }

// Data performs one attempt and buffers the whole response body.
func (s *Session) Data(ctx context.Context, req *http.Request) (*response.Raw, error) {
	return s.do(ctx, req, readAll)
}

// Download performs one attempt streaming the body to dest, or to memory when dest is empty.
// Error responses are always kept in memory so they can be decoded. progress receives
// Content-Length based fractions and 1.0 once the body is complete.
func (s *Session) Download(ctx context.Context, req *http.Request, dest string, progress ProgressFunc) (*response.Raw, error) {
	return s.do(ctx, req, func(resp *http.Response) ([]byte, error) {
		defer resp.Body.Close()
		pr := newProgressReader(resp.Body, resp.ContentLength, progress)
		if dest == "" || resp.StatusCode >= http.StatusBadRequest {
			b, err := io.ReadAll(pr)
			if err != nil {
				return nil, err
			}
			pr.finish()
			return b, nil
		}
		if err := writeFile(dest, pr); err != nil {
			return nil, err
		}
		pr.finish()
		return nil, nil
	})
}

// Upload performs one attempt sending body with the given content type. progress reports
// the share of body written; 1.0 arrives once the response is in.
func (s *Session) Upload(ctx context.Context, req *http.Request, body []byte, contentType string, progress ProgressFunc) (*response.Raw, error) {
	r := req.Clone(ctx)
	pr := newProgressReader(bytes.NewReader(body), int64(len(body)), progress)
	r.Body = io.NopCloser(pr)
	r.ContentLength = int64(len(body))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	raw, err := s.do(ctx, r, readAll)
	if err == nil {
		pr.finish()
	}
	return raw, err
}

func (s *Session) do(ctx context.Context, req *http.Request, consume func(*http.Response) ([]byte, error)) (*response.Raw, error) {
	id := logger.RequestIDFrom(ctx)
	if id == "" {
		id = req.Header.Get(HeaderRequestID)
	}
	if id == "" {
		id = uuid.NewString()
	}
	ctx = logger.WithRequestID(ctx, id)

	req = req.Clone(ctx)
	if req.Header.Get(HeaderRequestID) == "" {
		req.Header.Set(HeaderRequestID, id)
	}
	if s.userAgent != "" && req.Header.Get(HeaderUserAgent) == "" {
		req.Header.Set(HeaderUserAgent, s.userAgent)
	}

	host := req.URL.Hostname()
	if err := s.guard.wait(ctx, host); err != nil {
		return nil, errors.NewTransportError(err)
	}

	ctx, span := s.tracer.StartAttempt(ctx, req, logger.AttemptFrom(ctx))
	req = req.WithContext(ctx)
	finish := func(int) {}
	if s.metrics != nil {
		finish = s.metrics.Started(ctx, req.Method, host)
	}

	s.monitor.OnCreated(req)
	s.reqlog.request(ctx, req)
	start := time.Now()

	var (
		resp *http.Response
		body []byte
	)
	err := s.guard.execute(host, func() error {
		r, err := s.client.Do(req)
		if err != nil {
			return err
		}
		resp = r
		if body, err = consume(r); err != nil {
			return err
		}
		if r.StatusCode >= http.StatusInternalServerError {
			return errServerStatus
		}
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, errors.ErrTLSRejected) {
			logTLSRejection(s.log, host, s.blocked())
			observability.AddSpanEvent(ctx, "tls.rejected",
				observability.AttrServerAddress.String(host),
				observability.AttrTLSDecision.String(tlstrust.Cancel.String()))
		}
		s.reqlog.failure(ctx, req, err, elapsed)
		s.monitor.OnCompleted(req, nil, err, elapsed)
		s.tracer.EndAttempt(span, 0, err)
		finish(0)
		return nil, errors.NewTransportError(err)
	}

	s.reqlog.response(ctx, req, resp, body, elapsed)
	s.monitor.OnCompleted(req, resp, nil, elapsed)
	s.tracer.EndAttempt(span, resp.StatusCode, nil)
	finish(resp.StatusCode)
	return response.NewRaw(resp, body), nil
}

func (s *Session) blocked() *tlstrust.BlockedHosts {
	if s.cfg.Evaluator == nil {
		return nil
	}
	return s.cfg.Evaluator.BlockedHosts()
}

func readAll(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// writeFile streams r into a temporary sibling of dest and renames it into place.
func writeFile(dest string, r io.Reader) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create download directory")
	}
	tmp, err := os.CreateTemp(dir, ".netkit-download-*")
	if err != nil {
		return errors.Wrap(err, "create temporary file")
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
