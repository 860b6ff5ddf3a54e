package cli

import (
	"context"
	"net/url"
	"strings"

	"github.com/spf13/pflag"

	"github.com/milan604/netkit/pkg/client"
	"github.com/milan604/netkit/pkg/config"
	"github.com/milan604/netkit/pkg/errors"
	"github.com/milan604/netkit/pkg/interceptor"
	"github.com/milan604/netkit/pkg/logger"
	"github.com/milan604/netkit/pkg/observability"
	"github.com/milan604/netkit/pkg/reachability"
	"github.com/milan604/netkit/pkg/retry"
	"github.com/milan604/netkit/pkg/router"
	"github.com/milan604/netkit/pkg/session"
	"github.com/milan604/netkit/pkg/tlstrust"
)

// app is the wired client stack shared by the subcommands.
type app struct {
	log     logger.LogManager
	cfg     *config.Config
	client  *config.ClientConfig
	tracer  *observability.Tracer
	metrics *observability.Metrics
	sess    *session.Session
	ic      retry.Interceptor
	monitor *reachability.Monitor
}

func newApp(ctx context.Context, log logger.LogManager, configPath string, flags *pflag.FlagSet) (*app, error) {
	cfg, err := config.New(
		config.WithLogger(log),
		config.WithDefaults(config.ClientDefaults()),
		config.WithFile(configPath),
		config.WithEnv(config.EnvPrefix),
		config.WithPFlags(flags),
		config.WithSensitiveKeys("auth.token"),
	)
	if err != nil {
		return nil, err
	}
	cc, err := config.LoadClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	log.Debugw("loaded settings", "settings", cfg.MaskedSettings())

	trust, err := tlstrust.ConfigurationFrom(cc.TLS)
	if err != nil {
		return nil, err
	}
	ev := tlstrust.NewEvaluator(trust, tlstrust.WithLogger(log.Named("tls")))

	tracer, err := observability.NewTracer(log, cc.Tracing)
	if err != nil {
		return nil, err
	}
	metrics, err := observability.NewMetrics()
	if err != nil {
		return nil, err
	}

	a := &app{
		log:     log,
		cfg:     cfg,
		client:  cc,
		tracer:  tracer,
		metrics: metrics,
		sess: session.New(session.ConfigFrom(cc, ev),
			session.WithLogger(log),
			session.WithTracer(tracer),
			session.WithMetrics(metrics),
			session.WithMonitor(session.LoggingMonitor{Log: log.Named("events")}),
		),
	}

	var ic retry.Interceptor = interceptor.FromConfig(cc)
	if token := cfg.GetStringD("auth.token", ""); token != "" {
		ic = interceptor.NewTokenFromProvider(interceptor.NewStaticTokenProvider(token), 0, ic,
			interceptor.WithTokenLogger(log))
	}
	a.ic = ic

	if cc.Reachability.Enabled {
		a.monitor = reachability.New(
			reachability.WithInterval(cc.Reachability.Interval),
			reachability.WithLogger(log.Named("reachability")),
		)
		a.monitor.Start(ctx)
	}
	return a, nil
}

func (a *app) clientOptions() []client.Option {
	if a.monitor == nil {
		return nil
	}
	return []client.Option{client.WithSignal(a.monitor)}
}

func (a *app) rest() *client.REST {
	return client.NewREST(a.sess, a.ic, a.clientOptions()...)
}

func (a *app) http() *client.HTTP {
	return client.NewHTTP(a.sess, a.ic, a.clientOptions()...)
}

func (a *app) close(ctx context.Context) {
	if a.monitor != nil {
		a.monitor.Stop()
	}
	a.sess.Close()
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.log.WarnF("tracer shutdown: %v", err)
	}
}

// routerFor splits a URL into a Router. Headers are "Key: Value" strings.
func routerFor(method router.Method, raw string, headers []string) (router.Router, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return router.Router{}, errors.Wrapf(errors.ErrInvalidURL, "%s: %v", raw, err)
	}
	opts := []router.Option{router.WithScheme(router.Scheme(u.Scheme))}
	if q := u.Query(); len(q) > 0 {
		params := make(map[string]string, len(q))
		for k := range q {
			params[k] = q.Get(k)
		}
		opts = append(opts, router.WithParameters(params))
	}
	for _, h := range headers {
		k, v, ok := strings.Cut(h, ":")
		if !ok {
			return router.Router{}, errors.New("header must look like 'Key: Value': " + h)
		}
		opts = append(opts, router.WithHeader(strings.TrimSpace(k), strings.TrimSpace(v)))
	}
	return router.New(method, u.Host, strings.TrimPrefix(u.Path, "/"), opts...), nil
}
