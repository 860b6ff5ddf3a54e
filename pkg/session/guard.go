package session

import (
	"context"
	"sync"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/milan604/netkit/pkg/config"
	"github.com/milan604/netkit/pkg/errors"
	"github.com/milan604/netkit/pkg/logger"
)

// errServerStatus marks a 5xx response as a breaker failure. It never leaves the guard.
var errServerStatus = errors.New("server error status")

// hostGuard holds a rate limiter and a circuit breaker per host.
type hostGuard struct {
	limit   rate.Limit
	burst   int
	breaker config.BreakerConfig
	log     logger.LogManager

	limiters sync.Map // host -> *rate.Limiter
	breakers sync.Map // host -> *gobreaker.CircuitBreaker[struct{}]
}

func newHostGuard(rl config.RateLimitConfig, bc config.BreakerConfig, log logger.LogManager) *hostGuard {
	g := &hostGuard{breaker: bc, log: log}
	if rl.RPS > 0 {
		g.limit = rate.Limit(rl.RPS)
		g.burst = max(rl.Burst, 1)
	}
	return g
}

// wait blocks until host's limiter admits one request.
func (g *hostGuard) wait(ctx context.Context, host string) error {
	if g.limit == 0 {
		return nil
	}
	v, ok := g.limiters.Load(host)
	if !ok {
		v, _ = g.limiters.LoadOrStore(host, rate.NewLimiter(g.limit, g.burst))
	}
	return v.(*rate.Limiter).Wait(ctx)
}

// execute runs fn through host's breaker. An open breaker fails without calling fn.
func (g *hostGuard) execute(host string, fn func() error) error {
	if !g.breaker.Enabled {
		err := fn()
		if errors.Is(err, errServerStatus) {
			return nil
		}
		return err
	}
	cb := g.breakerFor(host)
	_, err := cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	switch {
	case err == nil, errors.Is(err, errServerStatus):
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return errors.Wrapf(err, "circuit breaker for %s", host)
	default:
		return err
	}
}

func (g *hostGuard) breakerFor(host string) *gobreaker.CircuitBreaker[struct{}] {
	if v, ok := g.breakers.Load(host); ok {
		return v.(*gobreaker.CircuitBreaker[struct{}])
	}
	maxFailures := max(g.breaker.MaxFailures, 1)
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Timeout:     g.breaker.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.log.WarnF("circuit breaker for %s changed from %s to %s", name, from, to)
		},
	})
	v, _ := g.breakers.LoadOrStore(host, cb)
	return v.(*gobreaker.CircuitBreaker[struct{}])
}
