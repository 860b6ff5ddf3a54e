package retry

import (
	"context"
	"net/http"
	"time"

	"github.com/milan604/netkit/pkg/errors"
	"github.com/milan604/netkit/pkg/logger"
)

// Params configures one call to Do.
type Params struct {
	// Request is handed to the interceptor's retry hooks.
	Request     *http.Request
	Interceptor Interceptor
	// Signal, when set, wakes a pending retry early once connectivity returns.
	Signal Signal
	Logger logger.LogManager
	// OnRetry runs before each wait with the attempt about to be made.
	OnRetry func(next int, delay time.Duration, err error)
}

// Do calls fn until it succeeds, the attempt budget is spent, or the error is terminal.
// Attempts are 1-indexed. Only *errors.HTTPError failures are retried and the interceptor
// may veto any of them. The last error is returned unchanged.
func Do[T any](ctx context.Context, p Params, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	ic := p.Interceptor
	if ic == nil {
		ic = None{}
	}
	log := logger.OrNop(p.Logger)

	maxAttempts := max(1, ic.RetryMaxAttempts(p.Request))
	policy := ic.RetryPolicy(p.Request)
	if policy == nil {
		policy = Immediate()
	}

	for attempt := 1; ; attempt++ {
		v, err := fn(logger.WithAttempt(ctx, attempt), attempt)
		if err == nil {
			return v, nil
		}
		if !retryable(ic, p.Request, attempt, maxAttempts, err) {
			if attempt > 1 && attempt == maxAttempts {
				log.ErrorFCtx(ctx, "giving up after %d attempts: %v", attempt, err)
			}
			return v, err
		}

		delay := policy.Delay(attempt + 1)
		log.DebugFCtx(ctx, "retrying request after %v (attempt %d/%d): %v", delay, attempt+1, maxAttempts, err)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if werr := wait(ctx, delay, p.Signal); werr != nil {
			return zero, werr
		}
	}
}

func retryable(ic Interceptor, req *http.Request, attempt, maxAttempts int, err error) bool {
	if attempt+1 > maxAttempts {
		return false
	}
	if _, ok := errors.AsHTTPError(err); !ok {
		return false
	}
	return ic.ShouldRetry(req, err)
}

// wait blocks for delay or until sig reports reachability, whichever comes first.
func wait(ctx context.Context, delay time.Duration, sig Signal) error {
	var pulse <-chan struct{}
	if sig != nil {
		pulse = sig.Reachable()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	case <-pulse:
		return nil
	}
}
