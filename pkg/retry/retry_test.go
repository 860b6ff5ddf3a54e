package retry

import (
	"context"
	stdErrors "errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/milan604/netkit/pkg/errors"
	"github.com/milan604/netkit/pkg/logger"
)

type stubInterceptor struct {
	None
	maxAttempts int
	policy      Policy
	veto        bool
}

func (s stubInterceptor) RetryMaxAttempts(*http.Request) int    { return s.maxAttempts }
func (s stubInterceptor) RetryPolicy(*http.Request) Policy      { return s.policy }
func (s stubInterceptor) ShouldRetry(*http.Request, error) bool { return !s.veto }

type pulseSignal struct {
	mu sync.Mutex
	ch chan struct{}
}

func newPulseSignal() *pulseSignal { return &pulseSignal{ch: make(chan struct{})} }

func (p *pulseSignal) Reachable() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch
}

func (p *pulseSignal) fire() {
	p.mu.Lock()
	defer p.mu.Unlock()
	close(p.ch)
	p.ch = make(chan struct{})
}

var errServer = errors.FromStatus(http.StatusServiceUnavailable, nil)

func TestExponentialPolicy(t *testing.T) {
	p := Exponential(100*time.Millisecond, 2, time.Second)
	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))
	assert.Equal(t, time.Second, p.Delay(10))
}

func TestExponentialNeverExceedsMax(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := time.Duration(rapid.Int64Range(0, int64(time.Minute)).Draw(t, "initial"))
		mult := rapid.Float64Range(1, 10).Draw(t, "multiplier")
		maxDelay := time.Duration(rapid.Int64Range(int64(initial), int64(time.Hour)).Draw(t, "max"))
		k := rapid.IntRange(1, 200).Draw(t, "attempt")

		p := Exponential(initial, mult, maxDelay)
		assert.Equal(t, initial, p.Delay(1))
		assert.LessOrEqual(t, p.Delay(k), maxDelay)
		assert.GreaterOrEqual(t, p.Delay(k), time.Duration(0))
	})
}

func TestPolicies(t *testing.T) {
	assert.Zero(t, Immediate().Delay(5))
	assert.Equal(t, time.Second, Constant(time.Second).Delay(7))
	assert.Equal(t, 3*time.Millisecond, Custom(func(n int) time.Duration { return time.Duration(n) * time.Millisecond }).Delay(3))

	assert.Equal(t, Constant(time.Second), ParsePolicy("constant", time.Second, 2, time.Minute))
	assert.Equal(t, Exponential(time.Second, 2, time.Minute), ParsePolicy("exponential", time.Second, 2, time.Minute))
	assert.Equal(t, Immediate(), ParsePolicy("", time.Second, 2, time.Minute))
}

func TestDoExactAttempts(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(t, "maxAttempts")
		calls := 0
		_, err := Do(context.Background(), Params{Interceptor: stubInterceptor{maxAttempts: n, policy: Immediate()}},
			func(context.Context, int) (int, error) {
				calls++
				return 0, errServer
			})
		assert.Same(t, errServer, err)
		assert.Equal(t, max(1, n), calls)
	})
}

func TestDoConstantPolicyScenario(t *testing.T) {
	ic := stubInterceptor{maxAttempts: 3, policy: Constant(100 * time.Millisecond)}
	var attempts []int

	start := time.Now()
	v, err := Do(context.Background(), Params{Interceptor: ic}, func(_ context.Context, attempt int) (string, error) {
		attempts = append(attempts, attempt)
		if attempt < 3 {
			return "", errors.NewTransportError(stdErrors.New("connection reset"))
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestDoTerminalErrors(t *testing.T) {
	plain := stdErrors.New("decode exploded")
	calls := 0
	_, err := Do(context.Background(), Params{Interceptor: stubInterceptor{maxAttempts: 5, policy: Immediate()}},
		func(context.Context, int) (int, error) {
			calls++
			return 0, plain
		})
	assert.Equal(t, plain, err)
	assert.Equal(t, 1, calls)

	calls = 0
	_, err = Do(context.Background(), Params{Interceptor: stubInterceptor{maxAttempts: 5, policy: Immediate(), veto: true}},
		func(context.Context, int) (int, error) {
			calls++
			return 0, errServer
		})
	assert.Same(t, errServer, err)
	assert.Equal(t, 1, calls)
}

func TestDoNilInterceptorMakesOneAttempt(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Params{}, func(context.Context, int) (int, error) {
		calls++
		return 0, errServer
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoWakesOnReachability(t *testing.T) {
	sig := newPulseSignal()
	ic := stubInterceptor{maxAttempts: 2, policy: Constant(time.Hour)}
	var retried []time.Duration

	done := make(chan error, 1)
	go func() {
		_, err := Do(context.Background(), Params{
			Interceptor: ic,
			Signal:      sig,
			OnRetry:     func(_ int, d time.Duration, _ error) { retried = append(retried, d) },
		}, func(_ context.Context, attempt int) (int, error) {
			if attempt == 1 {
				return 0, errServer
			}
			return attempt, nil
		})
		done <- err
	}()

	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			assert.Equal(t, []time.Duration{time.Hour}, retried)
			return
		case <-tick.C:
			sig.fire()
		case <-deadline:
			t.Fatal("retry did not wake on reachability pulse")
		}
	}
}

func TestDoHonoursContextDuringWait(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Do(ctx, Params{Interceptor: stubInterceptor{maxAttempts: 3, policy: Constant(time.Hour)}},
		func(context.Context, int) (int, error) { return 0, errServer })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDoLogsWhenAttemptsAreSpent(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ctx := logger.WithRequestID(context.Background(), "rid-9")

	_, err := Do(ctx, Params{
		Interceptor: stubInterceptor{maxAttempts: 2, policy: Immediate()},
		Logger:      logger.FromZap(zap.New(core)),
	}, func(context.Context, int) (int, error) { return 0, errServer })
	require.Error(t, err)

	failures := logs.FilterLevelExact(zap.ErrorLevel).All()
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Message, "giving up after 2 attempts")
	assert.Equal(t, "rid-9", failures[0].ContextMap()["request_id"])

	logs.TakeAll()
	_, err = Do(ctx, Params{
		Interceptor: stubInterceptor{maxAttempts: 3, policy: Immediate(), veto: true},
		Logger:      logger.FromZap(zap.New(core)),
	}, func(context.Context, int) (int, error) { return 0, errServer })
	require.Error(t, err)
	assert.Zero(t, logs.FilterLevelExact(zap.ErrorLevel).Len())
}
