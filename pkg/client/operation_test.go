package client

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chattyOperation(steps int, done chan<- struct{}) *Operation[int] {
	return newOperation(func(ctx context.Context, progress func(float64)) (int, error) {
		defer close(done)
		for i := 1; i <= steps; i++ {
			progress(float64(i) / float64(steps+1))
		}
		return steps, ctx.Err()
	})
}

func TestOperationAbandonedStreamExits(t *testing.T) {
	before := runtime.NumGoroutine()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	_ = chattyOperation(99, done).Run(ctx)
	<-done
	cancel()

	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= before },
		2*time.Second, 10*time.Millisecond)
}

func TestOperationSlowReaderStillCompletes(t *testing.T) {
	done := make(chan struct{})
	ch := chattyOperation(99, done).Run(context.Background())
	<-done

	var events []Event[int]
	for ev := range ch {
		events = append(events, ev)
	}
	require.LessOrEqual(t, len(events), eventBuffer)
	require.GreaterOrEqual(t, len(events), 2)

	last := events[len(events)-1]
	assert.Equal(t, EventCompleted, last.Kind)
	assert.Equal(t, 99, last.Value)
	require.NoError(t, last.Err)

	final := events[len(events)-2]
	assert.Equal(t, EventProgress, final.Kind)
	assert.Equal(t, 1.0, final.Progress)

	prev := 0.0
	for _, ev := range events[:len(events)-1] {
		assert.Greater(t, ev.Progress, prev)
		prev = ev.Progress
	}
}

func TestOperationCancelledCompletesWithError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	_, err := chattyOperation(3, done).WaitProgress(ctx, func(f float64) {
		assert.Less(t, f, 1.0)
	})
	assert.ErrorIs(t, err, context.Canceled)
}
