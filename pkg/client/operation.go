package client

import (
	"context"
	"sync"
)

type EventKind int

const (
	EventProgress EventKind = iota + 1
	EventCompleted
)

// Event is one element of an operation stream: a progress fraction or the single completion.
type Event[T any] struct {
	Kind     EventKind
	Progress float64
	Value    T
	Err      error
}

// Operation is a cold transfer. Nothing is sent until Run is called and every Run starts a
// new transfer.
type Operation[T any] struct {
	exec func(ctx context.Context, progress func(float64)) (T, error)
}

func newOperation[T any](exec func(context.Context, func(float64)) (T, error)) *Operation[T] {
	return &Operation[T]{exec: exec}
}

const eventBuffer = 32

// Run starts the transfer. The stream carries zero or more Progress events with
// non-decreasing fractions, ending at 1.0 on success, then exactly one Completed event, then
// closes. Intermediate progress is dropped when the reader falls behind. The last two buffer
// slots are kept for the terminal events, so the transfer goroutine exits even when the
// stream is abandoned. Cancelling ctx cancels the transfer.
func (o *Operation[T]) Run(ctx context.Context) <-chan Event[T] {
	ch := make(chan Event[T], eventBuffer)
	go func() {
		defer close(ch)

		var (
			mu       sync.Mutex
			last     float64
			finished bool
		)
		report := func(f float64) {
			// 1.0 is reserved for the event sent after success.
			f = min(max(f, 0), 0.999)
			mu.Lock()
			defer mu.Unlock()
			if finished || f <= last {
				return
			}
			last = f
			if len(ch) < eventBuffer-2 {
				ch <- Event[T]{Kind: EventProgress, Progress: f}
			}
		}

		v, err := o.exec(ctx, report)

		mu.Lock()
		finished = true
		mu.Unlock()
		if err == nil {
			ch <- Event[T]{Kind: EventProgress, Progress: 1}
		}
		ch <- Event[T]{Kind: EventCompleted, Value: v, Err: err}
	}()
	return ch
}

// Wait runs the operation and returns its completion, discarding progress.
func (o *Operation[T]) Wait(ctx context.Context) (T, error) {
	return o.WaitProgress(ctx, nil)
}

// WaitProgress runs the operation calling onProgress for every progress event.
func (o *Operation[T]) WaitProgress(ctx context.Context, onProgress func(float64)) (T, error) {
	var done Event[T]
	for ev := range o.Run(ctx) {
		switch ev.Kind {
		case EventProgress:
			if onProgress != nil {
				onProgress(ev.Progress)
			}
		case EventCompleted:
			done = ev
		}
	}
	return done.Value, done.Err
}
