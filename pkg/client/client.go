// Package client holds the entry points consumers call: a REST client decoding JSON models,
// an HTTP client for downloads and uploads with progress, and a WebSocket client.
package client

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/milan604/netkit/pkg/logger"
	"github.com/milan604/netkit/pkg/retry"
	"github.com/milan604/netkit/pkg/router"
	"github.com/milan604/netkit/pkg/session"
	"github.com/milan604/netkit/pkg/upload"
)

// base is shared by the REST and HTTP clients.
type base struct {
	sess   *session.Session
	ic     retry.Interceptor
	signal retry.Signal
	log    logger.LogManager
	enc    *upload.Encoder
}

// Option configures a REST or HTTP client.
type Option func(*base)

// WithSignal wakes pending retries when connectivity returns, typically a reachability.Monitor.
func WithSignal(s retry.Signal) Option {
	return func(b *base) { b.signal = s }
}

// WithEncoder replaces the upload body encoder.
func WithEncoder(e *upload.Encoder) Option {
	return func(b *base) { b.enc = e }
}

// WithLogger overrides the session logger.
func WithLogger(l logger.LogManager) Option {
	return func(b *base) { b.log = logger.OrNop(l) }
}

func newBase(sess *session.Session, ic retry.Interceptor, opts []Option) base {
	if ic == nil {
		ic = retry.None{}
	}
	b := base{sess: sess, ic: ic, log: sess.Logger()}
	for _, opt := range opts {
		opt(&b)
	}
	if b.enc == nil {
		b.enc = upload.NewEncoder(upload.WithLogger(b.log))
	}
	return b
}

// Session returns the underlying session.
func (b *base) Session() *session.Session { return b.sess }

// call runs attempt under the retry engine. Every attempt gets a fresh request built from r
// and adapted by the interceptor; all attempts share one request ID.
func call[T any](ctx context.Context, b *base, r router.Router, attempt func(context.Context, *http.Request) (T, error)) (T, error) {
	var zero T
	first, err := r.AsRequest(ctx)
	if err != nil {
		return zero, err
	}
	if logger.RequestIDFrom(ctx) == "" {
		ctx = logger.WithRequestID(ctx, uuid.NewString())
	}

	host := first.URL.Hostname()
	params := retry.Params{
		Request:     first,
		Interceptor: b.ic,
		Signal:      b.signal,
		Logger:      b.log,
		OnRetry: func(next int, delay time.Duration, err error) {
			if m := b.sess.Metrics(); m != nil {
				m.Retried(host)
			}
		},
	}
	return retry.Do(ctx, params, func(ctx context.Context, n int) (T, error) {
		req := first
		if n > 1 {
			if req, err = r.AsRequest(ctx); err != nil {
				return zero, err
			}
		}
		return attempt(ctx, b.ic.Adapt(req.WithContext(ctx)))
	})
}
