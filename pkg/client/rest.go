package client

import (
	"context"
	"net/http"

	"github.com/milan604/netkit/pkg/response"
	"github.com/milan604/netkit/pkg/retry"
	"github.com/milan604/netkit/pkg/router"
	"github.com/milan604/netkit/pkg/session"
)

// REST performs JSON request/response calls.
type REST struct {
	base
}

// NewREST returns a REST client. A nil interceptor never adapts or retries.
func NewREST(sess *session.Session, ic retry.Interceptor, opts ...Option) *REST {
	return &REST{base: newBase(sess, ic, opts)}
}

// Request performs r and decodes the response as T, using the default error body and API
// error shapes.
func Request[T any](ctx context.Context, c *REST, r router.Router) (T, error) {
	return RequestAs[T, response.DefaultErrorBody, response.DefaultAPIError](ctx, c, r)
}

// RequestAs performs r and decodes the response as T. Error responses carry their body
// decoded as *E; a body matching AE fails with an API error whatever the status.
func RequestAs[T, E, AE any](ctx context.Context, c *REST, r router.Router) (T, error) {
	return call(ctx, &c.base, r, func(ctx context.Context, req *http.Request) (T, error) {
		raw, err := c.sess.Data(ctx, req)
		return response.Pipeline[T, E, AE](raw, err)
	})
}

// Execute performs r for its side effect only.
func Execute(ctx context.Context, c *REST, r router.Router) error {
	return ExecuteAs[response.DefaultErrorBody, response.DefaultAPIError](ctx, c, r)
}

// ExecuteAs is Execute with caller supplied error shapes.
func ExecuteAs[E, AE any](ctx context.Context, c *REST, r router.Router) error {
	_, err := call(ctx, &c.base, r, func(ctx context.Context, req *http.Request) (struct{}, error) {
		raw, err := c.sess.Data(ctx, req)
		return struct{}{}, response.Check[E, AE](raw, err)
	})
	return err
}
