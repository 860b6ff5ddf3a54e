// Package interceptor provides stock retry.Interceptor implementations: a status-aware
// default, bearer-token injection backed by a TokenCache, and composition.
package interceptor

import (
	"context"
	"net/http"
	"time"

	"github.com/milan604/netkit/pkg/config"
	"github.com/milan604/netkit/pkg/errors"
	"github.com/milan604/netkit/pkg/logger"
	"github.com/milan604/netkit/pkg/retry"
)

// DefaultRetryStatuses are the client statuses Default retries.
var DefaultRetryStatuses = []int{http.StatusRequestTimeout, http.StatusTooManyRequests}

// Default leaves requests untouched and retries transport failures, server errors and
// the client statuses in RetryStatuses.
type Default struct {
	MaxAttempts   int
	Policy        retry.Policy
	RetryStatuses []int
}

var _ retry.Interceptor = (*Default)(nil)

// NewDefault creates a Default retrying with DefaultRetryStatuses.
func NewDefault(maxAttempts int, policy retry.Policy) *Default {
	return &Default{
		MaxAttempts:   maxAttempts,
		Policy:        policy,
		RetryStatuses: DefaultRetryStatuses,
	}
}

// FromConfig builds a Default from the retry section of cc.
func FromConfig(cc *config.ClientConfig) *Default {
	r := cc.Retry
	return NewDefault(r.MaxAttempts, retry.ParsePolicy(r.Policy, r.Initial, r.Multiplier, r.MaxDelay))
}

func (d *Default) Adapt(req *http.Request) *http.Request { return req }

func (d *Default) RetryMaxAttempts(*http.Request) int { return d.MaxAttempts }

func (d *Default) RetryPolicy(*http.Request) retry.Policy {
	if d.Policy == nil {
		return retry.Immediate()
	}
	return d.Policy
}

// ShouldRetry refuses TLS rejections and cancelled calls even though they surface as
// transport errors.
func (d *Default) ShouldRetry(_ *http.Request, err error) bool {
	he, ok := errors.AsHTTPError(err)
	if !ok {
		return false
	}
	switch he.Kind {
	case errors.KindTransport:
		return !errors.Is(err, errors.ErrTLSRejected) &&
			!errors.Is(err, context.Canceled)
	case errors.KindServer:
		return true
	case errors.KindClient:
		for _, s := range d.RetryStatuses {
			if s == he.StatusCode {
				return true
			}
		}
	}
	return false
}

// Token sets a bearer token on every attempt and refreshes it after a 401.
type Token struct {
	base  retry.Interceptor
	cache *TokenCache
	log   logger.LogManager

	header string
	scheme string
}

// TokenOption configures a Token interceptor.
type TokenOption func(*Token)

// WithTokenLogger sets the logger used when a token cannot be fetched.
func WithTokenLogger(l logger.LogManager) TokenOption {
	return func(t *Token) { t.log = l }
}

// WithHeader changes the header and scheme, e.g. ("X-Api-Key", "").
func WithHeader(header, scheme string) TokenOption {
	return func(t *Token) { t.header, t.scheme = header, scheme }
}

// NewToken wraps base, which decides retries for everything except 401. A nil base uses
// a Default allowing two attempts so a rejected token is refreshed once.
func NewToken(cache *TokenCache, base retry.Interceptor, opts ...TokenOption) *Token {
	if base == nil {
		base = NewDefault(2, retry.Immediate())
	}
	t := &Token{base: base, cache: cache, header: "Authorization", scheme: "Bearer"}
	for _, o := range opts {
		o(t)
	}
	t.log = logger.OrNop(t.log)
	return t
}

// NewTokenFromProvider is NewToken over a fresh cache for provider.
func NewTokenFromProvider(provider TokenProvider, refreshBuffer time.Duration, base retry.Interceptor, opts ...TokenOption) *Token {
	return NewToken(NewTokenCache(provider, refreshBuffer), base, opts...)
}

// Adapt sets the token header. A fetch failure leaves the request unauthenticated so the
// server's 401 drives the retry.
func (t *Token) Adapt(req *http.Request) *http.Request {
	token, err := t.cache.Token(req.Context())
	if err != nil {
		t.log.WarnFCtx(req.Context(), "token fetch failed, sending %s %s without credentials: %v", req.Method, req.URL.Redacted(), err)
		return req
	}
	if t.scheme == "" {
		req.Header.Set(t.header, token)
	} else {
		req.Header.Set(t.header, t.scheme+" "+token)
	}
	return req
}

// RetryMaxAttempts is at least 2 so a stale token gets one refresh.
func (t *Token) RetryMaxAttempts(req *http.Request) int {
	return max(2, t.base.RetryMaxAttempts(req))
}

func (t *Token) RetryPolicy(req *http.Request) retry.Policy { return t.base.RetryPolicy(req) }

func (t *Token) ShouldRetry(req *http.Request, err error) bool {
	if errors.StatusCode(err) == http.StatusUnauthorized {
		t.log.InfoFCtx(req.Context(), "received 401, invalidating token and retrying")
		t.cache.Invalidate()
		return true
	}
	return t.base.ShouldRetry(req, err)
}

// Chain composes interceptors. Adapt runs in order, the budget is the largest member's,
// the policy is the first member's, and a retry happens when any member asks for one.
// Every member sees ShouldRetry so side effects such as token invalidation still run.
func Chain(members ...retry.Interceptor) retry.Interceptor {
	if len(members) == 1 {
		return members[0]
	}
	return chain(members)
}

type chain []retry.Interceptor

func (c chain) Adapt(req *http.Request) *http.Request {
	for _, m := range c {
		req = m.Adapt(req)
	}
	return req
}

func (c chain) RetryMaxAttempts(req *http.Request) int {
	n := 0
	for _, m := range c {
		n = max(n, m.RetryMaxAttempts(req))
	}
	return n
}

func (c chain) RetryPolicy(req *http.Request) retry.Policy {
	for _, m := range c {
		if p := m.RetryPolicy(req); p != nil {
			return p
		}
	}
	return retry.Immediate()
}

func (c chain) ShouldRetry(req *http.Request, err error) bool {
	ok := false
	for _, m := range c {
		if m.ShouldRetry(req, err) {
			ok = true
		}
	}
	return ok
}
