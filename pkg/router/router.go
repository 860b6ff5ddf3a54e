// Package router describes HTTP requests declaratively and turns them into *http.Request values.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/milan604/netkit/pkg/errors"
)

// Scheme is the URL scheme of a request.
type Scheme string

const (
	HTTP  Scheme = "http"
	HTTPS Scheme = "https"
)

// Method is an HTTP method.
type Method string

const (
	MethodGet     Method = http.MethodGet
	MethodHead    Method = http.MethodHead
	MethodPost    Method = http.MethodPost
	MethodPut     Method = http.MethodPut
	MethodPatch   Method = http.MethodPatch
	MethodDelete  Method = http.MethodDelete
	MethodConnect Method = http.MethodConnect
	MethodOptions Method = http.MethodOptions
	MethodTrace   Method = http.MethodTrace
)

// Router holds request details. The zero value is not usable; build one with a constructor.
type Router struct {
	Scheme  Scheme
	Method  Method
	Host    string
	Path    string
	Headers map[string]string
	// Parameters are URL query parameters. Nil means no query string.
	Parameters map[string]string
	// Body is JSON-serialized for non-GET methods. Nil means no body.
	Body map[string]any
}

// Option configures a Router.
type Option func(*Router)

// WithScheme overrides the default https scheme.
func WithScheme(s Scheme) Option { return func(r *Router) { r.Scheme = s } }

// WithMethod overrides the method.
func WithMethod(m Method) Option { return func(r *Router) { r.Method = m } }

// WithHeaders merges headers into the router.
func WithHeaders(h map[string]string) Option {
	return func(r *Router) {
		if r.Headers == nil {
			r.Headers = make(map[string]string, len(h))
		}
		for k, v := range h {
			r.Headers[k] = v
		}
	}
}

// WithHeader sets a single header.
func WithHeader(key, value string) Option {
	return WithHeaders(map[string]string{key: value})
}

// WithParameters sets the query parameters.
func WithParameters(p map[string]string) Option { return func(r *Router) { r.Parameters = p } }

// WithBody sets the JSON body.
func WithBody(b map[string]any) Option { return func(r *Router) { r.Body = b } }

// New builds a router for an arbitrary method.
func New(method Method, host, path string, opts ...Option) Router {
	r := Router{
		Scheme: HTTPS,
		Method: method,
		Host:   host,
		Path:   path,
	}
	for _, o := range opts {
		o(&r)
	}
	return r
}

// NewGetRouter builds a GET router.
func NewGetRouter(host, path string, opts ...Option) Router {
	return New(MethodGet, host, path, opts...)
}

// NewDownloadRouter builds a GET router without a body, whatever the options say.
func NewDownloadRouter(host, path string, opts ...Option) Router {
	r := New(MethodGet, host, path, opts...)
	r.Body = nil
	return r
}

// NewUploadRouter builds a POST router without a body; the upload payload supplies it.
func NewUploadRouter(host, path string, opts ...Option) Router {
	r := New(MethodPost, host, path, opts...)
	r.Body = nil
	return r
}

// URL returns scheme + host + "/" + path with the query string appended.
func (r Router) URL() (*url.URL, error) {
	raw := string(r.Scheme) + "://" + r.Host + "/" + r.Path
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidURL, "%s: %v", raw, err)
	}
	if !u.IsAbs() || u.Host == "" || (r.Scheme != HTTP && r.Scheme != HTTPS) {
		return nil, errors.Wrapf(errors.ErrInvalidURL, "%s", raw)
	}
	if r.Parameters != nil {
		q := url.Values{}
		for k, v := range r.Parameters {
			q.Set(k, v)
		}
		// Encode sorts keys, so repeated calls produce the same URL.
		u.RawQuery = q.Encode()
	}
	return u, nil
}

// AsRequest creates the transport request. Body serialization failures yield an empty body.
func (r Router) AsRequest(ctx context.Context) (*http.Request, error) {
	u, err := r.URL()
	if err != nil {
		return nil, err
	}

	method := r.Method
	if method == "" {
		method = MethodGet
	}

	var payload []byte
	if r.Body != nil && method != MethodGet {
		if b, err := json.Marshal(r.Body); err == nil {
			payload = b
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, string(method), u.String(), body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidURL, err.Error())
	}

	req.Header = make(http.Header, len(r.Headers))
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}
