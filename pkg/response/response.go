// Package response verifies and decodes raw HTTP responses into models and classified errors.
package response

import (
	"fmt"
	"mime"
	"net/http"
)

// Raw is a fully buffered response.
type Raw struct {
	// Response carries status and headers. Its Body has already been drained into Body.
	Response *http.Response
	Body     []byte
}

// NewRaw pairs resp with its buffered body.
func NewRaw(resp *http.Response, body []byte) *Raw {
	return &Raw{Response: resp, Body: body}
}

// StatusCode returns the response status, or 0 for a nil response.
func (r *Raw) StatusCode() int {
	if r == nil || r.Response == nil {
		return 0
	}
	return r.Response.StatusCode
}

// Header returns the response headers, never nil.
func (r *Raw) Header() http.Header {
	if r == nil || r.Response == nil || r.Response.Header == nil {
		return http.Header{}
	}
	return r.Response.Header
}

// MediaType returns the lower-cased media type of the Content-Type header without parameters.
func (r *Raw) MediaType() string {
	ct := r.Header().Get("Content-Type")
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return mt
}

// DefaultErrorBody is the error body decoded when callers do not supply their own type.
type DefaultErrorBody struct {
	StatusCode *int    `json:"statusCode,omitempty"`
	Message    *string `json:"message,omitempty"`
	SupportID  *string `json:"supportId,omitempty"`
}

func (b DefaultErrorBody) String() string {
	msg := "<no message>"
	if b.Message != nil {
		msg = *b.Message
	}
	if b.SupportID != nil {
		return fmt.Sprintf("%s (support id %s)", msg, *b.SupportID)
	}
	return msg
}

// DefaultAPIError is the API error schema matched when callers do not supply their own type.
type DefaultAPIError struct {
	Message string `json:"message" validate:"required"`
}

func (e DefaultAPIError) String() string { return e.Message }
