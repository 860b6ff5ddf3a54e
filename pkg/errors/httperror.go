package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies an HTTPError.
type Kind int

const (
	// KindTransport covers connection, TLS and timeout failures. Never derived from a status code.
	KindTransport Kind = iota + 1
	// KindClient is a 4xx response.
	KindClient
	// KindServer is a 5xx response.
	KindServer
	// KindSerialization is a success body that matched neither the model nor the API error schema.
	KindSerialization
	// KindAPI is a body that matched the caller's API error schema, regardless of status.
	KindAPI
	// KindWebSocket is a send, receive or ping failure on a WebSocket.
	KindWebSocket
)

var kindCodes = map[Kind]string{
	KindTransport:     "transport_error",
	KindClient:        "client_error",
	KindServer:        "server_error",
	KindSerialization: "serialization_error",
	KindAPI:           "api_error",
	KindWebSocket:     "websocket_error",
}

// Code returns the stable code for the kind.
func (k Kind) Code() string {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return "unknown_error"
}

func (k Kind) String() string { return k.Code() }

// HTTPError is the tagged union of classified request failures.
type HTTPError struct {
	Kind Kind
	// StatusCode is set for KindClient and KindServer.
	StatusCode int
	// Body holds the best-effort decoded error body (KindClient, KindServer) as a pointer to the
	// caller's error-body type, or nil when the body did not decode.
	Body any
	// APIError holds the decoded API error value for KindAPI.
	APIError any
	// Op names the WebSocket operation for KindWebSocket ("send", "receive", "ping").
	Op    string
	cause error
}

// FromStatus classifies a status code. It returns nil for statuses outside [400,600).
func FromStatus(status int, body any) *HTTPError {
	switch {
	case status >= 400 && status < 500:
		return &HTTPError{Kind: KindClient, StatusCode: status, Body: body}
	case status >= 500 && status < 600:
		return &HTTPError{Kind: KindServer, StatusCode: status, Body: body}
	default:
		return nil
	}
}

// NewTransportError wraps a transport-layer failure.
func NewTransportError(err error) *HTTPError {
	return &HTTPError{Kind: KindTransport, cause: err}
}

// NewSerializationError wraps a decode failure.
func NewSerializationError(err error) *HTTPError {
	return &HTTPError{Kind: KindSerialization, cause: err}
}

// NewAPIError carries a decoded API error value.
func NewAPIError(v any) *HTTPError {
	return &HTTPError{Kind: KindAPI, APIError: v}
}

// NewWebSocketError wraps a failure of the named WebSocket operation.
func NewWebSocketError(op string, err error) *HTTPError {
	return &HTTPError{Kind: KindWebSocket, Op: op, cause: err}
}

func (e *HTTPError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case KindClient, KindServer:
		return fmt.Sprintf("%s: %d %s", e.Kind.Code(), e.StatusCode, http.StatusText(e.StatusCode))
	case KindAPI:
		if s, ok := e.APIError.(fmt.Stringer); ok {
			return fmt.Sprintf("%s: %s", e.Kind.Code(), s.String())
		}
		return fmt.Sprintf("%s: %+v", e.Kind.Code(), e.APIError)
	case KindWebSocket:
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.Op, e.cause)
	default:
		if e.cause != nil {
			return fmt.Sprintf("%s: %v", e.Kind.Code(), e.cause)
		}
		return e.Kind.Code()
	}
}

// Unwrap enables errors.Is/As on underlying cause.
func (e *HTTPError) Unwrap() error { return e.cause }

// Code returns the kind's stable code.
func (e *HTTPError) Code() string {
	if e == nil {
		return ""
	}
	return e.Kind.Code()
}

// AsHTTPError extracts an *HTTPError from err's chain.
func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	if stdErrors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// IsKind reports whether err is an *HTTPError of kind k.
func IsKind(err error, k Kind) bool {
	he, ok := AsHTTPError(err)
	return ok && he.Kind == k
}

// StatusCode returns the status carried by err, or 0.
func StatusCode(err error) int {
	if he, ok := AsHTTPError(err); ok {
		return he.StatusCode
	}
	return 0
}

// BodyAs returns the decoded error body of a client or server error.
func BodyAs[E any](err error) (E, bool) {
	var zero E
	he, ok := AsHTTPError(err)
	if !ok || he.Body == nil {
		return zero, false
	}
	if b, ok := he.Body.(*E); ok && b != nil {
		return *b, true
	}
	if b, ok := he.Body.(E); ok {
		return b, true
	}
	return zero, false
}

// APIErrorAs returns the decoded API error of a KindAPI error.
func APIErrorAs[AE any](err error) (AE, bool) {
	var zero AE
	he, ok := AsHTTPError(err)
	if !ok || he.Kind != KindAPI {
		return zero, false
	}
	v, ok := he.APIError.(AE)
	return v, ok
}
