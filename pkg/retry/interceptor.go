package retry

import (
	"net/http"
)

// Interceptor is the caller-supplied policy consulted before every network call.
type Interceptor interface {
	// Adapt transforms the outgoing request. It runs once per attempt and must be idempotent.
	Adapt(req *http.Request) *http.Request
	// RetryMaxAttempts bounds attempts, the first included. 0 or 1 disables retry.
	RetryMaxAttempts(req *http.Request) int
	RetryPolicy(req *http.Request) Policy
	// ShouldRetry is the final veto, consulted only for retryable errors within budget.
	ShouldRetry(req *http.Request, err error) bool
}

// Signal reports network reachability transitions. Reachable returns a channel that is
// closed the next time connectivity becomes reachable.
type Signal interface {
	Reachable() <-chan struct{}
}

// None never retries.
type None struct{}

func (None) Adapt(req *http.Request) *http.Request { return req }
func (None) RetryMaxAttempts(*http.Request) int    { return 1 }
func (None) RetryPolicy(*http.Request) Policy      { return Immediate() }
func (None) ShouldRetry(*http.Request, error) bool { return false }
