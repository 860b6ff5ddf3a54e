package session

import (
	"net/http"
	"time"

	"github.com/milan604/netkit/pkg/logger"
	"github.com/milan604/netkit/pkg/tlstrust"
)

// EventMonitor observes the lifecycle of every attempt made by a Session.
type EventMonitor interface {
	OnCreated(req *http.Request)
	// OnCompleted receives the response (body already consumed) or the transport error.
	OnCompleted(req *http.Request, resp *http.Response, err error, elapsed time.Duration)
	OnChallenge(host string, d tlstrust.Decision)
}

// NopMonitor ignores every event.
type NopMonitor struct{}

func (NopMonitor) OnCreated(*http.Request)                                         {}
func (NopMonitor) OnCompleted(*http.Request, *http.Response, error, time.Duration) {}
func (NopMonitor) OnChallenge(string, tlstrust.Decision)                           {}

// LoggingMonitor logs every event at debug level.
type LoggingMonitor struct {
	Log logger.LogManager
}

func (m LoggingMonitor) OnCreated(req *http.Request) {
	logger.OrNop(m.Log).DebugFCtx(req.Context(), "created %s %s", req.Method, req.URL.Redacted())
}

func (m LoggingMonitor) OnCompleted(req *http.Request, resp *http.Response, err error, elapsed time.Duration) {
	log := logger.OrNop(m.Log)
	if err != nil {
		log.DebugFCtx(req.Context(), "failed %s %s after %v: %v", req.Method, req.URL.Redacted(), elapsed, err)
		return
	}
	log.DebugFCtx(req.Context(), "completed %s %s with %d after %v", req.Method, req.URL.Redacted(), resp.StatusCode, elapsed)
}

func (m LoggingMonitor) OnChallenge(host string, d tlstrust.Decision) {
	logger.OrNop(m.Log).DebugF("tls challenge for %s: %s", host, d)
}

// MultiMonitor fans events out to every member in order.
type MultiMonitor []EventMonitor

func (mm MultiMonitor) OnCreated(req *http.Request) {
	for _, m := range mm {
		m.OnCreated(req)
	}
}

func (mm MultiMonitor) OnCompleted(req *http.Request, resp *http.Response, err error, elapsed time.Duration) {
	for _, m := range mm {
		m.OnCompleted(req, resp, err, elapsed)
	}
}

func (mm MultiMonitor) OnChallenge(host string, d tlstrust.Decision) {
	for _, m := range mm {
		m.OnChallenge(host, d)
	}
}
