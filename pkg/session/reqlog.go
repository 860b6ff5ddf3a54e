package session

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/milan604/netkit/pkg/logger"
	"github.com/milan604/netkit/pkg/tlstrust"
)

const (
	maxLoggedBody = 4 << 10
	blockedHint   = "TLS trust evaluation failed for the specified host, you may need to update the pinned certificates or public keys."
)

// requestLogger writes the request log lines. A nil *requestLogger logs nothing.
type requestLogger struct {
	log logger.LogManager
}

func (l *requestLogger) request(ctx context.Context, req *http.Request) {
	if l == nil {
		return
	}
	body := peekBody(req)
	l.log.Infow("outgoing request",
		"request_id", logger.RequestIDFrom(ctx),
		"attempt", logger.AttemptFrom(ctx),
		"method", req.Method,
		"url", req.URL.Redacted(),
		"headers", flatHeaders(req.Header),
		"body", printable(body),
		"curl", CURL(req, body),
	)
}

func (l *requestLogger) response(ctx context.Context, req *http.Request, resp *http.Response, body []byte, elapsed time.Duration) {
	if l == nil {
		return
	}
	l.log.Infow("incoming response",
		"request_id", logger.RequestIDFrom(ctx),
		"method", req.Method,
		"url", req.URL.Redacted(),
		"status", resp.StatusCode,
		"duration", elapsed,
		"headers", flatHeaders(resp.Header),
		"body", printable(body),
	)
}

func (l *requestLogger) failure(ctx context.Context, req *http.Request, err error, elapsed time.Duration) {
	if l == nil {
		return
	}
	l.log.Infow("request failed",
		"request_id", logger.RequestIDFrom(ctx),
		"method", req.Method,
		"url", req.URL.Redacted(),
		"duration", elapsed,
		"error", err.Error(),
	)
}

// logTLSRejection always logs; it is the only hint callers get about stale pins.
func logTLSRejection(log logger.LogManager, host string, blocked *tlstrust.BlockedHosts) {
	var hosts []string
	if blocked != nil {
		hosts = blocked.List()
	}
	log.With("host", host, "blocked_hosts", hosts).Warn(blockedHint)
}

// CURL renders req as an equivalent curl command. Headers are sorted and credentials redacted.
func CURL(req *http.Request, body []byte) string {
	var b strings.Builder
	b.WriteString("curl -v -X ")
	b.WriteString(req.Method)
	b.WriteString(" ")
	b.WriteString(shellQuote(req.URL.String()))

	keys := make([]string, 0, len(req.Header))
	for k := range req.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range req.Header[k] {
			if strings.EqualFold(k, "Authorization") {
				v = "<redacted>"
			}
			b.WriteString(" -H ")
			b.WriteString(shellQuote(k + ": " + v))
		}
	}
	if len(body) > 0 {
		b.WriteString(" -d ")
		b.WriteString(shellQuote(string(body)))
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// peekBody returns a copy of the request body without consuming it.
func peekBody(req *http.Request) []byte {
	if req.GetBody == nil {
		return nil
	}
	rc, err := req.GetBody()
	if err != nil || rc == nil {
		return nil
	}
	defer rc.Close()
	b, _ := io.ReadAll(io.LimitReader(rc, maxLoggedBody+1))
	return b
}

func printable(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	truncated := len(body) > maxLoggedBody
	if truncated {
		body = body[:maxLoggedBody]
	}
	if !utf8.Valid(body) {
		return "<binary>"
	}
	if truncated {
		return string(body) + "…"
	}
	return string(body)
}

func flatHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if strings.EqualFold(k, "Authorization") {
			out[k] = "<redacted>"
			continue
		}
		out[k] = strings.Join(v, ", ")
	}
	return out
}
