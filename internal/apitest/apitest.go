// Package apitest serves the fixture API the client tests run against.
package apitest

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
)

// Item is the model served by /items.
type Item struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
}

// Server is a running fixture API.
type Server struct {
	*httptest.Server

	// Token is the bearer token /protected accepts.
	Token string

	mu       sync.Mutex
	failures map[string]int
	hits     map[string]int
	traced   []string
}

// Option configures a Server.
type Option func(*options)

type options struct {
	tp  trace.TracerProvider
	tls bool
}

// WithTracerProvider instruments the engine with tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tp = tp }
}

// WithTLS serves over TLS with the httptest certificate.
func WithTLS() Option {
	return func(o *options) { o.tls = true }
}

var upgrader = websocket.Upgrader{
	CheckOrigin:  func(*http.Request) bool { return true },
	Subprotocols: []string{"netkit.v1"},
}

// New starts a server that is closed with the test.
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	gin.SetMode(gin.TestMode)
	s := &Server{Token: "valid-token", failures: map[string]int{}, hits: map[string]int{}}

	engine := gin.New()
	mw := []otelgin.Option{}
	if o.tp != nil {
		mw = append(mw, otelgin.WithTracerProvider(o.tp))
	}
	engine.Use(otelgin.Middleware("apitest", mw...), s.record)
	s.routes(engine)

	if o.tls {
		s.Server = httptest.NewTLSServer(engine)
	} else {
		s.Server = httptest.NewServer(engine)
	}
	t.Cleanup(s.Close)
	return s
}

// Host returns host:port for building routers.
func (s *Server) Host() string {
	u, _ := url.Parse(s.URL)
	return u.Host
}

// WebSocketURL returns the ws:// or wss:// URL of the echo endpoint.
func (s *Server) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

// FailNext makes the next n requests to path answer with status 503.
func (s *Server) FailNext(path string, n int) {
	s.mu.Lock()
	s.failures[path] = n
	s.mu.Unlock()
}

// Hits returns how many requests reached path.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// TraceParents returns the traceparent headers received so far.
func (s *Server) TraceParents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.traced...)
}

func (s *Server) record(c *gin.Context) {
	path := c.Request.URL.Path
	s.mu.Lock()
	s.hits[path]++
	if tp := c.GetHeader("traceparent"); tp != "" {
		s.traced = append(s.traced, tp)
	}
	fail := s.failures[path] > 0
	if fail {
		s.failures[path]--
	}
	s.mu.Unlock()

	if fail {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"statusCode": http.StatusServiceUnavailable,
			"message":    "try again",
		})
		return
	}
	c.Next()
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/items/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, Item{ID: c.Param("id"), Name: "item " + c.Param("id")})
	})
	r.GET("/search", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"query": c.Request.URL.RawQuery})
	})
	r.POST("/items", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"statusCode": 400, "message": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, body)
	})
	r.GET("/status/:code", func(c *gin.Context) {
		code, _ := strconv.Atoi(c.Param("code"))
		c.JSON(code, gin.H{"statusCode": code, "message": http.StatusText(code), "supportId": "sup-1"})
	})
	// A 200 whose body is an application error.
	r.GET("/api-error", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "quota exceeded"})
	})
	r.GET("/text", func(c *gin.Context) {
		c.String(http.StatusOK, "plain text")
	})
	r.GET("/protected", func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer "+s.Token {
			c.JSON(http.StatusUnauthorized, gin.H{"statusCode": 401, "message": "unauthorized"})
			return
		}
		c.JSON(http.StatusOK, Item{ID: "secret", Name: "protected"})
	})
	r.GET("/files/:name", func(c *gin.Context) {
		size, _ := strconv.Atoi(c.DefaultQuery("size", "65536"))
		c.Header("Content-Length", strconv.Itoa(size))
		c.Status(http.StatusOK)
		_, _ = io.CopyN(c.Writer, pattern{}, int64(size))
	})
	r.POST("/upload", func(c *gin.Context) {
		if strings.HasPrefix(c.ContentType(), "multipart/") {
			form, err := c.MultipartForm()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"statusCode": 400, "message": err.Error()})
				return
			}
			files := map[string]int64{}
			for key, fhs := range form.File {
				for _, fh := range fhs {
					files[key+"/"+fh.Filename] = fh.Size
				}
			}
			fields := map[string]string{}
			for key, vs := range form.Value {
				fields[key] = strings.Join(vs, ",")
			}
			c.JSON(http.StatusOK, gin.H{"fields": fields, "files": files})
			return
		}
		b, _ := io.ReadAll(c.Request.Body)
		c.JSON(http.StatusOK, gin.H{"contentType": c.ContentType(), "size": len(b)})
	})
	r.GET("/ws", s.echo)
}

// echo mirrors every message and answers "close:<code>" by closing with that code.
func (s *Server) echo(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind == websocket.TextMessage && strings.HasPrefix(string(payload), "close:") {
			code, _ := strconv.Atoi(strings.TrimPrefix(string(payload), "close:"))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, fmt.Sprintf("closing %d", code)))
			return
		}
		if err := conn.WriteMessage(kind, payload); err != nil {
			return
		}
	}
}

// pattern is an endless deterministic byte source.
type pattern struct{}

func (pattern) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte('a' + i%26)
	}
	return len(p), nil
}
