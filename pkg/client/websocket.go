package client

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/milan604/netkit/pkg/errors"
	"github.com/milan604/netkit/pkg/logger"
	"github.com/milan604/netkit/pkg/session"
	"github.com/milan604/netkit/pkg/version"
)

// CloseCode is a WebSocket close status code (RFC 6455 section 7.4.1).
type CloseCode int

const (
	CloseNormal              CloseCode = websocket.CloseNormalClosure
	CloseGoingAway           CloseCode = websocket.CloseGoingAway
	CloseProtocolError       CloseCode = websocket.CloseProtocolError
	CloseUnsupportedData     CloseCode = websocket.CloseUnsupportedData
	CloseNoStatusReceived    CloseCode = websocket.CloseNoStatusReceived
	CloseAbnormal            CloseCode = websocket.CloseAbnormalClosure
	CloseInvalidPayload      CloseCode = websocket.CloseInvalidFramePayloadData
	ClosePolicyViolation     CloseCode = websocket.ClosePolicyViolation
	CloseMessageTooBig       CloseCode = websocket.CloseMessageTooBig
	CloseMandatoryExtension  CloseCode = websocket.CloseMandatoryExtension
	CloseInternalServerError CloseCode = websocket.CloseInternalServerErr
	CloseTLSHandshake        CloseCode = websocket.CloseTLSHandshake
)

// CloseHandler supplies the code and reason sent by Disconnect.
type CloseHandler func() (CloseCode, string)

// NormalClose closes with 1000 and no reason.
func NormalClose() (CloseCode, string) { return CloseNormal, "" }

const (
	wsControlTimeout = 10 * time.Second
	wsStreamBuffer   = 16
)

// Message is an outgoing WebSocket message.
type Message struct {
	kind int
	data []byte
}

func TextMessage(s string) Message   { return Message{kind: websocket.TextMessage, data: []byte(s)} }
func BinaryMessage(b []byte) Message { return Message{kind: websocket.BinaryMessage, data: b} }

// JSONMessage encodes v as a text message.
func JSONMessage(v any) (Message, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Message{}, errors.NewWebSocketError("encode", err)
	}
	return Message{kind: websocket.TextMessage, data: b}, nil
}

// NewWebSocketDialer returns a dialer that shares the session's trust evaluator and
// User-Agent.
func NewWebSocketDialer(sess *session.Session) *websocket.Dialer {
	d := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
	}
	if ev := sess.Evaluator(); ev != nil {
		d.NetDialTLSContext = ev.DialTLSContext(nil, nil)
	}
	return d
}

// WebSocket is a connected socket. Text messages arrive on Text, binary messages are decoded
// as T and arrive on Data. All streams close when the connection ends.
type WebSocket[T any] struct {
	conn    *websocket.Conn
	onClose CloseHandler
	log     logger.LogManager

	text chan string
	data chan T
	errs chan error

	writeMu   sync.Mutex
	errMu     sync.Mutex
	errsDone  bool
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to url. A nil dialer uses websocket.DefaultDialer and a nil closeHandler
// closes normally.
func Dial[T any](ctx context.Context, dialer *websocket.Dialer, url string, protocols []string, closeHandler CloseHandler) (*WebSocket[T], error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if closeHandler == nil {
		closeHandler = NormalClose
	}
	d := *dialer
	d.Subprotocols = protocols

	header := http.Header{}
	header.Set(session.HeaderUserAgent, version.UserAgent(""))
	conn, resp, err := d.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, errors.NewTransportError(errors.Wrapf(err, "dial %s", url))
	}

	ws := &WebSocket[T]{
		conn:    conn,
		onClose: closeHandler,
		log:     logger.NewNop(),
		text:    make(chan string, wsStreamBuffer),
		data:    make(chan T, wsStreamBuffer),
		errs:    make(chan error, wsStreamBuffer),
		done:    make(chan struct{}),
	}
	go ws.readLoop()
	return ws, nil
}

// WithLogger sets the logger for connection events and returns ws.
func (ws *WebSocket[T]) WithLogger(l logger.LogManager) *WebSocket[T] {
	ws.log = logger.OrNop(l)
	return ws
}

func (ws *WebSocket[T]) Text() <-chan string { return ws.text }
func (ws *WebSocket[T]) Data() <-chan T      { return ws.data }

// Errors carries send, receive and ping failures. None of them closes the connection.
func (ws *WebSocket[T]) Errors() <-chan error { return ws.errs }

// Protocol returns the negotiated subprotocol.
func (ws *WebSocket[T]) Protocol() string { return ws.conn.Subprotocol() }

func (ws *WebSocket[T]) readLoop() {
	defer func() {
		close(ws.text)
		close(ws.data)
		ws.errMu.Lock()
		ws.errsDone = true
		close(ws.errs)
		ws.errMu.Unlock()
	}()
	for {
		kind, payload, err := ws.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !ws.closed() {
				ws.report(errors.NewWebSocketError("receive", err))
			}
			ws.log.DebugF("websocket read loop ended: %v", err)
			return
		}
		switch kind {
		case websocket.TextMessage:
			select {
			case ws.text <- string(payload):
			case <-ws.done:
				return
			}
		case websocket.BinaryMessage:
			v, err := decodeFrame[T](payload)
			if err != nil {
				ws.report(errors.NewWebSocketError("decode", err))
				continue
			}
			select {
			case ws.data <- v:
			case <-ws.done:
				return
			}
		}
	}
}

func decodeFrame[T any](payload []byte) (T, error) {
	var v T
	if b, ok := any(&v).(*[]byte); ok {
		*b = payload
		return v, nil
	}
	err := json.Unmarshal(payload, &v)
	return v, err
}

// report publishes err without blocking; errors are dropped when nobody listens.
func (ws *WebSocket[T]) report(err error) {
	ws.errMu.Lock()
	defer ws.errMu.Unlock()
	if ws.errsDone {
		return
	}
	select {
	case ws.errs <- err:
	default:
		ws.log.WarnF("websocket error dropped: %v", err)
	}
}

func (ws *WebSocket[T]) closed() bool {
	select {
	case <-ws.done:
		return true
	default:
		return false
	}
}

// Send writes msg. Failures are returned and published on Errors.
func (ws *WebSocket[T]) Send(ctx context.Context, msg Message) error {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()

	_ = ws.conn.SetWriteDeadline(deadline(ctx))
	if err := ws.conn.WriteMessage(msg.kind, msg.data); err != nil {
		werr := errors.NewWebSocketError("send", err)
		ws.report(werr)
		return werr
	}
	return nil
}

// Ping sends a ping control frame.
func (ws *WebSocket[T]) Ping(ctx context.Context) error {
	if err := ws.conn.WriteControl(websocket.PingMessage, nil, deadline(ctx)); err != nil {
		werr := errors.NewWebSocketError("ping", err)
		ws.report(werr)
		return werr
	}
	return nil
}

// Disconnect sends the close handler's code and reason, then closes the connection. It is
// safe to call more than once.
func (ws *WebSocket[T]) Disconnect() error {
	var err error
	ws.closeOnce.Do(func() {
		code, reason := ws.onClose()
		msg := websocket.FormatCloseMessage(int(code), reason)
		werr := ws.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsControlTimeout))
		close(ws.done)
		err = ws.conn.Close()
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			err = errors.NewWebSocketError("close", werr)
		}
	})
	return err
}

func deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(wsControlTimeout)
}
