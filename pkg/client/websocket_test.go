package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/milan604/netkit/internal/apitest"
	"github.com/milan604/netkit/pkg/errors"
	"github.com/milan604/netkit/pkg/session"
	"github.com/milan604/netkit/pkg/tlstrust"
)

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	var zero T
	return zero
}

func TestWebSocketEcho(t *testing.T) {
	srv := apitest.New(t)
	ctx := context.Background()

	ws, err := Dial[apitest.Item](ctx, nil, srv.WebSocketURL(), []string{"netkit.v1"}, nil)
	require.NoError(t, err)
	defer ws.Disconnect()
	assert.Equal(t, "netkit.v1", ws.Protocol())

	require.NoError(t, ws.Send(ctx, TextMessage("hello")))
	assert.Equal(t, "hello", receive(t, ws.Text()))

	require.NoError(t, ws.Send(ctx, BinaryMessage([]byte(`{"id":"1","name":"one"}`))))
	assert.Equal(t, apitest.Item{ID: "1", Name: "one"}, receive(t, ws.Data()))

	require.NoError(t, ws.Ping(ctx))
}

func TestWebSocketDecodeErrorKeepsConnection(t *testing.T) {
	srv := apitest.New(t)
	ctx := context.Background()

	ws, err := Dial[apitest.Item](ctx, nil, srv.WebSocketURL(), nil, nil)
	require.NoError(t, err)
	defer ws.Disconnect()

	require.NoError(t, ws.Send(ctx, BinaryMessage([]byte("not json"))))
	werr := receive(t, ws.Errors())
	assert.True(t, errors.IsKind(werr, errors.KindWebSocket))

	msg, err := JSONMessage(map[string]string{"still": "open"})
	require.NoError(t, err)
	require.NoError(t, ws.Send(ctx, msg))
	assert.JSONEq(t, `{"still":"open"}`, receive(t, ws.Text()))
}

func TestWebSocketBytesPassthrough(t *testing.T) {
	srv := apitest.New(t)
	ctx := context.Background()

	ws, err := Dial[[]byte](ctx, nil, srv.WebSocketURL(), nil, nil)
	require.NoError(t, err)
	defer ws.Disconnect()

	require.NoError(t, ws.Send(ctx, BinaryMessage([]byte{0, 1, 2})))
	assert.Equal(t, []byte{0, 1, 2}, receive(t, ws.Data()))
}

func TestWebSocketServerClose(t *testing.T) {
	srv := apitest.New(t)
	ctx := context.Background()

	ws, err := Dial[apitest.Item](ctx, nil, srv.WebSocketURL(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, ws.Send(ctx, TextMessage("close:4001")))
	werr := receive(t, ws.Errors())
	assert.True(t, errors.IsKind(werr, errors.KindWebSocket))
	assert.Contains(t, werr.Error(), "4001")

	select {
	case _, ok := <-ws.Text():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("text stream not closed")
	}
	assert.NoError(t, ws.Disconnect())
}

func TestWebSocketDisconnectUsesCloseHandler(t *testing.T) {
	srv := apitest.New(t)
	ws, err := Dial[apitest.Item](context.Background(), nil, srv.WebSocketURL(), nil, func() (CloseCode, string) {
		return CloseGoingAway, "bye"
	})
	require.NoError(t, err)

	assert.NoError(t, ws.Disconnect())
	assert.NoError(t, ws.Disconnect())

	_, ok := <-ws.Errors()
	assert.False(t, ok)
}

func TestWebSocketDialFailure(t *testing.T) {
	_, err := Dial[apitest.Item](context.Background(), nil, "ws://127.0.0.1:1/ws", nil, nil)
	assert.True(t, errors.IsKind(err, errors.KindTransport))
}

func TestWebSocketDialerUsesEvaluator(t *testing.T) {
	srv := apitest.New(t, apitest.WithTLS())
	ev := tlstrust.NewEvaluator(tlstrust.Configuration{Policies: map[string]tlstrust.Policy{
		"127.0.0.1": tlstrust.PublicKeyPolicy(srv.Certificate().RawSubjectPublicKeyInfo),
	}})
	sess := session.New(session.Config{Evaluator: ev})

	ws, err := Dial[apitest.Item](context.Background(), NewWebSocketDialer(sess), srv.WebSocketURL(), nil, nil)
	require.NoError(t, err)
	defer ws.Disconnect()

	require.NoError(t, ws.Send(context.Background(), TextMessage("pinned")))
	assert.Equal(t, "pinned", receive(t, ws.Text()))
}
