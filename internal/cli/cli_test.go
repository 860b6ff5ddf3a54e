package cli

import (
	"bytes"
	"context"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/milan604/netkit/internal/apitest"
	"github.com/milan604/netkit/pkg/reachability"
	"github.com/milan604/netkit/pkg/router"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestGet(t *testing.T) {
	srv := apitest.New(t)
	out, err := run(t, "get", srv.URL+"/items/5")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"5","name":"item 5"}`, out)
}

func TestGetRetriesFromFlags(t *testing.T) {
	srv := apitest.New(t)
	srv.FailNext("/items/6", 1)
	_, err := run(t, "--retry.max_attempts", "2", "get", srv.URL+"/items/6")
	require.NoError(t, err)
	assert.Equal(t, 2, srv.Hits("/items/6"))
}

func TestGetErrorIncludesBody(t *testing.T) {
	srv := apitest.New(t)
	_, err := run(t, "get", srv.URL+"/status/404")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_error")
	assert.Contains(t, err.Error(), "sup-1")
}

func TestGetWithToken(t *testing.T) {
	srv := apitest.New(t)
	out, err := run(t, "--auth.token", srv.Token, "get", srv.URL+"/protected")
	require.NoError(t, err)
	assert.Contains(t, out, "protected")
}

func TestDownload(t *testing.T) {
	srv := apitest.New(t)
	dest := filepath.Join(t.TempDir(), "f.txt")
	out, err := run(t, "download", srv.URL+"/files/f.txt?size=2048", "--out", dest)
	require.NoError(t, err)
	assert.Contains(t, out, "progress 100%")
	assert.Contains(t, out, "to "+dest)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), info.Size())
}

func TestUpload(t *testing.T) {
	srv := apitest.New(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	out, err := run(t, "upload", srv.URL+"/upload", "--file", "doc="+path, "--field", "title=Notes")
	require.NoError(t, err)
	assert.Contains(t, out, `"title":"Notes"`)
	assert.Contains(t, out, `"doc/`)
}

func TestWebSocket(t *testing.T) {
	srv := apitest.New(t)
	out, err := run(t, "ws", srv.WebSocketURL(), "--send", "hello", "--wait", "300ms")
	require.NoError(t, err)
	assert.Contains(t, out, "text: hello")
}

func TestPins(t *testing.T) {
	srv := apitest.New(t, apitest.WithTLS())
	dir := t.TempDir()
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server.pem"), block, 0o600))

	out, err := run(t, "pins", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "sha256/")
}

func TestRouterFor(t *testing.T) {
	r, err := routerFor(router.MethodGet, "http://api.example.com:8080/v1/items?b=2&a=1", []string{"Accept: application/json"})
	require.NoError(t, err)
	assert.Equal(t, router.HTTP, r.Scheme)
	assert.Equal(t, "api.example.com:8080", r.Host)
	assert.Equal(t, "v1/items", r.Path)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, r.Parameters)
	assert.Equal(t, "application/json", r.Headers["Accept"])

	_, err = routerFor(router.MethodGet, "http://x/y", []string{"no-colon"})
	assert.Error(t, err)
}

func TestParseInterfaceTypes(t *testing.T) {
	got, err := parseInterfaceTypes([]string{"wifi", "WIREDETHERNET"})
	require.NoError(t, err)
	assert.Equal(t, []reachability.InterfaceType{reachability.WiFi, reachability.WiredEthernet}, got)

	_, err = parseInterfaceTypes([]string{"bluetooth"})
	assert.Error(t, err)
}
