package dev

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetrun/assetrun/internal/metrics"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	if opts.Root == "" {
		opts.Root = t.TempDir()
	}
	opts.Logger = quietLogger()
	s := NewServer(opts)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func get(t *testing.T, url string) (int, string, http.Header) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body), resp.Header
}

func dial(t *testing.T, s *Server, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	before := s.Reload().ClientCount()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + ReloadPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return s.Reload().ClientCount() == before+1
	}, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) ReloadMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg ReloadMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestStaticFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "css"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "css", "app.css"), []byte("a{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<html><body><h1>hi</h1></body></html>"), 0o644))

	_, ts := newTestServer(t, Options{Root: root})

	status, body, header := get(t, ts.URL+"/css/app.css")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "a{}", body)
	assert.Contains(t, header.Get("Cache-Control"), "no-cache")

	status, body, _ = get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "<h1>hi</h1>")
	assert.Contains(t, body, ReloadPath)
	assert.Less(t, strings.Index(body, ReloadPath), strings.Index(body, "</body>"))

	status, _, _ = get(t, ts.URL+"/missing.js")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStaticNoTraversal(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "static")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.html"), []byte("secret"), 0o644))

	_, ts := newTestServer(t, Options{Root: root})

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/../secret.html", nil)
	require.NoError(t, err)
	req.URL.Path = "/../secret.html"
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.NotContains(t, string(body), "secret")
}

func TestNoReload(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<body></body>"), 0o644))

	s, ts := newTestServer(t, Options{Root: root, NoReload: true})
	assert.Nil(t, s.Reload())

	_, body, _ := get(t, ts.URL+"/index.html")
	assert.NotContains(t, body, ReloadPath)

	status, _, _ := get(t, ts.URL+ReloadPath)
	assert.Equal(t, http.StatusNotFound, status)

	assert.NotPanics(t, func() { s.AfterRun("sass", time.Second, nil) })
}

func TestHealthAndMetrics(t *testing.T) {
	m := metrics.New(metrics.WithRegistry(prometheus.NewRegistry()))
	m.Reload("css")
	_, ts := newTestServer(t, Options{Metrics: m})

	status, body, _ := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok\n", body)

	status, body, _ = get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `assetrun_reloads_total{kind="css"} 1`)
}

func TestAfterRunNotifiesBrowsers(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	conn := dial(t, s, ts)

	s.AfterRun("sass", time.Second, nil)
	assert.Equal(t, ReloadTypeClear, readMessage(t, conn).Type)
	assert.Equal(t, ReloadTypeCSS, readMessage(t, conn).Type)

	s.AfterRun("go:generate", time.Second, nil)
	assert.Equal(t, ReloadTypeClear, readMessage(t, conn).Type)
	assert.Equal(t, ReloadTypeFull, readMessage(t, conn).Type)

	s.AfterRun("sass", time.Second, fmt.Errorf("E207: Sass compilation failed"))
	msg := readMessage(t, conn)
	assert.Equal(t, ReloadTypeError, msg.Type)
	assert.Contains(t, msg.Error, "E207")
}

func TestErrorReplayedToNewClients(t *testing.T) {
	s, ts := newTestServer(t, Options{})

	s.AfterRun("sass", time.Second, fmt.Errorf("broken"))
	conn := dial(t, s, ts)

	msg := readMessage(t, conn)
	assert.Equal(t, ReloadTypeError, msg.Type)
	assert.Equal(t, "broken", msg.Error)
}

func TestReloadServerDropsClosedClients(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	conn := dial(t, s, ts)
	require.Equal(t, 1, s.Reload().ClientCount())

	conn.Close()
	require.Eventually(t, func() bool {
		return s.Reload().ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, s.Reload().NotifyReload())
}

func TestInjectScript(t *testing.T) {
	tests := []struct {
		name   string
		page   string
		before string
	}{
		{"body", "<html><body>x</body></html>", "</body>"},
		{"html only", "<html>x</html>", "</html>"},
		{"fragment", "<p>x</p>", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := string(InjectScript([]byte(tt.page)))
			idx := strings.Index(out, ClientScript)
			require.NotEqual(t, -1, idx)
			if tt.before == "" {
				assert.True(t, strings.HasSuffix(out, ClientScript))
				return
			}
			assert.Equal(t, idx+len(ClientScript), strings.LastIndex(out, tt.before))
		})
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(Options{Root: t.TempDir(), Logger: quietLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool { return s.Addr() != nil }, 2*time.Second, 10*time.Millisecond)
	status, _, _ := get(t, "http://"+s.Addr().String()+"/healthz")
	assert.Equal(t, http.StatusOK, status)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
