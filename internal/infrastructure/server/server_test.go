package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kai9987kai/single-file-lab-studio/internal/infrastructure/config"
	"github.com/kai9987kai/single-file-lab-studio/internal/infrastructure/logging"
	"github.com/kai9987kai/single-file-lab-studio/tests/helpers/testutil"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Port = "0"
	cfg.RateLimit.Enabled = false
	return cfg
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestServerLifecycle(t *testing.T) {
	srv, err := NewServer(testConfig(), logging.NewNop())
	require.NoError(t, err)
	defer srv.Close()

	addr, err := srv.Listen()
	require.NoError(t, err)
	base := "http://" + addr.String()

	res := testutil.WriteDocument(t, "lab.html", `<html><head></head><body><script>console.log("hi")</script></body></html>`)
	sess, err := srv.Show(context.Background(), res.Path)
	require.NoError(t, err)
	sess.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	assert.Equal(t, base+"/preview/"+sess.ID().String()+"/", srv.URL(sess))

	resp, body := get(t, base+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, sess.ID().String())
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp, body = get(t, srv.URL(sess))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Lab Preview: lab.html")

	resp, body = get(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "labpreview_sessions_active 1")
	assert.Contains(t, body, "labpreview_http_requests_total")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.True(t, sess.Disposed())
}

func TestWatchOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Preview.Debounce = config.Duration(50 * time.Millisecond)

	opts := WatchOptions(cfg)
	assert.Equal(t, 50*time.Millisecond, opts.Debounce)
	assert.Equal(t, []string{"**/*.css", "**/*.js"}, opts.AssetPatterns)

	cfg.Preview.WatchAssets = false
	assert.Empty(t, WatchOptions(cfg).AssetPatterns)
}

func TestListenRejectsBusyPort(t *testing.T) {
	first, err := NewServer(testConfig(), nil)
	require.NoError(t, err)
	defer first.Close()
	addr, err := first.Listen()
	require.NoError(t, err)

	_, port, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	cfg := testConfig()
	cfg.Server.Port = port
	second, err := NewServer(cfg, nil)
	require.NoError(t, err)
	defer second.Close()

	_, err = second.Listen()
	assert.Error(t, err)
}
